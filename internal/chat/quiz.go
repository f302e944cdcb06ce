package chat

import (
	"fmt"
	"strings"

	"github.com/pavelanni/tayyari/internal/model"
)

// invalidQuizSentinel is the question text the content service returns when
// it could not produce real questions.
const invalidQuizSentinel = "Could not generate proper questions."

// validQuiz reports whether generated questions can be shown as a quiz.
func validQuiz(questions []model.QuizQuestion) bool {
	return len(questions) > 0 && questions[0].QuestionText != invalidQuizSentinel
}

// cloneQuiz copies q and restores the equal-length invariant of answers and
// results, which stored data may have lost.
func cloneQuiz(q *model.QuizBlock) *model.QuizBlock {
	c := q.Clone()
	n := len(c.Questions)
	c.UserAnswers = resize(c.UserAnswers, n)
	c.Results = resize(c.Results, n)
	return c
}

func resize[T any](s []*T, n int) []*T {
	if len(s) > n {
		return s[:n]
	}
	for len(s) < n {
		s = append(s, nil)
	}
	return s
}

// SelectAnswer returns a copy of q with choice recorded for question i.
// It returns q unchanged and false when q is nil, already revealed, or i is
// out of range.
func SelectAnswer(q *model.QuizBlock, i int, choice string) (*model.QuizBlock, bool) {
	if q == nil || q.ShowResults || i < 0 || i >= len(q.Questions) {
		return q, false
	}
	c := cloneQuiz(q)
	c.UserAnswers[i] = &choice
	c.ShowButton = c.AllAnswered()
	return c, true
}

// Reveal returns a scored copy of q. Answers are compared to the correct
// answer by exact string equality. It returns q unchanged and false when q is
// nil or already revealed.
func Reveal(q *model.QuizBlock) (*model.QuizBlock, bool) {
	if q == nil || q.ShowResults {
		return q, false
	}
	c := cloneQuiz(q)
	for i, question := range c.Questions {
		correct := c.UserAnswers[i] != nil && *c.UserAnswers[i] == question.CorrectAnswer
		c.Results[i] = &correct
	}
	score := c.Percent()
	total := len(c.Results)
	c.Score = &score
	c.TotalQuestions = &total
	c.ShowResults = true
	c.ShowButton = false
	return c, true
}

// LearnMoreContext renders the questions of q with their answers and
// explanations as context for a deeper explanation.
func LearnMoreContext(q *model.QuizBlock) string {
	blocks := make([]string, len(q.Questions))
	for i, question := range q.Questions {
		blocks[i] = fmt.Sprintf("Q%d: %s\nA: %s\nExplanation: %s\n",
			i+1, question.QuestionText, question.CorrectAnswer, question.Explanation)
	}
	return strings.Join(blocks, "\n")
}
