package model

import (
	"context"
	"math"
	"strings"
	"time"
)

type clientCtxKey struct{}

// ContextWithClientID stores the browser client identifier in the request context.
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientCtxKey{}, clientID)
}

// ClientIDFromContext retrieves the client identifier from context (empty string if not set).
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientCtxKey{}).(string)
	return id
}

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// QuizQuestion is one multiple-choice question produced by the quiz generator.
type QuizQuestion struct {
	QuestionText  string   `json:"question_text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
	Diagram       string   `json:"diagram,omitempty"`
}

// QuizBlock is the quiz state attached to one AI message.
// UserAnswers and Results always have the same length as Questions;
// nil entries mean "not answered" and "not evaluated".
type QuizBlock struct {
	Questions      []QuizQuestion `json:"questions"`
	UserAnswers    []*string      `json:"userAnswers"`
	Results        []*bool        `json:"results"`
	ShowResults    bool           `json:"showResults"`
	ShowButton     bool           `json:"showButton"`
	Score          *int           `json:"score,omitempty"`
	TotalQuestions *int           `json:"totalQuestions,omitempty"`
}

// NewQuizBlock returns an unanswered quiz for the given questions.
func NewQuizBlock(questions []QuizQuestion) *QuizBlock {
	return &QuizBlock{
		Questions:   append([]QuizQuestion(nil), questions...),
		UserAnswers: make([]*string, len(questions)),
		Results:     make([]*bool, len(questions)),
	}
}

// Clone returns a copy that shares no slices with q.
func (q *QuizBlock) Clone() *QuizBlock {
	if q == nil {
		return nil
	}
	c := *q
	c.Questions = append([]QuizQuestion(nil), q.Questions...)
	c.UserAnswers = append([]*string(nil), q.UserAnswers...)
	c.Results = append([]*bool(nil), q.Results...)
	return &c
}

// AllAnswered reports whether every question has a selected answer.
func (q *QuizBlock) AllAnswered() bool {
	for _, a := range q.UserAnswers {
		if a == nil {
			return false
		}
	}
	return true
}

// CorrectCount returns the number of results marked correct.
func (q *QuizBlock) CorrectCount() int {
	n := 0
	for _, r := range q.Results {
		if r != nil && *r {
			n++
		}
	}
	return n
}

// Percent returns round(100 * correct / len(results)), or 0 for an empty quiz.
func (q *QuizBlock) Percent() int {
	if len(q.Results) == 0 {
		return 0
	}
	return int(math.Round(100 * float64(q.CorrectCount()) / float64(len(q.Results))))
}

// Message is one entry of a conversation. Only Quiz changes after creation,
// and it is replaced wholesale.
type Message struct {
	ID               int64      `json:"id"`
	Content          string     `json:"content"`
	Sender           Sender     `json:"sender"`
	Quiz             *QuizBlock `json:"quiz,omitempty"`
	IsOriginalPrompt bool       `json:"isOriginalPrompt,omitempty"`
}

// QuizProgress summarizes the revealed quizzes of a conversation.
type QuizProgress struct {
	TotalQuizzes     int `json:"totalQuizzes"`
	CompletedQuizzes int `json:"completedQuizzes"`
	AverageScore     int `json:"averageScore"`
	LastQuizScore    int `json:"lastQuizScore"`
}

// Conversation is a persisted, named snapshot of a message list.
type Conversation struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Topic        string       `json:"topic"`
	Timestamp    int64        `json:"timestamp"`
	Messages     []Message    `json:"messages"`
	QuizProgress QuizProgress `json:"quizProgress"`
}

// RecentExchange is a user prompt paired with the AI reply that followed it.
type RecentExchange struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Timestamp   int64  `json:"timestamp"`
}

// ContentResponse is the reply shape of the content processing service.
type ContentResponse struct {
	Explanation  string `json:"explanation,omitempty"`
	Response     string `json:"response,omitempty"`
	Summary      string `json:"summary,omitempty"`
	LearningPlan string `json:"learning_plan,omitempty"`
}

// Text returns the first non-empty of explanation, response, summary and learning plan.
func (r ContentResponse) Text() string {
	for _, s := range []string{r.Explanation, r.Response, r.Summary, r.LearningPlan} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// ImageResult is the image search proxy reply. ImageURL is nil when nothing matched.
type ImageResult struct {
	ImageURL        *string `json:"imageUrl"`
	Description     string  `json:"description,omitempty"`
	Photographer    string  `json:"photographer,omitempty"`
	PhotographerURL string  `json:"photographerUrl,omitempty"`
}

// Audio is a synthesized speech clip.
type Audio struct {
	Data        []byte
	ContentType string
}

// ServiceConfig holds runtime parameters set via CLI flags, env and config file.
type ServiceConfig struct {
	Addr            string
	RecentLimit     int           // conversations shown on the history page
	AutosaveDelay   time.Duration // idle time before a named snapshot is written
	TranslateChunk  int           // max runes per translation request
	TranslateDelay  time.Duration // pause between translation requests
	RequestTimeout  time.Duration // upper bound for one upstream call
	SessionIdleTTL  time.Duration // live sessions unused this long are evicted
	AllowedOrigins  []string
	SecureCookies   bool
	DefaultLanguage string
}
