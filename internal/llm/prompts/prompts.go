package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

// FS holds the built-in prompt templates.
//
//go:embed templates/*.txt
var FS embed.FS

var learnerContentRegex = regexp.MustCompile(`(?i)</?\s*learner-content\b[^>]*>`)

const maxContentRunes = 10000

// Kind names a prompt template.
type Kind string

const (
	KindExplanation Kind = "explanation"
	KindExplainMore Kind = "explain_more"
	KindQuiz        Kind = "quiz"
)

var kinds = []Kind{KindExplanation, KindExplainMore, KindQuiz}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Kind]*template.Template
)

// ExplanationData holds template data for the explanation prompt.
type ExplanationData struct {
	Notes string
	Files []string
}

// ExplainMoreData holds template data for the deeper explanation prompt.
type ExplainMoreData struct {
	Question string
	Context  string
}

// QuizData holds template data for the quiz prompt.
type QuizData struct {
	Context string
	Count   int
}

// Load parses templates/<kind>.txt for every prompt kind from fsys.
// It uses sync.Once to ensure templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		parsed := make(map[Kind]*template.Template, len(kinds))
		for _, k := range kinds {
			file := "templates/" + string(k) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}
			tmpl, err := template.New(string(k)).Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			parsed[k] = tmpl
		}
		templates = parsed
	})
	return loadErr
}

// BuildExplanation renders the explanation prompt for notes and attached files.
func BuildExplanation(notes string, files []string) (string, error) {
	return build(KindExplanation, ExplanationData{Notes: sanitizeContent(notes), Files: files})
}

// BuildExplainMore renders the deeper explanation prompt.
func BuildExplainMore(question, contextText string) (string, error) {
	return build(KindExplainMore, ExplainMoreData{
		Question: sanitizeContent(question),
		Context:  sanitizeContent(contextText),
	})
}

// BuildQuiz renders the quiz prompt asking for count questions.
func BuildQuiz(contextText string, count int) (string, error) {
	if count <= 0 {
		count = 3
	}
	return build(KindQuiz, QuizData{Context: sanitizeContent(contextText), Count: count})
}

func build(kind Kind, data any) (string, error) {
	if templates == nil {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := templates[kind]
	if !ok {
		return "", errors.New("unknown prompt kind: " + string(kind))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sanitizeContent removes delimiter tags a learner could use to break out of
// the content block and caps the length.
func sanitizeContent(s string) string {
	s = learnerContentRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	if s == "" {
		return "[No content provided]"
	}

	if utf8.RuneCountInString(s) > maxContentRunes {
		runes := []rune(s)
		s = string(runes[:maxContentRunes]) + "\n\n[Content truncated due to length]"
	}
	return s
}
