// Package chat implements the message and quiz state of one learner's chat.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/tayyari/internal/i18n"
	"github.com/pavelanni/tayyari/internal/model"
	"github.com/pavelanni/tayyari/internal/store"
)

// ErrStaleResponse is returned by request operations whose response arrived
// after the session was reset or replaced. The response is dropped.
var ErrStaleResponse = errors.New("chat: response arrived after reset")

// explainMoreQuestion is the fixed question sent with every deeper-explanation request.
const explainMoreQuestion = "Explain in more depth"

// ContentGateway is the part of the content service the chat uses.
type ContentGateway interface {
	GenerateExplanation(ctx context.Context, notes string, files []string) (model.ContentResponse, error)
	ExplainFurther(ctx context.Context, question, contextText string) (model.ContentResponse, error)
	GenerateQuiz(ctx context.Context, contextText string) ([]model.QuizQuestion, error)
}

// Session is the live message list of one client. Every change is written to
// the client's autosave slot; a named snapshot follows after the autosave
// delay of inactivity. Gateway calls run without holding the lock.
type Session struct {
	mu         sync.Mutex
	gw         ContentGateway
	store      *store.ConversationStore
	autosave   *Debouncer
	now        func() time.Time
	messages   []model.Message
	lastID     int64
	generation uint64
	loading    int
}

// NewSession creates a session holding initial.
func NewSession(gw ContentGateway, st *store.ConversationStore, initial []model.Message, autosaveDelay time.Duration) *Session {
	s := &Session{
		gw:       gw,
		store:    st,
		autosave: NewDebouncer(autosaveDelay),
		now:      time.Now,
	}
	s.setMessagesLocked(initial)
	return s
}

// Messages returns a copy of the message list. Quiz blocks are shared; they
// are never modified in place.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message{}, s.messages...)
}

// Loading reports whether a content request is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading > 0
}

// AppendUserMessage appends text as a user message. Blank text is rejected
// with a *model.ValidationError.
func (s *Session) AppendUserMessage(ctx context.Context, text string) (model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return model.Message{}, &model.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, _ := s.appendUserLocked(ctx, text)
	return msg, nil
}

// Submit appends a user message and requests an explanation for it. The reply
// to the first message of a conversation is marked as the original prompt.
func (s *Session) Submit(ctx context.Context, text string) (model.Message, model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return model.Message{}, model.Message{}, &model.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	s.mu.Lock()
	user, first := s.appendUserLocked(ctx, text)
	s.mu.Unlock()

	ai, err := s.RequestExplanation(ctx, text, first)
	return user, ai, err
}

// StartFromPrompt opens an empty session with prompt. It reports false and
// does nothing when the session already has messages.
func (s *Session) StartFromPrompt(ctx context.Context, prompt string) (bool, error) {
	if strings.TrimSpace(prompt) == "" {
		return false, &model.ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	s.mu.Lock()
	if len(s.messages) > 0 {
		s.mu.Unlock()
		return false, nil
	}
	s.appendLocked(ctx, model.Message{Content: prompt, Sender: model.SenderUser})
	s.mu.Unlock()

	_, err := s.RequestExplanation(ctx, prompt, true)
	return true, err
}

// RequestExplanation asks the content service to explain input and appends
// the reply. Gateway failures become a fallback message, never an error.
func (s *Session) RequestExplanation(ctx context.Context, input string, original bool) (model.Message, error) {
	gen := s.begin()
	resp, err := s.gw.GenerateExplanation(detach(ctx), input, nil)

	content := resp.Text()
	switch {
	case err != nil:
		s.logFailure("explanation", err)
		content = i18n.T(ctx, "ExplanationFailed")
	case content == "":
		content = i18n.T(ctx, "ExplanationEmpty")
	}
	return s.finish(ctx, gen, model.Message{Content: content, Sender: model.SenderAI, IsOriginalPrompt: original})
}

// RequestExplainMore asks for a deeper explanation of contextText.
func (s *Session) RequestExplainMore(ctx context.Context, contextText string) (model.Message, error) {
	gen := s.begin()
	resp, err := s.gw.ExplainFurther(detach(ctx), explainMoreQuestion, contextText)

	content := resp.Response
	switch {
	case err != nil:
		s.logFailure("explain more", err)
		content = i18n.T(ctx, "ExplainMoreFailed")
	case strings.TrimSpace(content) == "":
		content = i18n.T(ctx, "ExplainMoreEmpty")
	}
	return s.finish(ctx, gen, model.Message{Content: content, Sender: model.SenderAI})
}

// RequestQuiz asks for quiz questions about contextText and appends them as a
// new quiz, or a plain message explaining why no quiz could be made.
func (s *Session) RequestQuiz(ctx context.Context, contextText string) (model.Message, error) {
	gen := s.begin()
	questions, err := s.gw.GenerateQuiz(detach(ctx), contextText)

	var msg model.Message
	switch {
	case err != nil:
		s.logFailure("quiz", err)
		msg = model.Message{Content: i18n.T(ctx, "QuizFailed"), Sender: model.SenderAI}
	case !validQuiz(questions):
		slog.Warn("content service returned no usable quiz", "client", s.store.ClientID(), "questions", len(questions))
		msg = model.Message{Content: i18n.T(ctx, "QuizInvalid"), Sender: model.SenderAI}
	default:
		msg = model.Message{Content: i18n.T(ctx, "QuizReady"), Sender: model.SenderAI, Quiz: model.NewQuizBlock(questions)}
	}
	return s.finish(ctx, gen, msg)
}

// LearnMoreFromQuiz requests a deeper explanation built from the questions,
// answers and explanations of the quiz at messageIndex.
func (s *Session) LearnMoreFromQuiz(ctx context.Context, messageIndex int) (model.Message, error) {
	s.mu.Lock()
	q := s.quizLocked(messageIndex)
	s.mu.Unlock()
	if q == nil {
		return model.Message{}, &model.ValidationError{Field: "messageIndex", Reason: "message has no quiz"}
	}
	return s.RequestExplainMore(ctx, LearnMoreContext(q))
}

// SelectAnswer records choice for one question of the quiz at messageIndex.
// It reports false without changing anything when there is no such quiz or
// question, or the quiz is already revealed.
func (s *Session) SelectAnswer(ctx context.Context, messageIndex, questionIndex int, choice string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated, ok := SelectAnswer(s.quizLocked(messageIndex), questionIndex, choice)
	if !ok {
		return false
	}
	s.messages[messageIndex].Quiz = updated
	s.changedLocked(ctx)
	return true
}

// RevealResults scores the quiz at messageIndex. Revealing is terminal; a
// second call reports false and changes nothing.
func (s *Session) RevealResults(ctx context.Context, messageIndex int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated, ok := Reveal(s.quizLocked(messageIndex))
	if !ok {
		return false
	}
	s.messages[messageIndex].Quiz = updated
	s.changedLocked(ctx)
	return true
}

// Reset clears the session. Responses to requests started before the reset
// are dropped and no snapshot is written for the cleared list.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.loading = 0
	s.messages = []model.Message{}
	s.autosave.Stop()
	s.persistLocked(ctx)
}

// Replace swaps the whole message list, as when a saved conversation is
// opened. In-flight responses are dropped like on Reset.
func (s *Session) Replace(ctx context.Context, messages []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.loading = 0
	s.setMessagesLocked(messages)
	s.autosave.Stop()
	s.persistLocked(ctx)
}

// FlushAutosave writes a pending snapshot immediately.
func (s *Session) FlushAutosave() {
	s.autosave.Flush()
}

func (s *Session) setMessagesLocked(messages []model.Message) {
	s.messages = append([]model.Message{}, messages...)
	s.lastID = 0
	for _, m := range s.messages {
		if m.ID > s.lastID {
			s.lastID = m.ID
		}
	}
}

func (s *Session) quizLocked(messageIndex int) *model.QuizBlock {
	if messageIndex < 0 || messageIndex >= len(s.messages) {
		return nil
	}
	return s.messages[messageIndex].Quiz
}

// begin marks a content request as started and returns the generation it belongs to.
func (s *Session) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading++
	return s.generation
}

// finish appends the reply of a request started in generation gen.
func (s *Session) finish(ctx context.Context, gen uint64, msg model.Message) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		slog.Info("dropping stale response", "client", s.store.ClientID())
		return model.Message{}, ErrStaleResponse
	}
	s.loading--
	return s.appendLocked(ctx, msg), nil
}

// appendUserLocked appends text as a user message and reports whether it is
// the first message of the conversation.
func (s *Session) appendUserLocked(ctx context.Context, text string) (model.Message, bool) {
	first := len(s.messages) == 0
	return s.appendLocked(ctx, model.Message{Content: text, Sender: model.SenderUser}), first
}

// appendLocked assigns the next message id: creation time in milliseconds,
// bumped past the previous id when the clock has not moved.
func (s *Session) appendLocked(ctx context.Context, msg model.Message) model.Message {
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	msg.ID = id
	s.messages = append(s.messages, msg)
	s.changedLocked(ctx)
	return msg
}

func (s *Session) changedLocked(ctx context.Context) {
	s.persistLocked(ctx)
	s.autosave.Trigger(s.saveSnapshot)
}

func (s *Session) persistLocked(ctx context.Context) {
	if err := s.store.PersistSession(detach(ctx), s.messages); err != nil {
		slog.Error("persist session failed", "client", s.store.ClientID(), "error", err)
	}
}

func (s *Session) saveSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conv, err := s.store.AutosaveConversation(ctx, s.Messages())
	if err != nil {
		slog.Error("autosave conversation failed", "client", s.store.ClientID(), "error", err)
		return
	}
	if conv != nil {
		slog.Debug("conversation autosaved", "client", s.store.ClientID(), "id", conv.ID, "messages", len(conv.Messages))
	}
}

func (s *Session) logFailure(op string, err error) {
	var ge *model.GatewayError
	if errors.As(err, &ge) {
		slog.Warn(op+" request failed", "client", s.store.ClientID(),
			"endpoint", ge.Endpoint, "status", ge.StatusCode, "error", ge.Err)
		return
	}
	slog.Warn(op+" request failed", "client", s.store.ClientID(), "error", err)
}

// detach keeps ctx values (the localizer) but not its cancellation: a request
// that has reached the content service runs to completion.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
