package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pavelanni/tayyari/internal/model"
)

const (
	sessionSlot        = "tayyari-chat-messages-v2"
	conversationPrefix = "tayyari-conversation-"

	titleMaxRunes       = 48
	descriptionMaxRunes = 60
	topicMaxWords       = 4
)

// conversationNamespace seeds the name-based UUIDs of conversation snapshots.
var conversationNamespace = uuid.MustParse("5b0e4d6a-61c8-4f0e-9a43-2f6f0c1d7e21")

var (
	headingRegex     = regexp.MustCompile(`(?m)^\s*#{1,6}\s*(\S.*)$`)
	markdownRunRegex = regexp.MustCompile(`[#>*_\-\n]`)
)

var errNotFound = errors.New("not found")

// ConversationStore keeps the live message list and the named conversation
// snapshots of one client.
type ConversationStore struct {
	kv       KV
	clientID string
	now      func() time.Time
}

// NewConversationStore scopes kv to clientID.
func NewConversationStore(kv KV, clientID string) *ConversationStore {
	return &ConversationStore{kv: kv, clientID: clientID, now: time.Now}
}

// ClientID returns the client this store is scoped to.
func (s *ConversationStore) ClientID() string {
	return s.clientID
}

func (s *ConversationStore) key(name string) string {
	return s.clientID + ":" + name
}

func (s *ConversationStore) conversationKey(id string) string {
	return s.key(conversationPrefix + id)
}

// LoadSession returns the messages of the named conversation when conversationID
// is set, otherwise the autosave slot. Missing or corrupt data yields an empty list.
func (s *ConversationStore) LoadSession(ctx context.Context, conversationID string) []model.Message {
	if conversationID != "" {
		conv, ok := s.GetConversation(ctx, conversationID)
		if !ok {
			return []model.Message{}
		}
		return conv.Messages
	}
	return s.loadSlot(ctx)
}

func (s *ConversationStore) loadSlot(ctx context.Context) []model.Message {
	var messages []model.Message
	if err := s.readJSON(ctx, s.key(sessionSlot), &messages); err != nil {
		s.logReadError(s.key(sessionSlot), err)
		return []model.Message{}
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return messages
}

// PersistSession overwrites the autosave slot with the full list.
func (s *ConversationStore) PersistSession(ctx context.Context, messages []model.Message) error {
	if messages == nil {
		messages = []model.Message{}
	}
	return s.writeJSON(ctx, s.key(sessionSlot), messages)
}

// AutosaveConversation upserts the named snapshot for messages. It does nothing
// (and returns nil) until the list holds at least two messages and a user message.
// The snapshot timestamp is written once; every other field is replaced.
func (s *ConversationStore) AutosaveConversation(ctx context.Context, messages []model.Message) (*model.Conversation, error) {
	if len(messages) < 2 {
		return nil, nil
	}
	first := firstUserMessage(messages)
	if first == nil {
		return nil, nil
	}

	id := ConversationID(*first)
	key := s.conversationKey(id)

	timestamp := s.now().UnixMilli()
	var existing model.Conversation
	switch err := s.readJSON(ctx, key, &existing); {
	case err == nil && existing.Timestamp != 0:
		timestamp = existing.Timestamp
	case err != nil && !errors.Is(err, errNotFound):
		s.logReadError(key, err)
	}

	conv := &model.Conversation{
		ID:           id,
		Title:        Title(first.Content),
		Topic:        Topic(messages),
		Timestamp:    timestamp,
		Messages:     append([]model.Message(nil), messages...),
		QuizProgress: ComputeQuizProgress(messages),
	}
	if err := s.writeJSON(ctx, key, conv); err != nil {
		return nil, fmt.Errorf("save conversation %s: %w", id, err)
	}
	return conv, nil
}

// GetConversation loads one snapshot with freshly computed quiz progress.
func (s *ConversationStore) GetConversation(ctx context.Context, id string) (*model.Conversation, bool) {
	key := s.conversationKey(id)
	var conv model.Conversation
	if err := s.readJSON(ctx, key, &conv); err != nil {
		s.logReadError(key, err)
		return nil, false
	}
	if conv.ID == "" {
		return nil, false
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	conv.QuizProgress = ComputeQuizProgress(conv.Messages)
	return &conv, true
}

// RestoreConversation copies a snapshot's messages into the autosave slot.
func (s *ConversationStore) RestoreConversation(ctx context.Context, id string) ([]model.Message, bool, error) {
	conv, ok := s.GetConversation(ctx, id)
	if !ok {
		return nil, false, nil
	}
	if err := s.PersistSession(ctx, conv.Messages); err != nil {
		return nil, true, fmt.Errorf("restore conversation %s: %w", id, err)
	}
	return conv.Messages, true, nil
}

// ListRecentConversations returns up to limit snapshots, newest first.
// Stored progress values are ignored and recomputed. limit <= 0 returns all.
func (s *ConversationStore) ListRecentConversations(ctx context.Context, limit int) []model.Conversation {
	prefix := s.key(conversationPrefix)
	keys, err := s.kv.Keys(ctx, prefix)
	if err != nil {
		slog.Warn("list conversations failed", "client", s.clientID, "error", err)
		return []model.Conversation{}
	}

	conversations := make([]model.Conversation, 0, len(keys))
	for _, key := range keys {
		var conv model.Conversation
		if err := s.readJSON(ctx, key, &conv); err != nil {
			s.logReadError(key, err)
			continue
		}
		if conv.ID == "" {
			continue
		}
		conv.QuizProgress = ComputeQuizProgress(conv.Messages)
		conversations = append(conversations, conv)
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].Timestamp > conversations[j].Timestamp
	})
	if limit > 0 && len(conversations) > limit {
		conversations = conversations[:limit]
	}
	return conversations
}

// RecentExchanges pairs each user message of the live session with the AI reply
// that follows it and returns the last limit pairs, newest first.
func (s *ConversationStore) RecentExchanges(ctx context.Context, limit int) []model.RecentExchange {
	messages := s.loadSlot(ctx)

	type pair struct {
		user model.Message
		ai   *model.Message
	}
	var pairs []pair
	for i := 0; i < len(messages); {
		if messages[i].Sender != model.SenderUser {
			i++
			continue
		}
		p := pair{user: messages[i]}
		if i+1 < len(messages) && messages[i+1].Sender == model.SenderAI {
			p.ai = &messages[i+1]
			i += 2
		} else {
			i++
		}
		pairs = append(pairs, p)
	}

	if limit > 0 && len(pairs) > limit {
		pairs = pairs[len(pairs)-limit:]
	}
	out := make([]model.RecentExchange, 0, len(pairs))
	for i := len(pairs) - 1; i >= 0; i-- {
		p := pairs[i]
		description := "No summary available"
		if p.ai != nil && p.ai.Content != "" {
			description = summarize(p.ai.Content)
		}
		out = append(out, model.RecentExchange{
			ID:          p.user.ID,
			Title:       Title(p.user.Content),
			Description: description,
			Timestamp:   p.user.ID,
		})
	}
	return out
}

// ComputeQuizProgress summarizes the revealed quizzes in messages.
func ComputeQuizProgress(messages []model.Message) model.QuizProgress {
	var total, sum, last int
	for _, m := range messages {
		if m.Quiz == nil || !m.Quiz.ShowResults {
			continue
		}
		score := m.Quiz.Percent()
		total++
		sum += score
		last = score
	}
	average := 0
	if total > 0 {
		average = int(math.Round(float64(sum) / float64(total)))
	}
	return model.QuizProgress{
		TotalQuizzes:     total,
		CompletedQuizzes: total,
		AverageScore:     average,
		LastQuizScore:    last,
	}
}

// ConversationID derives the snapshot id from the first user message.
// The same message always maps to the same id.
func ConversationID(first model.Message) string {
	name := fmt.Sprintf("%d:%s", first.ID, first.Content)
	return uuid.NewSHA1(conversationNamespace, []byte(name)).String()
}

// Title truncates a user message for display.
func Title(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return "Untitled"
	}
	return truncateRunes(content, titleMaxRunes)
}

// Topic guesses a short topic: the first heading of the first AI reply,
// else the leading words of the first user message.
func Topic(messages []model.Message) string {
	for _, m := range messages {
		if m.Sender != model.SenderAI || m.Quiz != nil {
			continue
		}
		if match := headingRegex.FindStringSubmatch(m.Content); match != nil {
			if topic := strings.Trim(strings.TrimSpace(match[1]), "*_ "); topic != "" {
				return topic
			}
		}
		break
	}
	if first := firstUserMessage(messages); first != nil {
		words := strings.Fields(first.Content)
		if len(words) > topicMaxWords {
			words = words[:topicMaxWords]
		}
		if len(words) > 0 {
			return strings.Join(words, " ")
		}
	}
	return "General"
}

func summarize(content string) string {
	if match := headingRegex.FindStringSubmatch(content); match != nil {
		return strings.TrimSpace(match[1])
	}
	flat := markdownRunRegex.ReplaceAllString(content, " ")
	runes := []rune(flat)
	if len(runes) > descriptionMaxRunes {
		runes = runes[:descriptionMaxRunes]
	}
	return string(runes) + "..."
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func firstUserMessage(messages []model.Message) *model.Message {
	for i := range messages {
		if messages[i].Sender == model.SenderUser {
			return &messages[i]
		}
	}
	return nil
}

func (s *ConversationStore) readJSON(ctx context.Context, key string, dest any) error {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return errNotFound
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return &model.StorageCorruptError{Key: key, Err: err}
	}
	return nil
}

func (s *ConversationStore) writeJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, string(data))
}

func (s *ConversationStore) logReadError(key string, err error) {
	if errors.Is(err, errNotFound) {
		return
	}
	var corrupt *model.StorageCorruptError
	if errors.As(err, &corrupt) {
		slog.Warn("discarding corrupt stored data", "key", key, "error", corrupt.Err)
		return
	}
	slog.Warn("storage read failed", "key", key, "error", err)
}
