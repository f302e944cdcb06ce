package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/tayyari/internal/model"
	"github.com/pavelanni/tayyari/internal/store"
)

// Registry holds one Session per client, created on first use from the
// client's autosave slot. Idle sessions are dropped by Evict; the next
// request of that client loads the session from its slot again.
type Registry struct {
	mu            sync.Mutex
	kv            store.KV
	gw            ContentGateway
	autosaveDelay time.Duration
	now           func() time.Time
	sessions      map[string]*liveSession
}

type liveSession struct {
	*Session
	lastUsed time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(kv store.KV, gw ContentGateway, autosaveDelay time.Duration) *Registry {
	return &Registry{
		kv:            kv,
		gw:            gw,
		autosaveDelay: autosaveDelay,
		now:           time.Now,
		sessions:      make(map[string]*liveSession),
	}
}

// Store returns the conversation store of clientID.
func (r *Registry) Store(clientID string) *store.ConversationStore {
	return store.NewConversationStore(r.kv, clientID)
}

// Session returns the live session of clientID, loading it from the autosave
// slot the first time.
func (r *Registry) Session(ctx context.Context, clientID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ls, ok := r.sessions[clientID]; ok {
		ls.lastUsed = r.now()
		return ls.Session
	}
	st := r.Store(clientID)
	s := NewSession(r.gw, st, st.LoadSession(ctx, ""), r.autosaveDelay)
	r.sessions[clientID] = &liveSession{Session: s, lastUsed: r.now()}
	return s
}

// Open makes the named conversation the live session of clientID. A missing
// or unreadable conversation opens as an empty session.
func (r *Registry) Open(ctx context.Context, clientID, conversationID string) *Session {
	s := r.Session(ctx, clientID)
	if conversationID != "" {
		s.Replace(ctx, s.store.LoadSession(ctx, conversationID))
	}
	return s
}

// Restore copies a saved conversation into the autosave slot and the live
// session. It reports false when the conversation does not exist.
func (r *Registry) Restore(ctx context.Context, clientID, conversationID string) ([]model.Message, bool, error) {
	s := r.Session(ctx, clientID)
	messages, ok, err := s.store.RestoreConversation(ctx, conversationID)
	if err != nil || !ok {
		return nil, ok, err
	}
	s.Replace(ctx, messages)
	return messages, true, nil
}

// FlushAll writes every pending snapshot. Call it before shutdown.
func (r *Registry) FlushAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, ls := range r.sessions {
		sessions = append(sessions, ls.Session)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.FlushAutosave()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Evict drops sessions unused for longer than idle, writing their pending
// snapshot first. Sessions with a content request in flight are kept. It
// returns the number of sessions dropped.
func (r *Registry) Evict(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var evicted []*Session
	for clientID, ls := range r.sessions {
		if ls.lastUsed.After(cutoff) || ls.Loading() {
			continue
		}
		delete(r.sessions, clientID)
		evicted = append(evicted, ls.Session)
	}
	r.mu.Unlock()

	for _, s := range evicted {
		s.FlushAutosave()
	}
	if len(evicted) > 0 {
		slog.Debug("evicted idle sessions", "count", len(evicted), "idle", idle)
	}
	return len(evicted)
}

// RunEviction calls Evict every interval until ctx is done.
func (r *Registry) RunEviction(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict(idle)
		}
	}
}
