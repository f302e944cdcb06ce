package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/tayyari/internal/chat"
	"github.com/pavelanni/tayyari/internal/i18n"
	"github.com/pavelanni/tayyari/internal/model"
)

// chatState is the body of every chat endpoint response.
type chatState struct {
	Messages []model.Message `json:"messages"`
	Loading  bool            `json:"loading"`
	Started  *bool           `json:"started,omitempty"`
	Summary  string          `json:"summary,omitempty"`
}

func (h *Handler) session(r *http.Request) *chat.Session {
	return h.sessions.Session(r.Context(), model.ClientIDFromContext(r.Context()))
}

func writeState(w http.ResponseWriter, s *chat.Session) {
	JSON(w, http.StatusOK, chatState{Messages: s.Messages(), Loading: s.Loading()})
}

// writeResult reports the session state after a request operation. A stale
// response was dropped on purpose, so the current state is still the answer.
func writeResult(w http.ResponseWriter, r *http.Request, s *chat.Session, err error) {
	if err != nil && !errors.Is(err, chat.ErrStaleResponse) {
		writeError(w, r, err)
		return
	}
	writeState(w, s)
}

func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	clientID := model.ClientIDFromContext(r.Context())
	if id := r.URL.Query().Get("conversationId"); id != "" {
		writeState(w, h.sessions.Open(r.Context(), clientID, id))
		return
	}
	writeState(w, h.sessions.Session(r.Context(), clientID))
}

func (h *Handler) handleResetChat(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	s.Reset(r.Context())
	writeState(w, s)
}

func (h *Handler) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	s := h.session(r)
	started, err := s.StartFromPrompt(r.Context(), req.Prompt)
	if err != nil && !errors.Is(err, chat.ErrStaleResponse) {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, chatState{Messages: s.Messages(), Loading: s.Loading(), Started: &started})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	s := h.session(r)
	_, _, err := s.Submit(r.Context(), req.Text)
	writeResult(w, r, s, err)
}

func (h *Handler) handleExplainMore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Context string `json:"context"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	s := h.session(r)
	_, err := s.RequestExplainMore(r.Context(), req.Context)
	writeResult(w, r, s, err)
}

func (h *Handler) handleQuiz(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Context string `json:"context"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	s := h.session(r)
	_, err := s.RequestQuiz(r.Context(), req.Context)
	writeResult(w, r, s, err)
}

func (h *Handler) handleSelectAnswer(w http.ResponseWriter, r *http.Request) {
	mi, ok := messageIndex(w, r)
	if !ok {
		return
	}
	var req struct {
		Question int    `json:"question"`
		Choice   string `json:"choice"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	s := h.session(r)
	s.SelectAnswer(r.Context(), mi, req.Question, req.Choice)
	writeState(w, s)
}

func (h *Handler) handleReveal(w http.ResponseWriter, r *http.Request) {
	mi, ok := messageIndex(w, r)
	if !ok {
		return
	}

	s := h.session(r)
	s.RevealResults(r.Context(), mi)

	state := chatState{Messages: s.Messages(), Loading: s.Loading()}
	if mi < len(state.Messages) {
		if q := state.Messages[mi].Quiz; q != nil && q.ShowResults {
			state.Summary = i18n.Tp(r.Context(), "QuizScore", len(q.Questions), map[string]any{
				"Correct": q.CorrectCount(),
				"Score":   q.Percent(),
			})
		}
	}
	JSON(w, http.StatusOK, state)
}

func (h *Handler) handleLearnMore(w http.ResponseWriter, r *http.Request) {
	mi, ok := messageIndex(w, r)
	if !ok {
		return
	}

	s := h.session(r)
	_, err := s.LearnMoreFromQuiz(r.Context(), mi)
	writeResult(w, r, s, err)
}

func messageIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	mi, err := strconv.Atoi(chi.URLParam(r, "messageIndex"))
	if err != nil || mi < 0 {
		Error(w, http.StatusBadRequest, "invalid message index")
		return 0, false
	}
	return mi, true
}
