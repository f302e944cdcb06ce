package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/tayyari/internal/model"
)

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := h.config.RecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	st := h.sessions.Store(model.ClientIDFromContext(r.Context()))
	JSON(w, http.StatusOK, map[string]any{
		"conversations": st.ListRecentConversations(r.Context(), limit),
	})
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	st := h.sessions.Store(model.ClientIDFromContext(r.Context()))
	conv, ok := st.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	JSON(w, http.StatusOK, conv)
}

func (h *Handler) handleRestoreConversation(w http.ResponseWriter, r *http.Request) {
	clientID := model.ClientIDFromContext(r.Context())
	_, ok, err := h.sessions.Restore(r.Context(), clientID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeState(w, h.sessions.Session(r.Context(), clientID))
}

func (h *Handler) handleRecentExchanges(w http.ResponseWriter, r *http.Request) {
	st := h.sessions.Store(model.ClientIDFromContext(r.Context()))
	JSON(w, http.StatusOK, map[string]any{
		"exchanges": st.RecentExchanges(r.Context(), h.config.RecentLimit),
	})
}
