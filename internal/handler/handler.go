// Package handler exposes the chat, conversation, proxy and speech endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/tayyari/internal/chat"
	"github.com/pavelanni/tayyari/internal/model"
	"github.com/pavelanni/tayyari/internal/translate"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// ImageSearcher finds an illustrative photo for a query.
type ImageSearcher interface {
	SearchImage(ctx context.Context, query string) (model.ImageResult, error)
}

// Speech converts between audio and text.
type Speech interface {
	TranscribeAudio(ctx context.Context, filename string, audio io.Reader) (string, error)
	SynthesizeSpeech(ctx context.Context, text string) (model.Audio, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	sessions   *chat.Registry
	images     ImageSearcher
	translator *translate.Translator
	speech     Speech
	config     model.ServiceConfig
}

// New creates a new Handler.
func New(sessions *chat.Registry, images ImageSearcher, translator *translate.Translator, speech Speech, cfg model.ServiceConfig) *Handler {
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 3
	}
	return &Handler{
		sessions:   sessions,
		images:     images,
		translator: translator,
		speech:     speech,
		config:     cfg,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(CORS(h.config.AllowedOrigins))

		r.Get("/search-image", h.handleSearchImage)
		r.Post("/translate", h.handleTranslate)

		r.Group(func(r chi.Router) {
			r.Use(h.clientMiddleware)

			r.Get("/chat", h.handleGetChat)
			r.Delete("/chat", h.handleResetChat)
			r.Post("/chat/prompt", h.handlePrompt)
			r.Post("/chat/messages", h.handleSubmit)
			r.Post("/chat/explain-more", h.handleExplainMore)
			r.Post("/chat/quiz", h.handleQuiz)
			r.Post("/chat/quiz/{messageIndex}/answers", h.handleSelectAnswer)
			r.Post("/chat/quiz/{messageIndex}/reveal", h.handleReveal)
			r.Post("/chat/quiz/{messageIndex}/learn-more", h.handleLearnMore)

			r.Get("/conversations", h.handleListConversations)
			r.Get("/conversations/{id}", h.handleGetConversation)
			r.Post("/conversations/{id}/restore", h.handleRestoreConversation)
			r.Get("/recent-exchanges", h.handleRecentExchanges)
		})

		r.Post("/speech/transcribe", h.handleTranscribe)
		r.Post("/speech/synthesize", h.handleSynthesize)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a JSON request body into dest.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeError maps an error to a status code. Validation failures are the
// caller's fault; everything else is logged and reported as a server error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		Error(w, http.StatusBadRequest, ve.Error())
		return
	}
	slog.Error("request failed", "path", r.URL.Path, "error", err)

	var ge *model.GatewayError
	if errors.As(err, &ge) {
		Error(w, http.StatusInternalServerError, "upstream "+ge.Endpoint+" failed")
		return
	}
	Error(w, http.StatusInternalServerError, "internal error")
}

// withTimeout bounds one upstream call by the configured request timeout.
func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.config.RequestTimeout)
}
