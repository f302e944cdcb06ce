package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/pavelanni/tayyari/internal/model"
)

const clientCookieName = "tayyari_client"

// CORS returns middleware that handles CORS headers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed, explicit := false, false
			for _, o := range allowedOrigins {
				if o == origin {
					allowed, explicit = true, true
					break
				}
				if o == "*" {
					allowed = true
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept-Language")
				w.Header().Add("Vary", "Origin")
				// Credentials only for origins listed by name.
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientMiddleware identifies the browser client by cookie, issuing a new
// identifier on first contact.
func (h *Handler) clientMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var clientID string
		if cookie, err := r.Cookie(clientCookieName); err == nil {
			if id, err := uuid.Parse(cookie.Value); err == nil {
				clientID = id.String()
			}
		}

		if clientID == "" {
			clientID = uuid.NewString()
			slog.Debug("issued client id", "client", clientID)
			http.SetCookie(w, &http.Cookie{
				Name:     clientCookieName,
				Value:    clientID,
				Path:     "/",
				MaxAge:   365 * 24 * 60 * 60,
				HttpOnly: true,
				Secure:   h.config.SecureCookies,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := model.ContextWithClientID(r.Context(), clientID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
