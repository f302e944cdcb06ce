package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "ExplanationFailed")
	if got != "Oops! Something went wrong. Please try again." {
		t.Errorf("T(ExplanationFailed) = %q", got)
	}

	got = T(ctx, "QuizReady")
	if got != "Quiz Time!" {
		t.Errorf("T(QuizReady) = %q, want 'Quiz Time!'", got)
	}
}

func TestTranslateSpanish(t *testing.T) {
	ctx := initLang(t, "es")

	got := T(ctx, "QuizReady")
	if got != "¡Hora del cuestionario!" {
		t.Errorf("T(QuizReady) = %q, want '¡Hora del cuestionario!'", got)
	}
}

func TestUnsupportedLanguageFallsBack(t *testing.T) {
	ctx := initLang(t, "ja")

	got := T(ctx, "QuizFailed")
	if got != "Sorry, I couldn't generate interactive questions." {
		t.Errorf("T(QuizFailed) = %q, want the English text", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "QuizScore", 1, map[string]any{"Correct": 1, "Score": 100})
	if got1 != "You answered 1 of 1 question correctly (100%)." {
		t.Errorf("Tp(QuizScore, 1) = %q", got1)
	}

	got4 := Tp(ctx, "QuizScore", 4, map[string]any{"Correct": 3, "Score": 75})
	if got4 != "You answered 3 of 4 questions correctly (75%)." {
		t.Errorf("Tp(QuizScore, 4) = %q", got4)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestContextWithoutLocalizer(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}
	if got := T(context.Background(), "QuizReady"); got != "Quiz Time!" {
		t.Errorf("T without localizer = %q, want 'Quiz Time!'", got)
	}
}

func TestInitRejectsBadTag(t *testing.T) {
	if err := Init("not a language"); err == nil {
		t.Error("expected error for invalid language tag")
	}
}

func TestMiddlewareNegotiatesLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		accept string
		want   string
	}{
		{"spanish", "es-MX,es;q=0.9,en;q=0.8", "¡Hora del cuestionario!"},
		{"english", "en-US", "Quiz Time!"},
		{"unsupported", "de-DE", "Quiz Time!"},
		{"no header", "", "Quiz Time!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = T(r.Context(), "QuizReady")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
