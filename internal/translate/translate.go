package translate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/tayyari/internal/model"
)

const (
	DefaultChunkSize = 400
	DefaultDelay     = 100 * time.Millisecond
)

// Gateway translates one piece of English text into the target language.
type Gateway interface {
	TranslateText(ctx context.Context, text, targetLang string) (string, error)
}

// Result is the outcome of a Translate call.
type Result struct {
	TranslatedText   string
	ChunksTranslated int
}

// Translator translates long text chunk by chunk. Chunks are sent strictly one
// after another with Delay between requests to stay under upstream rate limits.
type Translator struct {
	Gateway   Gateway
	ChunkSize int
	Delay     time.Duration
}

// New returns a Translator with the default chunk size and delay.
func New(gw Gateway) *Translator {
	return &Translator{Gateway: gw, ChunkSize: DefaultChunkSize, Delay: DefaultDelay}
}

// Translate chunks text and translates every chunk. A chunk that fails to
// translate is kept in the original language; the call itself only fails on
// invalid input or when ctx is done.
func (t *Translator) Translate(ctx context.Context, text, targetLang string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, &model.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if strings.TrimSpace(targetLang) == "" {
		return Result{}, &model.ValidationError{Field: "target_language", Reason: "must not be empty"}
	}

	chunks := Chunk(text, t.ChunkSize)
	out := make([]string, len(chunks))
	for i, chunk := range chunks {
		if i > 0 {
			if err := sleep(ctx, t.Delay); err != nil {
				return Result{}, err
			}
		}
		translated, err := t.Gateway.TranslateText(ctx, chunk, targetLang)
		if err != nil || strings.TrimSpace(translated) == "" {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			slog.Warn("chunk translation failed, keeping original",
				"chunk", i+1, "of", len(chunks), "target", targetLang, "error", err)
			translated = chunk
		}
		out[i] = translated
	}

	return Result{
		TranslatedText:   strings.Join(out, " "),
		ChunksTranslated: len(chunks),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
