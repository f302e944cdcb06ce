package handler

import (
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

const translationService = "MyMemory"

func (h *Handler) handleSearchImage(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		Error(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	img, err := h.images.SearchImage(ctx, query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if img.ImageURL == nil {
		JSON(w, http.StatusOK, map[string]any{"imageUrl": nil})
		return
	}
	JSON(w, http.StatusOK, img)
}

type translateRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
}

type translateResponse struct {
	TranslatedText   string `json:"translated_text"`
	SourceLanguage   string `json:"source_language"`
	TargetLanguage   string `json:"target_language"`
	Service          string `json:"service"`
	ChunksTranslated int    `json:"chunks_translated"`
}

func (h *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" || strings.TrimSpace(req.TargetLanguage) == "" {
		Error(w, http.StatusBadRequest, "text and target_language are required")
		return
	}
	target := strings.TrimSpace(req.TargetLanguage)
	if _, err := language.Parse(target); err != nil {
		Error(w, http.StatusBadRequest, "invalid target_language")
		return
	}

	// No deadline here: each chunk is its own upstream call, bounded by the
	// gateway's client timeout.
	res, err := h.translator.Translate(r.Context(), req.Text, target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, translateResponse{
		TranslatedText:   res.TranslatedText,
		SourceLanguage:   "en",
		TargetLanguage:   target,
		Service:          translationService,
		ChunksTranslated: res.ChunksTranslated,
	})
}
