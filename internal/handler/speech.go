package handler

import (
	"net/http"
	"strconv"
	"strings"
)

// maxAudioBytes caps uploaded recordings.
const maxAudioBytes = 25 << 20

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "multipart field file is required")
		return
	}
	defer file.Close()

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	text, err := h.speech.TranscribeAudio(ctx, header.Filename, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"text": text})
}

func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.FormValue("text"))
	if text == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	audio, err := h.speech.SynthesizeSpeech(ctx, text)
	if err != nil {
		writeError(w, r, err)
		return
	}

	contentType := audio.ContentType
	if contentType == "" {
		contentType = "audio/wav"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	_, _ = w.Write(audio.Data)
}
