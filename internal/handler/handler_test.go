package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/tayyari/internal/chat"
	"github.com/pavelanni/tayyari/internal/i18n"
	"github.com/pavelanni/tayyari/internal/model"
	"github.com/pavelanni/tayyari/internal/store"
	"github.com/pavelanni/tayyari/internal/translate"
)

type fakeContent struct{}

func (fakeContent) GenerateExplanation(_ context.Context, notes string, _ []string) (model.ContentResponse, error) {
	return model.ContentResponse{Explanation: "About " + notes}, nil
}

func (fakeContent) ExplainFurther(_ context.Context, _, contextText string) (model.ContentResponse, error) {
	return model.ContentResponse{Response: "Deeper: " + contextText}, nil
}

func (fakeContent) GenerateQuiz(context.Context, string) ([]model.QuizQuestion, error) {
	return []model.QuizQuestion{{
		QuestionText:  "What moves in osmosis?",
		Options:       []string{"Water", "Salt"},
		CorrectAnswer: "Water",
		Explanation:   "Water crosses the membrane.",
	}}, nil
}

type fakeImages struct {
	result model.ImageResult
	err    error
}

func (f fakeImages) SearchImage(context.Context, string) (model.ImageResult, error) {
	return f.result, f.err
}

type upperTranslator struct{}

func (upperTranslator) TranslateText(_ context.Context, text, _ string) (string, error) {
	return strings.ToUpper(text), nil
}

type fakeSpeech struct{}

func (fakeSpeech) TranscribeAudio(_ context.Context, filename string, audio io.Reader) (string, error) {
	data, err := io.ReadAll(audio)
	return filename + ":" + string(data), err
}

func (fakeSpeech) SynthesizeSpeech(_ context.Context, text string) (model.Audio, error) {
	return model.Audio{Data: []byte("RIFF" + text), ContentType: "audio/wav"}, nil
}

type testServer struct {
	router   http.Handler
	registry *chat.Registry
	cookie   *http.Cookie
}

func newTestServer(t *testing.T, images ImageSearcher) *testServer {
	t.Helper()
	reg := chat.NewRegistry(store.NewMemory(), fakeContent{}, time.Hour)
	t.Cleanup(reg.FlushAll)

	tr := translate.New(upperTranslator{})
	tr.Delay = 0

	h := New(reg, images, tr, fakeSpeech{}, model.ServiceConfig{
		RecentLimit:    3,
		RequestTimeout: time.Second,
		AllowedOrigins: []string{"http://localhost:5173"},
	})

	r := chi.NewRouter()
	r.Use(i18n.Middleware("en"))
	h.Routes(r)
	return &testServer{router: r, registry: reg}
}

// do sends a request and keeps the client cookie for later requests.
func (s *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Content-Type", "application/json")
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.Name == clientCookieName {
			s.cookie = c
		}
	}
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) chatState {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var state chatState
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return state
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, fakeImages{})
	rec := s.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestSearchImage(t *testing.T) {
	url := "https://images.example/cell.jpg"

	tests := []struct {
		name       string
		target     string
		images     fakeImages
		wantStatus int
		wantBody   string
	}{
		{"missing query", "/api/search-image", fakeImages{}, http.StatusBadRequest, "required"},
		{"found", "/api/search-image?q=cell", fakeImages{result: model.ImageResult{ImageURL: &url, Photographer: "Ann"}}, http.StatusOK, url},
		{"nothing found", "/api/search-image?q=cell", fakeImages{}, http.StatusOK, `{"imageUrl":null}`},
		{"upstream failure", "/api/search-image?q=cell", fakeImages{err: &model.GatewayError{Endpoint: model.EndpointSearchImage, Err: errors.New("no key")}}, http.StatusInternalServerError, "searchImage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.images)
			rec := s.do(t, http.MethodGet, tt.target, nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestTranslate(t *testing.T) {
	s := newTestServer(t, fakeImages{})

	tests := []struct {
		name       string
		body       translateRequest
		wantStatus int
	}{
		{"missing text", translateRequest{TargetLanguage: "es"}, http.StatusBadRequest},
		{"missing language", translateRequest{Text: "Hello."}, http.StatusBadRequest},
		{"bad language tag", translateRequest{Text: "Hello.", TargetLanguage: "not a tag!"}, http.StatusBadRequest},
		{"ok", translateRequest{Text: "Hello there. How are you?", TargetLanguage: "es"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/translate", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp translateResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			want := translateResponse{
				TranslatedText:   "HELLO THERE. HOW ARE YOU?",
				SourceLanguage:   "en",
				TargetLanguage:   "es",
				Service:          "MyMemory",
				ChunksTranslated: 1,
			}
			if resp != want {
				t.Errorf("response = %+v, want %+v", resp, want)
			}
		})
	}
}

// slowTranslator takes delay per call and records the target it was sent.
type slowTranslator struct {
	delay time.Duration

	mu      sync.Mutex
	targets []string
}

func (f *slowTranslator) TranslateText(ctx context.Context, text, target string) (string, error) {
	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.mu.Unlock()
	select {
	case <-time.After(f.delay):
		return strings.ToUpper(text), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestTranslateLongText(t *testing.T) {
	slow := &slowTranslator{delay: 40 * time.Millisecond}
	tr := translate.New(slow)
	tr.ChunkSize = 20
	tr.Delay = 0

	reg := chat.NewRegistry(store.NewMemory(), fakeContent{}, time.Hour)
	t.Cleanup(reg.FlushAll)
	// Every call fits the timeout; the chunks together do not.
	h := New(reg, fakeImages{}, tr, fakeSpeech{}, model.ServiceConfig{RequestTimeout: 100 * time.Millisecond})
	r := chi.NewRouter()
	r.Use(i18n.Middleware("en"))
	h.Routes(r)
	s := &testServer{router: r, registry: reg}

	text := "Cells divide often. Water moves in. Roots take it up. Leaves make sugar. Plants grow tall."
	rec := s.do(t, http.MethodPost, "/api/translate", translateRequest{Text: text, TargetLanguage: " iw "})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp translateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ChunksTranslated < 5 {
		t.Errorf("ChunksTranslated = %d, want at least 5", resp.ChunksTranslated)
	}
	if resp.TranslatedText != strings.ToUpper(text) {
		t.Errorf("TranslatedText = %q", resp.TranslatedText)
	}
	if resp.TargetLanguage != "iw" {
		t.Errorf("TargetLanguage = %q, want the tag as sent", resp.TargetLanguage)
	}
	slow.mu.Lock()
	defer slow.mu.Unlock()
	for _, target := range slow.targets {
		if target != "iw" {
			t.Errorf("upstream target = %q, want iw", target)
		}
	}
}

func TestChatFlow(t *testing.T) {
	s := newTestServer(t, fakeImages{})

	state := decodeState(t, s.do(t, http.MethodPost, "/api/chat/messages", map[string]string{"text": "osmosis"}))
	if s.cookie == nil {
		t.Fatal("expected a client cookie")
	}
	if len(state.Messages) != 2 || state.Messages[1].Content != "About osmosis" {
		t.Fatalf("messages = %+v", state.Messages)
	}
	if !state.Messages[1].IsOriginalPrompt {
		t.Error("first reply should be marked as the original prompt")
	}
	if state.Loading {
		t.Error("loading should be false after the reply")
	}

	// Same cookie, same session.
	state = decodeState(t, s.do(t, http.MethodGet, "/api/chat", nil))
	if len(state.Messages) != 2 {
		t.Errorf("GET /api/chat returned %d messages, want 2", len(state.Messages))
	}

	rec := s.do(t, http.MethodPost, "/api/chat/messages", map[string]string{"text": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank message status = %d, want 400", rec.Code)
	}

	state = decodeState(t, s.do(t, http.MethodPost, "/api/chat/explain-more", map[string]string{"context": "osmosis"}))
	if got := state.Messages[len(state.Messages)-1].Content; got != "Deeper: osmosis" {
		t.Errorf("explain-more reply = %q", got)
	}

	state = decodeState(t, s.do(t, http.MethodPost, "/api/chat/quiz", map[string]string{"context": "osmosis"}))
	quizIndex := len(state.Messages) - 1
	if state.Messages[quizIndex].Quiz == nil {
		t.Fatalf("last message has no quiz: %+v", state.Messages[quizIndex])
	}

	target := "/api/chat/quiz/" + strconv.Itoa(quizIndex)
	state = decodeState(t, s.do(t, http.MethodPost, target+"/answers", map[string]any{"question": 0, "choice": "Water"}))
	if a := state.Messages[quizIndex].Quiz.UserAnswers[0]; a == nil || *a != "Water" {
		t.Errorf("answer not recorded: %v", a)
	}

	state = decodeState(t, s.do(t, http.MethodPost, target+"/reveal", nil))
	if q := state.Messages[quizIndex].Quiz; !q.ShowResults || *q.Score != 100 {
		t.Errorf("quiz after reveal = %+v", q)
	}
	if state.Summary != "You answered 1 of 1 question correctly (100%)." {
		t.Errorf("summary = %q", state.Summary)
	}

	state = decodeState(t, s.do(t, http.MethodPost, target+"/learn-more", nil))
	if got := state.Messages[len(state.Messages)-1].Content; !strings.HasPrefix(got, "Deeper: Q1: What moves in osmosis?") {
		t.Errorf("learn-more reply = %q", got)
	}

	rec = s.do(t, http.MethodPost, "/api/chat/quiz/0/learn-more", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("learn-more on a plain message status = %d, want 400", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/chat/quiz/abc/reveal", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad index status = %d, want 400", rec.Code)
	}

	state = decodeState(t, s.do(t, http.MethodDelete, "/api/chat", nil))
	if len(state.Messages) != 0 {
		t.Errorf("messages after reset = %d, want 0", len(state.Messages))
	}
}

func TestPrompt(t *testing.T) {
	s := newTestServer(t, fakeImages{})

	state := decodeState(t, s.do(t, http.MethodPost, "/api/chat/prompt", map[string]string{"prompt": "cells"}))
	if state.Started == nil || !*state.Started || len(state.Messages) != 2 {
		t.Fatalf("first prompt = %+v", state)
	}

	state = decodeState(t, s.do(t, http.MethodPost, "/api/chat/prompt", map[string]string{"prompt": "other"}))
	if state.Started == nil || *state.Started || len(state.Messages) != 2 {
		t.Errorf("second prompt should not start a new chat: %+v", state)
	}
}

func TestConversations(t *testing.T) {
	s := newTestServer(t, fakeImages{})

	decodeState(t, s.do(t, http.MethodPost, "/api/chat/messages", map[string]string{"text": "photosynthesis"}))
	s.registry.FlushAll()

	rec := s.do(t, http.MethodGet, "/api/conversations", nil)
	var list struct {
		Conversations []model.Conversation `json:"conversations"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Conversations) != 1 {
		t.Fatalf("got %d conversations, want 1", len(list.Conversations))
	}
	id := list.Conversations[0].ID

	rec = s.do(t, http.MethodGet, "/api/conversations/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get conversation status = %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/conversations/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing conversation status = %d, want 404", rec.Code)
	}

	decodeState(t, s.do(t, http.MethodDelete, "/api/chat", nil))
	state := decodeState(t, s.do(t, http.MethodPost, "/api/conversations/"+id+"/restore", nil))
	if len(state.Messages) != 2 {
		t.Errorf("restored %d messages, want 2", len(state.Messages))
	}

	rec = s.do(t, http.MethodGet, "/api/recent-exchanges", nil)
	var exchanges struct {
		Exchanges []model.RecentExchange `json:"exchanges"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&exchanges); err != nil {
		t.Fatal(err)
	}
	if len(exchanges.Exchanges) != 1 || exchanges.Exchanges[0].Title != "photosynthesis" {
		t.Errorf("recent exchanges = %+v", exchanges.Exchanges)
	}

	rec = s.do(t, http.MethodGet, "/api/conversations?limit=x", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestSpeech(t *testing.T) {
	s := newTestServer(t, fakeImages{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "clip.webm")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte("audio"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/speech/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"clip.webm:audio"`) {
		t.Errorf("transcribe = %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/speech/synthesize", strings.NewReader("text=hello"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "RIFFhello" {
		t.Errorf("synthesize = %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q", ct)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/speech/synthesize", nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("synthesize without text status = %d, want 400", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, fakeImages{})

	tests := []struct {
		name      string
		origin    string
		wantAllow string
	}{
		{"listed origin", "http://localhost:5173", "http://localhost:5173"},
		{"other origin", "http://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/translate", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Errorf("preflight status = %d", rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestClientCookie(t *testing.T) {
	s := newTestServer(t, fakeImages{})

	s.do(t, http.MethodGet, "/api/chat", nil)
	first := s.cookie
	if first == nil || !first.HttpOnly {
		t.Fatalf("cookie = %+v", first)
	}

	s.do(t, http.MethodGet, "/api/chat", nil)
	if s.cookie.Value != first.Value {
		t.Error("a valid cookie should be kept")
	}

	s.cookie = &http.Cookie{Name: clientCookieName, Value: "not-a-uuid"}
	s.do(t, http.MethodGet, "/api/chat", nil)
	if s.cookie.Value == "not-a-uuid" {
		t.Error("an invalid cookie should be replaced")
	}
}
