// Package gateway calls the external services the chat depends on: the content
// processing service, the image search API and the translation API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pavelanni/tayyari/internal/model"
)

const (
	DefaultContentURL   = "http://127.0.0.1:5000"
	DefaultUnsplashURL  = "https://api.unsplash.com"
	DefaultTranslateURL = "https://api.mymemory.translated.net"

	userAgent    = "TayyariAI/1.0"
	maxErrorBody = 512
)

// ErrNoAPIKey is wrapped in the GatewayError returned by SearchImage when no
// access key is configured.
var ErrNoAPIKey = errors.New("image search API key not configured")

// Config configures a Client. Empty URLs fall back to the public defaults.
type Config struct {
	ContentURL   string
	UnsplashURL  string
	UnsplashKey  string
	TranslateURL string
	HTTPClient   *http.Client
}

// Client is the HTTP implementation of every gateway endpoint.
// It never supplies fallback text; callers decide what the user sees.
type Client struct {
	contentURL   string
	unsplashURL  string
	unsplashKey  string
	translateURL string
	http         *http.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		contentURL:   baseURL(cfg.ContentURL, DefaultContentURL),
		unsplashURL:  baseURL(cfg.UnsplashURL, DefaultUnsplashURL),
		unsplashKey:  cfg.UnsplashKey,
		translateURL: baseURL(cfg.TranslateURL, DefaultTranslateURL),
		http:         hc,
	}
}

func baseURL(u, def string) string {
	if u == "" {
		u = def
	}
	return strings.TrimRight(u, "/")
}

// GenerateExplanation sends notes (and uploaded file URLs) to the content service.
func (c *Client) GenerateExplanation(ctx context.Context, notes string, files []string) (model.ContentResponse, error) {
	if files == nil {
		files = []string{}
	}
	body := map[string]any{"notes": notes, "files": files}
	var resp model.ContentResponse
	err := c.postJSON(ctx, model.EndpointGenerateExplanation, c.contentURL+"/process-content", body, &resp)
	return resp, err
}

// ExplainFurther asks the content service to expand on contextText.
func (c *Client) ExplainFurther(ctx context.Context, question, contextText string) (model.ContentResponse, error) {
	body := map[string]string{"question": question, "context": contextText}
	var resp model.ContentResponse
	err := c.postJSON(ctx, model.EndpointExplainFurther, c.contentURL+"/explain-more", body, &resp)
	return resp, err
}

// GenerateQuiz asks the content service for multiple-choice questions about contextText.
func (c *Client) GenerateQuiz(ctx context.Context, contextText string) ([]model.QuizQuestion, error) {
	body := map[string]string{"context": contextText}
	var resp struct {
		Questions []model.QuizQuestion `json:"questions"`
	}
	if err := c.postJSON(ctx, model.EndpointGenerateQuiz, c.contentURL+"/interactive-questions", body, &resp); err != nil {
		return nil, err
	}
	return resp.Questions, nil
}

// TranscribeAudio uploads a recording and returns its transcript.
func (c *Client) TranscribeAudio(ctx context.Context, filename string, audio io.Reader) (string, error) {
	const endpoint = model.EndpointTranscribeAudio

	var buf bytes.Buffer
	contentType, err := writeMultipartFile(&buf, "file", filename, audio)
	if err != nil {
		return "", &model.GatewayError{Endpoint: endpoint, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentURL+"/speech2text", &buf)
	if err != nil {
		return "", &model.GatewayError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	var resp struct {
		Text string `json:"text"`
	}
	if err := c.do(endpoint, req, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// SynthesizeSpeech turns text into audio.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string) (model.Audio, error) {
	const endpoint = model.EndpointSynthesizeSpeech

	form := url.Values{"text": {text}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentURL+"/process-text2speech", strings.NewReader(form))
	if err != nil {
		return model.Audio{}, &model.GatewayError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.send(endpoint, req)
	if err != nil {
		return model.Audio{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Audio{}, &model.GatewayError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("read audio: %w", err)}
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/wav"
	}
	return model.Audio{Data: data, ContentType: ct}, nil
}

func writeMultipartFile(w io.Writer, field, filename string, r io.Reader) (string, error) {
	if filename == "" {
		filename = "recording.wav"
	}
	mw := multipart.NewWriter(w)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("copy audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}
	return mw.FormDataContentType(), nil
}

func (c *Client) postJSON(ctx context.Context, endpoint, target string, body, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &model.GatewayError{Endpoint: endpoint, Err: fmt.Errorf("marshal request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return &model.GatewayError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(endpoint, req, dest)
}

// do sends req and decodes a JSON body into dest.
func (c *Client) do(endpoint string, req *http.Request, dest any) error {
	resp, err := c.send(endpoint, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &model.GatewayError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// send performs req and turns transport failures and non-2xx statuses into
// GatewayErrors. On success the caller owns the response body.
func (c *Client) send(endpoint string, req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &model.GatewayError{Endpoint: endpoint, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &model.GatewayError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}
	return resp, nil
}
