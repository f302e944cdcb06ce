// Package llm is a content backend that talks to an OpenAI-compatible API
// directly instead of going through the content processing service.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/tayyari/internal/llm/prompts"
	"github.com/pavelanni/tayyari/internal/model"
)

// SentinelQuestion is returned as the only quiz question when the model's
// output could not be parsed.
const SentinelQuestion = "Could not generate proper questions."

// Config configures a Client.
type Config struct {
	BaseURL            string
	APIKey             string
	Model              string
	TranscriptionModel string
	SpeechModel        string
	Voice              string
	QuizQuestions      int
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api *openai.Client
	cfg Config
}

// New creates a new LLM client.
func New(cfg Config) *Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = openai.Whisper1
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}
	if cfg.QuizQuestions <= 0 {
		cfg.QuizQuestions = 3
	}
	return &Client{
		api: openai.NewClientWithConfig(config),
		cfg: cfg,
	}
}

// GenerateExplanation turns notes into a markdown learning module.
func (c *Client) GenerateExplanation(ctx context.Context, notes string, files []string) (model.ContentResponse, error) {
	const endpoint = model.EndpointGenerateExplanation
	if strings.TrimSpace(notes) == "" && len(files) == 0 {
		return model.ContentResponse{}, &model.GatewayError{
			Endpoint: endpoint, StatusCode: 400, Err: errors.New("no files or notes provided"),
		}
	}

	prompt, err := prompts.BuildExplanation(notes, files)
	if err != nil {
		return model.ContentResponse{}, &model.GatewayError{Endpoint: endpoint, Err: fmt.Errorf("build prompt: %w", err)}
	}
	text, err := c.complete(ctx, endpoint, prompt, false, 0.7)
	if err != nil {
		return model.ContentResponse{}, err
	}
	return model.ContentResponse{Response: text}, nil
}

// ExplainFurther answers question in the light of contextText.
func (c *Client) ExplainFurther(ctx context.Context, question, contextText string) (model.ContentResponse, error) {
	const endpoint = model.EndpointExplainFurther

	prompt, err := prompts.BuildExplainMore(question, contextText)
	if err != nil {
		return model.ContentResponse{}, &model.GatewayError{Endpoint: endpoint, Err: fmt.Errorf("build prompt: %w", err)}
	}
	text, err := c.complete(ctx, endpoint, prompt, false, 0.7)
	if err != nil {
		return model.ContentResponse{}, err
	}
	return model.ContentResponse{Response: text}, nil
}

// GenerateQuiz asks the model for multiple-choice questions. Output that is
// not valid JSON yields the single sentinel question.
func (c *Client) GenerateQuiz(ctx context.Context, contextText string) ([]model.QuizQuestion, error) {
	const endpoint = model.EndpointGenerateQuiz

	prompt, err := prompts.BuildQuiz(contextText, c.cfg.QuizQuestions)
	if err != nil {
		return nil, &model.GatewayError{Endpoint: endpoint, Err: fmt.Errorf("build prompt: %w", err)}
	}
	raw, err := c.complete(ctx, endpoint, prompt, true, 0.3)
	if err != nil {
		return nil, err
	}

	questions, err := parseQuestions(raw)
	if err != nil {
		slog.Warn("unparseable quiz output", "error", err, "raw", raw)
		return sentinelQuestions(), nil
	}
	return questions, nil
}

// TranscribeAudio transcribes a recording.
func (c *Client) TranscribeAudio(ctx context.Context, filename string, audio io.Reader) (string, error) {
	if filename == "" {
		filename = "recording.wav"
	}
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.TranscriptionModel,
		FilePath: filename,
		Reader:   audio,
	})
	if err != nil {
		return "", apiError(model.EndpointTranscribeAudio, err)
	}
	return resp.Text, nil
}

// SynthesizeSpeech reads text aloud as WAV audio.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string) (model.Audio, error) {
	const endpoint = model.EndpointSynthesizeSpeech

	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.cfg.SpeechModel),
		Input:          text,
		Voice:          openai.SpeechVoice(c.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return model.Audio{}, apiError(endpoint, err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return model.Audio{}, &model.GatewayError{Endpoint: endpoint, Err: fmt.Errorf("read audio: %w", err)}
	}
	return model.Audio{Data: data, ContentType: "audio/wav"}, nil
}

func (c *Client) complete(ctx context.Context, endpoint, prompt string, jsonMode bool, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", apiError(endpoint, err)
	}
	if len(resp.Choices) == 0 {
		return "", &model.GatewayError{Endpoint: endpoint, Err: errors.New("LLM returned no choices")}
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "endpoint", endpoint, "raw", raw)
	if strings.TrimSpace(raw) == "" {
		return "", &model.GatewayError{Endpoint: endpoint, Err: errors.New("LLM returned empty content")}
	}
	return raw, nil
}

// apiError maps a go-openai error to a GatewayError, keeping the HTTP status.
func apiError(endpoint string, err error) error {
	ge := &model.GatewayError{Endpoint: endpoint, Err: fmt.Errorf("LLM API call: %w", err)}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		ge.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		ge.StatusCode = reqErr.HTTPStatusCode
	}
	return ge
}

// parseQuestions accepts {"questions": [...]} or a bare array, optionally
// wrapped in a markdown code fence.
func parseQuestions(raw string) ([]model.QuizQuestion, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var questions []model.QuizQuestion
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &questions); err != nil {
			return nil, fmt.Errorf("parse quiz array: %w", err)
		}
	} else {
		var wrapped struct {
			Questions []model.QuizQuestion `json:"questions"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
			return nil, fmt.Errorf("parse quiz object: %w", err)
		}
		questions = wrapped.Questions
	}
	if len(questions) == 0 {
		return nil, errors.New("no questions in output")
	}
	return questions, nil
}

func sentinelQuestions() []model.QuizQuestion {
	return []model.QuizQuestion{{
		QuestionText:  SentinelQuestion,
		Options:       []string{"Try again", "Contact support"},
		CorrectAnswer: "Try again",
		Explanation:   "There was an error processing the content.",
	}}
}
