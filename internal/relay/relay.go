// Package relay turns one chat turn into a normalized reply, either as a
// stream of frames or as a single buffered string. Both paths share the same
// validation, provider resolution and role mapping so that a buffered reply is
// identical to the fullText of the equivalent stream.
package relay

import (
	"context"
	"strings"

	"aksara/backend/internal/gemini"
	"aksara/backend/internal/metrics"
	"aksara/backend/internal/openaicompat"
	"aksara/backend/internal/provider"

	"github.com/rs/zerolog"
)

// Message is one prior turn of a conversation as sent by the client.
type Message struct {
	IsUser    bool   `json:"isUser"`
	Text      string `json:"text"`
	ImageData string `json:"imageData,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type Request struct {
	Message      string    `json:"message"`
	History      []Message `json:"history"`
	Model        string    `json:"model"`
	ImageData    string    `json:"imageData,omitempty"`
	UseSearch    bool      `json:"useSearch,omitempty"`
	SystemPrompt string    `json:"systemPrompt,omitempty"`
}

// Frame is the unit written to streaming clients. Every stream ends with
// exactly one frame where Done is true.
type Frame struct {
	Text     string `json:"text"`
	Done     bool   `json:"done"`
	Error    bool   `json:"error,omitempty"`
	FullText string `json:"fullText,omitempty"`
}

type GeminiClient interface {
	GenerateContent(ctx context.Context, target provider.Target, req gemini.GenerateRequest) (gemini.GenerateResponse, error)
	StreamGenerateContent(ctx context.Context, target provider.Target, req gemini.GenerateRequest, onChunk func(gemini.GenerateResponse) error) (gemini.GenerateResponse, error)
}

type ChatClient interface {
	StreamChatCompletion(ctx context.Context, target provider.Target, req openaicompat.Request, onDelta func(string) error) error
	ChatCompletion(ctx context.Context, target provider.Target, req openaicompat.Request) (string, error)
}

type Options struct {
	Gemini       GeminiClient
	Chat         ChatClient
	Credentials  provider.Credentials
	DefaultModel string
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

type Service struct {
	gemini       GeminiClient
	chat         ChatClient
	creds        provider.Credentials
	defaultModel string
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

func NewService(opts Options) *Service {
	defaultModel := strings.ToLower(strings.TrimSpace(opts.DefaultModel))
	if defaultModel == "" {
		defaultModel = provider.ModelGemini
	}
	return &Service{
		gemini:       opts.Gemini,
		chat:         opts.Chat,
		creds:        opts.Credentials,
		defaultModel: defaultModel,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
	}
}

// ModelID normalizes a client supplied model identifier, substituting the
// configured default for an empty one.
func (s *Service) ModelID(raw string) string {
	id := strings.ToLower(strings.TrimSpace(raw))
	if id == "" {
		return s.defaultModel
	}
	return id
}
