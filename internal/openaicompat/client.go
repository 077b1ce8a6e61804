// Package openaicompat streams and buffers chat completions from any
// OpenAI-compatible upstream (DeepSeek directly, or OpenRouter as aggregator).
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"aksara/backend/internal/provider"
	"aksara/backend/internal/sse"

	openai "github.com/sashabaranov/go-openai"
)

const (
	maxErrorBodyBytes = 8 * 1024
	doneSentinel      = "[DONE]"
)

type Message struct {
	Role     string
	Content  string
	ImageURL string // data URI or https URL; turns the content into parts
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	type wire struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	}
	if m.ImageURL == "" {
		return json.Marshal(wire{Role: m.Role, Content: m.Content})
	}
	parts := make([]contentPart, 0, 2)
	if m.Content != "" {
		parts = append(parts, contentPart{Type: "text", Text: m.Content})
	}
	parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: m.ImageURL}})
	return json.Marshal(wire{Role: m.Role, Content: parts})
}

type Request struct {
	Messages []Message
}

type streamAPIRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type streamAPIResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// Attribution is sent to OpenRouter so requests show up under the app.
type Attribution struct {
	SiteURL string
	AppName string
}

type Client struct {
	httpClient  *http.Client
	attribution Attribution
}

func NewClient(httpClient *http.Client, attribution Attribution) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, attribution: attribution}
}

// StreamChatCompletion posts a streamed completion and calls onDelta for each
// non-empty content delta in arrival order. Malformed payloads are skipped.
func (c *Client) StreamChatCompletion(ctx context.Context, target provider.Target, req Request, onDelta func(string) error) error {
	if len(req.Messages) == 0 {
		return errors.New("messages are required")
	}

	payload, err := json.Marshal(streamAPIRequest{
		Model:    target.Model,
		Messages: req.Messages,
		Stream:   true,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", target.Provider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(target.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", target.Provider, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+target.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for key, values := range c.attributionHeaders(target) {
		httpReq.Header[key] = values
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request %s: %w", target.Provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &provider.StatusError{
			Provider:   target.Provider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	reader := sse.NewReader(resp.Body)
	for {
		payload, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s stream: %w", target.Provider, err)
		}
		if payload == doneSentinel {
			continue
		}

		var parsed streamAPIResponse
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			continue
		}
		if parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
			return &provider.StatusError{
				Provider:   target.Provider,
				StatusCode: inBandStatus(parsed.Error.Code),
				Body:       strings.TrimSpace(parsed.Error.Message),
			}
		}

		for _, choice := range parsed.Choices {
			delta := choice.Delta.Content
			if delta == "" {
				continue
			}
			if err := onDelta(delta); err != nil {
				return err
			}
		}
	}
}

// ChatCompletion performs a buffered completion and returns the reply text.
func (c *Client) ChatCompletion(ctx context.Context, target provider.Target, req Request) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("messages are required")
	}

	clientConfig := openai.DefaultConfig(target.APIKey)
	clientConfig.BaseURL = strings.TrimRight(target.BaseURL, "/")
	clientConfig.HTTPClient = c.buffered(target)
	client := openai.NewClientWithConfig(clientConfig)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, toOpenAIMessage(m))
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    target.Model,
		Messages: messages,
	})
	if err != nil {
		return "", mapClientError(target.Provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", target.Provider)
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessage(m Message) openai.ChatCompletionMessage {
	if m.ImageURL == "" {
		return openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	parts := make([]openai.ChatMessagePart, 0, 2)
	if m.Content != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Content})
	}
	parts = append(parts, openai.ChatMessagePart{
		Type:     openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{URL: m.ImageURL},
	})
	return openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts}
}

func mapClientError(providerName string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &provider.StatusError{Provider: providerName, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &provider.StatusError{Provider: providerName, StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("request %s: %w", providerName, err)
}

// inBandStatus extracts an HTTP-like status from an in-stream error code.
// OpenRouter sends numeric codes; anything else is treated as a bad gateway.
func inBandStatus(code any) int {
	if number, ok := code.(float64); ok && number >= 400 && number < 600 {
		return int(number)
	}
	return http.StatusBadGateway
}

func (c *Client) attributionHeaders(target provider.Target) http.Header {
	headers := http.Header{}
	if target.Provider != provider.ProviderOpenRouter {
		return headers
	}
	if site := strings.TrimSpace(c.attribution.SiteURL); site != "" {
		headers.Set("HTTP-Referer", site)
	}
	if app := strings.TrimSpace(c.attribution.AppName); app != "" {
		headers.Set("X-Title", app)
	}
	return headers
}

func (c *Client) buffered(target provider.Target) *http.Client {
	headers := c.attributionHeaders(target)
	if len(headers) == 0 {
		return c.httpClient
	}
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: headerTransport{base: base, headers: headers},
		Timeout:   c.httpClient.Timeout,
	}
}

type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	clone := r.Clone(r.Context())
	for key, values := range t.headers {
		clone.Header[key] = values
	}
	return t.base.RoundTrip(clone)
}
