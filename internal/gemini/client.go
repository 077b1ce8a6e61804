// Package gemini talks to the Google Generative Language REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"aksara/backend/internal/provider"
	"aksara/backend/internal/sse"
)

const maxErrorBodyBytes = 8 * 1024

type Client struct {
	httpClient *http.Client
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient}
}

// GenerateContent performs one buffered generation call.
func (c *Client) GenerateContent(ctx context.Context, target provider.Target, req GenerateRequest) (GenerateResponse, error) {
	resp, err := c.post(ctx, target, "generateContent", nil, req)
	if err != nil {
		return GenerateResponse{}, err
	}
	defer resp.Body.Close()

	var parsed GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return GenerateResponse{}, fmt.Errorf("decode gemini response: %w", err)
	}
	return parsed, nil
}

// StreamGenerateContent calls onChunk for every streamed response in arrival
// order and returns the aggregate: the concatenated text of all chunks plus
// the last grounding metadata seen. Malformed chunks are skipped.
func (c *Client) StreamGenerateContent(ctx context.Context, target provider.Target, req GenerateRequest, onChunk func(GenerateResponse) error) (GenerateResponse, error) {
	resp, err := c.post(ctx, target, "streamGenerateContent", url.Values{"alt": {"sse"}}, req)
	if err != nil {
		return GenerateResponse{}, err
	}
	defer resp.Body.Close()

	var text strings.Builder
	var grounding *GroundingMetadata
	var finishReason string

	reader := sse.NewReader(resp.Body)
	for {
		payload, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return GenerateResponse{}, fmt.Errorf("read gemini stream: %w", err)
		}

		var chunk GenerateResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}

		text.WriteString(chunk.Text())
		if meta := chunk.Grounding(); meta != nil {
			grounding = meta
		}
		if len(chunk.Candidates) > 0 && chunk.Candidates[0].FinishReason != "" {
			finishReason = chunk.Candidates[0].FinishReason
		}

		if onChunk != nil {
			if err := onChunk(chunk); err != nil {
				return GenerateResponse{}, err
			}
		}
	}

	return GenerateResponse{
		Candidates: []Candidate{{
			Content:           Content{Role: "model", Parts: []Part{{Text: text.String()}}},
			FinishReason:      finishReason,
			GroundingMetadata: grounding,
		}},
	}, nil
}

func (c *Client) post(ctx context.Context, target provider.Target, method string, query url.Values, payload GenerateRequest) (*http.Response, error) {
	if strings.TrimSpace(target.APIKey) == "" {
		return nil, &provider.ConfigError{Model: provider.ModelGemini, Missing: "GEMINI_API_KEY"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:%s", strings.TrimRight(target.BaseURL, "/"), normalizeModel(target.Model), method)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", target.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request gemini: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &provider.StatusError{
			Provider:   provider.ProviderGemini,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	return resp, nil
}

func normalizeModel(model string) string {
	return strings.TrimPrefix(strings.TrimSpace(model), "models/")
}
