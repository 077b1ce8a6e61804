// Package provider maps the public model identifiers to a concrete upstream
// target. Resolution is a pure function of the identifier and the configured
// credentials, shared by the streaming and buffered chat paths.
package provider

import (
	"fmt"
	"strings"
)

type Family string

const (
	FamilyGemini       Family = "gemini"
	FamilyOpenAICompat Family = "openai"
)

// Model identifiers accepted from clients.
const (
	ModelGemini   = "gemini"
	ModelDeepSeek = "deepseek"
	ModelLlama    = "llama"
	ModelQwen     = "qwen"
	ModelTrinity  = "trinity"
	ModelStepFun  = "stepfun"
	ModelGLM      = "glm"
)

// Upstream names used in logs, metrics and errors.
const (
	ProviderGemini     = "gemini"
	ProviderDeepSeek   = "deepseek"
	ProviderOpenRouter = "openrouter"
)

// DirectDefaultModel is the only identifier the direct OpenAI-compatible
// credential may serve.
const DirectDefaultModel = ModelDeepSeek

// openRouterModels is the aggregator's naming scheme. The DirectDefaultModel
// entry doubles as the fallback for unknown identifiers.
var openRouterModels = map[string]string{
	ModelDeepSeek: "deepseek/deepseek-chat-v3-0324:free",
	ModelLlama:    "meta-llama/llama-3.3-70b-instruct:free",
	ModelQwen:     "qwen/qwen3-coder:free",
	ModelTrinity:  "arcee-ai/trinity-mini:free",
	ModelStepFun:  "stepfun/step-3.5-flash:free",
	ModelGLM:      "z-ai/glm-4.5-air:free",
}

var displayNames = map[string]string{
	ModelGemini:   "Gemini",
	ModelDeepSeek: "DeepSeek",
	ModelLlama:    "Llama",
	ModelQwen:     "Qwen",
	ModelTrinity:  "Trinity",
	ModelStepFun:  "StepFun",
	ModelGLM:      "GLM",
}

var placeholderKeys = map[string]struct{}{
	"changeme":     {},
	"xxx":          {},
	"sk-or-v1-xxx": {},
	"sk-xxx":       {},
	"api_key":      {},
}

type Credentials struct {
	GeminiAPIKey      string
	GeminiBaseURL     string
	GeminiModel       string
	DeepSeekAPIKey    string
	DeepSeekBaseURL   string
	DeepSeekModel     string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
}

type Target struct {
	Family   Family
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
}

// ConfigError reports that no usable credential exists for a model.
// Missing names the environment variable(s) that would enable it.
type ConfigError struct {
	Model   string
	Missing string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("model %q is not configured: %s missing", e.Model, e.Missing)
}

// StatusError is returned by provider clients for non-2xx upstream responses.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, e.Body)
}

// DisplayName returns a human label for a model identifier.
func DisplayName(id string) string {
	if name, ok := displayNames[strings.ToLower(strings.TrimSpace(id))]; ok {
		return name
	}
	return strings.TrimSpace(id)
}

// Resolve picks the upstream target for model. An aggregator key always wins
// for non-Gemini models; without it only DirectDefaultModel may use the direct
// credential.
func Resolve(model string, creds Credentials) (Target, error) {
	id := strings.ToLower(strings.TrimSpace(model))

	if id == ModelGemini {
		if !usableKey(creds.GeminiAPIKey) {
			return Target{}, &ConfigError{Model: id, Missing: "GEMINI_API_KEY"}
		}
		return Target{
			Family:   FamilyGemini,
			Provider: ProviderGemini,
			BaseURL:  strings.TrimRight(creds.GeminiBaseURL, "/"),
			Model:    creds.GeminiModel,
			APIKey:   strings.TrimSpace(creds.GeminiAPIKey),
		}, nil
	}

	if usableKey(creds.OpenRouterAPIKey) {
		upstream, ok := openRouterModels[id]
		if !ok {
			upstream = openRouterModels[DirectDefaultModel]
		}
		return Target{
			Family:   FamilyOpenAICompat,
			Provider: ProviderOpenRouter,
			BaseURL:  strings.TrimRight(creds.OpenRouterBaseURL, "/"),
			Model:    upstream,
			APIKey:   strings.TrimSpace(creds.OpenRouterAPIKey),
		}, nil
	}

	if id == DirectDefaultModel {
		if !usableKey(creds.DeepSeekAPIKey) {
			return Target{}, &ConfigError{Model: id, Missing: "OPENROUTER_API_KEY or DEEPSEEK_API_KEY"}
		}
		return Target{
			Family:   FamilyOpenAICompat,
			Provider: ProviderDeepSeek,
			BaseURL:  strings.TrimRight(creds.DeepSeekBaseURL, "/"),
			Model:    creds.DeepSeekModel,
			APIKey:   strings.TrimSpace(creds.DeepSeekAPIKey),
		}, nil
	}

	return Target{}, &ConfigError{Model: id, Missing: "OPENROUTER_API_KEY"}
}

func usableKey(raw string) bool {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return false
	}
	if strings.HasPrefix(key, "your_") || strings.HasPrefix(key, "your-") || strings.HasPrefix(key, "<") {
		return false
	}
	_, placeholder := placeholderKeys[key]
	return !placeholder
}
