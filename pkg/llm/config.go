package llm

import "time"

// Provider names reported in results and metrics.
const (
	ProviderGateway = "ai-gateway"
	ProviderLocal   = "local"
)

// DefaultFallbackModels is the ordered list of remote models known to work
// with the gateway.
var DefaultFallbackModels = []string{
	"gemini-2.5-flash-lite",
	"gemini-2.5-flash",
	"gemini-2.0-flash",
	"gemini-2.0-flash-lite",
}

// GatewayConfig holds the settings for the remote model gateway.
// It is designed to be embedded in YAML configuration files.
type GatewayConfig struct {
	// URLTemplate is an RFC 6570 template expanded with the variables
	// account, gateway and model.
	URLTemplate string `yaml:"url_template" json:"url_template"`

	AccountID string `yaml:"account_id" json:"account_id"`
	GatewayID string `yaml:"gateway_id" json:"gateway_id"`

	// Token authenticates against the gateway itself (cf-aig-authorization).
	Token string `yaml:"token" json:"token"`

	// APIKey is the provider key used when the caller does not send one.
	APIKey string `yaml:"api_key" json:"api_key"`

	// DefaultModel is tried first. FallbackModels follow in order.
	DefaultModel   string   `yaml:"default_model" json:"default_model"`
	FallbackModels []string `yaml:"fallback_models" json:"fallback_models"`

	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`

	// Timeout bounds a single call. A call that times out is a TransportError.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultGatewayConfig returns the Google AI Studio route through the gateway.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		URLTemplate:    "https://gateway.ai.cloudflare.com/v1/{account}/{gateway}/google-ai-studio/v1/models/{model}:generateContent",
		DefaultModel:   "gemini-2.5-flash-lite",
		FallbackModels: append([]string(nil), DefaultFallbackModels...),
		Temperature:    0.0,
		MaxTokens:      512,
		Timeout:        30 * time.Second,
	}
}

// LocalConfig holds the connection settings for a co-located model served
// through an OpenAI compatible API.
type LocalConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// BaseURL is the API endpoint.
	// Examples:
	// - Ollama: "http://localhost:11434/v1"
	// - LocalAI: "http://localhost:8080/v1"
	BaseURL string `yaml:"base_url" json:"base_url"`

	// APIKey is sent as a bearer token when set. Often ignored by Ollama.
	APIKey string `yaml:"api_key" json:"api_key"`

	// Model is fixed; local calls never select a model per request.
	Model string `yaml:"model" json:"model"`

	// SystemPrompt is sent before the generated prompt.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`

	Temperature float64       `yaml:"temperature" json:"temperature"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultLocalConfig returns defaults for a local Ollama setup.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3.1:8b",
		SystemPrompt: "Convert the user request into a valid JSONata expression. " +
			"Output only JSONata. No explanation. Use only fields from the given JSON.",
		Temperature: 0.0,
		MaxTokens:   256,
		Timeout:     60 * time.Second,
	}
}

// --- Internal API Payloads ---

// ChatRequest represents the payload sent to POST /chat/completions
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// Message represents a single turn in the chat conversation.
type Message struct {
	Role    string `json:"role"`    // "system", "user", "assistant"
	Content string `json:"content"` // The actual text
}

// ChatResponse represents the standard response from OpenAI-compatible APIs.
// Some edge runtimes answer with a bare top-level "response" field instead.
type ChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Response string    `json:"response,omitempty"`
	Error    *APIError `json:"error,omitempty"`
}

// APIError captures error details returned by the provider.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// GenerateContentRequest is the generateContent payload.
type GenerateContentRequest struct {
	Contents         []Content        `json:"contents"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
}

// Content is one conversation turn of a generateContent request.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is a text fragment.
type Part struct {
	Text string `json:"text"`
}

// GenerationConfig carries sampling parameters.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}
