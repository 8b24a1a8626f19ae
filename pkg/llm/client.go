package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// defaultHTTPTimeout caps a call at the transport level. Per-call timeouts
// from the config are applied through the request context.
const defaultHTTPTimeout = 120 * time.Second

// Request is one completion request.
type Request struct {
	Prompt string
	// Model selects the remote model. Backends with a fixed model ignore it.
	Model string
	// APIKey is a caller supplied provider key. It overrides the configured one.
	APIKey string
}

// Backend sends a prompt to one provider and returns the raw completion text.
// This abstraction allows for easy mocking in tests.
type Backend interface {
	// Name is the provider name reported in results ("ai-gateway", "local").
	Name() string
	// DefaultModel is the model used when Request.Model is empty.
	DefaultModel() string
	// Complete performs a single network call.
	Complete(ctx context.Context, req Request) (string, error)
}

// Call performs one call against b and normalizes the result to a single-line
// expression.
func Call(ctx context.Context, b Backend, req Request) (string, error) {
	raw, err := b.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	expr := Normalize(raw)
	if expr == "" {
		model := req.Model
		if model == "" {
			model = b.DefaultModel()
		}
		return "", &EmptyResponseError{Provider: b.Name(), Model: model}
	}
	return expr, nil
}

// LocalClient implements Backend for OpenAI-compatible APIs.
// It works with Ollama, LocalAI, vLLM, etc.
type LocalClient struct {
	cfg        LocalConfig
	httpClient *http.Client
}

// NewLocalClient initializes a new local model client.
func NewLocalClient(cfg LocalConfig) *LocalClient {
	// Robustness: ensure BaseURL does not end with a slash
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLocalConfig().Timeout
	}

	return &LocalClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (c *LocalClient) Name() string { return ProviderLocal }

func (c *LocalClient) DefaultModel() string { return c.cfg.Model }

// Complete performs a chat completion request with the fixed local model.
func (c *LocalClient) Complete(ctx context.Context, req Request) (string, error) {
	// 1. Prepare Messages
	messages := []Message{}
	if c.cfg.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: c.cfg.SystemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: req.Prompt})

	// 2. Prepare Payload
	reqBody := ChatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		Stream:      false,
	}
	if c.cfg.MaxTokens > 0 {
		reqBody.MaxTokens = c.cfg.MaxTokens
	}

	// 3. Send
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	bodyBytes, err := c.sendRequest(ctx, reqBody)
	if err != nil {
		return "", err
	}

	// 4. Extract text
	var chatResp ChatResponse
	if err := sonic.Unmarshal(bodyBytes, &chatResp); err != nil {
		return "", &TransportError{Provider: ProviderLocal, Model: c.cfg.Model, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if chatResp.Error != nil {
		return "", newTransportError(ProviderLocal, c.cfg.Model, http.StatusOK, chatResp.Error.Message, nil)
	}
	if len(chatResp.Choices) > 0 && chatResp.Choices[0].Message.Content != "" {
		return chatResp.Choices[0].Message.Content, nil
	}
	if chatResp.Response != "" {
		return chatResp.Response, nil
	}
	return "", &EmptyResponseError{Provider: ProviderLocal, Model: c.cfg.Model}
}

// sendRequest posts payload to /chat/completions and returns the body of a
// successful response.
func (c *LocalClient) sendRequest(ctx context.Context, payload any) ([]byte, error) {
	jsonBytes, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.cfg.BaseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	return doRequest(c.httpClient, req, ProviderLocal, c.cfg.Model)
}

// doRequest executes req and maps failures to the error taxonomy.
func doRequest(hc *http.Client, req *http.Request, provider, model string) ([]byte, error) {
	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("timed out: %w", err)
		}
		return nil, &TransportError{Provider: provider, Model: model, Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Provider: provider, Model: model, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var cause error
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			cause = ErrMissingCredentials
		}
		return nil, newTransportError(provider, model, resp.StatusCode, strings.TrimSpace(string(bodyBytes)), cause)
	}
	return bodyBytes, nil
}
