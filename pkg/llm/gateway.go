package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/yosida95/uritemplate/v3"
)

// GatewayClient implements Backend for generateContent models reached
// through an authenticated AI gateway.
type GatewayClient struct {
	cfg        GatewayConfig
	tmpl       *uritemplate.Template
	httpClient *http.Client
}

// NewGatewayClient validates the URL template and returns a client.
func NewGatewayClient(cfg GatewayConfig) (*GatewayClient, error) {
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = DefaultGatewayConfig().URLTemplate
	}
	tmpl, err := uritemplate.New(cfg.URLTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url template: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGatewayConfig().Timeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultGatewayConfig().MaxTokens
	}

	return &GatewayClient{
		cfg:        cfg,
		tmpl:       tmpl,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

func (c *GatewayClient) Name() string { return ProviderGateway }

func (c *GatewayClient) DefaultModel() string { return c.cfg.DefaultModel }

// Candidates returns the models to try in order: the default model followed
// by the fallback list, without duplicates.
func (c *GatewayClient) Candidates() []string {
	return Candidates(c.cfg.DefaultModel, c.cfg.FallbackModels)
}

// Candidates builds an ordered, deduplicated model list.
func Candidates(defaultModel string, fallbacks []string) []string {
	seen := make(map[string]bool, len(fallbacks)+1)
	var out []string
	for _, m := range append([]string{defaultModel}, fallbacks...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// Endpoint expands the URL template for model.
func (c *GatewayClient) Endpoint(model string) (string, error) {
	vars := uritemplate.Values{}
	vars.Set("account", uritemplate.String(c.cfg.AccountID))
	vars.Set("gateway", uritemplate.String(c.cfg.GatewayID))
	vars.Set("model", uritemplate.String(model))
	return c.tmpl.Expand(vars)
}

// Complete performs a generateContent call.
func (c *GatewayClient) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = c.cfg.APIKey
	}
	// Without a provider key the gateway can only answer with a stored key,
	// which requires gateway authentication.
	if apiKey == "" && c.cfg.Token == "" {
		return "", ErrMissingCredentials
	}

	// 1. Resolve endpoint
	url, err := c.Endpoint(model)
	if err != nil {
		return "", fmt.Errorf("expand gateway url: %w", err)
	}

	// 2. Prepare Payload
	payload := GenerateContentRequest{
		Contents: []Content{{Role: "user", Parts: []Part{{Text: req.Prompt}}}},
		GenerationConfig: GenerationConfig{
			Temperature:     c.cfg.Temperature,
			MaxOutputTokens: c.cfg.MaxTokens,
		},
	}
	jsonBytes, err := sonic.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	// 3. Send
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		httpReq.Header.Set("cf-aig-authorization", "Bearer "+c.cfg.Token)
	}
	if apiKey != "" {
		httpReq.Header.Set("x-goog-api-key", apiKey)
	}

	body, err := doRequest(c.httpClient, httpReq, ProviderGateway, model)
	if err != nil {
		return "", err
	}

	// 4. Extract candidates[0].content.parts[0].text
	node, err := sonic.Get(body, "candidates", 0, "content", "parts", 0, "text")
	if err != nil {
		return "", &EmptyResponseError{Provider: ProviderGateway, Model: model}
	}
	text, err := node.String()
	if err != nil || text == "" {
		return "", &EmptyResponseError{Provider: ProviderGateway, Model: model}
	}
	return text, nil
}
