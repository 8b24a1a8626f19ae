// Package client provides a Go client for the JSON Query Flow HTTP API.
//
// It covers:
//   - Service calls (Health, GenerateQuery).
//   - Graph session operations (Snapshot, Connect, RunNode, GenerateForNode).
//
// Every failure is reported as an error with a human-readable message: non-2xx
// statuses as *APIError, network failures as connection errors and bodies
// missing a required field as ErrInvalidResponse.
package client

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
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/sanonone/jsonqueryflow/pkg/graph"
)

// --- Custom Errors ---

// APIError represents an error returned by the API (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// ErrInvalidResponse is returned when a success body lacks a required field
// or carries one with the wrong type.
var ErrInvalidResponse = errors.New("invalid API response")

// ErrMissingInput is returned before any network call when a required
// argument is empty.
var ErrMissingInput = errors.New("schema and query are required")

// --- JSON Response Structs ---

// Health models GET /health.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Generation models the body of both generation endpoints.
type Generation struct {
	Expression   string `json:"expression"`
	Provider     string `json:"provider"`
	ModelUsed    string `json:"modelUsed"`
	FallbackUsed bool   `json:"fallbackUsed"`
	Retries      int    `json:"retries"`
	Message      string `json:"message"`
}

// GenerateOptions tunes a node generation call.
type GenerateOptions struct {
	UseLocalModel bool   `json:"useLocalModel,omitempty"`
	Model         string `json:"model,omitempty"`
}

func objectSchema(props map[string]*jsonschema.Schema) *jsonschema.Resolved {
	required := make([]string, 0, len(props))
	for name := range props {
		required = append(required, name)
	}
	s := &jsonschema.Schema{Type: "object", Properties: props, Required: required}
	resolved, err := s.Resolve(nil)
	if err != nil {
		panic(err)
	}
	return resolved
}

var (
	healthSchema = objectSchema(map[string]*jsonschema.Schema{
		"status":  {Type: "string"},
		"service": {Type: "string"},
	})
	generationSchema = objectSchema(map[string]*jsonschema.Schema{
		"expression":   {Type: "string"},
		"provider":     {Type: "string"},
		"modelUsed":    {Type: "string"},
		"fallbackUsed": {Type: "boolean"},
		"retries":      {Type: "integer"},
		"message":      {Type: "string"},
	})
	graphSchema = objectSchema(map[string]*jsonschema.Schema{
		"nodes": {Type: "array"},
		"edges": {Type: "array"},
	})
	outcomeSchema = objectSchema(map[string]*jsonschema.Schema{
		"outcome": {Type: "string"},
	})
)

// --- Client ---

// Client is the Go client for a JSON Query Flow server.
type Client struct {
	baseURL    string
	httpClient *http.Client

	apiKey string
	origin string
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key as the caller-supplied provider key on generation calls.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithOrigin sets the Origin header, for servers with an origin allow-list.
func WithOrigin(origin string) Option {
	return func(c *Client) { c.origin = origin }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the server at baseURL (e.g. "http://localhost:8787").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// jsonRequest is a helper method to execute all requests to the API.
// It handles JSON serialization, HTTP calls, and error management.
func (c *Client) jsonRequest(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The body is only trusted when it has a string "error" field.
		msg := "Request failed"
		var errResp map[string]any
		if json.Unmarshal(respBody, &errResp) == nil {
			if s, ok := errResp["error"].(string); ok && s != "" {
				msg = s
			}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	return respBody, nil
}

// decodeValidated checks body against schema before decoding it into dst.
func decodeValidated(body []byte, schema *jsonschema.Resolved, dst any) error {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := schema.Validate(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// --- Service Methods ---

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	body, err := c.jsonRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	var h Health
	if err := decodeValidated(body, healthSchema, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// GenerateQuery asks the server for a JSONata expression answering query over
// a document shaped like schema.
func (c *Client) GenerateQuery(ctx context.Context, schema any, query string, useLocalModel bool) (*Generation, error) {
	if schema == nil || strings.TrimSpace(query) == "" {
		return nil, ErrMissingInput
	}

	payload := map[string]any{"schema": schema, "query": query}
	if useLocalModel {
		payload["useLocalModel"] = true
	}
	body, err := c.jsonRequest(ctx, http.MethodPost, "/query", payload)
	if err != nil {
		return nil, err
	}
	var g Generation
	if err := decodeValidated(body, generationSchema, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// --- Graph Methods ---

// Snapshot returns the server's current graph.
func (c *Client) Snapshot(ctx context.Context) (*graph.Graph, error) {
	body, err := c.jsonRequest(ctx, http.MethodGet, "/graph", nil)
	if err != nil {
		return nil, err
	}
	var g graph.Graph
	if err := decodeValidated(body, graphSchema, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Connect sends a drag gesture.
func (c *Client) Connect(ctx context.Context, req graph.ConnectRequest) (*graph.Outcome, error) {
	body, err := c.jsonRequest(ctx, http.MethodPost, "/graph/connect", req)
	if err != nil {
		return nil, err
	}
	var out graph.Outcome
	if err := decodeValidated(body, outcomeSchema, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunNode executes a query node and returns the updated graph.
func (c *Client) RunNode(ctx context.Context, id string) (*graph.Graph, error) {
	body, err := c.jsonRequest(ctx, http.MethodPost, "/graph/nodes/"+url.PathEscape(id)+"/run", nil)
	if err != nil {
		return nil, err
	}
	var g graph.Graph
	if err := decodeValidated(body, graphSchema, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// GenerateForNode synthesizes the expression of a query node from its
// natural-language text.
func (c *Client) GenerateForNode(ctx context.Context, id string, opts GenerateOptions) (*Generation, error) {
	body, err := c.jsonRequest(ctx, http.MethodPost, "/graph/nodes/"+url.PathEscape(id)+"/generate", opts)
	if err != nil {
		return nil, err
	}
	var g Generation
	if err := decodeValidated(body, generationSchema, &g); err != nil {
		return nil, err
	}
	return &g, nil
}
