package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/jsonqueryflow/internal/config"
	jqfmcp "github.com/sanonone/jsonqueryflow/internal/mcp"
	"github.com/sanonone/jsonqueryflow/pkg/engine"
	"github.com/sanonone/jsonqueryflow/pkg/graph"
	"github.com/sanonone/jsonqueryflow/pkg/orchestrator"
)

// originTransport stamps every request with a fixed Origin header.
type originTransport struct {
	origin string
}

func (t originTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Origin", t.origin)
	return http.DefaultTransport.RoundTrip(r)
}

// startMCPServer serves the full handler, MCP included, with an allow-list
// and a one-token budget shared by HTTP and MCP generation.
func startMCPServer(t *testing.T) (*httptest.Server, *stubGenerator) {
	t.Helper()
	gen := &stubGenerator{res: orchestrator.Result{Expression: "$.a", Provider: "ai-gateway", ModelID: "m"}}
	eng := engine.New(graph.New(), engine.WithGenerator(gen))

	cfg := config.DefaultConfig().Server
	cfg.AllowedOrigins = []string{"https://a.test"}
	cfg.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 1}
	limiter := cfg.RateLimit.NewLimiter()

	s, err := NewServer(Options{
		Config:    cfg,
		Engine:    eng,
		Generator: gen,
		MCP:       jqfmcp.NewMCPServer(eng, gen, jqfmcp.WithLimiter(limiter)),
		Limiter:   limiter,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, gen
}

func TestMCPRequiresAllowedOrigin(t *testing.T) {
	ts, gen := startMCPServer(t)
	initialize := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"c","version":"v0"}}}`

	tests := []struct {
		name   string
		origin string
	}{
		{"no origin or referer", ""},
		{"foreign origin", "https://b.test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(initialize))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json, text/event-stream")
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}

	t.Run("client without origin cannot connect", func(t *testing.T) {
		client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
		_, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: ts.URL + "/mcp"}, nil)
		assert.Error(t, err)
	})

	assert.Zero(t, gen.Calls())
}

func TestMCPSharesRateLimit(t *testing.T) {
	ts, gen := startMCPServer(t)
	ctx := context.Background()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   ts.URL + "/mcp",
		HTTPClient: &http.Client{Transport: originTransport{origin: "https://a.test"}},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })

	args := map[string]any{"schema": map[string]any{}, "query": "x"}
	first, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "generate_query", Arguments: args})
	require.NoError(t, err)
	assert.False(t, first.IsError)

	second, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "generate_query", Arguments: args})
	require.NoError(t, err)
	assert.True(t, second.IsError)

	// The HTTP route draws from the same bucket.
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/query", strings.NewReader(`{"schema":{},"query":"x"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://a.test")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	assert.Equal(t, 1, gen.Calls())
}
