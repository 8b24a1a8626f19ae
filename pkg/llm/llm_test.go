package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "$.users.name", "$.users.name"},
		{"surrounding space", "  $.a \n", "$.a"},
		{"fenced", "```jsonata\n$.items[price > 10]\n```", "$.items[price > 10]"},
		{"fenced no lang", "```\n$count($)\n```", "$count($)"},
		{"explanation first", "Here is the expression:\n\n$.orders.total\n", "$.orders.total"},
		{"crlf", "Sure.\r\n$.a\r\n", "$.a"},
		{"empty", "   ", ""},
		{"only fences", "```\n```", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorTransient, ClassifyError(`{"error":{"status":"RESOURCE_EXHAUSTED"}}`))
	assert.Equal(t, ErrorTransient, ClassifyError("Quota exceeded for metric"))
	assert.Equal(t, ErrorTransient, ClassifyError("status 429"))
	assert.Equal(t, ErrorFatal, ClassifyError("status 500: internal"))
	assert.Equal(t, ErrorFatal, ClassifyError("quota exceeded"), "matching is case-sensitive")

	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(9).String())

	assert.Equal(t, ErrorFatal, Classify(nil))
	assert.Equal(t, ErrorTransient, Classify(&QuotaExceededError{TransportError: &TransportError{Provider: "p"}}))
}

func TestTransportErrorPromotion(t *testing.T) {
	err := newTransportError(ProviderGateway, "m", 429, "slow down", nil)

	var q *QuotaExceededError
	require.True(t, errors.As(err, &q))
	var te *TransportError
	require.True(t, errors.As(err, &te), "a quota error is also a transport error")
	assert.Equal(t, 429, te.Status)

	err = newTransportError(ProviderGateway, "m", 500, "boom", nil)
	assert.False(t, errors.As(err, &q))
	assert.True(t, errors.As(err, &te))
}

func TestCandidates(t *testing.T) {
	assert.Equal(t,
		[]string{"custom", "gemini-2.5-flash-lite", "gemini-2.5-flash", "gemini-2.0-flash", "gemini-2.0-flash-lite"},
		Candidates("custom", DefaultFallbackModels))
	assert.Equal(t, DefaultFallbackModels, Candidates("gemini-2.5-flash-lite", DefaultFallbackModels))
	assert.Equal(t, []string{"a", "b"}, Candidates("", []string{"a", "b", "a"}))
}

// fakeGemini serves generateContent and records the last request.
type fakeGemini struct {
	status int
	body   string

	lastPath    string
	lastHeaders http.Header
	lastBody    GenerateContentRequest
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lastPath = r.URL.Path
	f.lastHeaders = r.Header.Clone()
	b, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(b, &f.lastBody)
	w.WriteHeader(f.status)
	_, _ = io.WriteString(w, f.body)
}

func newTestGateway(t *testing.T, f *fakeGemini, mutate func(*GatewayConfig)) *GatewayClient {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	cfg := DefaultGatewayConfig()
	cfg.URLTemplate = srv.URL + "/v1/{account}/{gateway}/google-ai-studio/v1/models/{model}:generateContent"
	cfg.AccountID = "acct"
	cfg.GatewayID = "gw"
	cfg.Token = "tok"
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewGatewayClient(cfg)
	require.NoError(t, err)
	return c
}

func TestGatewayComplete(t *testing.T) {
	f := &fakeGemini{status: 200, body: `{"candidates":[{"content":{"parts":[{"text":"` + "```\\n$.a\\n```" + `"}]}}]}`}
	c := newTestGateway(t, f, nil)

	expr, err := Call(context.Background(), c, Request{Prompt: "p", Model: "gemini-2.0-flash", APIKey: "caller-key"})
	require.NoError(t, err)
	assert.Equal(t, "$.a", expr)

	assert.Equal(t, "/v1/acct/gw/google-ai-studio/v1/models/gemini-2.0-flash:generateContent", f.lastPath)
	assert.Equal(t, "Bearer tok", f.lastHeaders.Get("cf-aig-authorization"))
	assert.Equal(t, "caller-key", f.lastHeaders.Get("x-goog-api-key"))
	require.Len(t, f.lastBody.Contents, 1)
	assert.Equal(t, "user", f.lastBody.Contents[0].Role)
	assert.Equal(t, "p", f.lastBody.Contents[0].Parts[0].Text)
	assert.Equal(t, 512, f.lastBody.GenerationConfig.MaxOutputTokens)
	assert.Zero(t, f.lastBody.GenerationConfig.Temperature)
}

func TestGatewayUsesDefaultModelAndConfiguredKey(t *testing.T) {
	f := &fakeGemini{status: 200, body: `{"candidates":[{"content":{"parts":[{"text":"$"}]}}]}`}
	c := newTestGateway(t, f, func(cfg *GatewayConfig) {
		cfg.APIKey = "server-key"
		cfg.Token = ""
	})

	_, err := Call(context.Background(), c, Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Contains(t, f.lastPath, "/models/gemini-2.5-flash-lite:generateContent")
	assert.Equal(t, "server-key", f.lastHeaders.Get("x-goog-api-key"))
	assert.Empty(t, f.lastHeaders.Get("cf-aig-authorization"))
}

func TestGatewayErrors(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		f := &fakeGemini{status: 200}
		c := newTestGateway(t, f, func(cfg *GatewayConfig) { cfg.Token = "" })
		_, err := Call(context.Background(), c, Request{Prompt: "p"})
		assert.ErrorIs(t, err, ErrMissingCredentials)
		assert.Empty(t, f.lastPath, "no request is sent")
	})

	t.Run("quota", func(t *testing.T) {
		f := &fakeGemini{status: 429, body: `{"error":{"status":"RESOURCE_EXHAUSTED"}}`}
		c := newTestGateway(t, f, nil)
		_, err := Call(context.Background(), c, Request{Prompt: "p"})
		var q *QuotaExceededError
		require.True(t, errors.As(err, &q))
		assert.Equal(t, ErrorTransient, Classify(err))
	})

	t.Run("server error", func(t *testing.T) {
		f := &fakeGemini{status: 500, body: "internal"}
		c := newTestGateway(t, f, nil)
		_, err := Call(context.Background(), c, Request{Prompt: "p"})
		var te *TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, 500, te.Status)
		assert.Equal(t, ErrorFatal, Classify(err))
	})

	t.Run("rejected key", func(t *testing.T) {
		f := &fakeGemini{status: 403, body: "API key not valid"}
		c := newTestGateway(t, f, nil)
		_, err := Call(context.Background(), c, Request{Prompt: "p", APIKey: "bad"})
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})

	t.Run("empty", func(t *testing.T) {
		for _, body := range []string{`{}`, `{"candidates":[]}`, `{"candidates":[{"content":{"parts":[{"text":""}]}}]}`, `{"candidates":[{"content":{"parts":[{"text":"\n  \n"}]}}]}`} {
			f := &fakeGemini{status: 200, body: body}
			c := newTestGateway(t, f, nil)
			_, err := Call(context.Background(), c, Request{Prompt: "p"})
			var e *EmptyResponseError
			assert.True(t, errors.As(err, &e), "body %s", body)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}))
		defer srv.Close()

		cfg := DefaultGatewayConfig()
		cfg.URLTemplate = srv.URL + "/{model}"
		cfg.Token = "tok"
		cfg.Timeout = 20 * time.Millisecond
		c, err := NewGatewayClient(cfg)
		require.NoError(t, err)

		_, err = Call(context.Background(), c, Request{Prompt: "p"})
		var te *TransportError
		require.True(t, errors.As(err, &te))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestNewGatewayClientRejectsBadTemplate(t *testing.T) {
	cfg := DefaultGatewayConfig()
	cfg.URLTemplate = "https://x/{model"
	_, err := NewGatewayClient(cfg)
	assert.Error(t, err)
}

func TestLocalComplete(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Answer:\n$.a"}}]}`)
	}))
	defer srv.Close()

	cfg := DefaultLocalConfig()
	cfg.BaseURL = srv.URL + "/v1/"
	c := NewLocalClient(cfg)

	expr, err := Call(context.Background(), c, Request{Prompt: "p", Model: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "$.a", expr)

	assert.Equal(t, "llama3.1:8b", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "Output only JSONata")
	assert.Equal(t, "p", got.Messages[1].Content)
	assert.Equal(t, 256, got.MaxTokens)
	assert.Equal(t, ProviderLocal, c.Name())
}

func TestLocalResponseFallbackField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"response":"$.b"}`)
	}))
	defer srv.Close()

	cfg := DefaultLocalConfig()
	cfg.BaseURL = srv.URL
	expr, err := Call(context.Background(), NewLocalClient(cfg), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "$.b", expr)
}

func TestLocalErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	cfg := DefaultLocalConfig()
	cfg.BaseURL = srv.URL
	_, err := Call(context.Background(), NewLocalClient(cfg), Request{Prompt: "p"})
	var e *EmptyResponseError
	assert.True(t, errors.As(err, &e))

	cfg.BaseURL = "http://127.0.0.1:1"
	_, err = Call(context.Background(), NewLocalClient(cfg), Request{Prompt: "p"})
	var te *TransportError
	assert.True(t, errors.As(err, &te))
}
