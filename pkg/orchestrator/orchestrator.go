// Package orchestrator sequences model calls across a local backend and an
// ordered list of remote models.
//
// Each remote candidate is called with bounded retry. A candidate that fails
// with a quota or rate-limit error is skipped in favor of the next one; any
// other failure stops the sequence, since it is not specific to the model.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sanonone/jsonqueryflow/pkg/llm"
	"github.com/sanonone/jsonqueryflow/pkg/metrics"
	"github.com/sanonone/jsonqueryflow/pkg/retry"
)

// ErrModelsExhausted is returned when every candidate failed with a quota
// error. It wraps the last candidate error.
var ErrModelsExhausted = errors.New("all models exhausted")

// Options selects the generation path for one request.
type Options struct {
	// PreferLocal tries the local backend once before the remote models.
	PreferLocal bool
	// ModelID pins a remote model and disables fallback.
	ModelID string
	// APIKey is the caller supplied provider key, if any.
	APIKey string
}

// Result describes a successful generation.
type Result struct {
	Expression   string `json:"expression"`
	Provider     string `json:"provider"`
	ModelID      string `json:"modelUsed"`
	UsedFallback bool   `json:"fallbackUsed"`
	// RetryCount is the number of candidates skipped on quota errors, not the
	// number of network attempts.
	RetryCount int `json:"retries"`
}

// Config wires an Orchestrator.
type Config struct {
	// Gateway is the remote backend. Required.
	Gateway llm.Backend
	// Candidates overrides the remote model order. When empty the gateway's
	// default model followed by llm.DefaultFallbackModels is used.
	Candidates []string
	// Local is optional.
	Local  llm.Backend
	Retry  retry.Config
	Logger *slog.Logger
}

// Orchestrator implements the local-then-remote generation policy.
type Orchestrator struct {
	gateway    llm.Backend
	local      llm.Backend
	candidates []string
	retry      retry.Config
	logger     *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	candidates := llm.Candidates("", cfg.Candidates)
	if len(candidates) == 0 && cfg.Gateway != nil {
		candidates = llm.Candidates(cfg.Gateway.DefaultModel(), llm.DefaultFallbackModels)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gateway:    cfg.Gateway,
		local:      cfg.Local,
		candidates: candidates,
		retry:      cfg.Retry,
		logger:     logger,
	}
}

// Candidates returns the remote model order.
func (o *Orchestrator) Candidates() []string {
	return append([]string(nil), o.candidates...)
}

// Generate turns a prompt into an expression.
func (o *Orchestrator) Generate(ctx context.Context, prompt string, opts Options) (Result, error) {
	if opts.ModelID != "" {
		expr, err := o.attempt(ctx, o.gateway, opts.ModelID, prompt, opts.APIKey, o.retry)
		if err != nil {
			return Result{}, err
		}
		return Result{Expression: expr, Provider: o.gateway.Name(), ModelID: opts.ModelID}, nil
	}

	if opts.PreferLocal {
		if res, ok := o.tryLocal(ctx, prompt); ok {
			return res, nil
		}
	}

	return o.generateRemote(ctx, prompt, opts.APIKey)
}

// tryLocal calls the local backend once. Its failure is not surfaced.
func (o *Orchestrator) tryLocal(ctx context.Context, prompt string) (Result, bool) {
	if o.local == nil {
		o.logger.Debug("local model requested but not configured")
		return Result{}, false
	}

	model := o.local.DefaultModel()
	expr, err := o.attempt(ctx, o.local, model, prompt, "", retry.Config{})
	if err != nil {
		o.logger.Warn("Local model failed, falling back to gateway", "model", model, "error", err)
		return Result{}, false
	}
	return Result{Expression: expr, Provider: o.local.Name(), ModelID: model}, true
}

func (o *Orchestrator) generateRemote(ctx context.Context, prompt, apiKey string) (Result, error) {
	if len(o.candidates) == 0 {
		return Result{}, fmt.Errorf("%w: no candidate models configured", ErrModelsExhausted)
	}

	var (
		lastErr error
		skipped int
	)
	for i, model := range o.candidates {
		expr, err := o.attempt(ctx, o.gateway, model, prompt, apiKey, o.retry)
		if err == nil {
			return Result{
				Expression:   expr,
				Provider:     o.gateway.Name(),
				ModelID:      model,
				UsedFallback: i > 0,
				RetryCount:   skipped,
			}, nil
		}
		lastErr = err

		class := llm.Classify(err)
		o.logger.Info("Model candidate failed", "provider", o.gateway.Name(), "model", model, "class", class.String(), "error", err)
		if class != llm.ErrorTransient || ctx.Err() != nil {
			return Result{}, err
		}
		skipped++
	}

	return Result{}, fmt.Errorf("%w: %w", ErrModelsExhausted, lastErr)
}

// attempt performs one retried call against a single model.
func (o *Orchestrator) attempt(ctx context.Context, b llm.Backend, model, prompt, apiKey string, cfg retry.Config) (string, error) {
	expr, err := retry.DoWithResult(ctx, cfg, func() (string, error) {
		expr, err := llm.Call(ctx, b, llm.Request{Prompt: prompt, Model: model, APIKey: apiKey})

		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.LLMAttempts.WithLabelValues(b.Name(), model, outcome).Inc()

		if errors.Is(err, llm.ErrMissingCredentials) {
			return "", retry.NonRetryable(err)
		}
		return expr, err
	})

	var nre *retry.NonRetryableError
	if errors.As(err, &nre) {
		err = nre.Err
	}
	return expr, err
}
