package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sanonone/jsonqueryflow/pkg/engine"
	"github.com/sanonone/jsonqueryflow/pkg/graph"
	"github.com/sanonone/jsonqueryflow/pkg/llm"
	"github.com/sanonone/jsonqueryflow/pkg/orchestrator"
)

// HTTPError is an error with a status and a message safe to show callers.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

func badRequest(msg string) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Message: msg}
}

// statusFor maps an error to a status and a client message. ok is false for
// errors with no known mapping; those must not leak their text. Provider
// failures report only the upstream status, never its body or URL.
func statusFor(err error) (status int, msg string, ok bool) {
	var (
		httpErr  *HTTPError
		transErr *llm.TransportError
		emptyErr *llm.EmptyResponseError
	)

	switch {
	case errors.As(err, &httpErr):
		return httpErr.Status, httpErr.Message, true
	case errors.Is(err, graph.ErrNodeNotFound):
		return http.StatusNotFound, err.Error(), true
	case errors.Is(err, graph.ErrInvalidKind),
		errors.Is(err, graph.ErrInvalidPatch),
		errors.Is(err, engine.ErrNotQueryNode),
		errors.Is(err, engine.ErrEmptyRequest):
		return http.StatusBadRequest, err.Error(), true
	case errors.Is(err, engine.ErrNodeRemoved):
		return http.StatusConflict, err.Error(), true
	case errors.Is(err, engine.ErrNoGenerator):
		return http.StatusServiceUnavailable, err.Error(), true
	case errors.Is(err, llm.ErrMissingCredentials):
		return http.StatusUnauthorized, "please configure an API key", true
	case errors.Is(err, orchestrator.ErrModelsExhausted):
		return http.StatusTooManyRequests, "all models exhausted", true
	case errors.As(err, &transErr):
		if transErr.Status == 0 {
			return http.StatusBadGateway, "request failed (provider unreachable)", true
		}
		return http.StatusBadGateway, fmt.Sprintf("request failed (provider status %d)", transErr.Status), true
	case errors.As(err, &emptyErr):
		return http.StatusBadGateway, "request failed (empty model response)", true
	}
	return http.StatusInternalServerError, "Internal Server Error", false
}

// writeError writes err with its mapped status. Unmapped errors are logged
// and reported as a generic 500; provider failures are logged in full.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg, ok := statusFor(err)
	switch {
	case !ok:
		s.logger.Error("Unhandled request error", "method", r.Method, "path", r.URL.Path, "error", err)
	case status == http.StatusBadGateway:
		s.logger.Warn("Model provider request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeHTTPError(w, status, msg)
}
