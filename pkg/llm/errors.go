package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingCredentials is returned when the gateway has neither a
// configured nor a caller supplied API key.
var ErrMissingCredentials = errors.New("missing provider api key")

// TransportError reports a failed HTTPS call or a non-success status.
type TransportError struct {
	Provider string
	Model    string
	Status   int    // 0 when no response was received
	Body     string // provider error body, if any
	Err      error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s request failed", e.Provider)
	if e.Model != "" {
		fmt.Fprintf(&b, " (model %s)", e.Model)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// QuotaExceededError is a TransportError whose text carries a provider quota
// or rate-limit signal.
type QuotaExceededError struct {
	*TransportError
}

func (e *QuotaExceededError) Error() string {
	return "quota exceeded: " + e.TransportError.Error()
}

// Unwrap exposes the underlying TransportError to errors.As.
func (e *QuotaExceededError) Unwrap() error {
	return e.TransportError
}

// EmptyResponseError reports a response envelope with no usable text.
type EmptyResponseError struct {
	Provider string
	Model    string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("%s returned empty response (model %s)", e.Provider, e.Model)
}

// ErrorClass tells the orchestrator what to do after a failed candidate.
type ErrorClass int

const (
	// ErrorTransient is a quota or rate-limit failure: try the next model.
	ErrorTransient ErrorClass = iota
	// ErrorFatal is any other failure: stop.
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// quotaSignals are the substrings providers use for quota and rate-limit
// failures. They are the only signal available in the error text.
var quotaSignals = []string{
	"RESOURCE_EXHAUSTED",
	"Quota exceeded",
	"429",
}

// ClassifyError classifies a provider error message.
func ClassifyError(message string) ErrorClass {
	for _, s := range quotaSignals {
		if strings.Contains(message, s) {
			return ErrorTransient
		}
	}
	return ErrorFatal
}

// Classify classifies err by its message. A nil error is fatal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorFatal
	}
	var q *QuotaExceededError
	if errors.As(err, &q) {
		return ErrorTransient
	}
	// Transport errors were classified from status and body when built; their
	// full message also carries URLs, which must not be matched.
	var te *TransportError
	if errors.As(err, &te) {
		return ErrorFatal
	}
	return ClassifyError(err.Error())
}

// newTransportError builds a TransportError, promoting it to a
// QuotaExceededError when the status or body carries a quota signal.
func newTransportError(provider, model string, status int, body string, cause error) error {
	te := &TransportError{Provider: provider, Model: model, Status: status, Body: body, Err: cause}
	if ClassifyError(fmt.Sprintf("%d %s", status, body)) == ErrorTransient {
		return &QuotaExceededError{TransportError: te}
	}
	return te
}
