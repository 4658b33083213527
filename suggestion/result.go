package suggestion

import (
	"errors"
	"fmt"

	"disputeflow/dispute"
)

// ErrorKind classifies a failed generation. The zero value means success.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindNotFound      ErrorKind = "not_found"
	KindConfiguration ErrorKind = "configuration_error"
	KindUpstream      ErrorKind = "upstream_error"
	KindUnavailable   ErrorKind = "service_unavailable"
	KindInternal      ErrorKind = "internal_error"
)

// Result is what every Generate call returns. Failures are described by Kind
// and a human readable Analysis rather than a Go error, so callers can always
// render something.
type Result struct {
	Analysis    string               `json:"analysis"`
	Suggestions []dispute.Suggestion `json:"suggestions"`
	Kind        ErrorKind            `json:"error_kind,omitempty"`
	Cached      bool                 `json:"cached"`
}

func (r Result) Failed() bool {
	return r.Kind != KindNone
}

var (
	// ErrNotConfigured signals missing completion service credentials.
	ErrNotConfigured = errors.New("suggestion: completion service not configured")
	// ErrUnavailable signals that every attempt to reach the completion service failed.
	ErrUnavailable = errors.New("suggestion: completion service unavailable")
	// ErrEmptyCompletion signals a 2xx response without any generated text.
	ErrEmptyCompletion = errors.New("suggestion: completion returned no choices")
)

// UpstreamError is a non-2xx answer from the completion service.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("suggestion: completion service returned %d: %s", e.StatusCode, e.Message)
}
