package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a completion failure.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindAccessDenied   ErrorKind = "access_denied"
	KindNotFound       ErrorKind = "not_found"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindRateLimit      ErrorKind = "rate_limit"
	KindContextLength  ErrorKind = "context_length"
	KindContentFilter  ErrorKind = "content_filter"
	KindServer         ErrorKind = "server"
	KindTimeout        ErrorKind = "timeout"
	KindAborted        ErrorKind = "aborted"
	KindConfiguration  ErrorKind = "configuration"
	KindUnknown        ErrorKind = "unknown"
)

// CompletionError is returned for every failed remote completion call:
// transport, authentication, model and configuration errors alike.
type CompletionError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	RetryAfter *float64
	Cause      error
}

func (e *CompletionError) Error() string {
	var sb strings.Builder
	if e.Provider != "" {
		fmt.Fprintf(&sb, "[%s] ", e.Provider)
	}
	sb.WriteString(e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status=%d)", e.StatusCode)
	}
	if e.Cause != nil && !strings.Contains(e.Message, e.Cause.Error()) {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

func (e *CompletionError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure is transient.
func (e *CompletionError) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindServer, KindTimeout, KindUnknown:
		return true
	default:
		return false
	}
}

// IsRetryable returns true if err is a CompletionError safe to retry.
// Errors outside the taxonomy default to retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return true
}

// ErrorFromStatusCode maps an HTTP status code to a CompletionError.
func ErrorFromStatusCode(statusCode int, message, provider string, retryAfter *float64) *CompletionError {
	e := &CompletionError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		RetryAfter: retryAfter,
	}
	switch statusCode {
	case 400, 422:
		e.Kind = KindInvalidRequest
	case 401:
		e.Kind = KindAuthentication
	case 403:
		e.Kind = KindAccessDenied
	case 404:
		e.Kind = KindNotFound
	case 408:
		e.Kind = KindTimeout
	case 413:
		e.Kind = KindContextLength
	case 429:
		e.Kind = KindRateLimit
	case 500, 502, 503, 504:
		e.Kind = KindServer
	default:
		e.Kind = KindUnknown
	}
	return e
}

// Classify converts an arbitrary provider error into a CompletionError based
// on its message. An error that already is a CompletionError is returned as-is.
func Classify(provider string, err error) *CompletionError {
	if err == nil {
		return nil
	}
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce
	}

	msg := err.Error()
	e := &CompletionError{Provider: provider, Message: msg, Cause: err}
	lower := strings.ToLower(msg)
	switch {
	case errors.Is(err, context.Canceled):
		e.Kind = KindAborted
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") || strings.Contains(lower, "invalid key"):
		e.Kind, e.StatusCode = KindAuthentication, 401
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		e.Kind, e.StatusCode = KindAccessDenied, 403
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		e.Kind, e.StatusCode = KindNotFound, 404
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		e.Kind, e.StatusCode = KindRateLimit, 429
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		e.Kind, e.StatusCode = KindContextLength, 413
	case strings.Contains(lower, "500") || strings.Contains(lower, "internal server"):
		e.Kind, e.StatusCode = KindServer, 500
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		e.Kind = KindTimeout
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "safety"):
		e.Kind = KindContentFilter
	default:
		e.Kind = KindUnknown
	}
	return e
}
