package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{400, KindInvalidRequest, false},
		{401, KindAuthentication, false},
		{403, KindAccessDenied, false},
		{404, KindNotFound, false},
		{408, KindTimeout, true},
		{413, KindContextLength, false},
		{422, KindInvalidRequest, false},
		{429, KindRateLimit, true},
		{500, KindServer, true},
		{503, KindServer, true},
		{599, KindUnknown, true},
	}

	for _, tt := range tests {
		err := ErrorFromStatusCode(tt.status, "test error", "groq", nil)
		if err.Kind != tt.kind {
			t.Errorf("status %d: expected kind %s, got %s", tt.status, tt.kind, err.Kind)
		}
		if IsRetryable(err) != tt.retryable {
			t.Errorf("status %d: expected retryable=%v", tt.status, tt.retryable)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		kind ErrorKind
	}{
		{"401 Unauthorized", KindAuthentication},
		{"invalid api key", KindAuthentication},
		{"403 Forbidden", KindAccessDenied},
		{"404 not found", KindNotFound},
		{"429 rate limit exceeded", KindRateLimit},
		{"context length exceeded", KindContextLength},
		{"500 internal server error", KindServer},
		{"timeout waiting for response", KindTimeout},
		{"content filter triggered", KindContentFilter},
		{"something unknown", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			ce := Classify("groq", errors.New(tt.msg))
			if ce.Kind != tt.kind {
				t.Errorf("Classify(%q).Kind = %s, want %s", tt.msg, ce.Kind, tt.kind)
			}
		})
	}
}

func TestClassifyCancelled(t *testing.T) {
	ce := Classify("groq", fmt.Errorf("generate: %w", context.Canceled))
	if ce.Kind != KindAborted {
		t.Errorf("expected aborted, got %s", ce.Kind)
	}
	if IsRetryable(ce) {
		t.Error("aborted errors must not be retryable")
	}
}

func TestClassifyPassesThrough(t *testing.T) {
	orig := &CompletionError{Kind: KindAuthentication, Message: "nope"}
	if got := Classify("groq", fmt.Errorf("wrapped: %w", orig)); got != orig {
		t.Errorf("expected the original CompletionError back, got %v", got)
	}
	if Classify("groq", nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
	if !IsRetryable(errors.New("mystery")) {
		t.Error("unknown errors default to retryable")
	}
	if IsRetryable(&CompletionError{Kind: KindConfiguration}) {
		t.Error("configuration errors are not retryable")
	}
}

func TestCompletionErrorUnwrapAndMessage(t *testing.T) {
	cause := errors.New("root cause")
	err := &CompletionError{Kind: KindServer, Provider: "groq", StatusCode: 502, Message: "bad gateway", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected CompletionError to unwrap to its cause")
	}
	msg := err.Error()
	for _, want := range []string{"groq", "bad gateway", "502", "root cause"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}
