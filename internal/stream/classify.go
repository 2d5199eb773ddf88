package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind buckets ingestion failures by how callers should react.
type Kind string

const (
	// KindTransient covers backend unavailability, timeouts, and network
	// errors. Submissions are retried with backoff.
	KindTransient Kind = "transient"
	// KindQuotaExceeded means the account's storage allocation is exhausted.
	// Retrying cannot help until the operator frees capacity.
	KindQuotaExceeded Kind = "quota_exceeded"
	// KindPayloadRejected means the backend refused this particular file.
	KindPayloadRejected Kind = "payload_rejected"
	// KindFailed covers every other permanent backend rejection.
	KindFailed Kind = "failed"
)

// quotaErrorCode is the structured code the backend returns when the
// account's stored-minutes allocation is exhausted.
const quotaErrorCode = "10011"

// Error is a classified ingestion failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	wrapped    error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("ingestion %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ingestion %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// Retryable reports whether the failure may clear on its own.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}

// ErrorKind returns the classification of err, or KindFailed when err is not
// a classified ingestion error.
func ErrorKind(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindFailed
}

type backendEnvelope struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    json.Number `json:"code"`
		Message string      `json:"message"`
	} `json:"errors"`
}

// classifyIngestionError is the single decision point mapping a backend
// response (or transport failure) onto the error taxonomy. Transport errors
// and 502s are transient. A 413 is a quota failure when the structured error
// code says so or the body mentions the stored-minutes allocation; any other
// 413 means the payload itself was rejected. Everything else is a plain
// permanent failure.
func classifyIngestionError(err error, statusCode int, body []byte) *Error {
	if err != nil {
		// Timeouts, dial failures, resets: the request never produced a
		// backend verdict, so retrying is always safe.
		return &Error{Kind: KindTransient, Message: err.Error(), wrapped: err}
	}

	message := backendMessage(body)
	switch {
	case statusCode == http.StatusBadGateway:
		return &Error{Kind: KindTransient, StatusCode: statusCode, Message: message}
	case hasErrorCode(body, quotaErrorCode):
		return &Error{Kind: KindQuotaExceeded, StatusCode: statusCode, Message: message}
	case statusCode == http.StatusRequestEntityTooLarge:
		if mentionsQuota(body) {
			return &Error{Kind: KindQuotaExceeded, StatusCode: statusCode, Message: message}
		}
		return &Error{Kind: KindPayloadRejected, StatusCode: statusCode, Message: message}
	default:
		return &Error{Kind: KindFailed, StatusCode: statusCode, Message: message}
	}
}

func hasErrorCode(body []byte, code string) bool {
	var envelope backendEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false
	}
	for _, backendErr := range envelope.Errors {
		if backendErr.Code.String() == code {
			return true
		}
	}
	return false
}

func mentionsQuota(body []byte) bool {
	lowered := strings.ToLower(string(body))
	for _, marker := range []string{"quota", "minutes", "allocation"} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func backendMessage(body []byte) string {
	var envelope backendEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Errors) > 0 {
		parts := make([]string, 0, len(envelope.Errors))
		for _, backendErr := range envelope.Errors {
			parts = append(parts, backendErr.Message)
		}
		return strings.Join(parts, "; ")
	}
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	if trimmed == "" {
		return "backend rejected the request"
	}
	return trimmed
}
