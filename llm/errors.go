package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies a failed completion call.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindAccessDenied   ErrorKind = "access_denied"
	KindNotFound       ErrorKind = "not_found"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindContextLength  ErrorKind = "context_length"
	KindContentFilter  ErrorKind = "content_filter"
	KindRateLimit      ErrorKind = "rate_limit"
	KindServer         ErrorKind = "server"
	KindTimeout        ErrorKind = "timeout"
	KindNetwork        ErrorKind = "network"
	KindConfiguration  ErrorKind = "configuration"
	KindAborted        ErrorKind = "aborted"
	KindUnknown        ErrorKind = "unknown"
)

// Retryable reports whether a call failing with this kind may succeed when
// repeated unchanged.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimit, KindServer, KindTimeout, KindNetwork, KindUnknown:
		return true
	}
	return false
}

// Error is returned by the client and its adapters for any failed call.
type Error struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	// RetryAfter is the provider's requested wait, zero if none was given.
	RetryAfter time.Duration
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil && e.Cause.Error() != e.Message {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so callers can test with
// errors.Is(err, &llm.Error{Kind: llm.KindRateLimit}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Provider == "" && t.StatusCode == 0
}

// FromStatus maps an HTTP status code to an Error.
func FromStatus(provider string, status int, message string, retryAfter time.Duration) *Error {
	kind := KindUnknown
	switch {
	case status == 400 || status == 422:
		kind = KindInvalidRequest
	case status == 401:
		kind = KindAuthentication
	case status == 403:
		kind = KindAccessDenied
	case status == 404:
		kind = KindNotFound
	case status == 408:
		kind = KindTimeout
	case status == 413:
		kind = KindContextLength
	case status == 429:
		kind = KindRateLimit
	case status >= 500 && status <= 599:
		kind = KindServer
	}
	return &Error{Kind: kind, Provider: provider, StatusCode: status, Message: message, RetryAfter: retryAfter}
}

// messageRules recognises error kinds in the text of SDK errors that carry
// no structured status. Order matters: the first match wins.
var messageRules = []struct {
	kind    ErrorKind
	status  int
	needles []string
}{
	{KindAuthentication, 401, []string{"401", "unauthorized", "invalid api key"}},
	{KindAccessDenied, 403, []string{"403", "forbidden"}},
	{KindNotFound, 404, []string{"404", "not found"}},
	{KindRateLimit, 429, []string{"429", "rate limit"}},
	{KindContextLength, 413, []string{"context length", "too many tokens"}},
	{KindServer, 500, []string{"500", "502", "503", "internal server", "overloaded"}},
	{KindTimeout, 0, []string{"timeout", "timed out"}},
	{KindContentFilter, 0, []string{"content filter", "safety"}},
	{KindNetwork, 0, []string{"connection refused", "connection reset", "no such host"}},
}

// classify wraps an SDK error from provider in an *Error. Context errors
// and errors that already are an *Error pass through.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, rule := range messageRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return &Error{Kind: rule.kind, Provider: provider, StatusCode: rule.status, Message: msg, Cause: err}
			}
		}
	}
	return &Error{Kind: KindUnknown, Provider: provider, Message: msg, Cause: err}
}

// KindOf returns the kind of err. Context cancellation is KindAborted and
// an expired deadline is KindTimeout; any other foreign error is
// KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &e):
		return e.Kind
	case errors.Is(err, context.Canceled):
		return KindAborted
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindUnknown
}

// IsRetryable reports whether err is safe to retry. Context errors are
// never retried since the caller's deadline or cancellation still holds.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return KindOf(err).Retryable()
}
