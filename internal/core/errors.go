package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies a failed attempt.
type ErrorKind string

const (
	KindRateLimitExceeded ErrorKind = "rate_limit_exceeded"
	KindRateLimited       ErrorKind = "rate_limited"
	KindOverloaded        ErrorKind = "overloaded"
	KindRequest           ErrorKind = "request_error"
	KindTimeout           ErrorKind = "timeout"
	KindCanceled          ErrorKind = "canceled"
	KindUnknown           ErrorKind = "unknown"
)

// Escalates reports whether the kind moves the request to another pair
// without an in-place retry.
func (k ErrorKind) Escalates() bool {
	switch k {
	case KindRateLimitExceeded, KindRateLimited, KindOverloaded, KindRequest:
		return true
	}
	return false
}

var (
	ErrRateLimitExceeded     = errors.New("local rate limit exceeded")
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
	ErrNoCredential          = errors.New("no credential configured")
	ErrUnknownProvider       = errors.New("unknown provider")
	ErrUnknownModel          = errors.New("unknown model")
	ErrNoAdapter             = errors.New("no adapter registered")
	ErrInvalidCatalog        = errors.New("invalid catalog")
	ErrQueueCleared          = errors.New("queue cleared")
	ErrQueueClosed           = errors.New("queue closed")
)

// ProviderError is returned by adapters for upstream failures.
type ProviderError struct {
	Provider   string
	Model      string
	Kind       ErrorKind
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		if e.Model != "" {
			b.WriteString("/")
			b.WriteString(e.Model)
		}
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// ExhaustedError is returned when every reachable pair failed.
type ExhaustedError struct {
	Attempts Trace
	Cause    error
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		item := a.Provider + "/" + a.Model + " " + string(a.Kind)
		if a.Reason != "" {
			item += ": " + a.Reason
		}
		parts = append(parts, item)
	}
	msg := fmt.Sprintf("%s after %d attempts", ErrAllProvidersExhausted, len(e.Attempts))
	if len(parts) > 0 {
		msg += " [" + strings.Join(parts, "; ") + "]"
	}
	return msg
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// KindOf maps an error returned by an adapter or the limiter to its kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrRateLimitExceeded):
		return KindRateLimitExceeded
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindUnknown
}
