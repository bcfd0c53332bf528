package core

import (
	"context"
	"time"
)

// Logger interface
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	Fatal(format string, args ...any)
}

// Adapter performs a single call against one provider.
// Implementations return *ProviderError for upstream failures.
type Adapter interface {
	Send(ctx context.Context, req AdapterRequest) (string, error)
}

// BlobStore is the key-value persistence layer.
// Load returns (nil, nil) when the key is absent.
type BlobStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Close() error
}

// Persistable is a component whose state survives restarts.
type Persistable interface {
	StateKey() string
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error
}

// UsageRecorder receives per-call usage after each network attempt.
type UsageRecorder interface {
	RecordSuccess(provider, model string, tokensIn, tokensOut int, latency time.Duration)
	RecordFailure(provider, model string, kind ErrorKind, latency time.Duration)
	RecordCacheHit()
	// RecordLimitHit counts a pair refused by a rate limit, local
	// (KindRateLimitExceeded) or remote (KindRateLimited).
	RecordLimitHit(provider, model string, kind ErrorKind, message string)
}

// EventPublisher receives dispatch telemetry.
type EventPublisher interface {
	Publish(evt Event)
}

// NopLogger empty logger implementation
type NopLogger struct{}

func (*NopLogger) Debug(format string, args ...any) {}
func (*NopLogger) Info(format string, args ...any)  {}
func (*NopLogger) Warn(format string, args ...any)  {}
func (*NopLogger) Error(format string, args ...any) {}
func (*NopLogger) Fatal(format string, args ...any) {}

// NopUsage empty usage recorder implementation
type NopUsage struct{}

func (*NopUsage) RecordSuccess(provider, model string, tokensIn, tokensOut int, latency time.Duration) {
}

func (*NopUsage) RecordFailure(provider, model string, kind ErrorKind, latency time.Duration) {}

func (*NopUsage) RecordCacheHit() {}

func (*NopUsage) RecordLimitHit(provider, model string, kind ErrorKind, message string) {}

// NopEvents discards every event
type NopEvents struct{}

func (*NopEvents) Publish(evt Event) {}
