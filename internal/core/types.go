package core

import "time"

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are the per-request knobs accepted by the dispatcher.
//
// Messages is a caller-built conversation sent as is; a non-empty prompt
// (with Context in front of it) is appended as the final user turn. History
// is shaped to the model's budget before the prompt is appended, and
// UseConversation prepends the dispatcher's conversation log to History.
type Options struct {
	Provider      string    `json:"provider,omitempty"`
	Model         string    `json:"model,omitempty"`
	System        string    `json:"system,omitempty"`
	Messages      []Message `json:"messages,omitempty"`
	History       []Message `json:"history,omitempty"`
	Context       string    `json:"context,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	MaxTokens     int       `json:"max_tokens,omitempty"`
	ParseJSON     bool      `json:"parse_json,omitempty"`
	SkipRateLimit bool      `json:"skip_rate_limit,omitempty"`
	AutoFallback  *bool     `json:"auto_fallback,omitempty"`
	NoCache       bool      `json:"no_cache,omitempty"`
	Tier          string    `json:"tier,omitempty"`

	UseConversation bool `json:"use_conversation,omitempty"`
}

// FallbackEnabled reports whether the dispatcher may change (provider, model).
// Unset means enabled.
func (o *Options) FallbackEnabled() bool {
	return o.AutoFallback == nil || *o.AutoFallback
}

// TemperatureOrDefault returns the requested sampling temperature.
func (o *Options) TemperatureOrDefault() float64 {
	if o.Temperature == nil {
		return DefaultTemperature
	}
	return *o.Temperature
}

// MaxTokensOrDefault returns the requested completion size.
func (o *Options) MaxTokensOrDefault() int {
	if o.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return o.MaxTokens
}

// AdapterRequest is what a provider adapter receives for a single network call.
type AdapterRequest struct {
	APIKey      string
	Model       string
	Prompt      string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// AttemptOutcome describes how a (provider, model) pair ended.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailed  AttemptOutcome = "failed"
	OutcomeSkipped AttemptOutcome = "skipped"
	OutcomeCached  AttemptOutcome = "cached"
)

// Attempt records one (provider, model) pair visited by a request.
// Sends counts network calls, including in-place retries; a pair skipped
// by the local rate limiter has zero sends.
type Attempt struct {
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Outcome  AttemptOutcome `json:"outcome"`
	Kind     ErrorKind      `json:"kind,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Sends    int            `json:"sends"`
	Duration time.Duration  `json:"duration_ns"`
}

// Trace is the ordered list of pairs a request visited.
type Trace []Attempt

// Contains reports whether the pair was already visited.
func (t Trace) Contains(provider, model string) bool {
	for _, a := range t {
		if a.Provider == provider && a.Model == model {
			return true
		}
	}
	return false
}

// Sends returns the number of network calls made to a provider.
func (t Trace) Sends(provider string) int {
	n := 0
	for _, a := range t {
		if a.Provider == provider {
			n += a.Sends
		}
	}
	return n
}

// Result is the outcome of a successful dispatch.
type Result struct {
	RequestID string        `json:"request_id"`
	Text      string        `json:"text"`
	JSON      any           `json:"json,omitempty"`
	JSONError string        `json:"json_error,omitempty"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	Cached    bool          `json:"cached"`
	TokensIn  int           `json:"tokens_in"`
	TokensOut int           `json:"tokens_out"`
	Latency   time.Duration `json:"latency_ns"`
	Attempts  Trace         `json:"attempts"`
}

// CredentialSummary is the redacted view of a stored credential.
type CredentialSummary struct {
	Provider string    `json:"provider"`
	Index    int       `json:"index"`
	Name     string    `json:"name"`
	Preview  string    `json:"preview"`
	Active   bool      `json:"active"`
	AddedAt  time.Time `json:"added_at"`
}

// Event is a telemetry notification emitted during dispatch.
type Event struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	Kind      ErrorKind `json:"kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`
}
