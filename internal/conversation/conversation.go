// Package conversation keeps a bounded chat log that requests can opt into
// as history. The log survives restarts and can be folded into a summary
// when it grows past a token budget.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"aidispatch/internal/budget"
	"aidispatch/internal/core"
	"aidispatch/internal/util"
)

const (
	summaryPrompt = "Summarize this conversation in 2-3 sentences and keep the key facts:\n\n"
	summarySystem = "You write short summaries of conversations. Keep important facts and context."
)

// Entry is one logged turn
type Entry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Asker is the dispatcher as seen by Summarize
type Asker interface {
	Ask(ctx context.Context, prompt string, opts core.Options) (*core.Result, error)
}

// Config configuration for Log
type Config struct {
	MaxLength int
	Estimator budget.Estimator
	Events    core.EventPublisher
	Logger    core.Logger
	Now       func() time.Time
}

// Log is the shared conversation. It is safe for concurrent use.
type Log struct {
	mu        sync.RWMutex
	entries   []Entry
	maxLength int

	estimator budget.Estimator
	events    core.EventPublisher
	logger    core.Logger
	now       func() time.Time
}

// New creates an empty log
func New(config Config) *Log {
	l := &Log{
		maxLength: config.MaxLength,
		estimator: config.Estimator,
		events:    config.Events,
		logger:    config.Logger,
		now:       config.Now,
	}
	if l.maxLength <= 0 {
		l.maxLength = core.ConversationMaxLength
	}
	if l.events == nil {
		l.events = &core.NopEvents{}
	}
	if l.logger == nil {
		l.logger = &core.NopLogger{}
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// Add appends a turn, dropping the oldest turns beyond the length limit.
func (l *Log) Add(role, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(role, content)
}

// Record appends a question and its answer as one exchange.
func (l *Log) Record(prompt, answer string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(core.RoleUser, prompt)
	l.appendLocked(core.RoleAssistant, answer)
}

func (l *Log) appendLocked(role, content string) {
	l.entries = append(l.entries, Entry{Role: role, Content: content, Timestamp: l.now()})
	if len(l.entries) > l.maxLength {
		l.entries = append([]Entry(nil), l.entries[len(l.entries)-l.maxLength:]...)
	}
}

// Entries returns a copy of the log, oldest first
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Messages returns the log as chat history
func (l *Log) Messages() []core.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.Message, len(l.entries))
	for i, e := range l.entries {
		out[i] = core.Message{Role: e.Role, Content: e.Content}
	}
	return out
}

// Len returns the number of logged turns
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear empties the log and returns how many turns were removed.
func (l *Log) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.entries)
	l.entries = nil
	return n
}

// EstimateTokens approximates the size of the logged content.
func (l *Log) EstimateTokens() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	parts := make([]string, len(l.entries))
	for i, e := range l.entries {
		parts[i] = e.Content
	}
	return l.estimator.Estimate(strings.Join(parts, " "))
}

// SummarizeOptions controls Summarize. A positive MaxTokens only summarizes
// a log larger than that; KeepLast turns are kept verbatim.
type SummarizeOptions struct {
	KeepLast  int    `json:"keep_last,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Provider  string `json:"provider,omitempty"`
}

// Summary reports what Summarize did
type Summary struct {
	Summarized bool   `json:"summarized"`
	Summary    string `json:"summary,omitempty"`
	Removed    int    `json:"removed"`
	Kept       int    `json:"kept"`
	Tokens     int    `json:"tokens"`
	Reason     string `json:"reason,omitempty"`
}

// Summarize asks for a short summary of all but the last KeepLast turns and
// replaces them with one system turn carrying it. Turns added while the
// summary is in flight are kept.
func (l *Log) Summarize(ctx context.Context, asker Asker, opts SummarizeOptions) (Summary, error) {
	tokens := l.EstimateTokens()
	if opts.MaxTokens > 0 && tokens <= opts.MaxTokens {
		return Summary{Tokens: tokens, Reason: "under token limit"}, nil
	}
	keep := opts.KeepLast
	if keep <= 0 {
		keep = core.ConversationKeepLast
	}

	entries := l.Entries()
	if len(entries) < core.ConversationMinSummarize || len(entries) <= keep {
		return Summary{Tokens: tokens, Reason: "conversation too short"}, nil
	}
	folded := entries[:len(entries)-keep]

	lines := make([]string, len(folded))
	for i, e := range folded {
		lines[i] = e.Role + ": " + e.Content
	}
	temperature := core.ConversationSummaryTemp
	res, err := asker.Ask(ctx, summaryPrompt+strings.Join(lines, "\n"), core.Options{
		Provider:    opts.Provider,
		System:      summarySystem,
		Temperature: &temperature,
		MaxTokens:   core.ConversationSummaryMaxOut,
		NoCache:     true,
	})
	if err != nil {
		return Summary{Tokens: tokens}, fmt.Errorf("failed to summarize conversation: %w", err)
	}
	summary := strings.TrimSpace(res.Text)

	l.mu.Lock()
	if len(l.entries) < len(folded) || l.entries[len(folded)-1] != folded[len(folded)-1] {
		l.mu.Unlock()
		return Summary{Tokens: tokens, Reason: "conversation changed while summarizing"}, nil
	}
	rest := l.entries[len(folded):]
	next := make([]Entry, 0, len(rest)+1)
	next = append(next, Entry{
		Role:      core.RoleSystem,
		Content:   "[Summary of the earlier conversation: " + summary + "]",
		Timestamp: l.now(),
	})
	l.entries = append(next, rest...)
	kept := len(rest)
	l.mu.Unlock()

	l.logger.Info("Summarized %d conversation turns, kept %d", len(folded), kept)
	l.events.Publish(core.Event{
		Type:      core.EventConversationSummarized,
		RequestID: res.RequestID,
		Provider:  res.Provider,
		Model:     res.Model,
		Message:   fmt.Sprintf("%d turns folded into a summary", len(folded)),
		Time:      l.now(),
	})
	return Summary{
		Summarized: true,
		Summary:    summary,
		Removed:    len(folded),
		Kept:       kept,
		Tokens:     l.EstimateTokens(),
	}, nil
}

// StateKey implements core.Persistable
func (l *Log) StateKey() string {
	return core.StorageKeyConversation
}

// MarshalState implements core.Persistable
func (l *Log) MarshalState() ([]byte, error) {
	return util.MarshalJSON(l.Entries())
}

// UnmarshalState implements core.Persistable
func (l *Log) UnmarshalState(data []byte) error {
	var entries []Entry
	if err := util.UnmarshalJSON(data, &entries); err != nil {
		return fmt.Errorf("failed to decode conversation: %w", err)
	}
	if len(entries) > l.maxLength {
		entries = entries[len(entries)-l.maxLength:]
	}
	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
	return nil
}

var _ core.Persistable = (*Log)(nil)
