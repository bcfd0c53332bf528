// Package ratelimit implements the soft sliding-window call counter used to
// avoid predictable quota rejections.
package ratelimit

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"aidispatch/internal/core"
	"aidispatch/internal/util"
)

// LimitSource resolves the per-minute ceiling for a call.
type LimitSource interface {
	Limit(provider, model string) (limit int, modelScoped bool)
}

// Limiter keeps one window per provider, plus one per model for models that
// carry their own limit. It only reports; it never blocks.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	limits  LimitSource
	window  time.Duration
	now     func() time.Time
	logger  core.Logger
}

// Config rate limiter configuration
type Config struct {
	Limits LimitSource
	Window time.Duration
	Now    func() time.Time
	Logger core.Logger
}

// Status is a snapshot of one window.
type Status struct {
	Provider  string        `json:"provider"`
	Model     string        `json:"model,omitempty"`
	Used      int           `json:"used"`
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"reset_in_ns"`
}

type fixedLimit int

func (f fixedLimit) Limit(string, string) (int, bool) { return int(f), false }

// New creates a limiter
func New(config Config) *Limiter {
	l := &Limiter{
		windows: make(map[string][]time.Time),
		limits:  config.Limits,
		window:  config.Window,
		now:     config.Now,
		logger:  config.Logger,
	}
	if l.limits == nil {
		l.limits = fixedLimit(core.DefaultProviderRPM)
	}
	if l.window <= 0 {
		l.window = core.RateLimitWindow
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.logger == nil {
		l.logger = &core.NopLogger{}
	}
	return l
}

func windowKey(provider, model string) string {
	return provider + "/" + model
}

// scope returns the window key and limit that govern a call.
func (l *Limiter) scope(provider, model string) (string, int) {
	limit, modelScoped := l.limits.Limit(provider, model)
	if modelScoped && model != "" {
		return windowKey(provider, model), limit
	}
	return provider, limit
}

// prune drops expired timestamps. Caller holds mu.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	stamps := l.windows[key]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		stamps = append(stamps[:0:0], stamps[i:]...)
		if len(stamps) == 0 {
			delete(l.windows, key)
		} else {
			l.windows[key] = stamps
		}
	}
	return stamps
}

// CanCall reports whether one more call stays within the limit.
func (l *Limiter) CanCall(provider, model string) bool {
	return l.Remaining(provider, model) > 0
}

// Remaining returns how many calls are left in the current window.
func (l *Limiter) Remaining(provider, model string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	key, limit := l.scope(provider, model)
	used := len(l.prune(key, l.now()))
	return max(0, limit-used)
}

// ModelScoped reports whether the model has a window of its own.
func (l *Limiter) ModelScoped(provider, model string) bool {
	_, scoped := l.limits.Limit(provider, model)
	return scoped && model != ""
}

// Record notes that a call was issued. The provider window always counts
// the call; a model with its own limit counts it as well.
func (l *Limiter) Record(provider, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.windows[provider] = append(l.prune(provider, now), now)
	if key, _ := l.scope(provider, model); key != provider {
		l.windows[key] = append(l.prune(key, now), now)
	}
}

// Reset clears every window of a provider.
func (l *Limiter) Reset(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prefix := provider + "/"
	for key := range l.windows {
		if key == provider || strings.HasPrefix(key, prefix) {
			delete(l.windows, key)
		}
	}
	l.logger.Debug("Rate window reset for %s", provider)
}

// Status returns a snapshot of all non-empty windows ordered by key.
func (l *Limiter) Status() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	keys := make([]string, 0, len(l.windows))
	for key := range l.windows {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]Status, 0, len(keys))
	for _, key := range keys {
		stamps := l.prune(key, now)
		if len(stamps) == 0 {
			continue
		}
		provider, model, _ := strings.Cut(key, "/")
		limit, _ := l.limits.Limit(provider, model)
		out = append(out, Status{
			Provider:  provider,
			Model:     model,
			Used:      len(stamps),
			Limit:     limit,
			Remaining: max(0, limit-len(stamps)),
			ResetIn:   stamps[0].Add(l.window).Sub(now),
		})
	}
	return out
}

// StateKey implements core.Persistable
func (l *Limiter) StateKey() string {
	return core.StorageKeyRateLimit
}

// MarshalState stores windows as unix milliseconds.
func (l *Limiter) MarshalState() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	out := make(map[string][]int64, len(l.windows))
	for key := range l.windows {
		stamps := l.prune(key, now)
		if len(stamps) == 0 {
			continue
		}
		ms := make([]int64, len(stamps))
		for i, ts := range stamps {
			ms[i] = ts.UnixMilli()
		}
		out[key] = ms
	}
	return util.MarshalJSON(out)
}

// UnmarshalState restores windows, dropping timestamps already outside the window.
func (l *Limiter) UnmarshalState(data []byte) error {
	var stored map[string][]int64
	if err := util.UnmarshalJSON(data, &stored); err != nil {
		return fmt.Errorf("failed to decode rate windows: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, ms := range stored {
		stamps := make([]time.Time, 0, len(ms))
		for _, v := range ms {
			stamps = append(stamps, time.UnixMilli(v))
		}
		sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
		l.windows[key] = stamps
		l.prune(key, now)
	}
	return nil
}
