package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"aidispatch/internal/core"
	"aidispatch/internal/util"
)

// ProviderUsage is the per-provider breakdown
type ProviderUsage struct {
	Calls     int64     `json:"calls"`
	Failures  int64     `json:"failures"`
	TokensIn  int64     `json:"tokensIn"`
	TokensOut int64     `json:"tokensOut"`
	LastUsed  time.Time `json:"lastUsed"`
}

// ModelUsage tracks sends and rate-limit refusals of one provider/model pair
type ModelUsage struct {
	Provider      string         `json:"provider"`
	Model         string         `json:"model"`
	Requests      int64          `json:"requests"`
	LimitHits     int64          `json:"limitHits"`
	LastLimitHit  time.Time      `json:"lastLimitHit,omitempty"`
	LastLimitKind core.ErrorKind `json:"lastLimitKind,omitempty"`
	LastLimitMsg  string         `json:"lastLimitMessage,omitempty"`
}

// RequestRecord is one entry of the request history
type RequestRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Latency   int64          `json:"latencyMs"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	Kind      core.ErrorKind `json:"kind,omitempty"`
}

// Snapshot is the persisted and reported form of the usage stats
type Snapshot struct {
	TotalCalls      int64                    `json:"totalCalls"`
	TotalFailures   int64                    `json:"totalFailures"`
	TotalTokensIn   int64                    `json:"totalTokensIn"`
	TotalTokensOut  int64                    `json:"totalTokensOut"`
	CacheHits       int64                    `json:"cacheHits"`
	DailyCalls      int64                    `json:"dailyCalls"`
	LastReset       string                   `json:"lastReset"`
	LastRequestTime time.Time                `json:"lastRequestTime"`
	ByProvider      map[string]ProviderUsage `json:"byProvider"`
	ByModel         map[string]ModelUsage    `json:"byModel,omitempty"`
	RequestHistory  []RequestRecord          `json:"requestHistory"`
}

// PeriodStats summarises the history for one time window
type PeriodStats struct {
	Requests        int64   `json:"requests"`
	SuccessRate     float64 `json:"successRate"`
	AvgResponseTime int64   `json:"avgResponseTime"`
	QPS             float64 `json:"qps"`
}

type atomicTotals struct {
	calls     atomic.Int64
	failures  atomic.Int64
	tokensIn  atomic.Int64
	tokensOut atomic.Int64
	cacheHits atomic.Int64
}

// Config configuration for Service
type Config struct {
	HistorySize int
	Now         func() time.Time
}

// Service collects usage statistics for every network attempt
type Service struct {
	totals atomicTotals

	mu              sync.RWMutex
	dailyCalls      int64
	lastReset       string
	lastRequestTime time.Time
	byProvider      map[string]ProviderUsage
	byModel         map[string]ModelUsage
	history         []RequestRecord
	maxHistorySize  int

	recentMu       sync.Mutex
	recentRequests []time.Time

	now func() time.Time
}

// NewService creates a usage stats service
func NewService(config Config) *Service {
	if config.HistorySize <= 0 {
		config.HistorySize = core.HistoryBufferSize
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Service{
		byProvider:     make(map[string]ProviderUsage),
		byModel:        make(map[string]ModelUsage),
		maxHistorySize: config.HistorySize,
		lastReset:      config.Now().Format(core.TimeFormatDate),
		now:            config.Now,
	}
}

// RecordSuccess implements core.UsageRecorder
func (s *Service) RecordSuccess(provider, model string, tokensIn, tokensOut int, latency time.Duration) {
	s.totals.tokensIn.Add(int64(tokensIn))
	s.totals.tokensOut.Add(int64(tokensOut))
	s.record(provider, model, "", latency, func(u *ProviderUsage) {
		u.TokensIn += int64(tokensIn)
		u.TokensOut += int64(tokensOut)
	})
}

// RecordFailure implements core.UsageRecorder
func (s *Service) RecordFailure(provider, model string, kind core.ErrorKind, latency time.Duration) {
	s.totals.failures.Add(1)
	s.record(provider, model, kind, latency, func(u *ProviderUsage) {
		u.Failures++
	})
}

// RecordCacheHit implements core.UsageRecorder
func (s *Service) RecordCacheHit() {
	s.totals.cacheHits.Add(1)
}

// RecordLimitHit implements core.UsageRecorder
func (s *Service) RecordLimitHit(provider, model string, kind core.ErrorKind, message string) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	usage := s.modelLocked(provider, model)
	usage.LimitHits++
	usage.LastLimitHit = now
	usage.LastLimitKind = kind
	usage.LastLimitMsg = message
	s.byModel[modelKey(provider, model)] = usage
}

func modelKey(provider, model string) string {
	return provider + "/" + model
}

// modelLocked returns the pair's counters. Caller holds mu.
func (s *Service) modelLocked(provider, model string) ModelUsage {
	usage, ok := s.byModel[modelKey(provider, model)]
	if !ok {
		usage = ModelUsage{Provider: provider, Model: model}
	}
	return usage
}

// LimitStats returns the per-pair request and limit-hit counters, most
// limited first, then by name.
func (s *Service) LimitStats() []ModelUsage {
	s.mu.RLock()
	out := make([]ModelUsage, 0, len(s.byModel))
	for _, usage := range s.byModel {
		out = append(out, usage)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LimitHits != out[j].LimitHits {
			return out[i].LimitHits > out[j].LimitHits
		}
		return modelKey(out[i].Provider, out[i].Model) < modelKey(out[j].Provider, out[j].Model)
	})
	return out
}

// ResetLimitTracking clears the per-pair counters and keeps everything else.
func (s *Service) ResetLimitTracking() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.byModel)
	s.byModel = make(map[string]ModelUsage)
	return n
}

func (s *Service) record(provider, model string, kind core.ErrorKind, latency time.Duration, update func(*ProviderUsage)) {
	now := s.now()
	s.totals.calls.Add(1)

	s.mu.Lock()
	s.rollDayLocked(now)
	s.dailyCalls++
	s.lastRequestTime = now

	usage := s.byProvider[provider]
	usage.Calls++
	usage.LastUsed = now
	update(&usage)
	s.byProvider[provider] = usage

	pair := s.modelLocked(provider, model)
	pair.Requests++
	s.byModel[modelKey(provider, model)] = pair

	s.history = append(s.history, RequestRecord{
		Timestamp: now,
		Success:   kind == "",
		Latency:   latency.Milliseconds(),
		Provider:  provider,
		Model:     model,
		Kind:      kind,
	})
	if len(s.history) > s.maxHistorySize {
		s.history = s.history[len(s.history)-s.maxHistorySize:]
	}
	s.mu.Unlock()

	s.recentMu.Lock()
	s.recentRequests = append(s.recentRequests, now)
	s.pruneRecentLocked(now)
	s.recentMu.Unlock()
}

// rollDayLocked resets the daily counter once the local date changes.
func (s *Service) rollDayLocked(now time.Time) {
	today := now.Format(core.TimeFormatDate)
	if s.lastReset != today {
		s.dailyCalls = 0
		s.lastReset = today
	}
}

func (s *Service) pruneRecentLocked(now time.Time) {
	cutoff := now.Add(-1 * time.Minute)
	startIdx := 0
	for startIdx < len(s.recentRequests) && s.recentRequests[startIdx].Before(cutoff) {
		startIdx++
	}
	if startIdx > 0 {
		newRecent := make([]time.Time, len(s.recentRequests)-startIdx)
		copy(newRecent, s.recentRequests[startIdx:])
		s.recentRequests = newRecent
	}
}

// GetQPS returns the request rate over the last minute
func (s *Service) GetQPS() float64 {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()

	s.pruneRecentLocked(s.now())
	if len(s.recentRequests) == 0 {
		return 0
	}
	return math.Round(float64(len(s.recentRequests))/60.0*1000) / 1000
}

// Snapshot returns a copy of the current stats
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	s.rollDayLocked(s.now())
	snap := Snapshot{
		TotalCalls:      s.totals.calls.Load(),
		TotalFailures:   s.totals.failures.Load(),
		TotalTokensIn:   s.totals.tokensIn.Load(),
		TotalTokensOut:  s.totals.tokensOut.Load(),
		CacheHits:       s.totals.cacheHits.Load(),
		DailyCalls:      s.dailyCalls,
		LastReset:       s.lastReset,
		LastRequestTime: s.lastRequestTime,
		ByProvider:      make(map[string]ProviderUsage, len(s.byProvider)),
		ByModel:         make(map[string]ModelUsage, len(s.byModel)),
		RequestHistory:  make([]RequestRecord, len(s.history)),
	}
	for name, usage := range s.byProvider {
		snap.ByProvider[name] = usage
	}
	for key, usage := range s.byModel {
		snap.ByModel[key] = usage
	}
	copy(snap.RequestHistory, s.history)
	s.mu.Unlock()
	return snap
}

// Providers returns provider names with recorded usage, sorted
func (s *Service) Providers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.byProvider))
	for name := range s.byProvider {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears every counter
func (s *Service) Reset() {
	s.totals.calls.Store(0)
	s.totals.failures.Store(0)
	s.totals.tokensIn.Store(0)
	s.totals.tokensOut.Store(0)
	s.totals.cacheHits.Store(0)

	s.mu.Lock()
	s.dailyCalls = 0
	s.lastReset = s.now().Format(core.TimeFormatDate)
	s.byProvider = make(map[string]ProviderUsage)
	s.byModel = make(map[string]ModelUsage)
	s.history = nil
	s.mu.Unlock()

	s.recentMu.Lock()
	s.recentRequests = nil
	s.recentMu.Unlock()
}

// PeriodStats computes the 24h, 7d and 30d windows of the current history
func (s *Service) PeriodStats() map[int]PeriodStats {
	snap := s.Snapshot()
	return GetPeriodStats(snap.RequestHistory, s.now(), 24, 24*7, 24*30)
}

// GetPeriodStats computes period statistics for multiple hour windows in a single pass.
func GetPeriodStats(history []RequestRecord, now time.Time, hourPeriods ...int) map[int]PeriodStats {
	if len(hourPeriods) == 0 {
		return nil
	}

	cutoffs := make([]time.Time, len(hourPeriods))
	requests := make([]int64, len(hourPeriods))
	successful := make([]int64, len(hourPeriods))
	responseTime := make([]int64, len(hourPeriods))

	for i, hours := range hourPeriods {
		cutoffs[i] = now.Add(-time.Duration(hours) * time.Hour)
	}

	for _, record := range history {
		for i, cutoff := range cutoffs {
			if record.Timestamp.After(cutoff) {
				requests[i]++
				responseTime[i] += record.Latency
				if record.Success {
					successful[i]++
				}
			}
		}
	}

	result := make(map[int]PeriodStats, len(hourPeriods))
	for i, hours := range hourPeriods {
		stats := PeriodStats{
			Requests: requests[i],
			QPS:      float64(requests[i]) / (float64(hours) * 3600.0),
		}
		if requests[i] > 0 {
			stats.SuccessRate = float64(successful[i]) / float64(requests[i]) * 100
			stats.AvgResponseTime = responseTime[i] / requests[i]
		}
		result[hours] = stats
	}
	return result
}

// StateKey implements core.Persistable
func (s *Service) StateKey() string {
	return core.StorageKeyStats
}

// MarshalState implements core.Persistable
func (s *Service) MarshalState() ([]byte, error) {
	return util.MarshalJSON(s.Snapshot())
}

// UnmarshalState implements core.Persistable
func (s *Service) UnmarshalState(data []byte) error {
	var snap Snapshot
	if err := util.UnmarshalJSON(data, &snap); err != nil {
		return err
	}

	s.totals.calls.Store(snap.TotalCalls)
	s.totals.failures.Store(snap.TotalFailures)
	s.totals.tokensIn.Store(snap.TotalTokensIn)
	s.totals.tokensOut.Store(snap.TotalTokensOut)
	s.totals.cacheHits.Store(snap.CacheHits)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyCalls = snap.DailyCalls
	s.lastReset = snap.LastReset
	s.lastRequestTime = snap.LastRequestTime
	s.byProvider = make(map[string]ProviderUsage, len(snap.ByProvider))
	for name, usage := range snap.ByProvider {
		s.byProvider[name] = usage
	}
	s.byModel = make(map[string]ModelUsage, len(snap.ByModel))
	for key, usage := range snap.ByModel {
		s.byModel[key] = usage
	}
	s.history = snap.RequestHistory
	if len(s.history) > s.maxHistorySize {
		s.history = s.history[len(s.history)-s.maxHistorySize:]
	}
	s.rollDayLocked(s.now())
	return nil
}

var (
	_ core.UsageRecorder = (*Service)(nil)
	_ core.Persistable   = (*Service)(nil)
)
