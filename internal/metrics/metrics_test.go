package metrics

import (
	"testing"
	"time"

	"aidispatch/internal/core"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(size int) (*Service, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)}
	return NewService(Config{HistorySize: size, Now: clock.Now}), clock
}

func TestService_RecordTotals(t *testing.T) {
	s, _ := newTestService(0)

	s.RecordSuccess("groq", "llama", 10, 20, 150*time.Millisecond)
	s.RecordSuccess("gemini", "flash", 5, 5, 50*time.Millisecond)
	s.RecordFailure("groq", "llama", core.KindRateLimited, 10*time.Millisecond)
	s.RecordCacheHit()

	snap := s.Snapshot()
	if snap.TotalCalls != 3 || snap.TotalFailures != 1 || snap.CacheHits != 1 {
		t.Errorf("totals = %+v", snap)
	}
	if snap.TotalTokensIn != 15 || snap.TotalTokensOut != 25 {
		t.Errorf("tokens in=%d out=%d", snap.TotalTokensIn, snap.TotalTokensOut)
	}
	groq := snap.ByProvider["groq"]
	if groq.Calls != 2 || groq.Failures != 1 || groq.TokensIn != 10 {
		t.Errorf("groq usage = %+v", groq)
	}
	if len(snap.RequestHistory) != 3 || snap.RequestHistory[2].Success || snap.RequestHistory[2].Kind != core.KindRateLimited {
		t.Errorf("history = %+v", snap.RequestHistory)
	}
	if names := s.Providers(); len(names) != 2 || names[0] != "gemini" {
		t.Errorf("Providers = %v", names)
	}
}

func TestService_HistorySize(t *testing.T) {
	s, _ := newTestService(3)
	for _, m := range []string{"m1", "m2", "m3", "m4"} {
		s.RecordSuccess("groq", m, 1, 1, 0)
	}

	history := s.Snapshot().RequestHistory
	if len(history) != 3 {
		t.Fatalf("history size mismatch: got %d, want 3", len(history))
	}
	if history[0].Model != "m2" || history[2].Model != "m4" {
		t.Fatalf("history order mismatch: got %#v", history)
	}
}

func TestService_HistorySizeFallback(t *testing.T) {
	s, _ := newTestService(0)
	if s.maxHistorySize != core.HistoryBufferSize {
		t.Fatalf("maxHistorySize mismatch: got %d, want %d", s.maxHistorySize, core.HistoryBufferSize)
	}
}

func TestService_DailyReset(t *testing.T) {
	s, clock := newTestService(0)
	s.RecordSuccess("groq", "m", 1, 1, 0)
	s.RecordSuccess("groq", "m", 1, 1, 0)
	if got := s.Snapshot().DailyCalls; got != 2 {
		t.Fatalf("DailyCalls = %d", got)
	}

	clock.Advance(24 * time.Hour)
	snap := s.Snapshot()
	if snap.DailyCalls != 0 || snap.TotalCalls != 2 {
		t.Errorf("after day change daily=%d total=%d", snap.DailyCalls, snap.TotalCalls)
	}
	if snap.LastReset != clock.Now().Format(core.TimeFormatDate) {
		t.Errorf("LastReset = %s", snap.LastReset)
	}
}

func TestService_QPS(t *testing.T) {
	s, clock := newTestService(0)
	for i := 0; i < 6; i++ {
		s.RecordSuccess("groq", "m", 1, 1, 0)
	}
	if got := s.GetQPS(); got != 0.1 {
		t.Errorf("QPS = %v, want 0.1", got)
	}
	clock.Advance(2 * time.Minute)
	if got := s.GetQPS(); got != 0 {
		t.Errorf("QPS after idle = %v", got)
	}
}

func TestGetPeriodStats(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	history := []RequestRecord{
		{Timestamp: now.Add(-1 * time.Hour), Success: true, Latency: 100},
		{Timestamp: now.Add(-2 * time.Hour), Success: false, Latency: 300},
		{Timestamp: now.Add(-72 * time.Hour), Success: true, Latency: 200},
	}

	stats := GetPeriodStats(history, now, 24, 168)
	day := stats[24]
	if day.Requests != 2 || day.SuccessRate != 50 || day.AvgResponseTime != 200 {
		t.Errorf("24h stats = %+v", day)
	}
	week := stats[168]
	if week.Requests != 3 || week.AvgResponseTime != 200 {
		t.Errorf("7d stats = %+v", week)
	}
	if GetPeriodStats(history, now) != nil {
		t.Error("no periods should yield nil")
	}
}

func TestService_PersistRoundTrip(t *testing.T) {
	s, clock := newTestService(0)
	s.RecordSuccess("mistral", "small", 7, 9, time.Second)
	s.RecordCacheHit()

	data, err := s.MarshalState()
	if err != nil {
		t.Fatalf("MarshalState: %v", err)
	}

	restored := NewService(Config{Now: clock.Now})
	if err := restored.UnmarshalState(data); err != nil {
		t.Fatalf("UnmarshalState: %v", err)
	}
	snap := restored.Snapshot()
	if snap.TotalCalls != 1 || snap.CacheHits != 1 || snap.ByProvider["mistral"].TokensOut != 9 {
		t.Errorf("restored = %+v", snap)
	}
	if restored.StateKey() != core.StorageKeyStats {
		t.Errorf("StateKey = %s", restored.StateKey())
	}
	if err := restored.UnmarshalState([]byte("{broken")); err == nil {
		t.Error("corrupt state should fail")
	}
}

func TestService_Reset(t *testing.T) {
	s, _ := newTestService(0)
	s.RecordSuccess("groq", "m", 1, 1, 0)
	s.Reset()
	snap := s.Snapshot()
	if snap.TotalCalls != 0 || len(snap.ByProvider) != 0 || len(snap.RequestHistory) != 0 {
		t.Errorf("after reset = %+v", snap)
	}
}

func TestService_LimitTracking(t *testing.T) {
	s, clock := newTestService(0)
	s.RecordSuccess("groq", "llama", 1, 1, 0)
	s.RecordFailure("groq", "llama", core.KindRateLimited, 0)
	s.RecordLimitHit("groq", "llama", core.KindRateLimited, "429 Too Many Requests")
	s.RecordSuccess("gemini", "flash", 1, 1, 0)
	clock.Advance(time.Minute)
	s.RecordLimitHit("gemini", "pro", core.KindRateLimitExceeded, "local window full")
	s.RecordLimitHit("gemini", "pro", core.KindRateLimitExceeded, "local window full")

	stats := s.LimitStats()
	if len(stats) != 3 {
		t.Fatalf("LimitStats = %+v", stats)
	}
	pro := stats[0]
	if pro.Provider != "gemini" || pro.Model != "pro" || pro.LimitHits != 2 || pro.Requests != 0 {
		t.Errorf("most limited = %+v", pro)
	}
	if pro.LastLimitKind != core.KindRateLimitExceeded || !pro.LastLimitHit.Equal(clock.Now()) {
		t.Errorf("last hit = %+v", pro)
	}
	llama := stats[1]
	if llama.Model != "llama" || llama.Requests != 2 || llama.LimitHits != 1 || llama.LastLimitMsg != "429 Too Many Requests" {
		t.Errorf("llama = %+v", llama)
	}
	if stats[2].Model != "flash" || stats[2].LimitHits != 0 || stats[2].Requests != 1 {
		t.Errorf("flash = %+v", stats[2])
	}

	data, err := s.MarshalState()
	if err != nil {
		t.Fatalf("MarshalState: %v", err)
	}
	restored := NewService(Config{Now: clock.Now})
	if err := restored.UnmarshalState(data); err != nil {
		t.Fatalf("UnmarshalState: %v", err)
	}
	if got := restored.LimitStats(); len(got) != 3 || got[0].LimitHits != 2 {
		t.Errorf("restored LimitStats = %+v", got)
	}

	if n := s.ResetLimitTracking(); n != 3 {
		t.Errorf("ResetLimitTracking = %d, want 3", n)
	}
	if len(s.LimitStats()) != 0 || s.Snapshot().TotalCalls != 3 {
		t.Error("reset must clear pair counters only")
	}
}
