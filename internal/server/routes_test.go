package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"aidispatch/internal/app"
	"aidispatch/internal/catalog"
	"aidispatch/internal/config"
	"aidispatch/internal/core"
	"aidispatch/internal/storage"
)

const testClientKey = "test-key"

// switchAdapter answers with reply, which tests swap to script failures.
type switchAdapter struct {
	mu    sync.Mutex
	reply func(ctx context.Context, req core.AdapterRequest) (string, error)
}

func (a *switchAdapter) Send(ctx context.Context, req core.AdapterRequest) (string, error) {
	a.mu.Lock()
	reply := a.reply
	a.mu.Unlock()
	if reply == nil {
		return "answer from " + req.Model, nil
	}
	return reply(ctx, req)
}

func (a *switchAdapter) set(reply func(ctx context.Context, req core.AdapterRequest) (string, error)) {
	a.mu.Lock()
	a.reply = reply
	a.mu.Unlock()
}

type adapterMap map[string]core.Adapter

func (m adapterMap) Get(name string) (core.Adapter, bool) {
	a, ok := m[name]
	return a, ok
}

type testEnv struct {
	server  *Server
	adapter *switchAdapter
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	cat, err := catalog.New([]core.Provider{
		{Name: "alpha", RPM: 10, Models: []core.Model{
			{Name: "alpha-large", Quality: 90, Capabilities: []core.Capability{core.CapText, core.CapCode}},
			{Name: "alpha-small", Quality: 60, Free: true, Capabilities: []core.Capability{core.CapText}},
		}},
		{Name: "beta", RPM: 10, Models: []core.Model{
			{Name: "beta-vision", Quality: 80, Capabilities: []core.Capability{core.CapText, core.CapVision}},
		}},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}

	adapter := &switchAdapter{}
	cfg := config.Config{
		Keys: map[string][]string{
			"alpha": {"alpha-secret-0001"},
			"beta":  {"beta-secret-00001"},
		},
	}
	cfg.Dispatch.DefaultProvider = "alpha"

	a, err := app.New(context.Background(), cfg, cat, &core.NopLogger{}, app.Options{
		Store:    storage.NewMemoryStore(),
		Adapters: adapterMap{"alpha": adapter, "beta": adapter},
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}

	server, err := NewServer(config.ServerConfig{
		Port:          "0",
		GinMode:       "test",
		ClientAPIKeys: []string{testClientKey},
	}, a)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })

	return &testEnv{server: server, adapter: adapter}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.doContext(t, context.Background(), method, path, body)
}

func (e *testEnv) doContext(t *testing.T, ctx context.Context, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader).WithContext(ctx)
	req.Header.Set(core.HeaderContentType, core.ContentTypeJSON)
	req.Header.Set(core.HeaderAuthorization, core.AuthBearerPrefix+testClientKey)
	w := httptest.NewRecorder()
	e.server.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestServerRoutes_PublicAccess(t *testing.T) {
	env := newTestServer(t)

	for _, path := range []string{"/health", "/api/stats"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		env.server.router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s should be public, got %d", path, w.Code)
		}
	}
}

func TestServerRoutes_RequireAuth(t *testing.T) {
	env := newTestServer(t)

	for _, path := range []string{"/v1/models", "/v1/keys", "/v1/ratelimit", "/v1/cache"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		env.server.router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s without key should be 401, got %d", path, w.Code)
		}
	}
}

func TestAsk_Success(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/v1/ask", map[string]any{"prompt": "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var res core.Result
	decode(t, w, &res)
	if res.Provider != "alpha" || res.Model != "alpha-large" || res.Text != "answer from alpha-large" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Outcome != core.OutcomeSuccess {
		t.Fatalf("unexpected attempts %+v", res.Attempts)
	}

	w = env.do(t, http.MethodPost, "/v1/ask", map[string]any{"prompt": "hello"})
	decode(t, w, &res)
	if !res.Cached {
		t.Fatal("repeated prompt should be served from cache")
	}
}

func TestAsk_BadRequests(t *testing.T) {
	env := newTestServer(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"malformed json", "{not json", http.StatusBadRequest},
		{"empty prompt", map[string]any{"prompt": "  "}, http.StatusBadRequest},
		{"unknown provider", map[string]any{"prompt": "hi", "provider": "nope"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/ask", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAsk_ExhaustedMapsTo502(t *testing.T) {
	env := newTestServer(t)
	env.adapter.set(func(_ context.Context, req core.AdapterRequest) (string, error) {
		return "", &core.ProviderError{Model: req.Model, Kind: core.KindRequest, Status: http.StatusBadRequest, Message: "bad"}
	})

	w := env.do(t, http.MethodPost, "/v1/ask", map[string]any{"prompt": "fail please"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	var body struct {
		Error    string     `json:"error"`
		Attempts core.Trace `json:"attempts"`
	}
	decode(t, w, &body)
	if len(body.Attempts) != 3 {
		t.Fatalf("attempts = %+v, want all three pairs", body.Attempts)
	}
	if !strings.Contains(body.Error, "exhausted") {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestAsk_CanceledMapsTo499(t *testing.T) {
	env := newTestServer(t)
	env.adapter.set(func(ctx context.Context, _ core.AdapterRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := env.doContext(t, ctx, http.MethodPost, "/v1/ask", map[string]any{"prompt": "never mind"})
	if w.Code != core.StatusClientClosedRequest {
		t.Fatalf("status = %d, want 499", w.Code)
	}
}

func TestAsk_Smart(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/v1/ask", map[string]any{
		"prompt":       "describe the image",
		"smart":        true,
		"capabilities": []string{"vision"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var res core.Result
	decode(t, w, &res)
	if res.Model != "beta-vision" {
		t.Fatalf("smart ask picked %s/%s", res.Provider, res.Model)
	}
}

func TestQueue_Enqueue(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/v1/queue", map[string]any{"prompt": "queued", "no_cache": true})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var res core.Result
	decode(t, w, &res)
	if res.Text != "answer from alpha-large" {
		t.Fatalf("unexpected queued result %+v", res)
	}
}

func TestBatch_KeepsOrderAndReportsFailures(t *testing.T) {
	env := newTestServer(t)
	env.adapter.set(func(_ context.Context, req core.AdapterRequest) (string, error) {
		last := req.Prompt
		if last == "bad" {
			return "", &core.ProviderError{Model: req.Model, Kind: core.KindRequest, Status: http.StatusBadRequest}
		}
		return "echo " + last, nil
	})

	w := env.do(t, http.MethodPost, "/v1/batch", map[string]any{
		"prompts":  []string{"one", "bad", "three"},
		"limit":    2,
		"no_cache": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var body struct {
		Failed  int `json:"failed"`
		Results []struct {
			Prompt   string       `json:"prompt"`
			Result   *core.Result `json:"result"`
			Error    string       `json:"error"`
			Attempts core.Trace   `json:"attempts"`
		} `json:"results"`
	}
	decode(t, w, &body)
	if body.Failed != 1 || len(body.Results) != 3 {
		t.Fatalf("unexpected batch body %s", w.Body.String())
	}
	if body.Results[0].Result.Text != "echo one" || body.Results[2].Result.Text != "echo three" {
		t.Fatalf("results out of order: %s", w.Body.String())
	}
	if body.Results[1].Error == "" || len(body.Results[1].Attempts) == 0 {
		t.Fatalf("failed prompt should carry its trace: %s", w.Body.String())
	}

	if w := env.do(t, http.MethodPost, "/v1/batch", map[string]any{"prompts": []string{}}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty batch should be 400, got %d", w.Code)
	}
}

func TestModels_ListAndBest(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodGet, "/v1/models?caps=code", nil)
	var listed struct {
		Providers []struct {
			Name    string       `json:"name"`
			HasKeys bool         `json:"hasKeys"`
			Models  []core.Model `json:"models"`
		} `json:"providers"`
	}
	decode(t, w, &listed)
	if len(listed.Providers) != 2 || len(listed.Providers[0].Models) != 1 || len(listed.Providers[1].Models) != 0 {
		t.Fatalf("capability filter not applied: %+v", listed)
	}
	if !listed.Providers[0].HasKeys {
		t.Fatal("alpha has keys configured")
	}

	w = env.do(t, http.MethodGet, "/v1/models?best=2", nil)
	var best struct {
		Models []catalog.Ranked `json:"models"`
	}
	decode(t, w, &best)
	if len(best.Models) != 2 || best.Models[0].Model.Name != "alpha-large" || best.Models[1].Model.Name != "beta-vision" {
		t.Fatalf("unexpected ranking %+v", best.Models)
	}

	w = env.do(t, http.MethodGet, "/v1/models?best=zero", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid best should be 400, got %d", w.Code)
	}

	// every pair here allows 10 rpm, below the fast ranking floor
	var fast struct {
		Order  catalog.Order    `json:"order"`
		Models []catalog.Ranked `json:"models"`
	}
	decode(t, env.do(t, http.MethodGet, "/v1/models?best=5&order=fast", nil), &fast)
	if fast.Order != catalog.OrderFast || len(fast.Models) != 0 {
		t.Fatalf("fast ranking = %+v", fast)
	}

	w = env.do(t, http.MethodGet, "/v1/models?best=2&order=cheapest", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown order should be 400, got %d", w.Code)
	}
}

func TestKeys_AddRotateList(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/v1/keys/alpha/rotate", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("rotate with one key should be 409, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/v1/keys/alpha", map[string]string{"key": "alpha-secret-0002"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d body=%s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/v1/keys/alpha", map[string]string{"key": "alpha-secret-0002"})
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate add should be 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/v1/keys/alpha", map[string]string{"key": "short"}); w.Code != http.StatusBadRequest {
		t.Fatalf("short key should be 400, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/v1/keys/nope", map[string]string{"key": "whatever-long-key"}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown provider should be 404, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/v1/keys/alpha/rotate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rotate status = %d", w.Code)
	}
	active, _ := env.server.app.Credentials.Active("alpha")
	if active != "alpha-secret-0002" {
		t.Fatalf("active key = %q after rotation", active)
	}

	w = env.do(t, http.MethodGet, "/v1/keys", nil)
	if strings.Contains(w.Body.String(), "alpha-secret-0002") {
		t.Fatal("key listing must not expose full secrets")
	}
	var listed struct {
		Keys []core.CredentialSummary `json:"keys"`
	}
	decode(t, w, &listed)
	if len(listed.Keys) != 3 {
		t.Fatalf("listed %d keys, want 3", len(listed.Keys))
	}
}

func TestKeys_Remove(t *testing.T) {
	env := newTestServer(t)
	env.do(t, http.MethodPost, "/v1/keys/beta", map[string]string{"key": "beta-secret-00002"})

	w := env.do(t, http.MethodDelete, "/v1/keys/beta/0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("remove status = %d body=%s", w.Code, w.Body.String())
	}
	active, ok := env.server.app.Credentials.Active("beta")
	if !ok || active != "beta-secret-00002" {
		t.Fatalf("remaining key should become active, got %q", active)
	}

	if w := env.do(t, http.MethodDelete, "/v1/keys/beta/7", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing index should be 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/v1/keys/beta/x", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric index should be 400, got %d", w.Code)
	}
}

func TestCache_StatsAndClear(t *testing.T) {
	env := newTestServer(t)
	env.do(t, http.MethodPost, "/v1/ask", map[string]any{"prompt": "cache me"})

	var stats struct {
		Size int `json:"size"`
	}
	decode(t, env.do(t, http.MethodGet, "/v1/cache", nil), &stats)
	if stats.Size != 1 {
		t.Fatalf("cache size = %d, want 1", stats.Size)
	}

	if w := env.do(t, http.MethodDelete, "/v1/cache", nil); w.Code != http.StatusOK {
		t.Fatalf("clear status = %d", w.Code)
	}
	decode(t, env.do(t, http.MethodGet, "/v1/cache", nil), &stats)
	if stats.Size != 0 {
		t.Fatalf("cache size after clear = %d", stats.Size)
	}
}

func TestRateLimitStatus(t *testing.T) {
	env := newTestServer(t)
	env.do(t, http.MethodPost, "/v1/ask", map[string]any{"prompt": "count me", "no_cache": true})

	var body struct {
		Windows []struct {
			Provider string `json:"provider"`
			Used     int    `json:"used"`
		} `json:"windows"`
		Models []struct {
			Provider string `json:"provider"`
			Requests int64  `json:"requests"`
		} `json:"models"`
	}
	decode(t, env.do(t, http.MethodGet, "/v1/ratelimit", nil), &body)
	used := 0
	for _, w := range body.Windows {
		if w.Provider == "alpha" {
			used += w.Used
		}
	}
	if used != 1 {
		t.Fatalf("alpha window usage = %d, want 1 (%+v)", used, body.Windows)
	}
	if len(body.Models) != 1 || body.Models[0].Provider != "alpha" || body.Models[0].Requests != 1 {
		t.Errorf("models = %+v", body.Models)
	}

	var cleared struct {
		Cleared int `json:"cleared"`
	}
	decode(t, env.do(t, http.MethodDelete, "/v1/ratelimit", nil), &cleared)
	if cleared.Cleared != 1 {
		t.Errorf("cleared = %d, want 1", cleared.Cleared)
	}
	if got := env.server.app.Usage.LimitStats(); len(got) != 0 {
		t.Errorf("tracking after reset = %+v", got)
	}
}

func TestConversation_AskShowSummarizeClear(t *testing.T) {
	env := newTestServer(t)
	for _, prompt := range []string{"my name is Ada", "what is my name?"} {
		if w := env.do(t, http.MethodPost, "/v1/ask", map[string]any{"prompt": prompt, "use_conversation": true}); w.Code != http.StatusOK {
			t.Fatalf("ask status = %d (%s)", w.Code, w.Body.String())
		}
	}

	var shown struct {
		Entries []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"entries"`
		Tokens int `json:"tokens"`
	}
	decode(t, env.do(t, http.MethodGet, "/v1/conversation", nil), &shown)
	if len(shown.Entries) != 4 || shown.Entries[0].Content != "my name is Ada" || shown.Entries[1].Role != core.RoleAssistant || shown.Tokens == 0 {
		t.Fatalf("conversation = %+v", shown)
	}

	type summaryBody struct {
		Summarized bool   `json:"summarized"`
		Removed    int    `json:"removed"`
		Kept       int    `json:"kept"`
		Reason     string `json:"reason"`
	}
	var skipped summaryBody
	decode(t, env.do(t, http.MethodPost, "/v1/conversation/summarize", nil), &skipped)
	if skipped.Summarized || skipped.Reason != "under token limit" {
		t.Errorf("unforced summarize = %+v", skipped)
	}

	var forced summaryBody
	w := env.do(t, http.MethodPost, "/v1/conversation/summarize", map[string]any{"force": true})
	if w.Code != http.StatusOK {
		t.Fatalf("summarize status = %d (%s)", w.Code, w.Body.String())
	}
	decode(t, w, &forced)
	if !forced.Summarized || forced.Removed != 2 || forced.Kept != 2 {
		t.Errorf("forced summarize = %+v", forced)
	}

	var cleared struct {
		Cleared int `json:"cleared"`
	}
	decode(t, env.do(t, http.MethodDelete, "/v1/conversation", nil), &cleared)
	if cleared.Cleared != 3 || env.server.app.Conversation.Len() != 0 {
		t.Errorf("cleared = %d, left %d", cleared.Cleared, env.server.app.Conversation.Len())
	}
}

func TestConversation_SummarizeFailureMapsTo502(t *testing.T) {
	env := newTestServer(t)
	for _, prompt := range []string{"one", "two"} {
		env.do(t, http.MethodPost, "/v1/ask", map[string]any{"prompt": prompt, "use_conversation": true})
	}
	env.adapter.set(func(_ context.Context, req core.AdapterRequest) (string, error) {
		return "", &core.ProviderError{Model: req.Model, Kind: core.KindRequest, Status: http.StatusBadRequest, Message: "bad"}
	})

	w := env.do(t, http.MethodPost, "/v1/conversation/summarize", map[string]any{"force": true, "keep_last": 2})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 (%s)", w.Code, w.Body.String())
	}
	if env.server.app.Conversation.Len() != 4 {
		t.Errorf("failed summary changed the log: %d", env.server.app.Conversation.Len())
	}
	if w := env.do(t, http.MethodPost, "/v1/conversation/summarize", "{"); w.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d", w.Code)
	}
}

func TestBudget_Shape(t *testing.T) {
	env := newTestServer(t)

	w := env.do(t, http.MethodPost, "/v1/budget", map[string]any{
		"provider": "alpha",
		"model":    "alpha-small",
		"prompt":   "summarize",
		"context":  strings.Repeat("log line with some words\n", 2000),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var body struct {
		Free   bool `json:"free"`
		Shaped struct {
			Compressed bool `json:"compressed"`
		} `json:"shaped"`
	}
	decode(t, w, &body)
	if !body.Free || !body.Shaped.Compressed {
		t.Fatalf("free model context should be compressed: %s", w.Body.String())
	}

	if w := env.do(t, http.MethodPost, "/v1/budget", "[]"); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed budget body should be 400, got %d", w.Code)
	}
}

func TestEvents_StreamsDispatchTelemetry(t *testing.T) {
	env := newTestServer(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get(core.HeaderContentType); ct != core.ContentTypeEventStream {
		t.Fatalf("content type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.server.app.Events.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	env.server.app.Events.Publish(core.Event{Type: core.EventKeyRotated, Provider: "alpha"})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if !strings.HasPrefix(line, core.StreamChunkPrefix) {
		t.Fatalf("unexpected frame %q", line)
	}
	var evt core.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), core.StreamChunkPrefix)), &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != core.EventKeyRotated || evt.Provider != "alpha" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestServerClose_Idempotent(t *testing.T) {
	env := newTestServer(t)

	if err := env.server.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := env.server.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
