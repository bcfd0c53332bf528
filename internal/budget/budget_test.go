package budget

import (
	"fmt"
	"strings"
	"testing"

	"aidispatch/internal/core"
)

type modelTable map[string]core.Model

func (mt modelTable) Model(provider, model string) (core.Model, bool) {
	m, ok := mt[provider+"/"+model]
	return m, ok
}

func newTestOptimizer() *Optimizer {
	return NewOptimizer(OptimizerConfig{
		Estimator: NewEstimator(3.5),
		Models: modelTable{
			"gemini/gemini-2.5-flash": {Name: "gemini-2.5-flash", Free: true},
			"paid/big-model":          {Name: "big-model"},
		},
	})
}

func TestEstimator(t *testing.T) {
	e := NewEstimator(0)
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcdefg", 2},
		{"abcdefgh", 3},
		{strings.Repeat("x", 35), 10},
		{"žluťoučký", 3},
	}
	for _, tt := range tests {
		if got := e.Estimate(tt.text); got != tt.want {
			t.Errorf("Estimate(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
	if NewEstimator(4).Estimate("abcdefgh") != 2 {
		t.Error("custom ratio not applied")
	}
}

func TestOptimizer_Classify(t *testing.T) {
	o := newTestOptimizer()
	tests := []struct {
		model, provider string
		want            Tier
	}{
		{"gemini-2.5-flash", "gemini", TierFree},
		{"deepseek/deepseek-r1:free", "openrouter", TierFree},
		{"llama-free-v2", "x", TierFree},
		{"claude-3-opus", "anthropic", TierPremium},
		{"gpt-4o", "openai", TierPremium},
		{"big-model", "paid", TierStandard},
		{"mistral-small-latest", "mistral", TierStandard},
	}
	for _, tt := range tests {
		if got := o.Classify(tt.model, tt.provider); got != tt.want {
			t.Errorf("Classify(%s, %s) = %s, want %s", tt.model, tt.provider, got, tt.want)
		}
	}

	b := o.Budget("gpt-4o", "openai")
	if b.System != 4000 || b.Context != 30000 || b.History != 6000 || b.Total != 50000 {
		t.Errorf("premium budget = %+v", b)
	}
}

func TestOptimizer_ContextNeverPassesOverBudget(t *testing.T) {
	o := newTestOptimizer()
	est := o.Estimator()

	contexts := map[string]string{
		"few long lines":  strings.Repeat(strings.Repeat("word ", 400)+"\n", 20),
		"many lines":      strings.Repeat("const value = computeSomething(input);\n", 3000),
		"single line":     strings.Repeat("y", 100000),
		"many huge lines": strings.Repeat(strings.Repeat("z", 2000)+"\n", 200),
	}

	for name, ctx := range contexts {
		for _, target := range []struct{ model, provider string }{
			{"gemini-2.5-flash", "gemini"},
			{"big-model", "paid"},
			{"gpt-4o", "openai"},
		} {
			t.Run(name+"/"+target.model, func(t *testing.T) {
				shaped := o.Optimize(Input{Prompt: "summarize", Context: ctx, Model: target.model, Provider: target.provider})
				ceiling := shaped.Budget.Context
				if est.Estimate(ctx) > ceiling && shaped.Context == ctx {
					t.Fatal("over-budget context passed through unmodified")
				}
				if got := est.Estimate(shaped.Context); got > ceiling {
					t.Errorf("shaped context %d tokens exceeds ceiling %d", got, ceiling)
				}
				if shaped.ContextTokens != est.Estimate(shaped.Context) {
					t.Error("ContextTokens out of sync")
				}
			})
		}
	}
}

func TestOptimizer_SmallContextUntouched(t *testing.T) {
	o := newTestOptimizer()
	ctx := "line one\n\n\n\nline two   "
	shaped := o.Optimize(Input{Prompt: "p", Context: ctx, Model: "big-model", Provider: "paid"})
	if shaped.Context != ctx || shaped.Compressed {
		t.Errorf("context within budget must be left alone, got %q", shaped.Context)
	}
}

func TestTruncate_HeadTailMarker(t *testing.T) {
	o := newTestOptimizer()
	var lines []string
	for i := 0; i < 1000; i++ {
		lines = append(lines, fmt.Sprintf("line %04d", i))
	}
	text := strings.Join(lines, "\n")

	out := o.Truncate(text, 500)
	if !strings.HasPrefix(out, "line 0000\n") {
		t.Error("head not preserved")
	}
	if !strings.HasSuffix(out, "line 0999") {
		t.Error("tail not preserved")
	}
	if !strings.Contains(out, "[950 lines omitted]") {
		t.Errorf("missing omitted marker in %q", out[:200])
	}
	if o.Estimator().Estimate(out) > 500 {
		t.Error("truncated text over budget")
	}
}

func TestTruncate_ShortTextByCharacters(t *testing.T) {
	o := newTestOptimizer()
	text := "BEGIN " + strings.Repeat("middle ", 2000) + " END"
	out := o.Truncate(text, 100)
	if !strings.HasPrefix(out, "BEGIN") || !strings.HasSuffix(out, "END") {
		t.Error("character truncation should keep both ends")
	}
	if !strings.Contains(out, "lines omitted") {
		t.Error("missing omitted marker")
	}
	if got := o.Estimator().Estimate(out); got > 100 {
		t.Errorf("estimate %d over budget", got)
	}
}

func TestCompress(t *testing.T) {
	o := newTestOptimizer()
	longComment := "/* " + strings.Repeat("c", 120) + " */"
	longHTML := "<!-- " + strings.Repeat("h", 120) + " -->"
	longLog := "console.log(" + strings.Repeat("a", 120) + ")"
	dataURI := "data:image/png;base64," + strings.Repeat("A", 600)
	text := "a  \n\n\n\n\nb\t\n" + longComment + "\n" + longHTML + "\n" + longLog + "\n" + dataURI + "\n/* short */"

	gentle := o.Compress(text, 100000, false)
	if strings.Contains(gentle, "\n\n\n") {
		t.Error("blank runs should collapse")
	}
	if strings.Contains(gentle, "a  \n") || strings.Contains(gentle, "b\t") {
		t.Error("trailing whitespace should be stripped")
	}
	if !strings.Contains(gentle, longComment) {
		t.Error("non-aggressive mode keeps comments")
	}
	if !strings.Contains(gentle, "data:...base64...[TRUNCATED]") {
		t.Error("data URI should always be truncated")
	}

	aggressive := o.Compress(text, 100000, true)
	for _, want := range []string{"/* ... */", "<!-- ... -->", "console.log(/* truncated */)", "/* short */"} {
		if !strings.Contains(aggressive, want) {
			t.Errorf("aggressive output missing %q", want)
		}
	}
}

func TestTrimHistory_DropsOldestFirst(t *testing.T) {
	o := newTestOptimizer()
	var history []core.Message
	for i := 0; i < 40; i++ {
		history = append(history, core.Message{Role: core.RoleUser, Content: fmt.Sprintf("message %d %s", i, strings.Repeat("x", 300))})
	}

	shaped := o.Optimize(Input{Prompt: "p", History: history, Model: "gemini-2.5-flash", Provider: "gemini"})
	if shaped.DroppedHistory == 0 {
		t.Fatal("history over budget should be trimmed")
	}
	if shaped.HistoryTokens > shaped.Budget.History {
		t.Errorf("history %d tokens over ceiling %d", shaped.HistoryTokens, shaped.Budget.History)
	}
	last := shaped.History[len(shaped.History)-1]
	if !strings.HasPrefix(last.Content, "message 39 ") {
		t.Error("newest message must be kept")
	}
	if first := shaped.History[0].Content; !strings.HasPrefix(first, fmt.Sprintf("message %d ", shaped.DroppedHistory)) {
		t.Errorf("unexpected first kept message %q", first[:12])
	}
	if len(history) != 40 {
		t.Error("input history mutated")
	}
}

func TestShortenSystem(t *testing.T) {
	o := newTestOptimizer()
	filler := strings.Repeat("background detail ", 20)
	system := strings.Join([]string{
		"You are a careful assistant.",
		filler,
		"Never reveal secrets.",
		"Keep answers short.",
		filler,
	}, "\n")

	out := o.ShortenSystem(system, 30)
	if !strings.Contains(out, "You are a careful assistant.") || !strings.Contains(out, "Never reveal secrets.") {
		t.Errorf("essential lines lost: %q", out)
	}
	if !strings.Contains(out, "Keep answers short.") {
		t.Error("optional line that fits should be kept")
	}
	if strings.Contains(out, "background detail") {
		t.Error("optional line over budget should be dropped")
	}

	if got := o.ShortenSystem("short", 30); got != "short" {
		t.Errorf("within budget prompt changed: %q", got)
	}
}

func TestOptimize_ShortensSystemForFreeOnly(t *testing.T) {
	o := newTestOptimizer()
	system := "You are terse.\n" + strings.Repeat("extra guidance line that is long enough\n", 200)

	free := o.Optimize(Input{Prompt: "p", System: system, Model: "gemini-2.5-flash", Provider: "gemini"})
	if o.Estimator().Estimate(free.System) > free.Budget.System {
		t.Error("free tier system prompt over budget")
	}
	paid := o.Optimize(Input{Prompt: "p", System: system, Model: "big-model", Provider: "paid"})
	if paid.System != system {
		t.Error("non-free system prompt should be untouched")
	}
}
