// Package budget classifies models into token budget tiers and shapes
// prompt context and history to fit them.
package budget

import (
	"regexp"
	"strings"

	"aidispatch/internal/core"
)

// Tier is a budget class.
type Tier string

const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// Budget carries the token ceilings of one tier.
type Budget struct {
	Tier    Tier `json:"tier"`
	System  int  `json:"system"`
	Context int  `json:"context"`
	History int  `json:"history"`
	Total   int  `json:"total"`
}

// DefaultBudgets returns the ceilings per tier.
func DefaultBudgets() map[Tier]Budget {
	return map[Tier]Budget{
		TierFree:     {Tier: TierFree, System: 1000, Context: 4000, History: 1000, Total: 8000},
		TierStandard: {Tier: TierStandard, System: 2000, Context: 12000, History: 3000, Total: 20000},
		TierPremium:  {Tier: TierPremium, System: 4000, Context: 30000, History: 6000, Total: 50000},
	}
}

var (
	freeMarkers    = []string{":free", "-free"}
	premiumMarkers = []string{"pro", "opus", "gpt-4", "claude-3"}
	essentialLine  = regexp.MustCompile(`(?i)^(you are|must|always|never|important|jsi|musíš|vždy|nikdy|důležité)`)
)

// ModelSource resolves catalog metadata for tier classification.
type ModelSource interface {
	Model(provider, model string) (core.Model, bool)
}

// Optimizer derives budgets and shapes requests to fit them.
type Optimizer struct {
	estimator Estimator
	models    ModelSource
	budgets   map[Tier]Budget
}

// OptimizerConfig budget optimizer configuration
type OptimizerConfig struct {
	Estimator Estimator
	Models    ModelSource
	Budgets   map[Tier]Budget
}

// NewOptimizer creates an optimizer
func NewOptimizer(config OptimizerConfig) *Optimizer {
	budgets := config.Budgets
	if budgets == nil {
		budgets = DefaultBudgets()
	}
	return &Optimizer{
		estimator: config.Estimator,
		models:    config.Models,
		budgets:   budgets,
	}
}

// Estimator returns the token estimator in use.
func (o *Optimizer) Estimator() Estimator {
	return o.estimator
}

// IsFree reports whether the model is flagged free in the catalog or carries
// a free-tier suffix.
func (o *Optimizer) IsFree(model, provider string) bool {
	for _, marker := range freeMarkers {
		if strings.Contains(model, marker) {
			return true
		}
	}
	if o.models != nil {
		if m, ok := o.models.Model(provider, model); ok && m.Free {
			return true
		}
	}
	return false
}

// Classify returns the budget tier of a model.
func (o *Optimizer) Classify(model, provider string) Tier {
	if o.IsFree(model, provider) {
		return TierFree
	}
	for _, marker := range premiumMarkers {
		if strings.Contains(model, marker) {
			return TierPremium
		}
	}
	return TierStandard
}

// Budget returns the ceilings for a model.
func (o *Optimizer) Budget(model, provider string) Budget {
	return o.budgets[o.Classify(model, provider)]
}

// Input is the unshaped request.
type Input struct {
	Prompt   string
	System   string
	Context  string
	History  []core.Message
	Model    string
	Provider string
}

// Shaped is the request after fitting it to the model's budget.
type Shaped struct {
	Prompt         string         `json:"prompt"`
	System         string         `json:"system,omitempty"`
	Context        string         `json:"context,omitempty"`
	History        []core.Message `json:"history,omitempty"`
	Budget         Budget         `json:"budget"`
	ContextTokens  int            `json:"context_tokens"`
	HistoryTokens  int            `json:"history_tokens"`
	DroppedHistory int            `json:"dropped_history"`
	Compressed     bool           `json:"compressed"`
}

// Optimize fits context and history into the model's tier. Context over
// its ceiling is compressed (aggressively for free models) and truncated;
// history over its ceiling loses its oldest messages first.
func (o *Optimizer) Optimize(in Input) Shaped {
	b := o.Budget(in.Model, in.Provider)
	out := Shaped{
		Prompt:  in.Prompt,
		System:  in.System,
		Context: in.Context,
		History: in.History,
		Budget:  b,
	}

	if b.Tier == TierFree {
		out.System = o.ShortenSystem(in.System, b.System)
	}

	if in.Context != "" && o.estimator.Estimate(in.Context) > b.Context {
		out.Context = o.Compress(in.Context, b.Context, b.Tier == TierFree)
		out.Compressed = true
	}

	out.History, out.DroppedHistory = o.TrimHistory(in.History, b.History)
	out.HistoryTokens = o.estimator.EstimateMessages(out.History)

	// The context gives way when the whole request exceeds the tier total.
	fixed := o.estimator.Estimate(out.Prompt) + o.estimator.Estimate(out.System) + out.HistoryTokens
	if room := b.Total - fixed; out.Context != "" && room > 0 && o.estimator.Estimate(out.Context) > room {
		out.Context = o.Truncate(out.Context, room)
		out.Compressed = true
	}

	out.ContextTokens = o.estimator.Estimate(out.Context)
	return out
}

// TrimHistory drops the oldest messages until the rest fits maxTokens.
func (o *Optimizer) TrimHistory(history []core.Message, maxTokens int) ([]core.Message, int) {
	start := 0
	for start < len(history) && o.estimator.EstimateMessages(history[start:]) > maxTokens {
		start++
	}
	if start == 0 {
		return history, 0
	}
	return append([]core.Message(nil), history[start:]...), start
}

// ShortenSystem fits a system prompt into maxTokens by keeping imperative
// lines and then as many other lines as still fit, in original order of
// each group.
func (o *Optimizer) ShortenSystem(system string, maxTokens int) string {
	if system == "" || o.estimator.Estimate(system) <= maxTokens {
		return system
	}

	var essential, optional []string
	for _, line := range strings.Split(system, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if essentialLine.MatchString(trimmed) {
			essential = append(essential, line)
		} else {
			optional = append(optional, line)
		}
	}

	result := strings.Join(essential, "\n")
	current := o.estimator.Estimate(result)
	for _, line := range optional {
		lineTokens := o.estimator.Estimate(line)
		if current+lineTokens > maxTokens {
			continue
		}
		if result != "" {
			result += "\n"
		}
		result += line
		current += lineTokens
	}
	return result
}
