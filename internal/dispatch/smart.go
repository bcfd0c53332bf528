package dispatch

import (
	"context"
	"errors"
	"sync"

	"aidispatch/internal/catalog"
	"aidispatch/internal/core"
)

// BestModels returns up to n models with every given capability, best
// quality first, restricted to providers that have a credential. n <= 0
// returns all of them.
func (d *Dispatcher) BestModels(n int, caps ...core.Capability) []catalog.Ranked {
	return d.RankedModels(catalog.OrderQuality, n, caps...)
}

// RankedModels is BestModels with a choice of order: quality, balanced
// (free and high-limit models for agents) or fast (highest limit and speed).
func (d *Dispatcher) RankedModels(order catalog.Order, n int, caps ...core.Capability) []catalog.Ranked {
	var out []catalog.Ranked
	for _, r := range d.catalog.RankBy(order, caps...) {
		if !d.credentials.Has(r.Provider) {
			continue
		}
		out = append(out, r)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}

// AskSmart tries the ranked models one by one, each without the cascade,
// and returns the first success. The failures of every model are merged
// into one exhausted error.
func (d *Dispatcher) AskSmart(ctx context.Context, prompt string, opts core.Options, caps ...core.Capability) (*core.Result, error) {
	ranked := d.BestModels(0, caps...)
	if len(ranked) == 0 {
		return nil, &core.ExhaustedError{Cause: core.ErrNoCredential}
	}

	noFallback := false
	var trace core.Trace
	var lastErr error
	for _, r := range ranked {
		o := opts
		o.Provider = r.Provider
		o.Model = r.Model.Name
		o.AutoFallback = &noFallback

		res, err := d.Ask(ctx, prompt, o)
		if err == nil {
			res.Attempts = append(trace, res.Attempts...)
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}

		var ex *core.ExhaustedError
		if errors.As(err, &ex) {
			trace = append(trace, ex.Attempts...)
			lastErr = ex.Cause
		} else {
			lastErr = err
		}
	}
	return nil, &core.ExhaustedError{Attempts: trace, Cause: lastErr}
}

// BatchResult is the outcome of one prompt of a Parallel batch.
type BatchResult struct {
	Prompt string       `json:"prompt"`
	Result *core.Result `json:"result,omitempty"`
	Err    error        `json:"-"`
}

// Parallel asks every prompt with at most limit requests in flight. Each
// prompt runs its own cascade; results keep the input order.
func (d *Dispatcher) Parallel(ctx context.Context, prompts []string, opts core.Options, limit int) []BatchResult {
	if limit <= 0 {
		limit = core.DefaultParallelLimit
	}
	results := make([]BatchResult, len(prompts))
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i, prompt := range prompts {
		wg.Add(1)
		go func(i int, prompt string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = BatchResult{Prompt: prompt, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			res, err := d.Ask(ctx, prompt, opts)
			results[i] = BatchResult{Prompt: prompt, Result: res, Err: err}
		}(i, prompt)
	}
	wg.Wait()
	return results
}
