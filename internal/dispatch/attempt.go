package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aidispatch/internal/budget"
	"aidispatch/internal/cache"
	"aidispatch/internal/core"
	"aidispatch/internal/util"
)

// step is what the cascade does after one pair.
type step int

const (
	stepDone step = iota
	stepFallback
	stepSharedWindow // provider-wide window exhausted
	stepCanceled
	stepTerminal
)

// request is the per-call state threaded through the cascade.
type request struct {
	id      string
	prompt  string
	opts    core.Options
	trace   core.Trace
	tried   map[string]map[string]bool
	lastErr error
	started time.Time
}

func (d *Dispatcher) newRequest(prompt string, opts core.Options) *request {
	return &request{
		id:      util.GenerateRequestID(),
		prompt:  prompt,
		opts:    opts,
		tried:   make(map[string]map[string]bool),
		started: d.now(),
	}
}

func (r *request) cacheable() bool {
	return !r.opts.NoCache && len(r.opts.Messages) == 0 && len(r.opts.History) == 0
}

// cacheModel is the cache scope of model for this request. Entries are keyed
// by the prompt alone; a shared context narrows the scope instead of being
// folded into the key.
func (r *request) cacheModel(model string) string {
	return cache.ContextScope(model, r.opts.Context)
}

func (r *request) markTried(provider, secret string) {
	if r.tried[provider] == nil {
		r.tried[provider] = make(map[string]bool)
	}
	r.tried[provider][secret] = true
}

func composePrompt(context, prompt string) string {
	switch {
	case context == "":
		return prompt
	case prompt == "":
		return context
	}
	return context + "\n\n" + prompt
}

// attempt runs RATE_CHECK, SEND and CLASSIFY for one pair and appends the
// pair to the trace.
func (d *Dispatcher) attempt(ctx context.Context, req *request, provider, model string) (*core.Result, step) {
	started := d.now()
	at := core.Attempt{Provider: provider, Model: model}
	finish := func(outcome core.AttemptOutcome, kind core.ErrorKind, reason string) {
		at.Outcome, at.Kind, at.Reason = outcome, kind, reason
		at.Duration = d.now().Sub(started)
		req.trace = append(req.trace, at)
	}

	if d.cache != nil && req.cacheable() {
		if text, ok := d.cache.Get(req.prompt, provider, req.cacheModel(model)); ok {
			finish(core.OutcomeCached, "", "")
			d.usage.RecordCacheHit()
			d.publish(req, core.EventCacheHit, provider, model, "", "")
			return d.result(req, provider, model, text, true), stepDone
		}
	}

	secret, ok := d.credentials.Active(provider)
	if !ok {
		req.lastErr = fmt.Errorf("%w for %s", core.ErrNoCredential, provider)
		finish(core.OutcomeSkipped, "", req.lastErr.Error())
		return nil, stepFallback
	}
	req.markTried(provider, secret)

	if !req.opts.SkipRateLimit {
		for !d.limiter.CanCall(provider, model) {
			d.usage.RecordLimitHit(provider, model, core.KindRateLimitExceeded, "local window full")
			if rotated, ok := d.rotateUntried(req, provider); ok {
				secret = rotated
				continue
			}
			req.lastErr = fmt.Errorf("%w for %s/%s", core.ErrRateLimitExceeded, provider, model)
			finish(core.OutcomeSkipped, core.KindRateLimitExceeded, req.lastErr.Error())
			d.publish(req, core.EventAttemptFailed, provider, model, core.KindRateLimitExceeded, "local rate limit")
			if !d.limiter.ModelScoped(provider, model) {
				return nil, stepSharedWindow
			}
			return nil, stepFallback
		}
	}

	adapter, _ := d.adapters.Get(provider)
	areq := d.buildRequest(req, provider, model, secret)
	retries, timeouts := 0, 0

	for {
		at.Sends++
		d.publish(req, core.EventAttemptStart, provider, model, "", fmt.Sprintf("send %d", at.Sends))

		sendStart := d.now()
		text, err := d.send(ctx, adapter, areq)
		latency := d.now().Sub(sendStart)
		d.limiter.Record(provider, model)

		if err == nil {
			res := d.result(req, provider, model, text, false)
			d.usage.RecordSuccess(provider, model, res.TokensIn, res.TokensOut, latency)
			if d.cache != nil && req.cacheable() {
				d.cache.Set(req.prompt, text, provider, req.cacheModel(model))
			}
			finish(core.OutcomeSuccess, "", "")
			res.Attempts = req.trace
			return res, stepDone
		}

		kind := core.KindOf(err)
		if ctx.Err() != nil {
			kind = core.KindCanceled
		}
		req.lastErr = err
		d.usage.RecordFailure(provider, model, kind, latency)
		if kind == core.KindRateLimited {
			d.usage.RecordLimitHit(provider, model, kind, errorReason(err))
		}
		d.publish(req, core.EventAttemptFailed, provider, model, kind, err.Error())
		d.logger.Warn("Request %s: %s/%s failed (%s): %v", req.id, provider, model, kind, err)

		switch {
		case kind == core.KindCanceled:
			finish(core.OutcomeFailed, kind, err.Error())
			return nil, stepCanceled

		case kind == core.KindTimeout && timeouts < core.TimeoutRetries:
			timeouts++
			continue

		case kind == core.KindUnknown && retries < d.maxRetries:
			wait := backoff(retries, err)
			retries++
			d.logger.Debug("Request %s: retrying %s/%s in %v", req.id, provider, model, wait)
			if serr := d.sleep(ctx, wait); serr != nil {
				req.lastErr = serr
				finish(core.OutcomeFailed, core.KindCanceled, serr.Error())
				return nil, stepCanceled
			}
			continue
		}

		finish(core.OutcomeFailed, kind, errorReason(err))
		if !req.opts.FallbackEnabled() {
			return nil, stepTerminal
		}
		return nil, stepFallback
	}
}

// rotateUntried moves the provider to a credential this request has not
// used yet and clears the provider's windows, since quota is per key.
func (d *Dispatcher) rotateUntried(req *request, provider string) (string, bool) {
	for len(req.tried[provider]) < d.credentials.Len(provider) {
		if !d.credentials.Rotate(provider) {
			return "", false
		}
		secret, ok := d.credentials.Active(provider)
		if !ok {
			return "", false
		}
		if req.tried[provider][secret] {
			continue
		}
		req.markTried(provider, secret)
		d.limiter.Reset(provider)
		d.logger.Info("Rotated %s to key %s", provider, util.PreviewSecret(secret))
		d.publish(req, core.EventKeyRotated, provider, "", "", util.PreviewSecret(secret))
		return secret, true
	}
	return "", false
}

func (d *Dispatcher) send(ctx context.Context, adapter core.Adapter, areq core.AdapterRequest) (string, error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return adapter.Send(sendCtx, areq)
}

// backoff waits 2^(attempt+1) seconds unless the provider gave a hint.
func backoff(attempt int, err error) time.Duration {
	var pe *core.ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return pe.RetryAfter
	}
	return core.BackoffBase << (attempt + 1)
}

func errorReason(err error) string {
	var pe *core.ProviderError
	if errors.As(err, &pe) {
		if pe.Status != 0 {
			return fmt.Sprintf("HTTP %d: %s", pe.Status, pe.Message)
		}
		return pe.Message
	}
	return err.Error()
}

// buildRequest shapes context and history for the target model's budget.
func (d *Dispatcher) buildRequest(req *request, provider, model, secret string) core.AdapterRequest {
	opts := req.opts
	system, extra, history := opts.System, opts.Context, opts.History

	if system != "" || extra != "" || len(history) > 0 {
		shaped := d.optimizer.Optimize(budget.Input{
			Prompt:   req.prompt,
			System:   system,
			Context:  extra,
			History:  history,
			Model:    model,
			Provider: provider,
		})
		system, extra, history = shaped.System, shaped.Context, shaped.History
	}

	prompt := composePrompt(extra, req.prompt)
	var messages []core.Message
	switch {
	case len(opts.Messages) > 0:
		messages = make([]core.Message, 0, len(opts.Messages)+1)
		messages = append(messages, opts.Messages...)
		if prompt != "" {
			messages = append(messages, core.Message{Role: core.RoleUser, Content: prompt})
		}
	case len(history) > 0:
		messages = make([]core.Message, 0, len(history)+1)
		messages = append(messages, history...)
		messages = append(messages, core.Message{Role: core.RoleUser, Content: prompt})
	}

	return core.AdapterRequest{
		APIKey:      secret,
		Model:       model,
		Prompt:      prompt,
		System:      system,
		Messages:    messages,
		Temperature: opts.TemperatureOrDefault(),
		MaxTokens:   opts.MaxTokensOrDefault(),
	}
}

func (d *Dispatcher) result(req *request, provider, model, text string, cached bool) *core.Result {
	est := d.optimizer.Estimator()
	res := &core.Result{
		RequestID: req.id,
		Text:      text,
		Provider:  provider,
		Model:     model,
		Cached:    cached,
		TokensIn:  est.Estimate(req.opts.System) + est.Estimate(composePrompt(req.opts.Context, req.prompt)) + est.EstimateMessages(req.opts.History) + est.EstimateMessages(req.opts.Messages),
		TokensOut: est.Estimate(text),
		Latency:   d.now().Sub(req.started),
		Attempts:  req.trace,
	}
	if req.opts.ParseJSON {
		parsed, err := util.ParseLooseJSON(text)
		if err != nil {
			res.JSONError = err.Error()
			d.logger.Debug("Request %s: response is not JSON: %v", req.id, err)
		} else {
			res.JSON = parsed
		}
	}
	return res
}

// nextPair picks the following pair: a sibling model first, then the next
// provider in priority order.
func (d *Dispatcher) nextPair(req *request, provider, model string, sharedWindow bool) (string, string, bool) {
	if !req.opts.FallbackEnabled() {
		return "", "", false
	}
	if m, ok := d.nextModel(req, provider, sharedWindow); ok {
		d.publish(req, core.EventFallbackModel, provider, m, "", "from "+model)
		return provider, m, true
	}
	if p, ok := d.nextProvider(req, provider); ok {
		m := d.catalog.DefaultModel(p)
		d.publish(req, core.EventFallbackProvider, p, m, "", "from "+provider)
		return p, m, true
	}
	return "", "", false
}

// nextModel walks the provider's models in catalog order. When the
// provider-wide window is exhausted only models with their own window can
// still pass the rate check.
func (d *Dispatcher) nextModel(req *request, provider string, sharedWindow bool) (string, bool) {
	for _, m := range d.catalog.Models(provider) {
		if req.trace.Contains(provider, m.Name) {
			continue
		}
		if sharedWindow && !d.limiter.ModelScoped(provider, m.Name) {
			continue
		}
		return m.Name, true
	}
	return "", false
}

// nextProvider walks the priority list after provider, wrapping around.
func (d *Dispatcher) nextProvider(req *request, provider string) (string, bool) {
	names := d.catalog.Providers()
	start := d.catalog.Priority(provider)
	for i := 1; i < len(names); i++ {
		name := names[(start+i)%len(names)]
		if !d.credentials.Has(name) {
			continue
		}
		if req.trace.Contains(name, d.catalog.DefaultModel(name)) {
			continue
		}
		return name, true
	}
	return "", false
}
