// Package dispatch turns one logical request into a bounded sequence of
// provider calls. Each request walks rate checks, key rotation, in-place
// retries and the model/provider fallback cascade as an explicit loop with
// its attempt trace as the accumulator.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aidispatch/internal/budget"
	"aidispatch/internal/cache"
	"aidispatch/internal/catalog"
	"aidispatch/internal/conversation"
	"aidispatch/internal/core"
	"aidispatch/internal/credential"
	"aidispatch/internal/ratelimit"
	"aidispatch/internal/util"
)

// AdapterSource resolves the adapter of a provider.
type AdapterSource interface {
	Get(provider string) (core.Adapter, bool)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config dispatcher configuration. Catalog, Credentials and Adapters are
// required; everything else has a default.
type Config struct {
	Catalog     *catalog.Catalog
	Credentials *credential.Store
	Adapters    AdapterSource
	Limiter     *ratelimit.Limiter
	Cache       *cache.ResponseCache
	Optimizer   *budget.Optimizer
	Usage       core.UsageRecorder
	Events      core.EventPublisher
	Logger      core.Logger
	// Conversation backs Options.UseConversation; nil disables it.
	Conversation *conversation.Log

	DefaultProvider string
	MaxRetries      int
	MaxAttempts     int
	Timeout         time.Duration
	Sleep           SleepFunc
	Now             func() time.Time
}

// Dispatcher drives requests through the fallback cascade. It is safe for
// concurrent use; requests share only the limiter, credential store, cache
// and conversation log.
type Dispatcher struct {
	catalog      *catalog.Catalog
	credentials  *credential.Store
	adapters     AdapterSource
	limiter      *ratelimit.Limiter
	cache        *cache.ResponseCache
	optimizer    *budget.Optimizer
	usage        core.UsageRecorder
	events       core.EventPublisher
	logger       core.Logger
	conversation *conversation.Log

	defaultProvider string
	maxRetries      int
	maxAttempts     int
	timeout         time.Duration
	sleep           SleepFunc
	now             func() time.Time
}

// New creates a dispatcher. Every catalog provider must have an adapter.
func New(config Config) (*Dispatcher, error) {
	if config.Catalog == nil || config.Credentials == nil || config.Adapters == nil {
		return nil, errors.New("dispatcher requires a catalog, a credential store and adapters")
	}
	for _, name := range config.Catalog.Providers() {
		if _, ok := config.Adapters.Get(name); !ok {
			return nil, fmt.Errorf("%w for provider %s", core.ErrNoAdapter, name)
		}
	}

	d := &Dispatcher{
		catalog:         config.Catalog,
		credentials:     config.Credentials,
		adapters:        config.Adapters,
		limiter:         config.Limiter,
		cache:           config.Cache,
		optimizer:       config.Optimizer,
		usage:           config.Usage,
		events:          config.Events,
		logger:          config.Logger,
		conversation:    config.Conversation,
		defaultProvider: config.DefaultProvider,
		maxRetries:      config.MaxRetries,
		maxAttempts:     config.MaxAttempts,
		timeout:         config.Timeout,
		sleep:           config.Sleep,
		now:             config.Now,
	}

	if d.logger == nil {
		d.logger = &core.NopLogger{}
	}
	if d.usage == nil {
		d.usage = &core.NopUsage{}
	}
	if d.events == nil {
		d.events = &core.NopEvents{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.limiter == nil {
		d.limiter = ratelimit.New(ratelimit.Config{Limits: d.catalog, Now: d.now, Logger: d.logger})
	}
	if d.optimizer == nil {
		d.optimizer = budget.NewOptimizer(budget.OptimizerConfig{
			Estimator: budget.NewEstimator(core.DefaultCharsPerToken),
			Models:    d.catalog,
		})
	}
	if d.defaultProvider == "" {
		d.defaultProvider = core.DefaultProvider
	}
	if d.catalog.Priority(d.defaultProvider) < 0 {
		d.defaultProvider = d.catalog.Providers()[0]
	}
	if d.maxRetries <= 0 {
		d.maxRetries = core.DefaultMaxRetries
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = core.DefaultMaxAttempts
	}
	if d.timeout <= 0 {
		d.timeout = core.DefaultTimeout
	}
	if d.sleep == nil {
		d.sleep = sleepContext
	}
	return d, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Catalog returns the catalog in use
func (d *Dispatcher) Catalog() *catalog.Catalog {
	return d.catalog
}

// Conversation returns the shared conversation log, or nil.
func (d *Dispatcher) Conversation() *conversation.Log {
	return d.conversation
}

// Ask answers prompt, walking the cascade until a provider succeeds. The
// only error under normal operation is a *core.ExhaustedError carrying the
// attempt trace; a canceled ctx yields an error wrapping ctx.Err().
// With UseConversation the logged conversation goes in front of History and
// a successful exchange is appended to it.
func (d *Dispatcher) Ask(ctx context.Context, prompt string, opts core.Options) (*core.Result, error) {
	converse := opts.UseConversation && d.conversation != nil
	if converse {
		opts.History = append(d.conversation.Messages(), opts.History...)
	}
	req := d.newRequest(prompt, opts)
	d.publish(req, core.EventRequestStart, opts.Provider, opts.Model, "", util.PromptPreview(prompt))

	provider, model, err := d.resolveStart(req)
	if err != nil {
		d.publish(req, core.EventRequestError, opts.Provider, opts.Model, "", err.Error())
		return nil, err
	}
	d.logger.Debug("Request %s starts at %s/%s", req.id, provider, model)

	for {
		if len(req.trace) >= d.maxAttempts {
			d.logger.Warn("Request %s hit the attempt cap (%d)", req.id, d.maxAttempts)
			return nil, d.exhausted(req)
		}

		res, next := d.attempt(ctx, req, provider, model)
		switch next {
		case stepDone:
			if converse {
				d.conversation.Record(prompt, res.Text)
			}
			d.publish(req, core.EventRequestComplete, res.Provider, res.Model, "", "")
			return res, nil
		case stepCanceled:
			d.publish(req, core.EventRequestError, provider, model, core.KindCanceled, "canceled")
			return nil, d.canceled(ctx, req)
		}

		p, m, ok := d.nextPair(req, provider, model, next == stepSharedWindow)
		if !ok {
			return nil, d.exhausted(req)
		}
		provider, model = p, m
	}
}

func (d *Dispatcher) exhausted(req *request) error {
	cause := req.lastErr
	if cause == nil {
		cause = core.ErrAllProvidersExhausted
	}
	err := &core.ExhaustedError{Attempts: req.trace, Cause: cause}
	d.logger.Warn("Request %s failed: %v", req.id, err)
	d.publish(req, core.EventRequestError, "", "", core.KindOf(cause), err.Error())
	return err
}

func (d *Dispatcher) canceled(ctx context.Context, req *request) error {
	cause := ctx.Err()
	if cause == nil {
		cause = req.lastErr
	}
	return fmt.Errorf("request %s canceled after %d attempts: %w", req.id, len(req.trace), cause)
}

// resolveStart picks the first pair: the requested provider and model, the
// owner of a bare model name, or the default provider. A start without a
// credential moves to the next provider that has one.
func (d *Dispatcher) resolveStart(req *request) (string, string, error) {
	provider, model := req.opts.Provider, req.opts.Model

	if provider == "" && model != "" {
		provider = d.ownerOf(model)
	}
	if provider == "" {
		provider = d.defaultProvider
	}
	if d.catalog.Priority(provider) < 0 {
		return "", "", fmt.Errorf("%w: %s", core.ErrUnknownProvider, provider)
	}
	if model == "" {
		model = d.catalog.DefaultModel(provider)
	}

	if d.credentials.Has(provider) {
		return provider, model, nil
	}
	req.lastErr = fmt.Errorf("%w for %s", core.ErrNoCredential, provider)
	if req.opts.FallbackEnabled() {
		if p, ok := d.nextProvider(req, provider); ok {
			return p, d.catalog.DefaultModel(p), nil
		}
	}
	return "", "", &core.ExhaustedError{Attempts: req.trace, Cause: req.lastErr}
}

func (d *Dispatcher) ownerOf(model string) string {
	for _, name := range d.catalog.Providers() {
		if _, ok := d.catalog.Model(name, model); ok {
			return name
		}
	}
	return ""
}

func (d *Dispatcher) publish(req *request, typ, provider, model string, kind core.ErrorKind, message string) {
	d.events.Publish(core.Event{
		Type:      typ,
		RequestID: req.id,
		Provider:  provider,
		Model:     model,
		Kind:      kind,
		Message:   message,
		Time:      d.now(),
	})
}
