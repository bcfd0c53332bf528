// Package app wires the dispatcher and its supporting components into one
// unit shared by the HTTP server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"aidispatch/internal/budget"
	"aidispatch/internal/cache"
	"aidispatch/internal/catalog"
	"aidispatch/internal/config"
	"aidispatch/internal/conversation"
	"aidispatch/internal/core"
	"aidispatch/internal/credential"
	"aidispatch/internal/dispatch"
	"aidispatch/internal/events"
	"aidispatch/internal/metrics"
	"aidispatch/internal/provider"
	"aidispatch/internal/queue"
	"aidispatch/internal/ratelimit"
	"aidispatch/internal/storage"
	"aidispatch/internal/util"
)

// Options overrides the collaborators App would otherwise build itself.
type Options struct {
	Store      core.BlobStore
	Adapters   dispatch.AdapterSource
	HTTPClient *http.Client
}

// App owns every long-lived component
type App struct {
	Config       config.Config
	Logger       core.Logger
	Catalog      *catalog.Catalog
	Credentials  *credential.Store
	Limiter      *ratelimit.Limiter
	Cache        *cache.ResponseCache
	Optimizer    *budget.Optimizer
	Usage        *metrics.Service
	Events       *events.Bus
	Conversation *conversation.Log
	Dispatcher   *dispatch.Dispatcher
	Queue        *queue.Queue
	Store        core.BlobStore
	Persister    *storage.Persister

	stopPersist context.CancelFunc
	persistDone chan struct{}
	closeOnce   sync.Once
}

// New builds the components, restores persisted state and adds the keys
// from the environment.
func New(ctx context.Context, cfg config.Config, cat *catalog.Catalog, logger core.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = &core.NopLogger{}
	}
	if cat == nil {
		cat = catalog.Default()
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = storage.Open(ctx, cfg.Storage, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
	}

	a := &App{
		Config:      cfg,
		Logger:      logger,
		Catalog:     cat,
		Credentials: credential.NewStore(credential.StoreConfig{Logger: logger}),
		Limiter:     ratelimit.New(ratelimit.Config{Limits: cat, Logger: logger}),
		Cache: cache.New(cache.Config{
			MaxSize:        cfg.Dispatch.CacheMaxSize,
			MaxAge:         cfg.Dispatch.CacheMaxAge,
			FuzzyThreshold: cfg.Dispatch.FuzzyThreshold,
			Logger:         logger,
		}),
		Optimizer: budget.NewOptimizer(budget.OptimizerConfig{
			Estimator: budget.NewEstimator(cfg.Dispatch.CharsPerToken),
			Models:    cat,
		}),
		Usage:  metrics.NewService(metrics.Config{}),
		Events: events.NewBus(),
		Store:  store,
	}
	a.Conversation = conversation.New(conversation.Config{
		MaxLength: cfg.Dispatch.ConversationMaxLength,
		Estimator: a.Optimizer.Estimator(),
		Events:    a.Events,
		Logger:    logger,
	})
	a.Persister = storage.NewPersister(store, logger, a.Credentials, a.Limiter, a.Cache, a.Usage, a.Conversation)
	a.Persister.Restore(ctx)
	a.addConfiguredKeys()

	adapters := opts.Adapters
	if adapters == nil {
		client := opts.HTTPClient
		if client == nil {
			client = provider.NewHTTPClient(cfg.HTTPClientSettings)
		}
		registry, err := provider.NewRegistryFromCatalog(cat, client)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		adapters = registry
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Catalog:         cat,
		Credentials:     a.Credentials,
		Adapters:        adapters,
		Limiter:         a.Limiter,
		Cache:           a.Cache,
		Optimizer:       a.Optimizer,
		Usage:           a.Usage,
		Events:          a.Events,
		Logger:          logger,
		Conversation:    a.Conversation,
		DefaultProvider: cfg.Dispatch.DefaultProvider,
		MaxRetries:      cfg.Dispatch.MaxRetries,
		MaxAttempts:     cfg.Dispatch.MaxAttempts,
		Timeout:         cfg.Dispatch.Timeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	a.Dispatcher = dispatcher
	a.Queue = queue.New(dispatcher, queue.Config{Delay: cfg.Dispatch.QueueDelay, Logger: logger})

	for _, name := range cat.Providers() {
		if !a.Credentials.Has(name) {
			logger.Warn("No API keys for %s, set %s_KEYS", name, config.EnvName(name))
		}
	}
	return a, nil
}

func (a *App) addConfiguredKeys() {
	for name, keys := range a.Config.Keys {
		if a.Catalog.Priority(name) < 0 {
			a.Logger.Warn("Ignoring keys for unknown provider %s", name)
			continue
		}
		for _, key := range keys {
			if len(key) < core.MinCredentialLength {
				a.Logger.Warn("Ignoring %s key %s: too short", name, util.PreviewSecret(key))
				continue
			}
			if _, err := a.Credentials.Add(name, key, ""); err != nil {
				a.Logger.Warn("Failed to add %s key: %v", name, err)
			}
		}
	}
}

// SummarizeConversation folds the conversation log through the dispatcher
// once it grows past the configured token threshold, or unconditionally
// with force.
func (a *App) SummarizeConversation(ctx context.Context, opts conversation.SummarizeOptions, force bool) (conversation.Summary, error) {
	switch {
	case force:
		opts.MaxTokens = 0
	case opts.MaxTokens <= 0:
		opts.MaxTokens = a.Config.Dispatch.ConversationSummaryTokens
		if opts.MaxTokens <= 0 {
			opts.MaxTokens = core.ConversationSummaryTokens
		}
	}
	return a.Conversation.Summarize(ctx, a.Dispatcher, opts)
}

// StartPersistence saves state periodically until Close
func (a *App) StartPersistence(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.stopPersist = cancel
	a.persistDone = make(chan struct{})
	go func() {
		defer close(a.persistDone)
		a.Persister.Run(ctx, a.Config.Dispatch.PersistInterval)
	}()
}

// Save writes every persisted component now
func (a *App) Save(ctx context.Context) error {
	return a.Persister.Save(ctx)
}

// Close stops the queue, saves state and closes the store
func (a *App) Close() error {
	var closeErr error
	a.closeOnce.Do(func() {
		if a.Queue != nil {
			if err := a.Queue.Close(); err != nil {
				closeErr = errors.Join(closeErr, fmt.Errorf("close queue: %w", err))
			}
		}

		if a.stopPersist != nil {
			a.stopPersist()
			<-a.persistDone
		} else if err := a.Save(context.Background()); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("save state: %w", err))
		}

		if err := a.Store.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close storage: %w", err))
		}
	})
	return closeErr
}
