package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aidispatch/internal/core"
)

// Persister restores and saves a set of components through one store.
// Failures are logged and never stop the other components.
type Persister struct {
	store      core.BlobStore
	components []core.Persistable
	logger     core.Logger
}

// NewPersister creates a persister for the given components
func NewPersister(store core.BlobStore, logger core.Logger, components ...core.Persistable) *Persister {
	if logger == nil {
		logger = &core.NopLogger{}
	}
	return &Persister{store: store, components: components, logger: logger}
}

// Restore loads every component's blob. A missing blob leaves the
// component at its defaults; a corrupt one is logged and skipped.
func (p *Persister) Restore(ctx context.Context) {
	for _, c := range p.components {
		data, err := p.store.Load(ctx, c.StateKey())
		if err != nil {
			p.logger.Warn("Failed to load %s: %v", c.StateKey(), err)
			continue
		}
		if data == nil {
			continue
		}
		if err := c.UnmarshalState(data); err != nil {
			p.logger.Warn("Ignoring corrupt %s: %v", c.StateKey(), err)
			continue
		}
		p.logger.Debug("Restored %s (%d bytes)", c.StateKey(), len(data))
	}
}

// Save writes every component and returns the joined failures.
func (p *Persister) Save(ctx context.Context) error {
	var errs []error
	for _, c := range p.components {
		data, err := c.MarshalState()
		if err == nil {
			err = p.store.Save(ctx, c.StateKey(), data)
		}
		if err != nil {
			p.logger.Warn("Failed to save %s: %v", c.StateKey(), err)
			errs = append(errs, fmt.Errorf("%s: %w", c.StateKey(), err))
		}
	}
	return errors.Join(errs...)
}

// Run saves on every tick until ctx is done, then saves one final time.
func (p *Persister) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = core.DefaultPersistInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = p.Save(ctx)
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = p.Save(finalCtx)
			cancel()
			return
		}
	}
}
