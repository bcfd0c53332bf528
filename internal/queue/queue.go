// Package queue serializes calls through the dispatcher with a fixed pause
// between completions.
package queue

import (
	"context"
	"sync"
	"time"

	"aidispatch/internal/core"
	"aidispatch/internal/util"
)

// Asker is the dispatcher surface the queue drives.
type Asker interface {
	Ask(ctx context.Context, prompt string, opts core.Options) (*core.Result, error)
}

type outcome struct {
	result *core.Result
	err    error
}

type item struct {
	id     string
	ctx    context.Context
	prompt string
	opts   core.Options
	done   chan outcome
}

// Config queue configuration
type Config struct {
	Delay  time.Duration
	Logger core.Logger
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Queue is a FIFO drained by a single worker. Completion order matches
// submission order.
type Queue struct {
	asker  Asker
	delay  time.Duration
	logger core.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	pending []*item
	closed  bool
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts the worker
func New(asker Asker, config Config) *Queue {
	if config.Delay <= 0 {
		config.Delay = core.DefaultQueueDelay
	}
	if config.Logger == nil {
		config.Logger = &core.NopLogger{}
	}
	if config.Sleep == nil {
		config.Sleep = sleepContext
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		asker:  asker,
		delay:  config.Delay,
		logger: config.Logger,
		sleep:  config.Sleep,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.run()
	return q
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

// Enqueue adds a request and waits for its result. Leaving early through
// ctx abandons the wait; the item is still dispatched with the same ctx,
// which the dispatcher then observes as canceled.
func (q *Queue) Enqueue(ctx context.Context, prompt string, opts core.Options) (*core.Result, error) {
	it := &item{
		id:     util.GenerateRequestID(),
		ctx:    ctx,
		prompt: prompt,
		opts:   opts,
		done:   make(chan outcome, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, core.ErrQueueClosed
	}
	q.pending = append(q.pending, it)
	size := len(q.pending)
	q.mu.Unlock()

	q.logger.Debug("Queued %s (%d pending): %s", it.id, size, util.PromptPreview(prompt))
	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case out := <-it.done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the number of items waiting to be dispatched
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Clear rejects every pending item with core.ErrQueueCleared and returns
// how many were dropped. The item being dispatched is not affected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, it := range dropped {
		it.done <- outcome{err: core.ErrQueueCleared}
	}
	if len(dropped) > 0 {
		q.logger.Info("Cleared %d queued requests", len(dropped))
	}
	return len(dropped)
}

// Close stops accepting items, rejects pending ones with
// core.ErrQueueClosed and waits for the worker to exit.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.closed = true
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, it := range dropped {
		it.done <- outcome{err: core.ErrQueueClosed}
	}
	q.cancel()
	<-q.done
	return nil
}

func (q *Queue) next() *item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	it := q.pending[0]
	q.pending = q.pending[1:]
	return it
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		it := q.next()
		if it == nil {
			select {
			case <-q.wake:
				continue
			case <-q.ctx.Done():
				return
			}
		}

		if err := it.ctx.Err(); err != nil {
			it.done <- outcome{err: err}
			continue
		}

		res, err := q.asker.Ask(it.ctx, it.prompt, it.opts)
		it.done <- outcome{result: res, err: err}

		if err := q.sleep(q.ctx, q.delay); err != nil {
			return
		}
	}
}
