package analytics

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/billybjork/billybjork.com/internal/observability/logging"
)

// Recorder ties the queue to the store: handlers call Record, a background
// consumer persists.
type Recorder struct {
	queue  Queue
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	sub     Subscription
	done    chan struct{}
	started bool
}

func NewRecorder(queue Queue, store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		queue:  queue,
		store:  store,
		logger: logging.WithComponent(logger, "analytics"),
		now:    time.Now,
	}
}

// Record publishes a view event. A missing slug is ignored; queue failures
// fall back to a direct store write so views are not silently dropped when
// Redis is down.
func (r *Recorder) Record(ctx context.Context, event ViewEvent) error {
	if strings.TrimSpace(event.Slug) == "" {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now().UTC()
	}
	if r.queue == nil {
		return r.store.RecordView(ctx, event)
	}
	if err := r.queue.Publish(ctx, event); err != nil {
		r.logger.Warn("view publish failed, writing directly", "slug", event.Slug, "error", err)
		return r.store.RecordView(ctx, event)
	}
	return nil
}

// ViewCount reads the persisted count for a slug.
func (r *Recorder) ViewCount(ctx context.Context, slug string) (int64, error) {
	return r.store.ViewCount(ctx, slug)
}

// Start launches the queue consumer. No-op without a queue.
func (r *Recorder) Start() {
	if r.queue == nil {
		return
	}
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.sub = r.queue.Subscribe()
	r.done = make(chan struct{})
	sub := r.sub
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for event := range sub.Events() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.store.RecordView(ctx, event); err != nil {
				r.logger.Error("failed to persist view", "slug", event.Slug, "error", err)
			}
			cancel()
		}
	}()
}

// Shutdown stops the consumer and waits for it to drain, bounded by ctx.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	sub := r.sub
	done := r.done
	r.sub = nil
	r.started = false
	r.mu.Unlock()
	if sub == nil {
		return nil
	}
	sub.Close()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
