// Package jobs holds periodic background jobs run by the worker process.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/school-registry/registro/internal/telemetry"
)

// QueueCounter reports the number of waiting messages per queue.
type QueueCounter interface {
	Counts(ctx context.Context) (map[string]int64, error)
}

// QueueDepthReporter samples the queue backlog into the queue_depth gauge.
// Queues that were seen once and are now empty are reported as zero.
type QueueDepthReporter struct {
	store    QueueCounter
	queues   []string
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	seen     map[string]struct{}
	logger   *slog.Logger
}

// NewQueueDepthReporter creates a reporter. queues are always reported, even before
// their first message. interval defaults to 30s.
func NewQueueDepthReporter(store QueueCounter, queues []string, interval time.Duration) *QueueDepthReporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	seen := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		seen[q] = struct{}{}
	}
	return &QueueDepthReporter{
		store:    store,
		queues:   queues,
		interval: interval,
		stopChan: make(chan struct{}),
		seen:     seen,
		logger:   slog.With("component", "queue-depth-reporter"),
	}
}

// Start samples immediately, then on every interval until ctx is cancelled or Stop is called.
func (r *QueueDepthReporter) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("queue depth reporter started", "interval", r.interval)
	r.Sample(ctx)

	for {
		select {
		case <-ticker.C:
			r.Sample(ctx)
		case <-r.stopChan:
			r.logger.Info("queue depth reporter stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the loop to exit. It is safe to call more than once.
func (r *QueueDepthReporter) Stop() {
	r.stopOnce.Do(func() { close(r.stopChan) })
}

// Sample reads the current backlog once and updates the gauge.
func (r *QueueDepthReporter) Sample(ctx context.Context) {
	counts, err := r.store.Counts(ctx)
	if err != nil {
		r.logger.Warn("failed to sample queue depth", "error", err)
		return
	}
	for q := range counts {
		r.seen[q] = struct{}{}
	}
	for q := range r.seen {
		telemetry.QueueDepth.WithLabelValues(q).Set(float64(counts[q]))
	}
}
