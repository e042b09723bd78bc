package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/telemetry"
)

// Handler processes one message. A returned error negatively acknowledges it.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Acknowledger settles one message accumulated by a BatchHandler.
type Acknowledger interface {
	Ack()
	Nack(err error)
}

// BatchHandler accumulates messages and processes them together. The worker calls
// Flush when ShouldFlush reports true or when no more messages are immediately
// available. Every accumulated message must be settled through its Acknowledger.
type BatchHandler interface {
	Handle(ctx context.Context, msg Message, ack Acknowledger)
	ShouldFlush() bool
	Flush(ctx context.Context)
}

// WorkerStore is the part of the store a worker needs.
type WorkerStore interface {
	Claim(ctx context.Context, queues []string, limit int) ([]*models.QueuedMessage, error)
	Ack(ctx context.Context, id int64) error
	Requeue(ctx context.Context, id int64, queueName string, headers models.JSONMap, availableAt time.Time) error
}

// WorkerConfig tunes a worker.
type WorkerConfig struct {
	Queues       []string
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	RetryDelay   time.Duration
}

// Worker claims messages from its queues and hands them to the registered handlers.
type Worker struct {
	store    WorkerStore
	codec    *Codec
	cfg      WorkerConfig
	handlers map[string]Handler
	batches  map[string]BatchHandler
	logger   *slog.Logger
	now      func() time.Time
}

// NewWorker creates a worker. Register handlers before calling Run.
func NewWorker(store WorkerStore, codec *Codec, cfg WorkerConfig) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Worker{
		store:    store,
		codec:    codec,
		cfg:      cfg,
		handlers: make(map[string]Handler),
		batches:  make(map[string]BatchHandler),
		logger:   slog.With("component", "queue-worker", "queues", cfg.Queues),
		now:      time.Now,
	}
}

// Handle registers h for messages of kind.
func (w *Worker) Handle(kind string, h Handler) {
	w.handlers[kind] = h
}

// HandleBatch registers a batch handler for messages of kind.
func (w *Worker) HandleBatch(kind string, h BatchHandler) {
	w.batches[kind] = h
}

// Run polls until ctx is cancelled. Pending batches are flushed before returning.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("queue worker started", "poll_interval", w.cfg.PollInterval, "batch_size", w.cfg.BatchSize)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		n, err := w.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("queue poll failed", "error", err)
		}
		if err == nil && n == w.cfg.BatchSize && ctx.Err() == nil {
			// more messages are probably waiting
			continue
		}
		select {
		case <-ctx.Done():
			w.flushAll(context.WithoutCancel(ctx))
			w.logger.Info("queue worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Poll claims one batch of messages and processes it. It returns how many messages
// were claimed.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	rows, err := w.store.Claim(ctx, w.cfg.Queues, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		w.process(ctx, row)
	}
	if len(rows) < w.cfg.BatchSize {
		w.flushAll(ctx)
	}
	return len(rows), nil
}

func (w *Worker) process(ctx context.Context, row *models.QueuedMessage) {
	msg, err := w.codec.Decode(row.Body)
	if err != nil {
		w.logger.Error("undecodable message moved to failed queue", "id", row.ID, "queue", row.QueueName, "error", err)
		telemetry.QueueMessagesTotal.WithLabelValues(row.QueueName, "undecodable").Inc()
		w.moveToFailed(ctx, row, err)
		return
	}

	if h, ok := w.handlers[msg.Kind()]; ok {
		w.settle(ctx, row, w.handle(ctx, h, msg))
		return
	}
	if b, ok := w.batches[msg.Kind()]; ok {
		b.Handle(ctx, msg, &acknowledger{w: w, ctx: context.WithoutCancel(ctx), row: row})
		if b.ShouldFlush() {
			w.flush(ctx, msg.Kind(), b)
		}
		return
	}

	err = fmt.Errorf("no handler for message kind %q", msg.Kind())
	w.logger.Error("unhandled message moved to failed queue", "id", row.ID, "error", err)
	w.moveToFailed(ctx, row, err)
}

// handle runs h, turning a panic into an error so the message is retried or failed
// like any other failure.
func (w *Worker) handle(ctx context.Context, h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panicked", "kind", msg.Kind(), "tag", msg.Tag(), "panic", r)
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, msg)
}

func (w *Worker) flushAll(ctx context.Context) {
	for kind, b := range w.batches {
		w.flush(ctx, kind, b)
	}
}

func (w *Worker) flush(ctx context.Context, kind string, b BatchHandler) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("batch handler panicked", "kind", kind, "panic", r)
		}
	}()
	b.Flush(ctx)
}

// settle acknowledges row when err is nil and retries or fails it otherwise.
func (w *Worker) settle(ctx context.Context, row *models.QueuedMessage, err error) {
	if err == nil {
		if ackErr := w.store.Ack(ctx, row.ID); ackErr != nil {
			w.logger.Error("failed to ack message", "id", row.ID, "error", ackErr)
			return
		}
		telemetry.QueueMessagesTotal.WithLabelValues(row.QueueName, "acked").Inc()
		return
	}

	retries := intHeader(row.Headers, headerRetries)
	if retries >= w.cfg.MaxRetries {
		w.logger.Error("message failed permanently", "id", row.ID, "queue", row.QueueName, "retries", retries, "error", err)
		w.moveToFailed(ctx, row, err)
		return
	}

	headers := cloneHeaders(row.Headers)
	headers[headerRetries] = retries + 1
	headers[headerLastError] = err.Error()
	delay := w.cfg.RetryDelay * time.Duration(1<<retries)
	if reqErr := w.store.Requeue(ctx, row.ID, row.QueueName, headers, w.now().Add(delay)); reqErr != nil {
		w.logger.Error("failed to requeue message", "id", row.ID, "error", reqErr)
		return
	}
	w.logger.Warn("message will be retried", "id", row.ID, "queue", row.QueueName, "attempt", retries+1, "delay", delay, "error", err)
	telemetry.QueueMessagesTotal.WithLabelValues(row.QueueName, "retried").Inc()
}

func (w *Worker) moveToFailed(ctx context.Context, row *models.QueuedMessage, cause error) {
	headers := cloneHeaders(row.Headers)
	headers[headerOriginalQueue] = row.QueueName
	headers[headerLastError] = cause.Error()
	if err := w.store.Requeue(ctx, row.ID, FailedQueue, headers, w.now()); err != nil {
		w.logger.Error("failed to move message to failed queue", "id", row.ID, "error", err)
		return
	}
	telemetry.QueueMessagesTotal.WithLabelValues(row.QueueName, "failed").Inc()
}

type acknowledger struct {
	w       *Worker
	ctx     context.Context
	row     *models.QueuedMessage
	settled bool
}

func (a *acknowledger) Ack() {
	if a.settled {
		return
	}
	a.settled = true
	a.w.settle(a.ctx, a.row, nil)
}

func (a *acknowledger) Nack(err error) {
	if a.settled {
		return
	}
	a.settled = true
	if err == nil {
		err = fmt.Errorf("message rejected")
	}
	a.w.settle(a.ctx, a.row, err)
}

func intHeader(h models.JSONMap, key string) int {
	switch v := h[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func cloneHeaders(h models.JSONMap) models.JSONMap {
	out := make(models.JSONMap, len(h)+2)
	for k, v := range h {
		out[k] = v
	}
	return out
}
