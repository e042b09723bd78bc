package notify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/samber/lo"
	"github.com/school-registry/registro/internal/messages"
	"github.com/school-registry/registro/internal/queue"
	"github.com/school-registry/registro/internal/telemetry"
)

// DefaultCircularBatch is the number of accumulated circular events that triggers a flush.
const DefaultCircularBatch = 10

type circularJob struct {
	msg messages.CircularMessage
	ack queue.Acknowledger
}

// CircularDispatcher collects published-circular events and emits one grouped
// notification per recipient for every flushed batch. It is a queue.BatchHandler
// and must only be driven by a single worker goroutine.
type CircularDispatcher struct {
	circulars CircularSource
	bus       Dispatcher
	threshold int
	jobs      []circularJob
	logger    *slog.Logger
}

// NewCircularDispatcher creates a dispatcher that flushes every threshold jobs
// (DefaultCircularBatch when threshold is not positive).
func NewCircularDispatcher(circulars CircularSource, bus Dispatcher, threshold int) *CircularDispatcher {
	if threshold <= 0 {
		threshold = DefaultCircularBatch
	}
	return &CircularDispatcher{
		circulars: circulars,
		bus:       bus,
		threshold: threshold,
		logger:    slog.With("component", "circular-dispatcher"),
	}
}

// Handle appends msg to the current batch.
func (d *CircularDispatcher) Handle(_ context.Context, msg queue.Message, ack queue.Acknowledger) {
	m, ok := msg.(messages.CircularMessage)
	if !ok {
		ack.Nack(fmt.Errorf("unexpected message %T", msg))
		return
	}
	d.jobs = append(d.jobs, circularJob{msg: m, ack: ack})
}

// ShouldFlush reports whether the batch is full.
func (d *CircularDispatcher) ShouldFlush() bool {
	return len(d.jobs) >= d.threshold
}

// Pending returns the number of accumulated jobs.
func (d *CircularDispatcher) Pending() int {
	return len(d.jobs)
}

// Flush resolves every accumulated circular once, settles each job and
// dispatches one notification per recipient listing all of their circulars.
func (d *CircularDispatcher) Flush(ctx context.Context) {
	jobs := d.jobs
	d.jobs = nil
	if len(jobs) == 0 {
		return
	}
	telemetry.QueueBatchSize.WithLabelValues(messages.QueueCircular).Observe(float64(len(jobs)))

	seen := make(map[int64]bool)
	byUser := make(map[int64][]messages.Fragment)
	for _, job := range jobs {
		id := job.msg.ID()
		if !seen[id] {
			added, err := d.collect(ctx, id, byUser)
			if err != nil {
				d.logger.Error("failed to resolve circular recipients", "circular_id", id, "error", err)
				job.ack.Nack(err)
				continue
			}
			seen[id] = added
		}
		job.ack.Ack()
	}

	users := lo.Keys(byUser)
	slices.Sort(users)
	for _, userID := range users {
		items := byUser[userID]
		ids := lo.Map(items, func(f messages.Fragment, _ int) int64 { return f["id"].(int64) })
		n, err := messages.NewNotificationMessage(userID, messages.TypeCircular, messages.CircularTag(ids...), items)
		if err != nil {
			d.logger.Error("failed to build circular notification", "user_id", userID, "error", err)
			continue
		}
		if err := d.bus.Dispatch(ctx, n); err != nil {
			d.logger.Error("failed to dispatch circular notification", "user_id", userID, "error", err)
		}
	}
	d.logger.Info("circular notifications created",
		"circulars", lo.Keys(lo.PickBy(seen, func(_ int64, added bool) bool { return added })),
		"recipients", len(users))
}

// collect adds circular id to the fragments of each of its unread recipients. It
// reports false when the circular is missing or not published.
func (d *CircularDispatcher) collect(ctx context.Context, id int64, byUser map[int64][]messages.Fragment) (bool, error) {
	c, err := d.circulars.GetPublishedCircular(ctx, id)
	if err != nil {
		return false, err
	}
	if c == nil {
		d.logger.Debug("circular missing or not published, no recipients", "circular_id", id)
		return false, nil
	}
	recipients, err := d.circulars.NotificationRecipients(ctx, id)
	if err != nil {
		return false, err
	}
	fragment := messages.Fragment{
		"id":      c.ID,
		"numero":  c.Number,
		"data":    c.Date.Format(dateLayout),
		"oggetto": c.Title,
	}
	for _, userID := range lo.Uniq(recipients) {
		byUser[userID] = append(byUser[userID], fragment)
	}
	return true, nil
}

// NoticeDispatcher turns a published notice or agenda event into one
// notification per unread recipient.
type NoticeDispatcher struct {
	notices NoticeSource
	bus     Dispatcher
	logger  *slog.Logger
}

// NewNoticeDispatcher creates a NoticeDispatcher.
func NewNoticeDispatcher(notices NoticeSource, bus Dispatcher) *NoticeDispatcher {
	return &NoticeDispatcher{
		notices: notices,
		bus:     bus,
		logger:  slog.With("component", "notice-dispatcher"),
	}
}

// Handle implements queue.Handler for NoticeMessage and EventMessage.
func (d *NoticeDispatcher) Handle(ctx context.Context, msg queue.Message) error {
	var id int64
	switch m := msg.(type) {
	case messages.NoticeMessage:
		id = m.ID()
	case messages.EventMessage:
		id = m.ID()
	default:
		return fmt.Errorf("unexpected message %T", msg)
	}

	n, err := d.notices.GetPublishedNotice(ctx, id)
	if err != nil {
		return err
	}
	if n == nil {
		d.logger.Debug("notice missing or not published, no recipients", "notice_id", id)
		return nil
	}
	recipients, err := d.notices.NotificationRecipients(ctx, id)
	if err != nil {
		return err
	}

	attachments := []string(n.Attachments)
	if attachments == nil {
		attachments = []string{}
	}
	fragment := messages.Fragment{
		"id":       n.ID,
		"data":     n.Date.Format(dateLayout),
		"oggetto":  n.Title,
		"testo":    n.Text,
		"allegati": attachments,
	}
	typ := n.NotificationType()
	for _, userID := range lo.Uniq(recipients) {
		nm, err := messages.NewNotificationMessage(userID, typ, msg.Tag(), []messages.Fragment{fragment})
		if err != nil {
			return err
		}
		if err := d.bus.Dispatch(ctx, nm); err != nil {
			return fmt.Errorf("failed to dispatch notice notification: %w", err)
		}
	}
	d.logger.Info("notice notifications created", "notice_id", id, "type", typ, "recipients", len(recipients))
	return nil
}
