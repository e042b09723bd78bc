package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/school-registry/registro/internal/db/models"
)

// Enqueuer is the write side of the store used by the bus.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, body string, headers models.JSONMap, availableAt time.Time) (int64, error)
}

// Bus serializes messages and routes them to their queue by kind.
type Bus struct {
	store  Enqueuer
	codec  *Codec
	routes map[string]string
	now    func() time.Time
}

// NewBus creates a bus. routes maps message kinds to queue names.
func NewBus(store Enqueuer, codec *Codec, routes map[string]string) *Bus {
	r := make(map[string]string, len(routes))
	for k, v := range routes {
		r[k] = v
	}
	return &Bus{store: store, codec: codec, routes: r, now: time.Now}
}

type dispatchOptions struct {
	delay time.Duration
	queue string
}

// DispatchOption customizes a single Dispatch call.
type DispatchOption func(*dispatchOptions)

// WithDelay makes the message available only after d.
func WithDelay(d time.Duration) DispatchOption {
	return func(o *dispatchOptions) { o.delay = d }
}

// ToQueue overrides the routing table for one message.
func ToQueue(name string) DispatchOption {
	return func(o *dispatchOptions) { o.queue = name }
}

// Dispatch enqueues msg and returns once it is durably stored.
func (b *Bus) Dispatch(ctx context.Context, msg Message, opts ...DispatchOption) error {
	var o dispatchOptions
	for _, opt := range opts {
		opt(&o)
	}
	queueName := o.queue
	if queueName == "" {
		var ok bool
		if queueName, ok = b.routes[msg.Kind()]; !ok {
			return fmt.Errorf("no queue routed for message kind %q", msg.Kind())
		}
	}

	body, err := b.codec.Encode(msg)
	if err != nil {
		return err
	}
	headers := models.JSONMap{headerKind: msg.Kind(), headerRetries: 0}
	if _, err := b.store.Enqueue(ctx, queueName, body, headers, b.now().Add(o.delay)); err != nil {
		return err
	}
	return nil
}

const (
	headerKind          = "kind"
	headerRetries       = "retries"
	headerOriginalQueue = "original_queue"
	headerLastError     = "last_error"
)
