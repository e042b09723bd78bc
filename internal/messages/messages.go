// Package messages defines the value objects exchanged over the queue: domain events
// (a circular, notice or agenda event was published; a user account changed) and the
// per-recipient notifications derived from them.
//
// Every message carries a deterministic tag. Two messages are the same logical event
// when their tags are equal, and queue maintenance finds undelivered messages by tag.
package messages

import (
	"encoding/json"
	"fmt"

	"github.com/school-registry/registro/internal/queue"
)

// Message kinds.
const (
	KindCircular     = "CircularMessage"
	KindNotice       = "NoticeMessage"
	KindEvent        = "EventMessage"
	KindAction       = "ActionMessage"
	KindNotification = "NotificationMessage"
)

// Queue names.
const (
	QueueCircular     = "circolare"
	QueueNotice       = "avviso"
	QueueEvent        = "evento"
	QueueAction       = "azione"
	QueueNotification = "notifica"
)

// Routes maps every message kind to its queue.
func Routes() map[string]string {
	return map[string]string{
		KindCircular:     QueueCircular,
		KindNotice:       QueueNotice,
		KindEvent:        QueueEvent,
		KindAction:       QueueAction,
		KindNotification: QueueNotification,
	}
}

// Register installs the decoders for every message kind.
func Register(c *queue.Codec) {
	c.Register(KindCircular, decodeSubject(func(id int64) queue.Message { return NewCircularMessage(id) }))
	c.Register(KindNotice, decodeSubject(func(id int64) queue.Message { return NewNoticeMessage(id) }))
	c.Register(KindEvent, decodeSubject(func(id int64) queue.Message { return NewEventMessage(id) }))
	c.Register(KindAction, func(data []byte) (queue.Message, error) { return decodeAction(data) })
	c.Register(KindNotification, func(data []byte) (queue.Message, error) { return decodeNotification(data) })
}

// SameEvent reports whether a and b address the same logical event.
func SameEvent(a, b queue.Message) bool {
	return a.Tag() == b.Tag()
}

// CircularTag returns the tag of the notification for one or more circulars.
func CircularTag(ids ...int64) string {
	return "<!CIRCOLARE!><!" + joinIDs(ids) + "!>"
}

// NoticeTag returns the tag of a notice notification.
func NoticeTag(id int64) string {
	return fmt.Sprintf("<!AVVISO!><!%d!>", id)
}

// EventTag returns the tag of an agenda event notification.
func EventTag(id int64) string {
	return fmt.Sprintf("<!EVENTO!><!%d!>", id)
}

func joinIDs(ids []int64) string {
	out := make([]byte, 0, len(ids)*4)
	for i, id := range ids {
		if i > 0 {
			out = append(out, ',')
		}
		out = fmt.Appendf(out, "%d", id)
	}
	return string(out)
}

type subjectWire struct {
	ID int64 `json:"id"`
}

func decodeSubject(build func(int64) queue.Message) queue.DecodeFunc {
	return func(data []byte) (queue.Message, error) {
		var w subjectWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		if w.ID <= 0 {
			return nil, fmt.Errorf("invalid subject id %d", w.ID)
		}
		return build(w.ID), nil
	}
}

// CircularMessage announces that a circular was published.
type CircularMessage struct{ id int64 }

// NewCircularMessage creates the event for circular id.
func NewCircularMessage(id int64) CircularMessage { return CircularMessage{id: id} }

func (m CircularMessage) ID() int64    { return m.id }
func (m CircularMessage) Kind() string { return KindCircular }
func (m CircularMessage) Tag() string  { return CircularTag(m.id) }

func (m CircularMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(subjectWire{ID: m.id})
}

// NoticeMessage announces that a notice was published.
type NoticeMessage struct{ id int64 }

// NewNoticeMessage creates the event for notice id.
func NewNoticeMessage(id int64) NoticeMessage { return NoticeMessage{id: id} }

func (m NoticeMessage) ID() int64    { return m.id }
func (m NoticeMessage) Kind() string { return KindNotice }
func (m NoticeMessage) Tag() string  { return NoticeTag(m.id) }

func (m NoticeMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(subjectWire{ID: m.id})
}

// EventMessage announces that an agenda event (test or homework notice) was published.
type EventMessage struct{ id int64 }

// NewEventMessage creates the event for notice id.
func NewEventMessage(id int64) EventMessage { return EventMessage{id: id} }

func (m EventMessage) ID() int64    { return m.id }
func (m EventMessage) Kind() string { return KindEvent }
func (m EventMessage) Tag() string  { return EventTag(m.id) }

func (m EventMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(subjectWire{ID: m.id})
}
