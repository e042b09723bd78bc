package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/messages"
	"github.com/school-registry/registro/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type fakeCirculars struct {
	circulars  map[int64]*models.Circular
	recipients map[int64][]int64
	fail       map[int64]error
	lookups    map[int64]int
}

func (f *fakeCirculars) GetPublishedCircular(_ context.Context, id int64) (*models.Circular, error) {
	if f.lookups == nil {
		f.lookups = make(map[int64]int)
	}
	f.lookups[id]++
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	c, ok := f.circulars[id]
	if !ok || !c.Published() {
		return nil, nil
	}
	return c, nil
}

func (f *fakeCirculars) NotificationRecipients(_ context.Context, id int64) ([]int64, error) {
	return f.recipients[id], nil
}

type fakeNotices struct {
	notices    map[int64]*models.Notice
	recipients map[int64][]int64
}

func (f *fakeNotices) GetPublishedNotice(_ context.Context, id int64) (*models.Notice, error) {
	n, ok := f.notices[id]
	if !ok || !n.Published() {
		return nil, nil
	}
	return n, nil
}

func (f *fakeNotices) NotificationRecipients(_ context.Context, id int64) ([]int64, error) {
	return f.recipients[id], nil
}

type fakeBus struct {
	sent []*messages.NotificationMessage
	err  error
}

func (b *fakeBus) Dispatch(_ context.Context, msg queue.Message, _ ...queue.DispatchOption) error {
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, msg.(*messages.NotificationMessage))
	return nil
}

func (b *fakeBus) forUser(id int64) *messages.NotificationMessage {
	for _, m := range b.sent {
		if m.UserID == id {
			return m
		}
	}
	return nil
}

type fakeAck struct {
	acked  int
	nacked error
}

func (a *fakeAck) Ack()           { a.acked++ }
func (a *fakeAck) Nack(err error) { a.nacked = err }

var circularDate = time.Date(2024, 10, 3, 0, 0, 0, 0, time.UTC)

func publishedCircular(id int64, number int, title string) *models.Circular {
	return &models.Circular{ID: id, Number: number, Title: title, Date: circularDate, Status: models.StatusPublished}
}

// ---------------------------------------------------------------------------
// CircularDispatcher
// ---------------------------------------------------------------------------

func TestCircularDispatcher_DuplicateEventsNotifyOnce(t *testing.T) {
	src := &fakeCirculars{
		circulars:  map[int64]*models.Circular{42: publishedCircular(42, 12, "Assemblea di istituto")},
		recipients: map[int64][]int64{42: {5, 6}},
	}
	bus := &fakeBus{}
	d := NewCircularDispatcher(src, bus, 0)

	a1, a2 := &fakeAck{}, &fakeAck{}
	ctx := context.Background()
	d.Handle(ctx, messages.NewCircularMessage(42), a1)
	d.Handle(ctx, messages.NewCircularMessage(42), a2)
	d.Flush(ctx)

	assert.Equal(t, 1, a1.acked)
	assert.Equal(t, 1, a2.acked)
	assert.Equal(t, 1, src.lookups[42], "circular resolved once per batch")
	require.Len(t, bus.sent, 2)
	for _, userID := range []int64{5, 6} {
		n := bus.forUser(userID)
		require.NotNil(t, n, "user %d", userID)
		assert.Equal(t, messages.TypeCircular, n.Type)
		assert.Equal(t, "<!CIRCOLARE!><!42!>", n.Tag())
		require.Len(t, n.Items, 1)
		assert.Equal(t, int64(42), n.Items[0]["id"])
		assert.Equal(t, 12, n.Items[0]["numero"])
		assert.Equal(t, "03/10/2024", n.Items[0]["data"])
		assert.Equal(t, "Assemblea di istituto", n.Items[0]["oggetto"])
	}
}

func TestCircularDispatcher_GroupsCircularsPerRecipient(t *testing.T) {
	src := &fakeCirculars{
		circulars: map[int64]*models.Circular{
			42: publishedCircular(42, 12, "Assemblea"),
			43: publishedCircular(43, 13, "Sciopero"),
		},
		recipients: map[int64][]int64{42: {5, 6}, 43: {6}},
	}
	bus := &fakeBus{}
	d := NewCircularDispatcher(src, bus, 10)

	ctx := context.Background()
	d.Handle(ctx, messages.NewCircularMessage(42), &fakeAck{})
	d.Handle(ctx, messages.NewCircularMessage(43), &fakeAck{})
	d.Flush(ctx)

	require.Len(t, bus.sent, 2)
	assert.Equal(t, "<!CIRCOLARE!><!42!>", bus.forUser(5).Tag())
	assert.Equal(t, "<!CIRCOLARE!><!42,43!>", bus.forUser(6).Tag())
	assert.Len(t, bus.forUser(6).Items, 2)
}

func TestCircularDispatcher_UnpublishedContributesNothing(t *testing.T) {
	draft := publishedCircular(50, 1, "Bozza")
	draft.Status = models.StatusDraft
	src := &fakeCirculars{
		circulars:  map[int64]*models.Circular{50: draft},
		recipients: map[int64][]int64{50: {5}},
	}
	bus := &fakeBus{}
	d := NewCircularDispatcher(src, bus, 10)

	missing, unpublished := &fakeAck{}, &fakeAck{}
	d.Handle(context.Background(), messages.NewCircularMessage(99), missing)
	d.Handle(context.Background(), messages.NewCircularMessage(50), unpublished)
	d.Flush(context.Background())

	assert.Equal(t, 1, missing.acked)
	assert.Equal(t, 1, unpublished.acked)
	assert.Empty(t, bus.sent)
}

func TestCircularDispatcher_FailedLookupNacksOnlyThatJob(t *testing.T) {
	boom := errors.New("connection reset")
	src := &fakeCirculars{
		circulars:  map[int64]*models.Circular{42: publishedCircular(42, 12, "Assemblea")},
		recipients: map[int64][]int64{42: {5}},
		fail:       map[int64]error{43: boom},
	}
	bus := &fakeBus{}
	d := NewCircularDispatcher(src, bus, 10)

	ok, bad := &fakeAck{}, &fakeAck{}
	d.Handle(context.Background(), messages.NewCircularMessage(42), ok)
	d.Handle(context.Background(), messages.NewCircularMessage(43), bad)
	d.Flush(context.Background())

	assert.Equal(t, 1, ok.acked)
	assert.Equal(t, 0, bad.acked)
	assert.ErrorIs(t, bad.nacked, boom)
	require.Len(t, bus.sent, 1)
	assert.Equal(t, "<!CIRCOLARE!><!42!>", bus.sent[0].Tag())
}

func TestCircularDispatcher_ShouldFlushAtThreshold(t *testing.T) {
	d := NewCircularDispatcher(&fakeCirculars{}, &fakeBus{}, 0)
	for i := 1; i < DefaultCircularBatch; i++ {
		d.Handle(context.Background(), messages.NewCircularMessage(int64(i)), &fakeAck{})
		assert.False(t, d.ShouldFlush(), "after %d jobs", i)
	}
	d.Handle(context.Background(), messages.NewCircularMessage(10), &fakeAck{})
	assert.True(t, d.ShouldFlush())

	d.Flush(context.Background())
	assert.Equal(t, 0, d.Pending())
	assert.False(t, d.ShouldFlush())
}

func TestCircularDispatcher_RejectsForeignMessage(t *testing.T) {
	d := NewCircularDispatcher(&fakeCirculars{}, &fakeBus{}, 10)
	ack := &fakeAck{}
	d.Handle(context.Background(), messages.NewNoticeMessage(1), ack)
	assert.Error(t, ack.nacked)
	assert.Equal(t, 0, d.Pending())
}

// ---------------------------------------------------------------------------
// NoticeDispatcher
// ---------------------------------------------------------------------------

func TestNoticeDispatcher_OneNotificationPerRecipient(t *testing.T) {
	src := &fakeNotices{
		notices: map[int64]*models.Notice{
			7: {ID: 7, Kind: models.NoticeGeneric, Title: "Uscita anticipata", Text: "Le classi escono alle 12",
				Date: circularDate, Status: models.StatusPublished, Attachments: models.StringList{"orario.pdf"}},
		},
		recipients: map[int64][]int64{7: {5, 6, 5}},
	}
	bus := &fakeBus{}
	d := NewNoticeDispatcher(src, bus)

	require.NoError(t, d.Handle(context.Background(), messages.NewNoticeMessage(7)))
	require.Len(t, bus.sent, 2)
	n := bus.forUser(5)
	assert.Equal(t, messages.TypeNotice, n.Type)
	assert.Equal(t, "<!AVVISO!><!7!>", n.Tag())
	assert.Equal(t, "Uscita anticipata", n.First()["oggetto"])
	assert.Equal(t, "Le classi escono alle 12", n.First()["testo"])
	assert.Equal(t, []string{"orario.pdf"}, n.First()["allegati"])
}

func TestNoticeDispatcher_EventTypeFollowsKind(t *testing.T) {
	src := &fakeNotices{
		notices: map[int64]*models.Notice{
			8: {ID: 8, Kind: models.NoticeTest, Title: "Verifica di matematica", Date: circularDate, Status: models.StatusPublished},
			9: {ID: 9, Kind: models.NoticeHomework, Title: "Esercizi", Date: circularDate, Status: models.StatusPublished},
		},
		recipients: map[int64][]int64{8: {5}, 9: {5}},
	}
	bus := &fakeBus{}
	d := NewNoticeDispatcher(src, bus)

	require.NoError(t, d.Handle(context.Background(), messages.NewEventMessage(8)))
	require.NoError(t, d.Handle(context.Background(), messages.NewEventMessage(9)))
	require.Len(t, bus.sent, 2)
	assert.Equal(t, messages.TypeTest, bus.sent[0].Type)
	assert.Equal(t, "<!EVENTO!><!8!>", bus.sent[0].Tag())
	assert.Equal(t, messages.TypeHomework, bus.sent[1].Type)
}

func TestNoticeDispatcher_UnpublishedIsIgnored(t *testing.T) {
	src := &fakeNotices{
		notices:    map[int64]*models.Notice{7: {ID: 7, Status: models.StatusDraft}},
		recipients: map[int64][]int64{7: {5}},
	}
	bus := &fakeBus{}
	require.NoError(t, NewNoticeDispatcher(src, bus).Handle(context.Background(), messages.NewNoticeMessage(7)))
	assert.Empty(t, bus.sent)
}

func TestNoticeDispatcher_DispatchErrorIsReturned(t *testing.T) {
	src := &fakeNotices{
		notices:    map[int64]*models.Notice{7: {ID: 7, Title: "x", Date: circularDate, Status: models.StatusPublished}},
		recipients: map[int64][]int64{7: {5}},
	}
	bus := &fakeBus{err: errors.New("db down")}
	assert.Error(t, NewNoticeDispatcher(src, bus).Handle(context.Background(), messages.NewNoticeMessage(7)))
}
