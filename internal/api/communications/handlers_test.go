package communications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/db/uow"
	"github.com/school-registry/registro/internal/messages"
	"github.com/school-registry/registro/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type fakeStore struct {
	circulars map[int64]*models.Circular
	notices   map[int64]*models.Notice
	err       error
}

func (s *fakeStore) GetCircular(_ context.Context, id int64) (*models.Circular, error) {
	return s.circulars[id], s.err
}

func (s *fakeStore) GetNotice(_ context.Context, id int64) (*models.Notice, error) {
	return s.notices[id], s.err
}

type dispatched struct {
	msg     queue.Message
	options int
}

type fakeBus struct {
	sent []dispatched
	err  error
}

func (b *fakeBus) Dispatch(_ context.Context, msg queue.Message, opts ...queue.DispatchOption) error {
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, dispatched{msg: msg, options: len(opts)})
	return nil
}

type fakeTags struct {
	pending     map[string]string
	deleted     []string
	rescheduled []string
	err         error
}

func (t *fakeTags) DeleteByTag(_ context.Context, tag string) (int64, error) {
	if t.err != nil {
		return 0, t.err
	}
	t.deleted = append(t.deleted, tag)
	if _, ok := t.pending[tag]; ok {
		delete(t.pending, tag)
		return 1, nil
	}
	return 0, nil
}

func (t *fakeTags) RescheduleByTag(_ context.Context, tag, queueName string, _ time.Time) (int64, error) {
	if t.err != nil {
		return 0, t.err
	}
	if t.pending[tag] != queueName {
		return 0, nil
	}
	t.rescheduled = append(t.rescheduled, tag)
	return 1, nil
}

type fixture struct {
	mock  sqlmock.Sqlmock
	store *fakeStore
	bus   *fakeBus
	tags  *fakeTags
	r     *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		mock:  mock,
		store: &fakeStore{circulars: map[int64]*models.Circular{}, notices: map[int64]*models.Notice{}},
		bus:   &fakeBus{},
		tags:  &fakeTags{pending: map[string]string{}},
	}
	m := uow.NewManager(sqlx.NewDb(db, "sqlmock"), models.NewSchema())
	h := NewHandlers(m, f.store, f.store, f.bus, f.tags, messages.Routes(), 1800)

	f.r = gin.New()
	h.RegisterRoutes(f.r.Group("/circulars"), f.r.Group("/notices"))
	return f
}

func (f *fixture) post(path string) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func (f *fixture) expectStatusUpdate(table string) {
	f.mock.ExpectBegin()
	f.mock.ExpectExec(regexp.QuoteMeta("UPDATE " + table + " SET status = $1, updated_at = $2 WHERE id = $3")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
}

// ---------------------------------------------------------------------------
// PublishCircular
// ---------------------------------------------------------------------------

func TestPublishCircular_CommitsThenQueues(t *testing.T) {
	f := newFixture(t)
	f.store.circulars[42] = &models.Circular{ID: 42, Title: "Assemblea", Status: models.StatusDraft}
	f.expectStatusUpdate("circulars")

	w, body := f.post("/circulars/42/publish")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusPublished, body["status"])
	assert.Equal(t, true, body["notification_queued"])
	require.Len(t, f.bus.sent, 1)
	assert.Equal(t, "<!CIRCOLARE!><!42!>", f.bus.sent[0].msg.Tag())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestPublishCircular_QueueFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.store.circulars[42] = &models.Circular{ID: 42, Status: models.StatusDraft}
	f.bus.err = errors.New("db down")
	f.expectStatusUpdate("circulars")

	w, body := f.post("/circulars/42/publish")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["notification_queued"])
}

func TestPublishCircular_Rejections(t *testing.T) {
	f := newFixture(t)
	f.store.circulars[7] = &models.Circular{ID: 7, Status: models.StatusPublished}

	tests := []struct {
		path string
		want int
	}{
		{"/circulars/abc/publish", http.StatusBadRequest},
		{"/circulars/0/publish", http.StatusBadRequest},
		{"/circulars/99/publish", http.StatusNotFound},
		{"/circulars/7/publish", http.StatusConflict},
	}
	for _, tt := range tests {
		w, _ := f.post(tt.path)
		assert.Equal(t, tt.want, w.Code, tt.path)
	}
	assert.Empty(t, f.bus.sent)
}

func TestPublishCircular_CommitFailure(t *testing.T) {
	f := newFixture(t)
	f.store.circulars[42] = &models.Circular{ID: 42, Status: models.StatusDraft}
	f.mock.ExpectBegin()
	f.mock.ExpectExec("UPDATE circulars").WillReturnError(errors.New("deadlock"))
	f.mock.ExpectRollback()

	w, _ := f.post("/circulars/42/publish")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, f.bus.sent)
}

func TestPublishCircular_LookupFailure(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("db down")

	w, _ := f.post("/circulars/42/publish")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// ---------------------------------------------------------------------------
// RetractCircular
// ---------------------------------------------------------------------------

func TestRetractCircular_DropsPendingNotification(t *testing.T) {
	f := newFixture(t)
	f.store.circulars[42] = &models.Circular{ID: 42, Status: models.StatusPublished}
	f.tags.pending["<!CIRCOLARE!><!42!>"] = messages.QueueCircular
	f.expectStatusUpdate("circulars")

	w, body := f.post("/circulars/42/retract")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusDraft, body["status"])
	assert.Equal(t, true, body["notification_cancelled"])
	assert.Equal(t, []string{"<!CIRCOLARE!><!42!>"}, f.tags.deleted)
	assert.Empty(t, f.tags.pending)
}

func TestRetractCircular_DraftIsConflict(t *testing.T) {
	f := newFixture(t)
	f.store.circulars[42] = &models.Circular{ID: 42, Status: models.StatusDraft}

	w, _ := f.post("/circulars/42/retract")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, f.tags.deleted)
}

func TestRetractCircular_TagFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.store.circulars[42] = &models.Circular{ID: 42, Status: models.StatusPublished}
	f.tags.err = errors.New("db down")
	f.expectStatusUpdate("circulars")

	w, body := f.post("/circulars/42/retract")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["notification_cancelled"])
}

// ---------------------------------------------------------------------------
// NotifyNotice
// ---------------------------------------------------------------------------

func TestNotifyNotice_FirstCallQueuesWithDelay(t *testing.T) {
	f := newFixture(t)
	f.store.notices[7] = &models.Notice{ID: 7, Kind: models.NoticeGeneric, Status: models.StatusPublished}

	w, body := f.post("/notices/7/notify")

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, false, body["rescheduled"])
	assert.Equal(t, "<!AVVISO!><!7!>", body["tag"])
	require.Len(t, f.bus.sent, 1)
	assert.Equal(t, messages.KindNotice, f.bus.sent[0].msg.Kind())
	assert.Equal(t, 1, f.bus.sent[0].options, "dispatch carries the delay")
}

func TestNotifyNotice_PendingNotificationIsPostponed(t *testing.T) {
	f := newFixture(t)
	f.store.notices[7] = &models.Notice{ID: 7, Kind: models.NoticeGeneric, Status: models.StatusPublished}
	f.tags.pending["<!AVVISO!><!7!>"] = messages.QueueNotice

	w, body := f.post("/notices/7/notify")

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, body["rescheduled"])
	assert.Equal(t, []string{"<!AVVISO!><!7!>"}, f.tags.rescheduled)
	assert.Empty(t, f.bus.sent)
}

func TestNotifyNotice_EventUsesEventQueue(t *testing.T) {
	f := newFixture(t)
	f.store.notices[8] = &models.Notice{ID: 8, Kind: models.NoticeTest, Status: models.StatusPublished}
	f.tags.pending["<!EVENTO!><!8!>"] = messages.QueueEvent

	w, body := f.post("/notices/8/notify")

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "<!EVENTO!><!8!>", body["tag"])
	assert.Equal(t, true, body["rescheduled"])
}

func TestNotifyNotice_Rejections(t *testing.T) {
	f := newFixture(t)
	f.store.notices[5] = &models.Notice{ID: 5, Status: models.StatusDraft}

	w, _ := f.post("/notices/5/notify")
	assert.Equal(t, http.StatusConflict, w.Code)
	w, _ = f.post("/notices/6/notify")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, f.bus.sent)
}

func TestNotifyNotice_DispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.store.notices[7] = &models.Notice{ID: 7, Status: models.StatusPublished}
	f.bus.err = errors.New("db down")

	w, _ := f.post("/notices/7/notify")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
