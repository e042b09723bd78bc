// listener.go captures entity mutations from unit-of-work commits and turns
// them into audit records.
package audit

import (
	"context"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/db/schema"
	"github.com/school-registry/registro/internal/db/uow"
	"github.com/school-registry/registro/internal/requestctx"
	"github.com/school-registry/registro/internal/telemetry"
)

// ExcludedEntities lists the types whose mutations are never audited: the
// audit rows themselves plus high-volume or bridge-owned tables.
var ExcludedEntities = []schema.Entity{
	&models.AuditLog{},
	&models.LessonAbsence{},
	&models.CircularClass{},
	&models.CircularRecipient{},
	&models.Provisioning{},
	&models.FederatedLogin{},
}

// ExcludedFields are never part of a snapshot nor count as a change.
var ExcludedFields = []string{"id", "created_at", "updated_at"}

// Record is one captured mutation waiting to be persisted.
type Record struct {
	Operation  models.Operation
	EntityType string
	EntityID   int64
	Snapshot   map[string]any
	Request    requestctx.Info
	At         time.Time
}

type pendingCreate struct {
	entity  schema.Entity
	desc    *schema.Descriptor
	request requestctx.Info
}

// Listener implements uow.Hooks. One listener serves one request or command;
// it is not meant to be shared across goroutines handling different requests.
type Listener struct {
	schema   *schema.Registry
	snap     *Snapshotter
	excluded map[reflect.Type]bool
	now      func() time.Time

	mu           sync.Mutex
	suspended    int
	pending      []pendingCreate
	records      []Record
	attemptStart int
}

var _ uow.Hooks = (*Listener)(nil)

// NewListener creates a listener that skips ExcludedEntities.
func NewListener(reg *schema.Registry) *Listener {
	excluded := make(map[reflect.Type]bool, len(ExcludedEntities))
	for _, e := range ExcludedEntities {
		excluded[reflect.TypeOf(e)] = true
	}
	return &Listener{
		schema:   reg,
		snap:     NewSnapshotter(reg),
		excluded: excluded,
		now:      time.Now,
	}
}

// Suspend disables capture until the matching Resume. Calls nest.
func (l *Listener) Suspend() {
	l.mu.Lock()
	l.suspended++
	l.mu.Unlock()
}

// Resume re-enables capture after Suspend.
func (l *Listener) Resume() {
	l.mu.Lock()
	if l.suspended > 0 {
		l.suspended--
	}
	l.mu.Unlock()
}

// Suspended reports whether capture is currently disabled.
func (l *Listener) Suspended() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.suspended > 0
}

// WithoutCapture runs fn with capture suspended. Capture is resumed on every
// exit path, panics included.
func (l *Listener) WithoutCapture(fn func() error) error {
	l.Suspend()
	defer l.Resume()
	return fn()
}

func (l *Listener) tracked(e schema.Entity) (*schema.Descriptor, bool) {
	if e == nil || l.excluded[reflect.TypeOf(e)] {
		return nil, false
	}
	return l.schema.Lookup(e)
}

// OnStagedChanges records deletions and updates immediately and remembers
// insertions until their identifiers are known.
func (l *Listener) OnStagedChanges(ctx context.Context, staged uow.Staged) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.suspended > 0 {
		return
	}
	l.attemptStart = len(l.records)

	var info *requestctx.Info
	request := func() requestctx.Info {
		if info == nil {
			i := requestctx.From(ctx)
			info = &i
		}
		return *info
	}
	now := l.now()

	for _, e := range staged.Insertions {
		d, ok := l.tracked(e)
		if !ok {
			continue
		}
		l.pending = append(l.pending, pendingCreate{entity: e, desc: d, request: request()})
	}

	for _, up := range staged.Updates {
		d, ok := l.tracked(up.Entity)
		if !ok {
			continue
		}
		changed := withoutExcluded(up.Changed)
		if len(changed) == 0 {
			continue
		}
		l.records = append(l.records, Record{
			Operation:  models.OperationUpdate,
			EntityType: d.Name,
			EntityID:   up.Entity.EntityID(),
			Snapshot:   l.snap.Snapshot(up.Entity, changed),
			Request:    request(),
			At:         now,
		})
	}

	for _, e := range staged.Deletions {
		d, ok := l.tracked(e)
		if !ok {
			continue
		}
		l.records = append(l.records, Record{
			Operation:  models.OperationDelete,
			EntityType: d.Name,
			EntityID:   e.EntityID(),
			Snapshot:   map[string]any{},
			Request:    request(),
			At:         now,
		})
	}
}

// OnCommitted resolves pending creations now that their identifiers exist.
func (l *Listener) OnCommitted(_ context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.suspended > 0 {
		return
	}
	now := l.now()
	for _, p := range l.pending {
		l.records = append(l.records, Record{
			Operation:  models.OperationCreate,
			EntityType: p.desc.Name,
			EntityID:   p.entity.EntityID(),
			Snapshot:   l.snap.Snapshot(p.entity, withoutExcluded(p.desc.PersistedFields())),
			Request:    p.request,
			At:         now,
		})
	}
	l.pending = nil
	l.attemptStart = len(l.records)
}

// OnRolledBack drops everything captured for the failed commit attempt.
func (l *Listener) OnRolledBack(_ context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.suspended > 0 {
		return
	}
	l.pending = nil
	if l.attemptStart < len(l.records) {
		l.records = l.records[:l.attemptStart]
	}
	telemetry.AuditRecordsDiscardedTotal.Inc()
}

// Drain returns the completed records and clears the queue.
func (l *Listener) Drain() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.records
	l.records = nil
	l.attemptStart = 0
	return out
}

func withoutExcluded(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(ExcludedFields, f) {
			out = append(out, f)
		}
	}
	return out
}
