// Package uow implements the unit of work used by every write path: it tracks
// loaded, new and removed entities, computes the per-entity change sets, and
// flushes them in one transaction. Registered hooks observe the two phases of
// each commit: OnStagedChanges before the transaction runs (what will change)
// and OnCommitted after it succeeded (new rows now have their identifiers).
package uow

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/school-registry/registro/internal/db/schema"
)

// Update is one entity scheduled for update together with its changed fields.
type Update struct {
	Entity  schema.Entity
	Changed []string
}

// Staged is the set of changes a commit is about to write.
type Staged struct {
	Insertions []schema.Entity
	Updates    []Update
	Deletions  []schema.Entity
}

// Len returns the number of affected entities.
func (s Staged) Len() int {
	return len(s.Insertions) + len(s.Updates) + len(s.Deletions)
}

// Hooks observe the commit lifecycle.
type Hooks interface {
	OnStagedChanges(ctx context.Context, staged Staged)
	OnCommitted(ctx context.Context)
	OnRolledBack(ctx context.Context)
}

type hooksKey struct{}

// WithHooks attaches commit hooks to ctx; every unit of work begun from the
// returned context reports to them.
func WithHooks(ctx context.Context, h Hooks) context.Context {
	return context.WithValue(ctx, hooksKey{}, h)
}

// HooksFrom returns the hooks attached to ctx, or nil.
func HooksFrom(ctx context.Context) Hooks {
	h, _ := ctx.Value(hooksKey{}).(Hooks)
	return h
}

// Manager creates units of work bound to one database and schema.
type Manager struct {
	db     *sqlx.DB
	schema *schema.Registry
	now    func() time.Time
}

// NewManager creates a new Manager
func NewManager(db *sqlx.DB, reg *schema.Registry) *Manager {
	return &Manager{db: db, schema: reg, now: time.Now}
}

// Schema returns the descriptor registry.
func (m *Manager) Schema() *schema.Registry {
	return m.schema
}

// DB returns the underlying connection pool for read queries.
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// Begin starts a unit of work using the hooks attached to ctx.
func (m *Manager) Begin(ctx context.Context) *UnitOfWork {
	return &UnitOfWork{
		db:       m.db,
		schema:   m.schema,
		hooks:    HooksFrom(ctx),
		now:      m.now,
		original: make(map[schema.Entity]map[string]any),
	}
}

// UnitOfWork collects changes until Commit.
type UnitOfWork struct {
	db     *sqlx.DB
	schema *schema.Registry
	hooks  Hooks
	now    func() time.Time

	tracked  []schema.Entity
	original map[schema.Entity]map[string]any
	inserts  []schema.Entity
	deletes  []schema.Entity
}

// Track registers a loaded entity so that later modifications are detected.
func (u *UnitOfWork) Track(e schema.Entity) error {
	d, ok := u.schema.Lookup(e)
	if !ok {
		return fmt.Errorf("uow: no descriptor for %T", e)
	}
	if _, seen := u.original[e]; !seen {
		u.tracked = append(u.tracked, e)
	}
	u.original[e] = columnValues(d, e)
	return nil
}

// Insert schedules a new entity for insertion.
func (u *UnitOfWork) Insert(e schema.Entity) error {
	if _, ok := u.schema.Lookup(e); !ok {
		return fmt.Errorf("uow: no descriptor for %T", e)
	}
	u.inserts = append(u.inserts, e)
	return nil
}

// Delete schedules a tracked or detached entity for deletion.
func (u *UnitOfWork) Delete(e schema.Entity) error {
	if _, ok := u.schema.Lookup(e); !ok {
		return fmt.Errorf("uow: no descriptor for %T", e)
	}
	if e.EntityID() == 0 {
		return fmt.Errorf("uow: cannot delete unsaved %T", e)
	}
	u.deletes = append(u.deletes, e)
	return nil
}

// ChangedFields returns the names of the columns of a tracked entity whose
// current value differs from the value seen at Track time.
func (u *UnitOfWork) ChangedFields(e schema.Entity) []string {
	before, ok := u.original[e]
	if !ok {
		return nil
	}
	d, _ := u.schema.Lookup(e)
	after := columnValues(d, e)
	var changed []string
	for _, f := range d.Fields {
		if f.Column == "" {
			continue
		}
		if !sameValue(before[f.Name], after[f.Name]) {
			changed = append(changed, f.Name)
		}
	}
	return changed
}

func (u *UnitOfWork) stage() Staged {
	var s Staged
	s.Insertions = append(s.Insertions, u.inserts...)
	deleted := make(map[schema.Entity]bool, len(u.deletes))
	for _, e := range u.deletes {
		deleted[e] = true
	}
	for _, e := range u.tracked {
		if deleted[e] {
			continue
		}
		if changed := u.ChangedFields(e); len(changed) > 0 {
			s.Updates = append(s.Updates, Update{Entity: e, Changed: changed})
		}
	}
	s.Deletions = append(s.Deletions, u.deletes...)
	return s
}

// Commit writes every pending change in a single transaction. Hooks see the
// staged changes before the transaction starts and are told about the outcome
// once it ends.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	staged := u.stage()
	if staged.Len() == 0 {
		return nil
	}
	if u.hooks != nil {
		u.hooks.OnStagedChanges(ctx, staged)
	}

	if err := u.flush(ctx, staged); err != nil {
		if u.hooks != nil {
			u.hooks.OnRolledBack(ctx)
		}
		return err
	}

	for _, e := range staged.Deletions {
		delete(u.original, e)
	}
	u.tracked = u.tracked[:0]
	for e := range u.original {
		u.tracked = append(u.tracked, e)
	}
	for _, e := range staged.Insertions {
		u.tracked = append(u.tracked, e)
	}
	for _, e := range u.tracked {
		d, _ := u.schema.Lookup(e)
		u.original[e] = columnValues(d, e)
	}
	u.inserts = nil
	u.deletes = nil

	if u.hooks != nil {
		u.hooks.OnCommitted(ctx)
	}
	return nil
}

func (u *UnitOfWork) flush(ctx context.Context, staged Staged) (err error) {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("uow: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := u.now()
	for _, e := range staged.Insertions {
		if s, ok := e.(schema.Stamped); ok {
			s.Stamp(now, true)
		}
		d, _ := u.schema.Lookup(e)
		if err = insert(ctx, tx, d, e); err != nil {
			return err
		}
	}
	for _, up := range staged.Updates {
		columns := up.Changed
		if s, ok := up.Entity.(schema.Stamped); ok {
			s.Stamp(now, false)
			if _, has := u.mustLookup(up.Entity).Field("updated_at"); has {
				columns = appendMissing(columns, "updated_at")
			}
		}
		if err = update(ctx, tx, u.mustLookup(up.Entity), up.Entity, columns); err != nil {
			return err
		}
	}
	for _, e := range staged.Deletions {
		d := u.mustLookup(e)
		if _, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, d.Table), e.EntityID()); err != nil {
			return fmt.Errorf("uow: delete %s %d: %w", d.Name, e.EntityID(), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("uow: commit: %w", err)
	}
	return nil
}

func (u *UnitOfWork) mustLookup(e schema.Entity) *schema.Descriptor {
	d, _ := u.schema.Lookup(e)
	return d
}

func insert(ctx context.Context, tx *sqlx.Tx, d *schema.Descriptor, e schema.Entity) error {
	cols := d.Columns()
	names := make([]string, 0, len(cols))
	holders := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for i, f := range cols {
		v, err := f.Get(e)
		if err != nil {
			return fmt.Errorf("uow: read %s.%s: %w", d.Name, f.Name, err)
		}
		names = append(names, f.Column)
		holders = append(holders, fmt.Sprintf("$%d", i+1))
		args = append(args, sqlArg(v))
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING id`,
		d.Table, strings.Join(names, ", "), strings.Join(holders, ", "))

	var id int64
	if err := tx.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return fmt.Errorf("uow: insert %s: %w", d.Name, err)
	}
	e.SetEntityID(id)
	return nil
}

func update(ctx context.Context, tx *sqlx.Tx, d *schema.Descriptor, e schema.Entity, fields []string) error {
	sets := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for _, name := range fields {
		f, ok := d.Field(name)
		if !ok || f.Column == "" {
			continue
		}
		v, err := f.Get(e)
		if err != nil {
			return fmt.Errorf("uow: read %s.%s: %w", d.Name, f.Name, err)
		}
		args = append(args, sqlArg(v))
		sets = append(sets, fmt.Sprintf("%s = $%d", f.Column, len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, e.EntityID())
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d`, d.Table, strings.Join(sets, ", "), len(args))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("uow: update %s %d: %w", d.Name, e.EntityID(), err)
	}
	return nil
}

// columnValues reads every column of e, normalised for comparison.
// Accessor failures are recorded as nil so change detection never fails.
func columnValues(d *schema.Descriptor, e schema.Entity) map[string]any {
	out := make(map[string]any, len(d.Fields))
	for _, f := range d.Fields {
		if f.Column == "" {
			continue
		}
		v, err := safeGet(f, e)
		if err != nil {
			v = nil
		}
		out[f.Name] = normalize(v)
	}
	return out
}

func safeGet(f schema.Field, e schema.Entity) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic reading %s: %v", f.Name, r)
		}
	}()
	return f.Get(e)
}

// normalize replaces entity references with their id and dereferences pointers.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	if ent, ok := v.(schema.Entity); ok {
		if isNilPointer(ent) {
			return nil
		}
		return ent.EntityID()
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	}
	return v
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

func sameValue(a, b any) bool {
	ta, okA := a.(time.Time)
	tb, okB := b.(time.Time)
	if okA || okB {
		return okA && okB && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

func sqlArg(v any) any {
	v = normalize(v)
	if s, ok := v.([]string); ok {
		return pq.StringArray(s)
	}
	return v
}

func appendMissing(list []string, name string) []string {
	for _, n := range list {
		if n == name {
			return list
		}
	}
	out := make([]string, len(list), len(list)+1)
	copy(out, list)
	return append(out, name)
}
