// Package schema holds the static field-descriptor tables for every persisted
// entity type. Tables are built once at startup and are read-only afterwards;
// the unit of work uses them to build SQL and the audit snapshotter uses them
// to read field values without runtime name-based dispatch.
package schema

import (
	"fmt"
	"reflect"
	"time"
)

// Entity is implemented by every persisted domain object.
type Entity interface {
	EntityID() int64
	SetEntityID(id int64)
}

// Field describes one persisted attribute of an entity type.
type Field struct {
	// Name is the logical field name used in audit snapshots.
	Name string
	// Column is the table column; empty for associations stored elsewhere.
	Column string
	// Get reads the current value. It may return an error or panic; callers
	// that must not fail (the audit snapshotter) recover both.
	Get func(Entity) (any, error)
}

// Descriptor is the ordered field table of one entity type.
type Descriptor struct {
	Name   string
	Table  string
	Fields []Field

	typ reflect.Type
}

// Type returns the Go type the descriptor was registered for.
func (d *Descriptor) Type() reflect.Type {
	return d.typ
}

// Field returns the named field.
func (d *Descriptor) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// PersistedFields returns every persistable field name (columns and associations)
// in declaration order.
func (d *Descriptor) PersistedFields() []string {
	names := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Columns returns the fields stored on the entity's own row, excluding "id".
func (d *Descriptor) Columns() []Field {
	cols := make([]Field, 0, len(d.Fields))
	for _, f := range d.Fields {
		if f.Column == "" || f.Column == "id" {
			continue
		}
		cols = append(cols, f)
	}
	return cols
}

// Column builds a typed accessor for a value stored on the entity row.
func Column[T Entity](name, column string, get func(T) any) Field {
	return Field{
		Name:   name,
		Column: column,
		Get: func(e Entity) (any, error) {
			t, ok := e.(T)
			if !ok {
				return nil, fmt.Errorf("field %s: unexpected entity type %T", name, e)
			}
			return get(t), nil
		},
	}
}

// Association builds a typed accessor for a relation that is not stored on
// the entity row (a collection or an inverse reference).
func Association[T Entity](name string, get func(T) (any, error)) Field {
	return Field{
		Name: name,
		Get: func(e Entity) (any, error) {
			t, ok := e.(T)
			if !ok {
				return nil, fmt.Errorf("field %s: unexpected entity type %T", name, e)
			}
			return get(t)
		},
	}
}

// Registry maps Go types to their descriptors.
type Registry struct {
	byType map[reflect.Type]*Descriptor
	byName map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]*Descriptor),
		byName: make(map[string]*Descriptor),
	}
}

// Register adds the descriptor for the type of sample. It panics on duplicate
// registration because registries are only built during startup.
func (r *Registry) Register(sample Entity, name, table string, fields ...Field) *Descriptor {
	typ := reflect.TypeOf(sample)
	if _, dup := r.byType[typ]; dup {
		panic(fmt.Sprintf("schema: type %s registered twice", typ))
	}
	d := &Descriptor{Name: name, Table: table, Fields: fields, typ: typ}
	r.byType[typ] = d
	r.byName[name] = d
	return d
}

// Lookup returns the descriptor for the dynamic type of e.
func (r *Registry) Lookup(e Entity) (*Descriptor, bool) {
	d, ok := r.byType[reflect.TypeOf(e)]
	return d, ok
}

// ByName returns the descriptor registered under name.
func (r *Registry) ByName(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Stamped is implemented by entities whose created/updated timestamps are
// maintained by the persistence layer.
type Stamped interface {
	Stamp(now time.Time, created bool)
}
