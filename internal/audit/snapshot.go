package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/school-registry/registro/internal/db/schema"
)

// TimestampLayout is the fixed format used for date values in snapshots.
const TimestampLayout = "2006-01-02 15:04:05"

// Snapshotter renders entity fields into flat JSON-safe values.
type Snapshotter struct {
	schema *schema.Registry
	logger *slog.Logger
}

// NewSnapshotter creates a new Snapshotter
func NewSnapshotter(reg *schema.Registry) *Snapshotter {
	return &Snapshotter{schema: reg, logger: slog.With("component", "audit.snapshot")}
}

// Snapshot returns the named fields of e. Fields that cannot be read (unknown
// name, accessor error or panic) are recorded as nil.
func (s *Snapshotter) Snapshot(e schema.Entity, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	d, ok := s.schema.Lookup(e)
	if !ok {
		for _, name := range fields {
			out[name] = nil
		}
		return out
	}
	for _, name := range fields {
		f, ok := d.Field(name)
		if !ok {
			out[name] = nil
			continue
		}
		v, err := read(f, e)
		if err != nil {
			s.logger.Debug("snapshot field unreadable", "entity", d.Name, "field", name, "error", err)
			out[name] = nil
			continue
		}
		out[name] = flatten(v)
	}
	return out
}

func read(f schema.Field, e schema.Entity) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("accessor panicked: %v", r)
		}
	}()
	return f.Get(e)
}

// flatten applies the snapshot value rules. Dates are checked before the
// generic object branch.
func flatten(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.Format(TimestampLayout)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.Format(TimestampLayout)
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return x
	case []string, []int64, []int, []any, map[string]any:
		return x
	case []schema.Entity:
		ids := make([]int64, 0, len(x))
		for _, e := range x {
			if e == nil || isNil(e) {
				continue
			}
			ids = append(ids, e.EntityID())
		}
		return ids
	case schema.Entity:
		if isNil(x) {
			return nil
		}
		return x.EntityID()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return flatten(rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String && rv.Type().Elem().Kind() == reflect.Interface {
			return rv.Convert(reflect.TypeOf(map[string]any{})).Interface()
		}
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.String {
			return rv.Convert(reflect.TypeOf([]string{})).Interface()
		}
		if rv.Type().Elem().Implements(entityType) {
			ids := make([]int64, 0, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				e := rv.Index(i).Interface().(schema.Entity)
				if isNil(e) {
					continue
				}
				ids = append(ids, e.EntityID())
			}
			return ids
		}
	case reflect.String:
		return rv.String()
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(raw)
}

var entityType = reflect.TypeOf((*schema.Entity)(nil)).Elem()

func isNil(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
