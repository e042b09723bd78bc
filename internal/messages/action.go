package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// User classes an action can target.
const (
	ClassTeacher = "Docente"
	ClassStudent = "Alunno"
	ClassStaff   = "Ata"
)

// Companion keys required in an action payload.
const (
	CompanionTeaching = "Cattedra"
	CompanionClass    = "Classe"
)

// ErrUndefinedAction marks an action message built for a (class, action) pair the
// policy does not allow, or without the companion reference the pair requires.
var ErrUndefinedAction = errors.New("undefined action")

// ConfigError is returned by NewActionMessage for an invalid construction.
type ConfigError struct {
	Class  string
	Action string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("Undefined action in message constructor: %q", e.Class+"."+e.Action)
}

func (e *ConfigError) Unwrap() error { return ErrUndefinedAction }

// ActionPolicy is the allow-list of (class, action) pairs. Each pair maps to the payload
// key that must be present, or to "" when no companion reference is needed.
// A policy is immutable once built.
type ActionPolicy struct {
	rules map[string]map[string]string
}

// NewActionPolicy builds a policy from a copy of rules.
func NewActionPolicy(rules map[string]map[string]string) *ActionPolicy {
	p := &ActionPolicy{rules: make(map[string]map[string]string, len(rules))}
	for class, actions := range rules {
		p.rules[class] = maps.Clone(actions)
	}
	return p
}

// DefaultActionPolicy returns the user-lifecycle actions handled by the registry.
func DefaultActionPolicy() *ActionPolicy {
	return NewActionPolicy(map[string]map[string]string{
		ClassTeacher: {
			"add":                "",
			"addCattedra":        CompanionTeaching,
			"removeCattedra":     CompanionTeaching,
			"addCoordinatore":    CompanionClass,
			"removeCoordinatore": CompanionClass,
		},
		ClassStudent: {
			"add":          "",
			"addClasse":    CompanionClass,
			"removeClasse": CompanionClass,
		},
		ClassStaff: {
			"add": "",
		},
	})
}

// Companion returns the required payload key for the pair and whether the pair exists.
func (p *ActionPolicy) Companion(class, action string) (string, bool) {
	key, ok := p.rules[class][action]
	return key, ok
}

// ActionMessage is a user-lifecycle event. It is one of TeacherAction, StudentAction
// or StaffAction.
type ActionMessage interface {
	Kind() string
	Tag() string
	UserID() int64
	Class() string
	Action() string
	Data() map[string]any

	actionVariant()
}

// NewActionMessage validates (class, action) against policy and builds the variant
// for class. The payload must contain the companion key the pair requires.
func NewActionMessage(policy *ActionPolicy, userID int64, class, action string, data map[string]any) (ActionMessage, error) {
	key, ok := policy.Companion(class, action)
	if !ok {
		return nil, &ConfigError{Class: class, Action: action}
	}
	var ref int64
	if key != "" {
		if ref, ok = refID(data[key]); !ok {
			return nil, &ConfigError{Class: class, Action: action}
		}
	}
	return buildAction(userID, class, action, key, ref)
}

func buildAction(userID int64, class, action, key string, ref int64) (ActionMessage, error) {
	base := actionBase{userID: userID, action: action}
	switch class {
	case ClassTeacher:
		a := TeacherAction{actionBase: base}
		switch key {
		case CompanionTeaching:
			a.TeachingID = ref
		case CompanionClass:
			a.ClassID = ref
		}
		return a, nil
	case ClassStudent:
		return StudentAction{actionBase: base, ClassID: ref}, nil
	case ClassStaff:
		return StaffAction{actionBase: base}, nil
	}
	return nil, &ConfigError{Class: class, Action: action}
}

func refID(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), n > 0
	case int64:
		return n, n > 0
	case float64:
		return int64(n), n > 0 && n == float64(int64(n))
	case json.Number:
		id, err := n.Int64()
		return id, err == nil && id > 0
	}
	return 0, false
}

func actionTag(class, action string, userID int64) string {
	return fmt.Sprintf("<!AZIONE!><!%s.%s.%d!>", class, action, userID)
}

type actionBase struct {
	userID int64
	action string
}

func (a actionBase) UserID() int64  { return a.userID }
func (a actionBase) Action() string { return a.action }
func (actionBase) Kind() string     { return KindAction }
func (actionBase) actionVariant()   {}

// TeacherAction targets a teacher account. TeachingID is set for addCattedra and
// removeCattedra, ClassID for addCoordinatore and removeCoordinatore.
type TeacherAction struct {
	actionBase
	TeachingID int64
	ClassID    int64
}

func (a TeacherAction) Class() string { return ClassTeacher }
func (a TeacherAction) Tag() string   { return actionTag(ClassTeacher, a.action, a.userID) }

func (a TeacherAction) Data() map[string]any {
	data := map[string]any{}
	if a.TeachingID != 0 {
		data[CompanionTeaching] = a.TeachingID
	}
	if a.ClassID != 0 {
		data[CompanionClass] = a.ClassID
	}
	return data
}

func (a TeacherAction) MarshalJSON() ([]byte, error) { return marshalAction(a) }

// StudentAction targets a student account. ClassID is set for addClasse and removeClasse.
type StudentAction struct {
	actionBase
	ClassID int64
}

func (a StudentAction) Class() string { return ClassStudent }
func (a StudentAction) Tag() string   { return actionTag(ClassStudent, a.action, a.userID) }

func (a StudentAction) Data() map[string]any {
	data := map[string]any{}
	if a.ClassID != 0 {
		data[CompanionClass] = a.ClassID
	}
	return data
}

func (a StudentAction) MarshalJSON() ([]byte, error) { return marshalAction(a) }

// StaffAction targets an administrative staff account.
type StaffAction struct {
	actionBase
}

func (a StaffAction) Class() string        { return ClassStaff }
func (a StaffAction) Tag() string          { return actionTag(ClassStaff, a.action, a.userID) }
func (a StaffAction) Data() map[string]any { return map[string]any{} }

func (a StaffAction) MarshalJSON() ([]byte, error) { return marshalAction(a) }

type actionWire struct {
	ID     int64            `json:"id"`
	Class  string           `json:"class"`
	Action string           `json:"action"`
	Data   map[string]int64 `json:"data"`
}

func marshalAction(a ActionMessage) ([]byte, error) {
	w := actionWire{ID: a.UserID(), Class: a.Class(), Action: a.Action(), Data: map[string]int64{}}
	for k, v := range a.Data() {
		w.Data[k] = v.(int64)
	}
	return json.Marshal(w)
}

// decodeAction trusts the encoded pair: it was validated when the message was built.
func decodeAction(data []byte) (ActionMessage, error) {
	var w actionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	var key string
	var ref int64
	for k, v := range w.Data {
		key, ref = k, v
	}
	return buildAction(w.ID, w.Class, w.Action, key, ref)
}
