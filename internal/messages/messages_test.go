package messages

import (
	"errors"
	"strings"
	"testing"

	"github.com/school-registry/registro/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Tags
// ---------------------------------------------------------------------------

func TestTags(t *testing.T) {
	tests := []struct {
		name string
		msg  queue.Message
		want string
	}{
		{"circular", NewCircularMessage(42), "<!CIRCOLARE!><!42!>"},
		{"notice", NewNoticeMessage(7), "<!AVVISO!><!7!>"},
		{"event", NewEventMessage(7), "<!EVENTO!><!7!>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Tag(); got != tt.want {
				t.Errorf("Tag() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCircularTag_Grouped(t *testing.T) {
	if got := CircularTag(42, 43, 50); got != "<!CIRCOLARE!><!42,43,50!>" {
		t.Errorf("CircularTag() = %q", got)
	}
}

func TestSameEvent_ComparesTags(t *testing.T) {
	if !SameEvent(NewCircularMessage(42), NewCircularMessage(42)) {
		t.Error("two messages for circular 42 should be the same event")
	}
	if SameEvent(NewCircularMessage(42), NewNoticeMessage(42)) {
		t.Error("circular 42 and notice 42 are different events")
	}
}

func TestTags_NoPrefixCollision(t *testing.T) {
	// A tag must never be a substring of another subject's tag.
	short, long := CircularTag(4), CircularTag(42)
	if strings.Contains(long, short) {
		t.Errorf("%q contains %q", long, short)
	}
	if strings.Contains(CircularTag(142), CircularTag(42)) {
		t.Error("tag of circular 142 contains tag of circular 42")
	}
}

// ---------------------------------------------------------------------------
// ActionPolicy / NewActionMessage
// ---------------------------------------------------------------------------

func TestNewActionMessage_StudentAddClassRequiresClass(t *testing.T) {
	policy := DefaultActionPolicy()

	_, err := NewActionMessage(policy, 15, ClassStudent, "addClasse", map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUndefinedAction))
	assert.Equal(t, `Undefined action in message constructor: "Alunno.addClasse"`, err.Error())

	msg, err := NewActionMessage(policy, 15, ClassStudent, "addClasse", map[string]any{CompanionClass: int64(3)})
	require.NoError(t, err)
	student, ok := msg.(StudentAction)
	require.True(t, ok, "expected StudentAction, got %T", msg)
	assert.Equal(t, int64(3), student.ClassID)
	assert.Equal(t, "<!AZIONE!><!Alunno.addClasse.15!>", msg.Tag())
}

func TestNewActionMessage_UnknownPairs(t *testing.T) {
	policy := DefaultActionPolicy()
	tests := []struct {
		class, action string
	}{
		{ClassStaff, "removeCattedra"},
		{ClassTeacher, "promote"},
		{"Genitore", "add"},
	}
	for _, tt := range tests {
		_, err := NewActionMessage(policy, 1, tt.class, tt.action, map[string]any{CompanionTeaching: 5})
		if !errors.Is(err, ErrUndefinedAction) {
			t.Errorf("%s.%s: err = %v, want ErrUndefinedAction", tt.class, tt.action, err)
		}
	}
}

func TestNewActionMessage_WrongCompanionKey(t *testing.T) {
	policy := NewActionPolicy(map[string]map[string]string{ClassTeacher: {"removeCattedra": ClassStaff}})
	_, err := NewActionMessage(policy, 1, ClassTeacher, "removeCattedra", map[string]any{CompanionTeaching: 5})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Action != "removeCattedra" {
		t.Errorf("err = %v, want ConfigError for removeCattedra", err)
	}
}

func TestNewActionMessage_Variants(t *testing.T) {
	policy := DefaultActionPolicy()

	teacher, err := NewActionMessage(policy, 9, ClassTeacher, "removeCattedra", map[string]any{CompanionTeaching: float64(12)})
	require.NoError(t, err)
	assert.Equal(t, int64(12), teacher.(TeacherAction).TeachingID)
	assert.Equal(t, map[string]any{CompanionTeaching: int64(12)}, teacher.Data())

	staff, err := NewActionMessage(policy, 4, ClassStaff, "add", nil)
	require.NoError(t, err)
	assert.IsType(t, StaffAction{}, staff)
	assert.Empty(t, staff.Data())
}

func TestActionPolicy_IsolatedFromCallerMap(t *testing.T) {
	rules := map[string]map[string]string{ClassStaff: {"add": ""}}
	policy := NewActionPolicy(rules)
	rules[ClassStaff]["remove"] = ""

	if _, ok := policy.Companion(ClassStaff, "remove"); ok {
		t.Error("policy changed after the caller mutated its map")
	}
}

// ---------------------------------------------------------------------------
// NotificationMessage
// ---------------------------------------------------------------------------

func TestNewNotificationMessage_Validation(t *testing.T) {
	items := []Fragment{{"id": int64(42)}}
	if _, err := NewNotificationMessage(3, TypeCircular, CircularTag(42), items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := NewNotificationMessage(0, TypeCircular, CircularTag(42), items); err == nil {
		t.Error("expected error for missing user")
	}
	if _, err := NewNotificationMessage(3, "sms", CircularTag(42), items); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := NewNotificationMessage(3, TypeCircular, CircularTag(42), nil); err == nil {
		t.Error("expected error for empty payload")
	}
}

// ---------------------------------------------------------------------------
// Codec round trip
// ---------------------------------------------------------------------------

func newCodec() *queue.Codec {
	c := queue.NewCodec()
	Register(c)
	return c
}

func TestCodec_TagSurvivesVerbatim(t *testing.T) {
	c := newCodec()
	msgs := []queue.Message{
		NewCircularMessage(42),
		NewEventMessage(8),
		mustNotification(t, 3, TypeCircular, CircularTag(42, 43)),
	}
	for _, m := range msgs {
		body, err := c.Encode(m)
		require.NoError(t, err)
		assert.Contains(t, body, m.Tag())
		assert.NotContains(t, body, `\u003c`)
	}
}

func TestCodec_DecodesEveryKind(t *testing.T) {
	c := newCodec()
	action, err := NewActionMessage(DefaultActionPolicy(), 9, ClassTeacher, "addCoordinatore", map[string]any{CompanionClass: 2})
	require.NoError(t, err)

	msgs := []queue.Message{
		NewCircularMessage(42),
		NewNoticeMessage(7),
		NewEventMessage(8),
		action,
		mustNotification(t, 3, TypeNotice, NoticeTag(7)),
	}
	for _, m := range msgs {
		body, err := c.Encode(m)
		require.NoError(t, err)
		decoded, err := c.Decode(body)
		require.NoError(t, err, m.Kind())
		assert.Equal(t, m.Kind(), decoded.Kind())
		assert.True(t, SameEvent(m, decoded), "tag changed for %s", m.Kind())
	}

	decodedAction, _ := c.Decode(mustEncode(t, c, action))
	assert.Equal(t, int64(2), decodedAction.(TeacherAction).ClassID)
}

func TestCodec_InvalidNotificationRejected(t *testing.T) {
	c := newCodec()
	body := `{"kind":"NotificationMessage","tag":"x","message":{"utente_id":0,"tipo":"circolare","tag":"x","dati":[{}]}}`
	if _, err := c.Decode(body); err == nil {
		t.Error("expected validation error")
	}
}

func mustNotification(t *testing.T, userID int64, typ, tag string) *NotificationMessage {
	t.Helper()
	m, err := NewNotificationMessage(userID, typ, tag, []Fragment{{"id": 1, "oggetto": "Uscita <anticipata>"}})
	require.NoError(t, err)
	return m
}

func mustEncode(t *testing.T, c *queue.Codec, m queue.Message) string {
	t.Helper()
	body, err := c.Encode(m)
	require.NoError(t, err)
	return body
}
