package messages

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Notification types users can subscribe to.
const (
	TypeCircular = "circolare"
	TypeNotice   = "avviso"
	TypeTest     = "verifica"
	TypeHomework = "compito"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Fragment is one item of a notification payload, e.g. one circular of a grouped
// notification or the single notice being announced.
type Fragment map[string]any

// NotificationMessage is one notification for one recipient.
type NotificationMessage struct {
	UserID int64      `json:"utente_id" validate:"gt=0"`
	Type   string     `json:"tipo" validate:"required,oneof=circolare avviso verifica compito"`
	Label  string     `json:"tag" validate:"required"`
	Items  []Fragment `json:"dati" validate:"required,min=1"`
}

// NewNotificationMessage builds and validates a notification.
func NewNotificationMessage(userID int64, typ, tag string, items []Fragment) (*NotificationMessage, error) {
	m := &NotificationMessage{UserID: userID, Type: typ, Label: tag, Items: items}
	if err := validate.Struct(m); err != nil {
		return nil, fmt.Errorf("invalid notification: %w", err)
	}
	return m, nil
}

func (m *NotificationMessage) Kind() string { return KindNotification }
func (m *NotificationMessage) Tag() string  { return m.Label }

// First returns the first payload item, used by single-subject notifications.
func (m *NotificationMessage) First() Fragment {
	if len(m.Items) == 0 {
		return Fragment{}
	}
	return m.Items[0]
}

func decodeNotification(data []byte) (*NotificationMessage, error) {
	var m NotificationMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("invalid notification: %w", err)
	}
	return &m, nil
}
