// Package models - user.go defines the User model together with the per-user
// notification preferences consulted before any notification is delivered.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Notification channels.
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
)

// Account roles.
const (
	RoleTeacher   = "Docente"
	RoleStudent   = "Alunno"
	RoleParent    = "Genitore"
	RoleATA       = "Ata"
	RoleStaff     = "Staff"
	RolePrincipal = "Preside"
)

// NotificationPrefs is stored as JSON on the user row.
type NotificationPrefs struct {
	Channel string   `json:"channel" validate:"omitempty,oneof=email telegram"`
	Types   []string `json:"types" validate:"dive,oneof=circolare avviso verifica compito"`
}

// Allows reports whether notifications of the given type are enabled.
func (p NotificationPrefs) Allows(notificationType string) bool {
	return slices.Contains(p.Types, notificationType)
}

// Value implements driver.Valuer.
func (p NotificationPrefs) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *NotificationPrefs) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = NotificationPrefs{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	}
	return fmt.Errorf("NotificationPrefs: unsupported source type %T", src)
}

// User represents a registry account (teacher, student, parent or staff)
type User struct {
	ID           int64             `db:"id"`
	CreatedAt    time.Time         `db:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at"`
	Username     string            `db:"username"`
	Email        string            `db:"email"`
	FirstName    string            `db:"first_name"`
	LastName     string            `db:"last_name"`
	Role         string            `db:"role"` // Docente, Alunno, Genitore, Ata, Staff, Preside
	Enabled      bool              `db:"enabled"`
	ChatID       string            `db:"chat_id"` // Telegram chat bound to the account, empty if none
	Notification NotificationPrefs `db:"notification"`
}

func (u *User) EntityID() int64      { return u.ID }
func (u *User) SetEntityID(id int64) { u.ID = id }
