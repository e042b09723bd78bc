// Package models - audit_log.go defines the AuditLog model: one immutable row per tracked
// entity mutation, carrying the actor, the request origin and a flat field snapshot.
package models

import "time"

// Operation is the kind of mutation recorded by an audit row.
type Operation string

const (
	OperationCreate Operation = "C"
	OperationUpdate Operation = "U"
	OperationDelete Operation = "D"
)

// Label returns the human-readable action label stored with the row.
func (o Operation) Label() string {
	switch o {
	case OperationCreate:
		return "Creazione"
	case OperationUpdate:
		return "Modifica"
	case OperationDelete:
		return "Cancellazione"
	}
	return string(o)
}

// Sentinels stored when a mutation happens outside an authenticated HTTP request.
const (
	AnonymousUser = "--ANONIMO--"
	NoRole        = "--NESSUNO--"
	CommandOrigin = "--COMMAND--"
	ConsoleIP     = "--CONSOLE--"

	// CategoryDatabase marks rows produced by the commit-time change capture.
	CategoryDatabase = "DATABASE"
)

// AuditLog represents an audit log entry for a tracked entity mutation
type AuditLog struct {
	ID         int64     `db:"id" json:"id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UserID     *int64    `db:"user_id" json:"user_id,omitempty"` // nil for anonymous and console actors
	Username   string    `db:"username" json:"username"`
	Role       string    `db:"role" json:"role"`
	Alias      *string   `db:"alias" json:"alias,omitempty"` // original identity when impersonating
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	Origin     string    `db:"origin" json:"origin"`
	Kind       Operation `db:"kind" json:"kind"`
	Category   string    `db:"category" json:"category"`
	Action     string    `db:"action" json:"action"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	TargetID   string    `db:"entity_id" json:"entity_id"` // id of the mutated entity
	Data       JSONMap   `db:"data" json:"data"`
}

func (a *AuditLog) EntityID() int64      { return a.ID }
func (a *AuditLog) SetEntityID(id int64) { a.ID = id }
