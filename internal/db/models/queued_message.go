// Package models - queued_message.go defines QueuedMessage, one row of the durable
// message queue shared by every dispatcher and sender process.
package models

import (
	"database/sql"
	"time"
)

// QueuedMessage is a serialized message waiting in a named queue.
// Body is a JSON envelope that contains the message tag verbatim, which is what
// DeleteByTag and UpdateByTag match against.
type QueuedMessage struct {
	ID          int64        `db:"id"`
	Body        string       `db:"body"`
	Headers     JSONMap      `db:"headers"`
	QueueName   string       `db:"queue_name"`
	CreatedAt   time.Time    `db:"created_at"`
	AvailableAt time.Time    `db:"available_at"`
	DeliveredAt sql.NullTime `db:"delivered_at"`
}
