package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/school-registry/registro/internal/db/models"
)

// FailedQueue receives messages that exhausted their retries or could not be decoded.
const FailedQueue = "failed"

// RedeliverAfter is how long a claimed but unacknowledged message stays invisible
// before another worker may claim it again.
const RedeliverAfter = time.Hour

const messageColumns = `id, body, headers, queue_name, created_at, available_at, delivered_at`

// Store persists queued messages in the messenger_messages table.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore creates a store over db.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Enqueue inserts a message that becomes available at availableAt.
func (s *Store) Enqueue(ctx context.Context, queueName, body string, headers models.JSONMap, availableAt time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO messenger_messages (body, headers, queue_name, created_at, available_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`, body, headers, queueName, s.now(), availableAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue message: %w", err)
	}
	return id, nil
}

// Claim marks up to limit available messages of the given queues as delivered and
// returns them. Rows locked by another worker are skipped.
func (s *Store) Claim(ctx context.Context, queues []string, limit int) ([]*models.QueuedMessage, error) {
	now := s.now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows := make([]*models.QueuedMessage, 0, limit)
	err = tx.SelectContext(ctx, &rows, `
		SELECT `+messageColumns+`
		FROM messenger_messages
		WHERE queue_name = ANY($1)
			AND available_at <= $2
			AND (delivered_at IS NULL OR delivered_at < $3)
		ORDER BY available_at, id
		LIMIT $4
		FOR UPDATE SKIP LOCKED`, pq.StringArray(queues), now, now.Add(-RedeliverAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select messages: %w", err)
	}
	if len(rows) == 0 {
		return rows, nil
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		r.DeliveredAt.Time, r.DeliveredAt.Valid = now, true
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messenger_messages SET delivered_at = $1 WHERE id = ANY($2)`,
		now, pq.Int64Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to mark messages delivered: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return rows, nil
}

// Ack removes a processed message.
func (s *Store) Ack(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messenger_messages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to ack message %d: %w", id, err)
	}
	return nil
}

// Requeue makes a claimed message available again in queueName at availableAt.
func (s *Store) Requeue(ctx context.Context, id int64, queueName string, headers models.JSONMap, availableAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messenger_messages
		SET queue_name = $2, headers = $3, available_at = $4, delivered_at = NULL
		WHERE id = $1`, id, queueName, headers, availableAt)
	if err != nil {
		return fmt.Errorf("failed to requeue message %d: %w", id, err)
	}
	return nil
}

// DeleteByTag removes every message, in any queue and in any delivery state, whose
// body contains tag. It returns the number of rows removed.
func (s *Store) DeleteByTag(ctx context.Context, tag string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messenger_messages WHERE body LIKE $1 ESCAPE '\'`, likePattern(tag))
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages by tag: %w", err)
	}
	return res.RowsAffected()
}

// RescheduleByTag moves the availability of the undelivered messages of queueName whose
// body contains tag. It returns the number of rows updated.
func (s *Store) RescheduleByTag(ctx context.Context, tag, queueName string, availableAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messenger_messages SET available_at = $1
		WHERE queue_name = $2 AND body LIKE $3 ESCAPE '\' AND delivered_at IS NULL`,
		availableAt, queueName, likePattern(tag))
	if err != nil {
		return 0, fmt.Errorf("failed to reschedule messages by tag: %w", err)
	}
	return res.RowsAffected()
}

// Counts returns the number of messages waiting in each queue.
func (s *Store) Counts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Queue string `db:"queue_name"`
		N     int64  `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT queue_name, COUNT(*) AS n FROM messenger_messages GROUP BY queue_name`); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Queue] = r.N
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(tag string) string {
	return "%" + likeEscaper.Replace(tag) + "%"
}
