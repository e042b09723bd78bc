// notice_repository.go implements NoticeRepository for notices and agenda events.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/school-registry/registro/internal/db/models"
)

const noticeColumns = `id, created_at, updated_at, kind, date, title, text, attachments, status, author_id`

// NoticeRepository handles notice database operations
type NoticeRepository struct {
	db *sqlx.DB
}

// NewNoticeRepository creates a new NoticeRepository
func NewNoticeRepository(db *sqlx.DB) *NoticeRepository {
	return &NoticeRepository{db: db}
}

// GetNotice retrieves a notice by ID
func (r *NoticeRepository) GetNotice(ctx context.Context, id int64) (*models.Notice, error) {
	return r.getOne(ctx, `SELECT `+noticeColumns+` FROM notices WHERE id = $1`, id)
}

// GetPublishedNotice retrieves a notice only if it is published
func (r *NoticeRepository) GetPublishedNotice(ctx context.Context, id int64) (*models.Notice, error) {
	return r.getOne(ctx, `SELECT `+noticeColumns+` FROM notices WHERE id = $1 AND status = $2`,
		id, models.StatusPublished)
}

func (r *NoticeRepository) getOne(ctx context.Context, query string, args ...any) (*models.Notice, error) {
	n := &models.Notice{}
	err := r.db.GetContext(ctx, n, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notice: %w", err)
	}
	return n, nil
}

// NotificationRecipients returns the users that have not read a published notice yet
func (r *NoticeRepository) NotificationRecipients(ctx context.Context, noticeID int64) ([]int64, error) {
	ids := make([]int64, 0)
	err := r.db.SelectContext(ctx, &ids, `
		SELECT cu.user_id
		FROM communication_users cu
		JOIN notices n ON n.id = cu.communication_id
		WHERE cu.communication_id = $1 AND cu.read_at IS NULL AND n.status = $2
		ORDER BY cu.user_id`, noticeID, models.StatusPublished)
	if err != nil {
		return nil, fmt.Errorf("failed to list notice recipients: %w", err)
	}
	return ids, nil
}
