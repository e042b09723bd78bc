// circular_repository.go implements CircularRepository: circular lookup with the class
// audience loaded, unread-recipient resolution for notifications, and the bulk recipient
// assignment run when a teacher account is created.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/school-registry/registro/internal/db/models"
)

const circularColumns = `id, created_at, updated_at, school_year, number, date, title,
		status, all_teachers, author_id`

// CircularRepository handles circular database operations
type CircularRepository struct {
	db *sqlx.DB
}

// NewCircularRepository creates a new CircularRepository
func NewCircularRepository(db *sqlx.DB) *CircularRepository {
	return &CircularRepository{db: db}
}

// GetCircular retrieves a circular by ID together with its classes
func (r *CircularRepository) GetCircular(ctx context.Context, id int64) (*models.Circular, error) {
	return r.getOne(ctx, `SELECT `+circularColumns+` FROM circulars WHERE id = $1`, id)
}

// GetPublishedCircular retrieves a circular only if it is published
func (r *CircularRepository) GetPublishedCircular(ctx context.Context, id int64) (*models.Circular, error) {
	return r.getOne(ctx, `SELECT `+circularColumns+` FROM circulars WHERE id = $1 AND status = $2`,
		id, models.StatusPublished)
}

func (r *CircularRepository) getOne(ctx context.Context, query string, args ...any) (*models.Circular, error) {
	c := &models.Circular{}
	err := r.db.GetContext(ctx, c, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get circular: %w", err)
	}

	classes := make([]*models.Class, 0)
	err = r.db.SelectContext(ctx, &classes, `
		SELECT cl.id, cl.year, cl.section
		FROM classes cl
		JOIN communication_classes cc ON cc.class_id = cl.id
		WHERE cc.communication_id = $1
		ORDER BY cl.year, cl.section`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load circular classes: %w", err)
	}
	c.Classes = classes
	return c, nil
}

// NotificationRecipients returns the users that have not read a published circular yet
func (r *CircularRepository) NotificationRecipients(ctx context.Context, circularID int64) ([]int64, error) {
	ids := make([]int64, 0)
	err := r.db.SelectContext(ctx, &ids, `
		SELECT cu.user_id
		FROM communication_users cu
		JOIN circulars c ON c.id = cu.communication_id
		WHERE cu.communication_id = $1 AND cu.read_at IS NULL AND c.status = $2
		ORDER BY cu.user_id`, circularID, models.StatusPublished)
	if err != nil {
		return nil, fmt.Errorf("failed to list circular recipients: %w", err)
	}
	return ids, nil
}

// AssignPublishedToTeacher adds a new teacher to every published all-teacher circular of
// the school year they are not yet a recipient of. The rows are created already read at
// readAt so the teacher is not notified about past circulars. It returns the number of
// circulars assigned.
func (r *CircularRepository) AssignPublishedToTeacher(ctx context.Context, userID int64, schoolYear int, readAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO communication_users (communication_id, user_id, read_at)
		SELECT c.id, $1, $2
		FROM circulars c
		WHERE c.status = $3 AND c.school_year = $4 AND c.all_teachers = TRUE
			AND NOT EXISTS (
				SELECT 1 FROM communication_users cu
				WHERE cu.communication_id = c.id AND cu.user_id = $1
			)`, userID, readAt, models.StatusPublished, schoolYear)
	if err != nil {
		return 0, fmt.Errorf("failed to assign circulars to teacher: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to assign circulars to teacher: %w", err)
	}
	return n, nil
}
