// audit_repository.go implements AuditRepository, providing read access to the change
// audit with filtered, paginated queries. Rows are written only through the unit of
// work by the audit persister and are never updated or deleted.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/school-registry/registro/internal/db/models"
)

const auditColumns = `id, created_at, user_id, username, role, alias, ip_address, origin,
		kind, category, action, entity_type, entity_id, data`

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	UserID     *int64
	Kind       *string
	EntityType *string
	EntityID   *string
	StartDate  *time.Time
	EndDate    *time.Time
}

// ListAuditLogs retrieves audit logs with optional filters and pagination
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	where := ` WHERE 1=1`
	args := make([]any, 0)
	paramIndex := 1

	add := func(clause string, value any) {
		where += fmt.Sprintf(clause, paramIndex)
		args = append(args, value)
		paramIndex++
	}

	if filters.UserID != nil {
		add(` AND user_id = $%d`, *filters.UserID)
	}
	if filters.Kind != nil {
		add(` AND kind = $%d`, *filters.Kind)
	}
	if filters.EntityType != nil {
		add(` AND entity_type = $%d`, *filters.EntityType)
	}
	if filters.EntityID != nil {
		add(` AND entity_id = $%d`, *filters.EntityID)
	}
	if filters.StartDate != nil {
		add(` AND created_at >= $%d`, *filters.StartDate)
	}
	if filters.EndDate != nil {
		add(` AND created_at <= $%d`, *filters.EndDate)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_logs`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	logs := make([]*models.AuditLog, 0)
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, total, nil
}

// GetAuditLog retrieves a single audit log entry by ID
func (r *AuditRepository) GetAuditLog(ctx context.Context, id int64) (*models.AuditLog, error) {
	log := &models.AuditLog{}
	err := r.db.GetContext(ctx, log, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	return log, nil
}
