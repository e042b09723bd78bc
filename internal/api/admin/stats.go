// stats.go implements the dashboard of queue backlog and audit activity.
package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// StatsHandler handles stats-related API requests
type StatsHandler struct {
	db *sqlx.DB
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(database *sqlx.DB) *StatsHandler {
	return &StatsHandler{db: database}
}

// DashboardStats represents the response for dashboard statistics
type DashboardStats struct {
	Queues QueueStats `json:"queues"`
	Audit  AuditStats `json:"audit"`
}

// QueueStats summarises the message queue backlog.
type QueueStats struct {
	Pending int64            `json:"pending"` // available now
	Delayed int64            `json:"delayed"` // scheduled in the future
	Failed  int64            `json:"failed"`
	Oldest  *time.Time       `json:"oldest_pending,omitempty"`
	ByQueue map[string]int64 `json:"by_queue"`
}

// AuditStats summarises recent audit activity.
type AuditStats struct {
	Total   int64            `json:"total"`
	LastDay int64            `json:"last_day"`
	ByKind  map[string]int64 `json:"by_kind"`
}

// GetDashboardStats returns queue and audit statistics.
// GET /api/admin/stats/dashboard
func (h *StatsHandler) GetDashboardStats(c *gin.Context) {
	ctx := c.Request.Context()

	// Core counts, single round-trip.
	query := `
		SELECT
			(SELECT COUNT(*) FROM messenger_messages
				WHERE queue_name <> 'failed' AND available_at <= NOW()) AS pending,
			(SELECT COUNT(*) FROM messenger_messages
				WHERE queue_name <> 'failed' AND available_at > NOW()) AS delayed,
			(SELECT COUNT(*) FROM messenger_messages WHERE queue_name = 'failed') AS failed,
			(SELECT MIN(created_at) FROM messenger_messages WHERE queue_name <> 'failed') AS oldest,
			(SELECT COUNT(*) FROM audit_logs) AS audit_total,
			(SELECT COUNT(*) FROM audit_logs WHERE created_at >= NOW() - INTERVAL '24 hours') AS audit_last_day
	`

	var stats DashboardStats
	err := h.db.QueryRowContext(ctx, query).Scan(
		&stats.Queues.Pending,
		&stats.Queues.Delayed,
		&stats.Queues.Failed,
		&stats.Queues.Oldest,
		&stats.Audit.Total,
		&stats.Audit.LastDay,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load dashboard statistics"})
		return
	}

	// Breakdowns are best effort.
	stats.Queues.ByQueue = map[string]int64{}
	if rows, qErr := h.db.QueryContext(ctx, `
		SELECT queue_name, COUNT(*) FROM messenger_messages GROUP BY queue_name
	`); qErr == nil {
		defer rows.Close()
		for rows.Next() {
			var name string
			var n int64
			if rows.Scan(&name, &n) == nil {
				stats.Queues.ByQueue[name] = n
			}
		}
	}

	stats.Audit.ByKind = map[string]int64{}
	if rows, kErr := h.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM audit_logs
		WHERE created_at >= NOW() - INTERVAL '24 hours'
		GROUP BY kind
	`); kErr == nil {
		defer rows.Close()
		for rows.Next() {
			var kind string
			var n int64
			if rows.Scan(&kind, &n) == nil {
				stats.Audit.ByKind[kind] = n
			}
		}
	}

	c.JSON(http.StatusOK, stats)
}
