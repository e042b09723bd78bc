// Package admin implements the staff-only endpoints: audit log browsing, queue
// statistics and user lifecycle actions.
package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/db/repositories"
)

// AuditReader is the read side of the audit log.
type AuditReader interface {
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
	GetAuditLog(ctx context.Context, id int64) (*models.AuditLog, error)
}

// AuditHandlers serves the audit log endpoints.
type AuditHandlers struct {
	logs AuditReader
}

// NewAuditHandlers creates a new AuditHandlers
func NewAuditHandlers(logs AuditReader) *AuditHandlers {
	return &AuditHandlers{logs: logs}
}

// ListAuditLogsHandler lists audit records, newest first.
// GET /api/admin/audit-logs?user_id=&kind=&entity_type=&entity_id=&start_date=&end_date=&page=&per_page=
func (h *AuditHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 200 {
			perPage = 50
		}

		filters, err := parseAuditFilters(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		logs, total, err := h.logs.ListAuditLogs(c.Request.Context(), filters, perPage, (page-1)*perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit logs"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"logs": logs,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// GetAuditLogHandler returns one audit record.
// GET /api/admin/audit-logs/:id
func (h *AuditHandlers) GetAuditLogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
			return
		}

		log, err := h.logs.GetAuditLog(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve audit log"})
			return
		}
		if log == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Audit log not found"})
			return
		}
		c.JSON(http.StatusOK, log)
	}
}

type filterError string

func (e filterError) Error() string { return string(e) }

func parseAuditFilters(c *gin.Context) (repositories.AuditFilters, error) {
	var f repositories.AuditFilters
	if v := c.Query("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, filterError("user_id must be a number")
		}
		f.UserID = &id
	}
	if v := c.Query("kind"); v != "" {
		switch models.Operation(v) {
		case models.OperationCreate, models.OperationUpdate, models.OperationDelete:
		default:
			return f, filterError("kind must be one of C, U, D")
		}
		f.Kind = &v
	}
	if v := c.Query("entity_type"); v != "" {
		f.EntityType = &v
	}
	if v := c.Query("entity_id"); v != "" {
		f.EntityID = &v
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"start_date", &f.StartDate}, {"end_date", &f.EndDate}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, filterError(p.name + " must be an RFC 3339 timestamp")
		}
		*p.dst = &t
	}
	return f, nil
}
