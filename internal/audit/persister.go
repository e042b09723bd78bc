package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/db/uow"
	"github.com/school-registry/registro/internal/telemetry"
)

// Persister writes the records captured by a Listener.
type Persister struct {
	uow     *uow.Manager
	shipper Shipper
	logger  *slog.Logger
}

// NewPersister creates a new Persister. shipper may be nil.
func NewPersister(m *uow.Manager, shipper Shipper) *Persister {
	return &Persister{
		uow:     m,
		shipper: shipper,
		logger:  slog.With("component", "audit.persister"),
	}
}

// Flush drains l and stores every record in a single commit. Capture on l is
// suspended for the duration of the write so the audit rows are not audited.
func (p *Persister) Flush(ctx context.Context, l *Listener) error {
	records := l.Drain()
	if len(records) == 0 {
		return nil
	}

	logs := make([]*models.AuditLog, 0, len(records))
	for _, r := range records {
		logs = append(logs, toAuditLog(r))
	}

	err := l.WithoutCapture(func() error {
		w := p.uow.Begin(uow.WithHooks(ctx, l))
		for _, log := range logs {
			if err := w.Insert(log); err != nil {
				return err
			}
		}
		return w.Commit(ctx)
	})
	if err != nil {
		telemetry.AuditRecordsDiscardedTotal.Add(float64(len(logs)))
		return fmt.Errorf("failed to persist %d audit records: %w", len(logs), err)
	}

	for _, log := range logs {
		telemetry.AuditRecordsWrittenTotal.WithLabelValues(string(log.Kind)).Inc()
	}
	p.logger.Debug("audit records persisted", "count", len(logs))

	if p.shipper != nil {
		for _, log := range logs {
			if err := p.shipper.Ship(ctx, EntryFromLog(log)); err != nil {
				p.logger.Warn("failed to ship audit record", "entity_type", log.EntityType, "entity_id", log.TargetID, "error", err)
			}
		}
	}
	return nil
}

func toAuditLog(r Record) *models.AuditLog {
	actor := r.Request.Actor
	return &models.AuditLog{
		CreatedAt:  r.At,
		UserID:     actor.UserID,
		Username:   actor.Username,
		Role:       actor.Role,
		Alias:      actor.Impersonator,
		IPAddress:  r.Request.ClientIP,
		Origin:     r.Request.Route,
		Kind:       r.Operation,
		Category:   models.CategoryDatabase,
		Action:     r.Operation.Label(),
		EntityType: r.EntityType,
		TargetID:   strconv.FormatInt(r.EntityID, 10),
		Data:       models.JSONMap(r.Snapshot),
	}
}
