package communications

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/messages"
	"github.com/school-registry/registro/internal/notify"
)

// PublishCircular marks a draft circular as published and queues the notification
// of its recipients.
// POST /api/circulars/:id/publish
func (h *Handlers) PublishCircular(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	circ, err := h.circulars.GetCircular(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve circular"})
		return
	}
	if circ == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Circular not found"})
		return
	}
	if circ.Published() {
		c.JSON(http.StatusConflict, gin.H{"error": "Circular already published"})
		return
	}

	w := h.uow.Begin(ctx)
	if err := w.Track(circ); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to publish circular"})
		return
	}
	circ.Status = models.StatusPublished
	if err := w.Commit(ctx); err != nil {
		slog.Error("failed to publish circular", "circular_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to publish circular"})
		return
	}

	queued := true
	if err := h.bus.Dispatch(ctx, messages.NewCircularMessage(id)); err != nil {
		slog.Error("failed to queue circular notification", "circular_id", id, "error", err)
		queued = false
	}
	c.JSON(http.StatusOK, gin.H{
		"id":                  id,
		"status":              circ.Status,
		"notification_queued": queued,
	})
}

// RetractCircular returns a published circular to draft and drops its pending
// notification if it has not been dispatched yet.
// POST /api/circulars/:id/retract
func (h *Handlers) RetractCircular(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	circ, err := h.circulars.GetCircular(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve circular"})
		return
	}
	if circ == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Circular not found"})
		return
	}
	if !circ.Published() {
		c.JSON(http.StatusConflict, gin.H{"error": "Circular is not published"})
		return
	}

	w := h.uow.Begin(ctx)
	if err := w.Track(circ); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retract circular"})
		return
	}
	circ.Status = models.StatusDraft
	if err := w.Commit(ctx); err != nil {
		slog.Error("failed to retract circular", "circular_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retract circular"})
		return
	}

	cancelled := true
	if err := notify.DeleteByTag(ctx, h.tags, messages.CircularTag(id)); err != nil {
		slog.Error("failed to cancel circular notification", "circular_id", id, "error", err)
		cancelled = false
	}
	c.JSON(http.StatusOK, gin.H{
		"id":                     id,
		"status":                 circ.Status,
		"notification_cancelled": cancelled,
	})
}
