package communications

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/school-registry/registro/internal/messages"
	"github.com/school-registry/registro/internal/notify"
	"github.com/school-registry/registro/internal/queue"
)

// NotifyNotice schedules the notification of a published notice. A notification still
// waiting in the queue is postponed instead of duplicated, so repeated edits of the
// same notice produce a single delivery.
// POST /api/notices/:id/notify
func (h *Handlers) NotifyNotice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	notice, err := h.notices.GetNotice(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve notice"})
		return
	}
	if notice == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Notice not found"})
		return
	}
	if !notice.Published() {
		c.JSON(http.StatusConflict, gin.H{"error": "Notice is not published"})
		return
	}

	var msg queue.Message = messages.NewNoticeMessage(id)
	if notice.IsEvent() {
		msg = messages.NewEventMessage(id)
	}

	rescheduled, err := notify.UpdateByTag(ctx, h.tags, msg.Tag(), h.routes[msg.Kind()], h.noticeDelay)
	if err != nil {
		slog.Error("failed to reschedule notice notification", "notice_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule notification"})
		return
	}
	if !rescheduled {
		delay := time.Duration(h.noticeDelay) * time.Second
		if err := h.bus.Dispatch(ctx, msg, queue.WithDelay(delay)); err != nil {
			slog.Error("failed to queue notice notification", "notice_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule notification"})
			return
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":          id,
		"tag":         msg.Tag(),
		"rescheduled": rescheduled,
		"delay_secs":  h.noticeDelay,
	})
}
