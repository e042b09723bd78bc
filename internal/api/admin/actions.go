package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/school-registry/registro/internal/messages"
	"github.com/school-registry/registro/internal/notify"
)

// ActionHandlers records user lifecycle actions for asynchronous processing.
type ActionHandlers struct {
	policy *messages.ActionPolicy
	bus    notify.Dispatcher
}

// NewActionHandlers creates a new ActionHandlers
func NewActionHandlers(policy *messages.ActionPolicy, bus notify.Dispatcher) *ActionHandlers {
	return &ActionHandlers{policy: policy, bus: bus}
}

// RecordActionRequest is the body of a user action.
type RecordActionRequest struct {
	Class  string         `json:"class" binding:"required"`
	Action string         `json:"action" binding:"required"`
	Data   map[string]any `json:"data"`
}

// RecordActionHandler queues an action on a user account.
// POST /api/admin/users/:id/actions
func (h *ActionHandlers) RecordActionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || userID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user id"})
			return
		}

		var req RecordActionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		msg, err := messages.NewActionMessage(h.policy, userID, req.Class, req.Action, req.Data)
		if err != nil {
			var cfgErr *messages.ConfigError
			if errors.As(err, &cfgErr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Undefined action", "detail": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := h.bus.Dispatch(c.Request.Context(), msg); err != nil {
			slog.Error("failed to queue user action", "user_id", userID, "action", req.Action, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue action"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"tag": msg.Tag()})
	}
}
