// Package communications implements the publishing workflows for circulars and notices.
// Each workflow commits its change through a unit of work, so it is captured by the
// audit middleware, and then updates the notification queue.
package communications

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/db/uow"
	"github.com/school-registry/registro/internal/notify"
)

// CircularStore loads circulars regardless of their status.
type CircularStore interface {
	GetCircular(ctx context.Context, id int64) (*models.Circular, error)
}

// NoticeStore loads notices regardless of their status.
type NoticeStore interface {
	GetNotice(ctx context.Context, id int64) (*models.Notice, error)
}

// Handlers serves the publishing endpoints.
type Handlers struct {
	uow       *uow.Manager
	circulars CircularStore
	notices   NoticeStore
	bus       notify.Dispatcher
	tags      notify.TagStore
	routes    map[string]string
	// noticeDelay postpones notice notifications so that quick corrections are
	// delivered once.
	noticeDelay int
}

// NewHandlers creates the publishing handlers. routes maps message kinds to queues and
// must match the bus routing.
func NewHandlers(m *uow.Manager, circulars CircularStore, notices NoticeStore, bus notify.Dispatcher,
	tags notify.TagStore, routes map[string]string, noticeDelaySecs int) *Handlers {
	return &Handlers{
		uow:         m,
		circulars:   circulars,
		notices:     notices,
		bus:         bus,
		tags:        tags,
		routes:      routes,
		noticeDelay: noticeDelaySecs,
	}
}

// RegisterRoutes mounts the handlers on the circular and notice route groups.
func (h *Handlers) RegisterRoutes(circulars, notices gin.IRoutes) {
	circulars.POST("/:id/publish", h.PublishCircular)
	circulars.POST("/:id/retract", h.RetractCircular)
	notices.POST("/:id/notify", h.NotifyNotice)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

