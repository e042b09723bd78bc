// Package actions reacts to user-lifecycle events (account created, teaching
// assignment changed, class changed) published on the azione queue.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/messages"
	"github.com/school-registry/registro/internal/queue"
)

// UserSource loads the account an action refers to.
type UserSource interface {
	GetUserByRole(ctx context.Context, role string, id int64) (*models.User, error)
}

// CircularAssigner grants a new teacher access to circulars already published.
type CircularAssigner interface {
	AssignPublishedToTeacher(ctx context.Context, userID int64, schoolYear int, readAt time.Time) (int64, error)
}

// Handler applies ActionMessages. Only teacher creation has side effects; the other
// actions are accepted and logged.
type Handler struct {
	users      UserSource
	circulars  CircularAssigner
	schoolYear int
	logger     *slog.Logger
}

// NewHandler creates a Handler for the given school year.
func NewHandler(users UserSource, circulars CircularAssigner, schoolYear int) *Handler {
	return &Handler{
		users:      users,
		circulars:  circulars,
		schoolYear: schoolYear,
		logger:     slog.With("component", "action-handler"),
	}
}

// Handle implements queue.Handler. Lookup and write failures are returned so the
// queue retries them; unknown users and actions are logged and consumed.
func (h *Handler) Handle(ctx context.Context, msg queue.Message) error {
	action, ok := msg.(messages.ActionMessage)
	if !ok {
		return fmt.Errorf("unexpected message %T", msg)
	}
	log := h.logger.With("tag", action.Tag())

	user, err := h.users.GetUserByRole(ctx, action.Class(), action.UserID())
	if err != nil {
		return err
	}
	if user == nil {
		log.Error("action refers to an unknown user")
		return nil
	}

	switch a := action.(type) {
	case messages.TeacherAction:
		return h.teacher(ctx, log, a, user)
	case messages.StudentAction:
		switch a.Action() {
		case "add", "addClasse", "removeClasse":
			log.Debug("student action accepted", "class_id", a.ClassID)
		default:
			log.Warn("undefined action")
		}
	case messages.StaffAction:
		if a.Action() != "add" {
			log.Warn("undefined action")
			return nil
		}
		log.Debug("staff action accepted")
	default:
		log.Warn("undefined class")
	}
	return nil
}

func (h *Handler) teacher(ctx context.Context, log *slog.Logger, a messages.TeacherAction, user *models.User) error {
	switch a.Action() {
	case "add":
		n, err := h.circulars.AssignPublishedToTeacher(ctx, user.ID, h.schoolYear, user.CreatedAt)
		if err != nil {
			return err
		}
		log.Info("published circulars assigned to new teacher", "user_id", user.ID, "school_year", h.schoolYear, "count", n)
	case "addCattedra", "removeCattedra":
		log.Debug("teaching assignment change accepted", "teaching_id", a.TeachingID)
	case "addCoordinatore", "removeCoordinatore":
		log.Debug("coordinator change accepted", "class_id", a.ClassID)
	default:
		log.Warn("undefined action")
	}
	return nil
}
