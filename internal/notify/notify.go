// Package notify turns published circulars, notices and agenda events into
// per-recipient notifications and delivers them by e-mail or Telegram.
//
// The flow has two stages, each fed by its own queue:
//
//	circolare/avviso/evento  →  CircularDispatcher / NoticeDispatcher  →  notifica
//	notifica                 →  Sender  →  Mailer | ChatBot
//
// Notifications still waiting in the queue can be cancelled or postponed by tag
// with DeleteByTag and UpdateByTag.
package notify

import (
	"context"
	"time"

	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/queue"
)

// CircularSource resolves circulars and their unread recipients.
type CircularSource interface {
	GetPublishedCircular(ctx context.Context, id int64) (*models.Circular, error)
	NotificationRecipients(ctx context.Context, circularID int64) ([]int64, error)
}

// NoticeSource resolves notices and their unread recipients.
type NoticeSource interface {
	GetPublishedNotice(ctx context.Context, id int64) (*models.Notice, error)
	NotificationRecipients(ctx context.Context, noticeID int64) ([]int64, error)
}

// UserSource loads the enabled account a notification is addressed to.
type UserSource interface {
	GetEnabledUser(ctx context.Context, id int64) (*models.User, error)
}

// Dispatcher submits messages to the queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg queue.Message, opts ...queue.DispatchOption) error
}

// Mailer delivers an HTML e-mail.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// ChatBot delivers an HTML chat message.
type ChatBot interface {
	SendMessage(ctx context.Context, chatID, html string) error
}

// TagStore is the part of the queue store used for tag maintenance.
type TagStore interface {
	DeleteByTag(ctx context.Context, tag string) (int64, error)
	RescheduleByTag(ctx context.Context, tag, queueName string, availableAt time.Time) (int64, error)
}

// dateLayout is the day/month/year format shown to recipients.
const dateLayout = "02/01/2006"
