package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/messages"
	"github.com/school-registry/registro/internal/queue"
	"github.com/school-registry/registro/internal/telemetry"
)

// Ledger remembers delivered notifications so a notification repeated by a later
// batch is not sent twice.
type Ledger interface {
	// Remember records key and reports whether it was not seen before.
	Remember(ctx context.Context, key string) (bool, error)
}

// SenderConfig controls delivery.
type SenderConfig struct {
	// Enabled turns delivery on. Disabled senders consume and drop every notification.
	Enabled bool
	// PlaceholderDomains are e-mail domains of accounts without a real mailbox.
	PlaceholderDomains []string
	Institute          TemplateData
}

// Sender delivers notifications over the channel chosen by each recipient.
type Sender struct {
	users    UserSource
	renderer Renderer
	mailer   Mailer
	bot      ChatBot
	ledger   Ledger
	cfg      SenderConfig
	logger   *slog.Logger
}

// SenderOption customizes a Sender.
type SenderOption func(*Sender)

// WithMailer enables the e-mail channel.
func WithMailer(m Mailer) SenderOption { return func(s *Sender) { s.mailer = m } }

// WithChatBot enables the Telegram channel.
func WithChatBot(b ChatBot) SenderOption { return func(s *Sender) { s.bot = b } }

// WithLedger enables duplicate suppression.
func WithLedger(l Ledger) SenderOption { return func(s *Sender) { s.ledger = l } }

// NewSender creates a Sender.
func NewSender(users UserSource, renderer Renderer, cfg SenderConfig, opts ...SenderOption) *Sender {
	s := &Sender{
		users:    users,
		renderer: renderer,
		cfg:      cfg,
		logger:   slog.With("component", "notification-sender"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handle implements queue.Handler.
func (s *Sender) Handle(ctx context.Context, msg queue.Message) error {
	n, ok := msg.(*messages.NotificationMessage)
	if !ok {
		return fmt.Errorf("unexpected message %T", msg)
	}
	return s.Deliver(ctx, n)
}

// Deliver sends msg to its recipient. Ineligible recipients and delivery failures
// are logged and dropped; only a failed recipient lookup is returned so the queue
// can retry it.
func (s *Sender) Deliver(ctx context.Context, msg *messages.NotificationMessage) error {
	log := s.logger.With("user_id", msg.UserID, "type", msg.Type, "tag", msg.Tag())

	if !s.cfg.Enabled {
		log.Debug("notifications disabled, dropping")
		s.count("none", msg.Type, "dropped")
		return nil
	}

	user, err := s.users.GetEnabledUser(ctx, msg.UserID)
	if err != nil {
		return fmt.Errorf("failed to load recipient %d: %w", msg.UserID, err)
	}
	if user == nil {
		log.Debug("recipient missing or disabled, dropping")
		s.count("none", msg.Type, "dropped")
		return nil
	}
	if !user.Notification.Allows(msg.Type) {
		log.Debug("notification type not enabled by recipient, dropping")
		s.count("none", msg.Type, "dropped")
		return nil
	}

	channel := user.Notification.Channel
	log = log.With("channel", channel)
	if !s.reachable(log, user) {
		s.count(channel, msg.Type, "dropped")
		return nil
	}

	if s.ledger != nil {
		first, err := s.ledger.Remember(ctx, DedupKey(msg))
		if err != nil {
			log.Warn("dedup ledger unavailable, sending anyway", "error", err)
		} else if !first {
			log.Info("notification already delivered, skipping")
			s.count(channel, msg.Type, "duplicate")
			return nil
		}
	}

	data := s.cfg.Institute
	data.Items = msg.Items
	data.Item = msg.First()
	subject, body, err := s.renderer.Render(channel, msg.Type, data)
	if err != nil {
		log.Error("failed to render notification", "error", err)
		s.count(channel, msg.Type, "failed")
		return nil
	}

	var recipient string
	switch channel {
	case models.ChannelEmail:
		recipient = user.Email
		err = s.mailer.Send(ctx, user.Email, subject, body)
	case models.ChannelTelegram:
		recipient = user.ChatID
		err = s.bot.SendMessage(ctx, user.ChatID, body)
	}
	if err != nil {
		log.Error("failed to send notification", "recipient", recipient, "error", err)
		s.count(channel, msg.Type, "failed")
		return nil
	}
	log.Debug("notification sent")
	s.count(channel, msg.Type, "sent")
	return nil
}

// reachable reports whether user can be contacted on their chosen channel.
func (s *Sender) reachable(log *slog.Logger, user *models.User) bool {
	switch user.Notification.Channel {
	case models.ChannelEmail:
		if s.mailer == nil {
			log.Warn("e-mail channel not configured, dropping")
			return false
		}
		if user.Email == "" || s.placeholder(user.Email) {
			log.Debug("recipient has no real e-mail address, dropping")
			return false
		}
	case models.ChannelTelegram:
		if s.bot == nil {
			log.Warn("telegram channel not configured, dropping")
			return false
		}
		if user.ChatID == "" {
			log.Debug("recipient has no chat bound, dropping")
			return false
		}
	default:
		log.Warn("unknown notification channel, dropping")
		return false
	}
	return true
}

func (s *Sender) placeholder(email string) bool {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return true
	}
	domain := strings.ToLower(email[at+1:])
	for _, d := range s.cfg.PlaceholderDomains {
		if domain == strings.ToLower(d) {
			return true
		}
	}
	return false
}

func (s *Sender) count(channel, typ, outcome string) {
	telemetry.NotificationsTotal.WithLabelValues(channel, typ, outcome).Inc()
}

// DedupKey identifies a notification by tag, recipient and payload.
func DedupKey(msg *messages.NotificationMessage) string {
	payload, _ := json.Marshal(msg.Items)
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("notify:%s:%d:%s", msg.Tag(), msg.UserID, hex.EncodeToString(sum[:8]))
}

// DeleteByTag removes every queued message whose body contains tag, in any queue.
// Grouped circular notifications are only removed when tag matches the whole group.
func DeleteByTag(ctx context.Context, store TagStore, tag string) error {
	n, err := store.DeleteByTag(ctx, tag)
	if err != nil {
		telemetry.QueueTagMaintenanceTotal.WithLabelValues("delete", "error").Inc()
		return err
	}
	telemetry.QueueTagMaintenanceTotal.WithLabelValues("delete", "deleted").Inc()
	slog.Debug("queued messages deleted by tag", "tag", tag, "count", n)
	return nil
}

// UpdateByTag postpones the undelivered message tagged tag in queueName by delaySeconds
// from now. When nothing was postponed, every message with that tag is deleted so the
// caller can enqueue a fresh one, and false is returned.
func UpdateByTag(ctx context.Context, store TagStore, tag, queueName string, delaySeconds int) (bool, error) {
	availableAt := time.Now().Add(time.Duration(delaySeconds) * time.Second)
	n, err := store.RescheduleByTag(ctx, tag, queueName, availableAt)
	if err != nil {
		telemetry.QueueTagMaintenanceTotal.WithLabelValues("update", "error").Inc()
		return false, err
	}
	if n > 0 {
		telemetry.QueueTagMaintenanceTotal.WithLabelValues("update", "rescheduled").Inc()
		return true, nil
	}
	if err := DeleteByTag(ctx, store, tag); err != nil {
		return false, err
	}
	telemetry.QueueTagMaintenanceTotal.WithLabelValues("update", "deleted").Inc()
	return false, nil
}
