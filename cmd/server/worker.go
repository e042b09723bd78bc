package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/school-registry/registro/internal/actions"
	"github.com/school-registry/registro/internal/config"
	"github.com/school-registry/registro/internal/db/repositories"
	"github.com/school-registry/registro/internal/messages"
	"github.com/school-registry/registro/internal/notify"
	"github.com/school-registry/registro/internal/queue"
)

// queueNames lists every queue, including the failed one.
func queueNames() []string {
	names := []string{queue.FailedQueue}
	for _, q := range messages.Routes() {
		names = append(names, q)
	}
	return names
}

type namedWorker struct {
	name   string
	worker *queue.Worker
}

// newWorkerPool wires the queue consumers. Domain events and user actions share one
// worker; notification delivery runs on its own so slow SMTP or Telegram calls do not
// hold back event expansion.
func newWorkerPool(ctx context.Context, cfg *config.Config, database *sqlx.DB) ([]namedWorker, func(), error) {
	codec := queue.NewCodec()
	messages.Register(codec)
	store := queue.NewStore(database)
	bus := queue.NewBus(store, codec, messages.Routes())

	users := repositories.NewUserRepository(database)
	circulars := repositories.NewCircularRepository(database)
	notices := repositories.NewNoticeRepository(database)

	workerCfg := func(queues ...string) queue.WorkerConfig {
		return queue.WorkerConfig{
			Queues:       queues,
			PollInterval: cfg.Queue.PollInterval,
			BatchSize:    cfg.Queue.BatchSize,
			MaxRetries:   cfg.Queue.MaxRetries,
			RetryDelay:   cfg.Queue.RetryDelay,
		}
	}

	events := queue.NewWorker(store, codec, workerCfg(
		messages.QueueCircular, messages.QueueNotice, messages.QueueEvent, messages.QueueAction))
	events.HandleBatch(messages.KindCircular, notify.NewCircularDispatcher(circulars, bus, notify.DefaultCircularBatch))
	noticeDispatcher := notify.NewNoticeDispatcher(notices, bus)
	events.Handle(messages.KindNotice, noticeDispatcher)
	events.Handle(messages.KindEvent, noticeDispatcher)
	events.Handle(messages.KindAction, actions.NewHandler(users, circulars, cfg.Institute.SchoolYear))

	renderer, err := notify.NewTemplateRenderer()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load notification templates: %w", err)
	}

	n := cfg.Notifications
	var opts []notify.SenderOption
	if n.SMTP.Host != "" {
		opts = append(opts, notify.WithMailer(notify.NewSMTPMailer(n.SMTP, cfg.Institute.ShortName)))
	}
	if n.Telegram.Token != "" {
		opts = append(opts, notify.WithChatBot(notify.NewTelegramBot(n.Telegram.Token, n.Telegram.APIURL)))
	}

	cleanup := func() {}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable, duplicate suppression disabled", "addr", cfg.Redis.Address, "error", err)
			_ = rdb.Close()
		} else {
			opts = append(opts, notify.WithLedger(notify.NewRedisLedger(rdb, n.DedupTTL)))
			cleanup = func() { _ = rdb.Close() }
		}
	}

	sender := notify.NewSender(users, renderer, notify.SenderConfig{
		Enabled:            n.Enabled,
		PlaceholderDomains: n.PlaceholderDomains,
		Institute: notify.TemplateData{
			Institute:   cfg.Institute.ShortName,
			RegistryURL: cfg.Institute.RegistryURL,
		},
	}, opts...)

	delivery := queue.NewWorker(store, codec, workerCfg(messages.QueueNotification))
	delivery.Handle(messages.KindNotification, sender)

	slog.Info("queue workers configured",
		"notifications", n.Enabled,
		"smtp", n.SMTP.Host != "",
		"telegram", n.Telegram.Token != "",
		"redis_ledger", cfg.Redis.Enabled)

	return []namedWorker{
		{name: "queue-worker-events", worker: events},
		{name: "queue-worker-notifications", worker: delivery},
	}, cleanup, nil
}
