// Package main is an operator tool for the notification queue. It removes or
// reschedules pending messages by tag, prints the backlog per queue and can
// retract a circular from the console. Console mutations are audited like HTTP
// requests, with the --COMMAND-- origin and --CONSOLE-- client address.
//
// Usage:
//
//	queuectl delete <tag>
//	queuectl update <tag> <queue> <delay-seconds>
//	queuectl stats
//	queuectl retract <circular-id>
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/school-registry/registro/internal/audit"
	"github.com/school-registry/registro/internal/config"
	"github.com/school-registry/registro/internal/db"
	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/db/repositories"
	"github.com/school-registry/registro/internal/db/uow"
	"github.com/school-registry/registro/internal/messages"
	"github.com/school-registry/registro/internal/notify"
	"github.com/school-registry/registro/internal/queue"
	"github.com/school-registry/registro/internal/requestctx"
	"github.com/school-registry/registro/internal/telemetry"
)

const usage = `usage:
  queuectl delete <tag>
  queuectl update <tag> <queue> <delay-seconds>
  queuectl stats
  queuectl retract <circular-id>`

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "queuectl:", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("missing command\n%s", usage)
	}

	_ = godotenv.Load()
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := queue.NewStore(database)
	m := uow.NewManager(database, models.NewSchema())

	var shipper audit.Shipper
	if cfg.Audit.Enabled {
		ms, err := audit.NewMultiShipper(audit.ConfigsFrom(&cfg.Audit))
		if err != nil {
			return fmt.Errorf("failed to create audit shippers: %w", err)
		}
		defer ms.Close()
		if ms.Len() > 0 {
			shipper = ms
		}
	}

	a := &app{
		tags:   store,
		counts: store,
		out:    os.Stdout,
		retract: (&retractor{
			circulars: repositories.NewCircularRepository(database),
			uow:       m,
			tags:      store,
			persister: audit.NewPersister(m, shipper),
			audit:     cfg.Audit.Enabled,
		}).Retract,
	}
	return a.execute(ctx, os.Args[1:])
}

// QueueCounter reports the backlog per queue.
type QueueCounter interface {
	Counts(ctx context.Context) (map[string]int64, error)
}

type app struct {
	tags    notify.TagStore
	counts  QueueCounter
	retract func(ctx context.Context, id int64) error
	out     io.Writer
}

func (a *app) execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command\n%s", usage)
	}

	switch args[0] {
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("delete takes exactly one tag\n%s", usage)
		}
		if err := notify.DeleteByTag(ctx, a.tags, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "deleted pending messages tagged %s\n", args[1])
		return nil

	case "update":
		if len(args) != 4 {
			return fmt.Errorf("update takes a tag, a queue and a delay\n%s", usage)
		}
		delay, err := strconv.Atoi(args[3])
		if err != nil || delay < 0 {
			return fmt.Errorf("invalid delay %q: must be a non-negative number of seconds", args[3])
		}
		if !knownQueue(args[2]) {
			return fmt.Errorf("unknown queue %q", args[2])
		}
		updated, err := notify.UpdateByTag(ctx, a.tags, args[1], args[2], delay)
		if err != nil {
			return err
		}
		if updated {
			fmt.Fprintf(a.out, "rescheduled %s on %s in %ds\n", args[1], args[2], delay)
		} else {
			fmt.Fprintf(a.out, "no pending message tagged %s on %s; stale copies deleted\n", args[1], args[2])
		}
		return nil

	case "stats":
		counts, err := a.counts.Counts(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(a.out, "%-10s %d\n", name, counts[name])
		}
		return nil

	case "retract":
		if len(args) != 2 {
			return fmt.Errorf("retract takes exactly one circular id\n%s", usage)
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid circular id %q", args[1])
		}
		if err := a.retract(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "circular %d retracted\n", id)
		return nil

	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func knownQueue(name string) bool {
	if name == queue.FailedQueue {
		return true
	}
	for _, q := range messages.Routes() {
		if q == name {
			return true
		}
	}
	return false
}

type circularGetter interface {
	GetCircular(ctx context.Context, id int64) (*models.Circular, error)
}

type retractor struct {
	circulars circularGetter
	uow       *uow.Manager
	tags      notify.TagStore
	persister *audit.Persister
	audit     bool
}

// Retract sets a published circular back to draft and drops its pending notifications.
func (r *retractor) Retract(ctx context.Context, id int64) error {
	ctx = requestctx.With(ctx, requestctx.Console(models.CommandOrigin))

	circ, err := r.circulars.GetCircular(ctx, id)
	if err != nil {
		return err
	}
	if circ == nil {
		return fmt.Errorf("circular %d not found", id)
	}
	if !circ.Published() {
		return fmt.Errorf("circular %d is not published", id)
	}

	var l *audit.Listener
	if r.audit {
		l = audit.NewListener(r.uow.Schema())
		ctx = uow.WithHooks(ctx, l)
	}

	w := r.uow.Begin(ctx)
	if err := w.Track(circ); err != nil {
		return err
	}
	circ.Status = models.StatusDraft
	if err := w.Commit(ctx); err != nil {
		return fmt.Errorf("failed to retract circular %d: %w", id, err)
	}

	if l != nil {
		if err := r.persister.Flush(ctx, l); err != nil {
			slog.Error("failed to persist audit records", "circular_id", id, "error", err)
		}
	}
	return notify.DeleteByTag(ctx, r.tags, messages.CircularTag(id))
}
