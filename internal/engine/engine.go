package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"gateline/internal/config"
	"gateline/internal/events"
	"gateline/internal/gate"
	"gateline/internal/metrics"
	"gateline/internal/notify"
	"gateline/internal/repo"
	"gateline/internal/workflow"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Rules    workflow.Rules
	Gates    gate.Evaluator
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// New wires an engine from a validated config. Notifier, Metrics and Logger
// may be replaced afterwards.
func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	rules, err := workflow.FromConfig(cfg)
	if err != nil {
		return Engine{}, fmt.Errorf("workflow rules: %w", err)
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Rules:  rules,
		Gates: gate.Evaluator{
			RequiredSignoffs:    cfg.Gates.TechnicalReview.RequiredSignoffs,
			DistinctDisciplines: cfg.Gates.TechnicalReview.DistinctDisciplines,
		},
		Notifier: notify.Nop{},
		Logger:   slog.Default(),
		Now:      time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// begin bounds the operation by the store timeout and opens its transaction.
func (e Engine) begin(ctx context.Context, op string) (context.Context, *sql.Tx, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Config.StoreTimeout())
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		cancel()
		return nil, nil, nil, classify(op, err)
	}
	return ctx, tx, cancel, nil
}

// read bounds a read-only call by the store timeout.
func (e Engine) read(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.Config.StoreTimeout())
}

func (e Engine) emit(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, evtType, projectID, entityKind, entityID, actorID, payload)
}

// observe records latency and outcome of an operation. Use with a named error result.
func (e Engine) observe(op string, started time.Time, errp *error) {
	outcome := "ok"
	if errp != nil && *errp != nil {
		kind := KindOf(*errp)
		outcome = kind.String()
		switch kind {
		case KindNotFound, KindUnauthorized, KindValidation, KindGateNotSatisfied, KindInvalidState:
			e.logger().Debug("operation refused", "op", op, "err", *errp)
		default:
			e.logger().Error("operation failed", "op", op, "err", *errp)
		}
	}
	e.Metrics.Observe(op, outcome, started)
}

type notice struct {
	channel string
	message string
}

// deliver hands committed notifications to the notifier. Errors are logged only.
func (e Engine) deliver(ctx context.Context, notices []notice) {
	if e.Notifier == nil {
		return
	}
	for _, n := range notices {
		if err := e.Notifier.Notify(ctx, n.channel, n.message); err != nil {
			e.logger().Warn("notification failed", "channel", n.channel, "err", err)
		}
	}
}

func ptr[T any](v T) *T { return &v }
