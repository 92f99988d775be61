// Package notify delivers fire-and-forget workflow notifications.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gateline/internal/metrics"
)

// Channels the engine notifies on.
const (
	ChannelTaskReadyForReview = "task.ready_for_review"
	ChannelStageUnlocked      = "stage.unlocked"
	ChannelApprovalAdvanced   = "approval.advanced"
	ChannelProjectHandedOver  = "project.handed_over"
)

const defaultTimeout = 5 * time.Second

type Notifier interface {
	Notify(ctx context.Context, channel, message string) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, channel, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, channel, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher runs deliveries in the background so callers never wait on
// them. Failures are logged and counted, never returned.
type Dispatcher struct {
	Target  Notifier
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	wg sync.WaitGroup
}

func NewDispatcher(target Notifier, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{Target: target, Timeout: defaultTimeout, Logger: logger, Metrics: m}
}

// Notify schedules delivery and returns immediately.
func (d *Dispatcher) Notify(ctx context.Context, channel, message string) error {
	if d == nil || d.Target == nil {
		return nil
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		dctx, cancel := context.WithTimeout(base, timeout)
		defer cancel()
		err := d.Target.Notify(dctx, channel, message)
		d.Metrics.Notification(channel, err)
		if err != nil && d.Logger != nil {
			d.Logger.Warn("notification failed", "channel", channel, "err", err)
		}
	}()
	return nil
}

// Wait blocks until every scheduled delivery has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
