package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"relay/internal/alert"
	"relay/internal/domain"
	"relay/internal/observability"
	"relay/internal/providers/slack"
	"relay/internal/store"
)

type Store interface {
	DueDeliveries(ctx context.Context, now time.Time) ([]store.ScheduledDelivery, error)
	MarkDeliveryStatus(ctx context.Context, in store.DeliveryStatusUpdate) (claimed bool, err error)
}

type TokenSource interface {
	Resolve(ctx context.Context, tenantID string) (string, error)
}

type Sender interface {
	Post(ctx context.Context, accessToken, channel, text string) error
}

type AlertPublisher interface {
	Publish(ctx context.Context, a alert.Alert) error
}

// Engine is the scheduled-delivery scan loop. Each scan reads the due
// set and processes items independently: every picked-up item gets
// exactly one terminal status write, enforced by the store's
// conditional update. Failed is final; there is no automatic retry,
// because a duplicate send is worse than a dropped message that an
// operator can re-schedule.
type Engine struct {
	Store  Store
	Tokens TokenSource
	Sender Sender
	Alerts AlertPublisher // optional

	Limiter *rate.Limiter
	Breaker *gobreaker.CircuitBreaker

	Interval    time.Duration
	Concurrency int
	SendTimeout time.Duration
	Now         func() time.Time
}

// Run scans immediately and then once per interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := e.RunOnce(ctx); err != nil {
			slog.Error("dispatch scan failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single scan. Exposed so tests can drive the loop
// without a wall-clock timer.
func (e *Engine) RunOnce(ctx context.Context) error {
	now := e.now()
	due, err := e.Store.DueDeliveries(ctx, now)
	if err != nil {
		return err
	}

	observability.Scans.Inc()
	observability.DueItems.Observe(float64(len(due)))
	if len(due) == 0 {
		return nil
	}
	slog.Info("dispatch scan", "due", len(due))

	workers := e.Concurrency
	if workers <= 0 {
		workers = 1
	}

	items := make(chan store.ScheduledDelivery)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range items {
				e.process(ctx, item)
			}
		}()
	}
	for _, item := range due {
		select {
		case items <- item:
		case <-ctx.Done():
		}
	}
	close(items)
	wg.Wait()
	return ctx.Err()
}

func (e *Engine) process(ctx context.Context, item store.ScheduledDelivery) {
	token, err := e.Tokens.Resolve(ctx, item.TenantID)
	if err != nil {
		e.failAuth(ctx, item, err)
		return
	}

	if err := e.deliver(ctx, token, item); err != nil {
		var remote *slack.RemoteError
		if errors.As(err, &remote) {
			observability.Deliveries.WithLabelValues("remote_rejected").Inc()
			e.settle(ctx, item, domain.StatusFailed, remote.Reason)
		} else {
			observability.Deliveries.WithLabelValues("transport_error").Inc()
			e.settle(ctx, item, domain.StatusFailed, "transport_error: "+err.Error())
		}
		return
	}

	observability.Deliveries.WithLabelValues("sent").Inc()
	e.settle(ctx, item, domain.StatusSent, "")
}

func (e *Engine) failAuth(ctx context.Context, item store.ScheduledDelivery, err error) {
	switch {
	case errors.Is(err, domain.ErrNotAuthorized):
		observability.Deliveries.WithLabelValues("not_authorized").Inc()
		e.settle(ctx, item, domain.StatusFailed, "not_authorized")
	case errors.Is(err, domain.ErrRefreshFailed):
		observability.Deliveries.WithLabelValues("refresh_failed").Inc()
		e.publishAlert(ctx, item.TenantID, err.Error())
		e.settle(ctx, item, domain.StatusFailed, err.Error())
	default:
		observability.Deliveries.WithLabelValues("credential_error").Inc()
		e.settle(ctx, item, domain.StatusFailed, "credential_error: "+err.Error())
	}
}

func (e *Engine) deliver(ctx context.Context, token string, item store.ScheduledDelivery) error {
	if e.Limiter != nil {
		waitCtx, cancelWait := context.WithTimeout(ctx, 10*time.Second)
		err := e.Limiter.Wait(waitCtx)
		cancelWait()
		if err != nil {
			return err
		}
	}

	call := func() (any, error) {
		timeout := e.SendTimeout
		if timeout <= 0 {
			timeout = 6 * time.Second
		}
		sendCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		err := e.Sender.Post(sendCtx, token, item.Destination, item.Body)
		observability.SendLatency.Observe(time.Since(start).Seconds())
		return nil, err
	}

	if e.Breaker == nil {
		_, err := call()
		return err
	}
	_, err := e.Breaker.Execute(call)
	return err
}

// settle writes the terminal status. A no-op claim means the row was
// already settled by an overlapping scan or deleted by a racing cancel.
func (e *Engine) settle(ctx context.Context, item store.ScheduledDelivery, status domain.DeliveryStatus, reason string) {
	claimed, err := e.Store.MarkDeliveryStatus(ctx, store.DeliveryStatusUpdate{
		ID:         item.ID,
		Status:     string(status),
		FailReason: reason,
		Now:        e.now(),
	})
	if err != nil {
		slog.Error("status write failed", "id", item.ID, "status", status, "err", err)
		return
	}
	if !claimed {
		observability.Deliveries.WithLabelValues("already_settled").Inc()
		slog.Info("delivery already settled, skipping write", "id", item.ID)
		return
	}
	if status == domain.StatusFailed {
		slog.Warn("delivery failed", "id", item.ID, "tenant_id", item.TenantID, "reason", reason)
	} else {
		slog.Info("delivery sent", "id", item.ID, "tenant_id", item.TenantID, "channel", item.Destination)
	}
}

func (e *Engine) publishAlert(ctx context.Context, tenantID, reason string) {
	if e.Alerts == nil {
		return
	}
	err := e.Alerts.Publish(ctx, alert.Alert{TenantID: tenantID, Reason: reason, At: e.now()})
	if err != nil {
		observability.Alerts.WithLabelValues("error").Inc()
		slog.Error("reauth alert publish failed", "tenant_id", tenantID, "err", err)
		return
	}
	observability.Alerts.WithLabelValues("ok").Inc()
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
