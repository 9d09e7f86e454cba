// Package scheduler drives reminder evaluation: one periodic loop scans due
// schedules, re-plans them, and pushes due fires through the gateway. All
// idempotency rests on the dispatch log's uniqueness guard, so running more
// than one loop instance is safe.
package scheduler

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nudge/internal/dispatch"
	"nudge/internal/domain"
	"nudge/internal/gateway"
	"nudge/internal/metrics"
	"nudge/internal/plan"
	"nudge/internal/prefs"
	"nudge/internal/schedule"
)

type ScheduleStore interface {
	DueCandidates(ctx context.Context, until time.Time) ([]schedule.Schedule, error)
	SaveWatermark(ctx context.Context, id uint64, processedAt time.Time, nextFire *time.Time) error
	MarkExpired(ctx context.Context, id uint64) error
}

type PrefSource interface {
	Resolve(ctx context.Context, userID uint64) (prefs.Resolved, error)
}

type DispatchLog interface {
	Append(ctx context.Context, rec *dispatch.Record) error
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, msg string) error
	HasSent(ctx context.Context, userID, jobID uint64, kind domain.Kind, channel domain.Channel, periodKey *string) (bool, error)
	Failures(ctx context.Context, userID, jobID uint64, kind domain.Kind, channel domain.Channel) (dispatch.FailureState, error)
}

type Loop struct {
	Schedules ScheduleStore
	Prefs     PrefSource
	Log       DispatchLog
	Gateway   gateway.Sender
	Logger    *zap.Logger

	Interval        time.Duration
	LookAhead       time.Duration
	DeliveryTimeout time.Duration
	MaxAttempts     int
	BackoffWindow   time.Duration
	OverdueGrace    time.Duration

	// Now is swappable for tests.
	Now func() time.Time
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick processes every schedule whose next fire falls inside the look-ahead
// window. Errors are contained per schedule: one broken row must not stall
// the rest of the scan.
func (l *Loop) Tick(ctx context.Context) {
	started := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(started).Seconds())
	}()

	now := l.now()
	cands, err := l.Schedules.DueCandidates(ctx, now.Add(l.LookAhead))
	if err != nil {
		l.Logger.Error("due scan failed", zap.Error(err))
		return
	}

	for _, s := range cands {
		if err := l.process(ctx, s, now); err != nil {
			l.Logger.Error("schedule processing failed",
				zap.Uint64("schedule_id", s.ID), zap.Error(err))
		}
	}
}

func (l *Loop) process(ctx context.Context, s schedule.Schedule, now time.Time) error {
	if schedule.Terminal(s.Status) {
		return nil
	}

	res, err := l.Prefs.Resolve(ctx, s.UserID)
	if err != nil {
		return err
	}

	fires := plan.Plan(s.ScheduledAt, s.Specs, res, now)
	if s.Status == schedule.StatusExpired || now.After(s.ScheduledAt.Add(l.OverdueGrace)) {
		// past the grace window only the overdue notice is still relevant;
		// a stale dayOf or dayBefore must not fire days after the deadline
		kept := fires[:0]
		for _, f := range fires {
			if f.Kind == domain.KindOverdue {
				kept = append(kept, f)
			}
		}
		fires = kept
	}
	needRetry := false
	for _, f := range fires {
		if f.At.After(now) {
			continue
		}
		if l.deliver(ctx, s, f, now) {
			needRetry = true
		}
	}

	if s.Status == schedule.StatusScheduled && now.After(s.ScheduledAt.Add(l.OverdueGrace)) {
		if err := l.Schedules.MarkExpired(ctx, s.ID); err != nil {
			l.Logger.Error("expire failed", zap.Uint64("schedule_id", s.ID), zap.Error(err))
		}
	}

	next := plan.NextAfter(s.ScheduledAt, s.Specs, res, now, fires)
	if needRetry {
		// keep the row in the scan so the retry happens on the next tick
		t := now.Add(l.Interval)
		if next == nil || t.Before(*next) {
			next = &t
		}
	}
	return l.Schedules.SaveWatermark(ctx, s.ID, now, next)
}

// deliver pushes one due fire through the idempotency gate, the bounded
// retry gate, and finally the gateway. Delivery failures stay inside the
// loop; they surface only through the log, metrics, and eventual retries.
// The return value says whether this fire still wants a future tick.
func (l *Loop) deliver(ctx context.Context, s schedule.Schedule, f plan.Fire, now time.Time) bool {
	sent, err := l.Log.HasSent(ctx, s.UserID, s.JobID, f.Kind, f.Channel, nil)
	if err != nil {
		l.Logger.Error("sent lookup failed", zap.Error(err))
		return true
	}
	if sent {
		return false
	}

	fs, err := l.Log.Failures(ctx, s.UserID, s.JobID, f.Kind, f.Channel)
	if err != nil {
		l.Logger.Error("failure lookup failed", zap.Error(err))
		return true
	}
	if fs.Count > 0 {
		if fs.Count >= l.MaxAttempts || now.Sub(fs.First) > l.BackoffWindow {
			// permanently failed, already counted when the last attempt ran
			return false
		}
		if now.Before(fs.Last.Add(backoffDelay(fs.Count))) {
			return true
		}
	}

	rec := &dispatch.Record{
		UserID:  s.UserID,
		JobID:   s.JobID,
		Kind:    string(f.Kind),
		Channel: string(f.Channel),
		Attempt: fs.Count + 1,
	}
	if err := l.Log.Append(ctx, rec); err != nil {
		l.Logger.Error("append dispatch failed", zap.Error(err))
		return true
	}

	cctx, cancel := context.WithTimeout(ctx, l.DeliveryTimeout)
	gwStart := time.Now()
	sendErr := l.Gateway.Send(cctx, gateway.Notification{
		UserID:  s.UserID,
		JobID:   s.JobID,
		Kind:    f.Kind,
		Channel: f.Channel,
		Payload: map[string]any{
			"scheduledAt": s.ScheduledAt,
			"timezone":    s.Timezone,
		},
	})
	cancel()
	metrics.DeliveryDuration.WithLabelValues(string(f.Channel)).Observe(time.Since(gwStart).Seconds())

	if sendErr != nil {
		// timeout included: never counted as sent
		metrics.DeliveriesTotal.WithLabelValues(string(f.Channel), string(f.Kind), dispatch.StatusFailed).Inc()
		first := fs.First
		if fs.Count == 0 {
			first = now
		}
		if rec.Attempt >= l.MaxAttempts || now.Add(backoffDelay(rec.Attempt)).Sub(first) > l.BackoffWindow {
			// no further attempt is allowed: count the abandonment here, once
			metrics.RetriesExhaustedTotal.WithLabelValues(string(f.Channel), string(f.Kind)).Inc()
		}
		if err := l.Log.MarkFailed(ctx, rec.ID, sendErr.Error()); err != nil {
			l.Logger.Error("mark failed failed", zap.Error(err))
		}
		l.Logger.Warn("delivery failed",
			zap.Uint64("user_id", s.UserID),
			zap.Uint64("job_id", s.JobID),
			zap.String("kind", string(f.Kind)),
			zap.String("channel", string(f.Channel)),
			zap.Int("attempt", rec.Attempt),
			zap.Error(sendErr),
		)
		return true
	}

	switch err := l.Log.MarkSent(ctx, rec.ID); err {
	case nil:
		metrics.DeliveriesTotal.WithLabelValues(string(f.Channel), string(f.Kind), dispatch.StatusSent).Inc()
	case dispatch.ErrDuplicate:
		// another instance won the race; already delivered
		l.Logger.Debug("duplicate send suppressed", zap.String("dispatch_id", rec.ID.String()))
	default:
		l.Logger.Error("mark sent failed", zap.Error(err))
		// the uniqueness guard makes a repeat attempt safe
		return true
	}
	return false
}

// backoffDelay mirrors the exponential worker backoff, capped at 10 minutes.
func backoffDelay(attempts int) time.Duration {
	sec := math.Min(math.Pow(2, float64(attempts)), 600)
	return time.Duration(sec) * time.Second
}
