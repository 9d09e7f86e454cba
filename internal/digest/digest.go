// Package digest builds the weekly roll-up: one notification per user
// summarizing upcoming deadlines and unresolved overdue applications.
package digest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nudge/internal/dispatch"
	"nudge/internal/domain"
	"nudge/internal/gateway"
	"nudge/internal/metrics"
	"nudge/internal/prefs"
	"nudge/internal/schedule"
)

type ScheduleSource interface {
	ActiveUsers(ctx context.Context) ([]uint64, error)
	UpcomingForUser(ctx context.Context, userID uint64, from, to time.Time) (upcoming, expired []schedule.Schedule, err error)
}

type PrefSource interface {
	Resolve(ctx context.Context, userID uint64) (prefs.Resolved, error)
}

type DispatchLog interface {
	Append(ctx context.Context, rec *dispatch.Record) error
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, msg string) error
	HasSent(ctx context.Context, userID, jobID uint64, kind domain.Kind, channel domain.Channel, periodKey *string) (bool, error)
}

type Item struct {
	JobID    uint64    `json:"jobId"`
	Deadline time.Time `json:"deadline"`
}

// Payload is what the gateway receives for a weeklyDigest send. Nil payload
// means nothing to report and no send.
type Payload struct {
	WeekStart string `json:"weekStart"`
	Upcoming  []Item `json:"upcoming"`
	Overdue   []Item `json:"overdue"`
}

type Aggregator struct {
	Schedules       ScheduleSource
	Prefs           PrefSource
	Log             DispatchLog
	Gateway         gateway.Sender
	Logger          *zap.Logger
	DeliveryTimeout time.Duration

	Now func() time.Time
}

func (a *Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Tick runs from a minute cron. A user is due when their local weekday and
// clock minute match the configured digest slot; the week-start period key
// keeps re-runs within the same minute (or week) idempotent.
func (a *Aggregator) Tick(ctx context.Context) {
	now := a.now()
	users, err := a.Schedules.ActiveUsers(ctx)
	if err != nil {
		a.Logger.Error("digest user scan failed", zap.Error(err))
		return
	}

	for _, uid := range users {
		res, err := a.Prefs.Resolve(ctx, uid)
		if err != nil {
			a.Logger.Error("digest resolve failed", zap.Uint64("user_id", uid), zap.Error(err))
			continue
		}
		channels := res.EnabledChannels(domain.KindWeeklyDigest)
		if len(channels) == 0 {
			continue
		}

		local := now.In(res.Location)
		if local.Weekday() != res.DigestDay {
			continue
		}
		if local.Hour()*60+local.Minute() != res.DigestMinute {
			continue
		}

		payload, err := a.Build(ctx, uid, now)
		if err != nil {
			a.Logger.Error("digest build failed", zap.Uint64("user_id", uid), zap.Error(err))
			continue
		}
		if payload == nil {
			continue
		}

		key := WeekKey(local)
		delivered := false
		for _, ch := range channels {
			if a.send(ctx, uid, ch, key, payload) {
				delivered = true
			}
		}
		// a re-run inside an already-covered week dispatches nothing and
		// must not count
		if delivered {
			metrics.DigestsBuiltTotal.Inc()
		}
	}
}

// Build assembles the digest for one user: scheduled deadlines inside the
// next 7 days plus expired schedules whose overdue reminder never went out.
// Returns nil when there is nothing to say.
func (a *Aggregator) Build(ctx context.Context, userID uint64, now time.Time) (*Payload, error) {
	upcoming, expired, err := a.Schedules.UpcomingForUser(ctx, userID, now, now.Add(7*24*time.Hour))
	if err != nil {
		return nil, err
	}

	p := &Payload{}
	for _, s := range upcoming {
		p.Upcoming = append(p.Upcoming, Item{JobID: s.JobID, Deadline: s.ScheduledAt})
	}
	for _, s := range expired {
		resolved, err := a.overdueResolved(ctx, s)
		if err != nil {
			return nil, err
		}
		if !resolved {
			p.Overdue = append(p.Overdue, Item{JobID: s.JobID, Deadline: s.ScheduledAt})
		}
	}

	if len(p.Upcoming) == 0 && len(p.Overdue) == 0 {
		return nil, nil
	}
	return p, nil
}

// overdueResolved reports whether any channel already carried the overdue
// reminder for this schedule.
func (a *Aggregator) overdueResolved(ctx context.Context, s schedule.Schedule) (bool, error) {
	for _, ch := range domain.Channels() {
		sent, err := a.Log.HasSent(ctx, s.UserID, s.JobID, domain.KindOverdue, ch, nil)
		if err != nil {
			return false, err
		}
		if sent {
			return true, nil
		}
	}
	return false, nil
}

// send reports whether a digest record actually went out on this channel.
func (a *Aggregator) send(ctx context.Context, userID uint64, ch domain.Channel, key string, payload *Payload) bool {
	sent, err := a.Log.HasSent(ctx, userID, 0, domain.KindWeeklyDigest, ch, &key)
	if err != nil {
		a.Logger.Error("digest sent lookup failed", zap.Error(err))
		return false
	}
	if sent {
		return false
	}

	rec := &dispatch.Record{
		UserID:    userID,
		Kind:      string(domain.KindWeeklyDigest),
		Channel:   string(ch),
		PeriodKey: &key,
	}
	if err := a.Log.Append(ctx, rec); err != nil {
		a.Logger.Error("digest append failed", zap.Error(err))
		return false
	}

	payload.WeekStart = key
	cctx, cancel := context.WithTimeout(ctx, a.DeliveryTimeout)
	sendErr := a.Gateway.Send(cctx, gateway.Notification{
		UserID:  userID,
		Kind:    domain.KindWeeklyDigest,
		Channel: ch,
		Payload: map[string]any{
			"weekStart": payload.WeekStart,
			"upcoming":  payload.Upcoming,
			"overdue":   payload.Overdue,
		},
	})
	cancel()

	if sendErr != nil {
		metrics.DeliveriesTotal.WithLabelValues(string(ch), string(domain.KindWeeklyDigest), dispatch.StatusFailed).Inc()
		if err := a.Log.MarkFailed(ctx, rec.ID, sendErr.Error()); err != nil {
			a.Logger.Error("digest mark failed failed", zap.Error(err))
		}
		return false
	}

	switch err := a.Log.MarkSent(ctx, rec.ID); err {
	case nil:
		metrics.DeliveriesTotal.WithLabelValues(string(ch), string(domain.KindWeeklyDigest), dispatch.StatusSent).Inc()
		return true
	case dispatch.ErrDuplicate:
		a.Logger.Debug("duplicate digest suppressed", zap.Uint64("user_id", userID))
	default:
		a.Logger.Error("digest mark sent failed", zap.Error(err))
	}
	return false
}

// WeekKey is the Monday date of the local week, e.g. "2025-03-10".
func WeekKey(local time.Time) string {
	delta := (int(local.Weekday()) + 6) % 7 // days since Monday
	monday := local.AddDate(0, 0, -delta)
	return monday.Format("2006-01-02")
}
