package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"nudge/internal/domain"
	"nudge/internal/plan"
	"nudge/internal/prefs"
)

var (
	ErrNotFound          = errors.New("schedule not found")
	ErrValidation        = errors.New("invalid schedule")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// PrefSource supplies the resolved preferences the seed computation needs;
// quiet hours move fires, so the naive offsets alone would under- or
// over-shoot the index value.
type PrefSource interface {
	Resolve(ctx context.Context, userID uint64) (prefs.Resolved, error)
}

type Service struct {
	DB    *gorm.DB
	Prefs PrefSource
}

type UpsertInput struct {
	JobID       uint64
	ScheduledAt time.Time
	Timezone    string
	// Specs may be empty; DefaultSpecs(approachingDays) is applied then.
	Specs           []domain.ReminderSpec
	ApproachingDays int
}

// Upsert creates the schedule for (user, job) or replaces its intent. A
// re-upsert of a terminal schedule re-activates it: the user set a new
// deadline, so reminders should flow again.
func (s *Service) Upsert(ctx context.Context, userID uint64, in UpsertInput) (*Schedule, error) {
	if in.JobID == 0 {
		return nil, fmt.Errorf("%w: jobId required", ErrValidation)
	}
	if in.Timezone != "" {
		if _, err := time.LoadLocation(in.Timezone); err != nil {
			return nil, fmt.Errorf("%w: unknown timezone %q", ErrValidation, in.Timezone)
		}
	}

	specs := in.Specs
	if len(specs) == 0 {
		days := in.ApproachingDays
		if days < 1 || days > 30 {
			days = 3
		}
		specs = domain.DefaultSpecs(days)
	}
	if err := ValidateSpecs(specs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	res := prefs.Defaults()
	if s.Prefs != nil {
		r, err := s.Prefs.Resolve(ctx, userID)
		if err != nil {
			return nil, err
		}
		res = r
	}

	var out Schedule
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Schedule
		err := tx.Where("user_id = ? AND job_id = ?", userID, in.JobID).First(&existing).Error
		creating := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !creating {
			return err
		}

		if creating && !in.ScheduledAt.After(time.Now()) {
			return fmt.Errorf("%w: deadline is in the past", ErrValidation)
		}

		tz := in.Timezone
		if tz == "" {
			tz = "UTC"
		}
		next := seedNextFire(in.ScheduledAt, specs, res, time.Now())

		if creating {
			out = Schedule{
				UserID:      userID,
				JobID:       in.JobID,
				ScheduledAt: in.ScheduledAt,
				Timezone:    tz,
				Specs:       specs,
				Status:      StatusScheduled,
				NextFireAt:  next,
			}
			return tx.Create(&out).Error
		}

		existing.ScheduledAt = in.ScheduledAt
		existing.Timezone = tz
		existing.Specs = specs
		existing.Status = StatusScheduled
		existing.LastProcessedAt = nil
		existing.NextFireAt = next
		existing.UpdatedAt = time.Now()
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		out = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// seedNextFire is the earliest adjusted fire-time, used to seed NextFireAt
// before the loop has processed the row. It takes the planner's quiet-hours
// shifts into account: a fire moved back to the window's start must enter the
// due scan at the shifted time, not the naive one. Past fires are kept so a
// re-upsert close to the deadline is picked up on the next tick.
func seedNextFire(deadline time.Time, specs []domain.ReminderSpec, res prefs.Resolved, now time.Time) *time.Time {
	var min *time.Time
	consider := func(t time.Time) {
		if min == nil || t.Before(*min) {
			u := t
			min = &u
		}
	}
	for _, f := range plan.Plan(deadline, specs, res, now) {
		consider(f.At)
	}
	// the planner gates overdue on now > deadline; pre-deadline its fire is
	// absent from the plan but still upcoming
	if !now.After(deadline) {
		for _, sp := range specs {
			if sp.Kind != domain.KindOverdue {
				continue
			}
			if len(res.EnabledChannels(sp.Kind)) == 0 {
				continue
			}
			consider(deadline.Add(time.Duration(sp.OffsetMinutes) * time.Minute))
		}
	}
	return min
}

func (s *Service) Get(ctx context.Context, userID, id uint64) (*Schedule, error) {
	var sch Schedule
	err := s.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&sch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sch, nil
}

func (s *Service) List(ctx context.Context, userID uint64) ([]Schedule, error) {
	var out []Schedule
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("scheduled_at asc").
		Find(&out).Error
	return out, err
}

// SetStatus applies an explicit transition (API cancel, or submitted for
// platforms that call instead of publishing an event). Terminal statuses
// clear NextFireAt so the loop stops selecting the row.
func (s *Service) SetStatus(ctx context.Context, userID, id uint64, status string) (*Schedule, error) {
	if status != StatusSubmitted && status != StatusCancelled {
		return nil, fmt.Errorf("%w: status %q not settable", ErrValidation, status)
	}
	var sch Schedule
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&sch).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if !CanTransition(sch.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sch.Status, status)
		}
		sch.Status = status
		sch.NextFireAt = nil
		sch.UpdatedAt = time.Now()
		return tx.Save(&sch).Error
	})
	if err != nil {
		return nil, err
	}
	return &sch, nil
}

// ApplyJobStatus handles a job-status event from the surrounding platform.
// Unknown schedules and already-terminal rows are no-ops: the event stream
// delivers at-least-once.
func (s *Service) ApplyJobStatus(ctx context.Context, userID, jobID uint64, status string) error {
	if status != StatusSubmitted && status != StatusCancelled {
		return fmt.Errorf("%w: job status %q", ErrValidation, status)
	}
	return s.DB.WithContext(ctx).Model(&Schedule{}).
		Where("user_id = ? AND job_id = ? AND status IN ?", userID, jobID,
			[]string{StatusScheduled, StatusExpired}).
		Updates(map[string]any{
			"status":       status,
			"next_fire_at": nil,
			"updated_at":   time.Now(),
		}).Error
}

// DueCandidates returns active schedules whose derived next fire falls
// inside the look-ahead window.
func (s *Service) DueCandidates(ctx context.Context, until time.Time) ([]Schedule, error) {
	var out []Schedule
	err := s.DB.WithContext(ctx).
		Where("status IN ? AND next_fire_at IS NOT NULL AND next_fire_at <= ?",
			[]string{StatusScheduled, StatusExpired}, until).
		Order("next_fire_at asc").
		Find(&out).Error
	return out, err
}

// SaveWatermark records a processed tick for one schedule.
func (s *Service) SaveWatermark(ctx context.Context, id uint64, processedAt time.Time, nextFire *time.Time) error {
	return s.DB.WithContext(ctx).Model(&Schedule{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_processed_at": processedAt,
			"next_fire_at":      nextFire,
			"updated_at":        time.Now(),
		}).Error
}

// MarkExpired flips a scheduled row past its overdue grace to expired.
// Purely informational; overdue reminders still fire from expired.
func (s *Service) MarkExpired(ctx context.Context, id uint64) error {
	return s.DB.WithContext(ctx).Model(&Schedule{}).
		Where("id = ? AND status = ?", id, StatusScheduled).
		Updates(map[string]any{"status": StatusExpired, "updated_at": time.Now()}).Error
}

// ActiveUsers lists distinct owners of non-terminal schedules; the digest
// aggregator walks this instead of requiring a preferences row per user.
func (s *Service) ActiveUsers(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := s.DB.WithContext(ctx).Model(&Schedule{}).
		Distinct("user_id").
		Where("status IN ?", []string{StatusScheduled, StatusExpired}).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

// UpcomingForUser returns scheduled deadlines inside the window plus expired
// rows, for the weekly digest.
func (s *Service) UpcomingForUser(ctx context.Context, userID uint64, from, to time.Time) (upcoming, expired []Schedule, err error) {
	err = s.DB.WithContext(ctx).
		Where("user_id = ? AND status = ? AND scheduled_at > ? AND scheduled_at <= ?",
			userID, StatusScheduled, from, to).
		Order("scheduled_at asc").
		Find(&upcoming).Error
	if err != nil {
		return nil, nil, err
	}
	err = s.DB.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, StatusExpired).
		Order("scheduled_at asc").
		Find(&expired).Error
	if err != nil {
		return nil, nil, err
	}
	return upcoming, expired, nil
}
