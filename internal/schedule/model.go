package schedule

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nudge/internal/domain"
)

const (
	StatusScheduled = "scheduled"
	StatusSubmitted = "submitted"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// SpecList is the ordered reminder set, stored as jsonb.
type SpecList []domain.ReminderSpec

func (s SpecList) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

func (s *SpecList) Scan(v any) error {
	switch b := v.(type) {
	case []byte:
		return json.Unmarshal(b, s)
	case string:
		return json.Unmarshal([]byte(b), s)
	case nil:
		*s = nil
		return nil
	default:
		return fmt.Errorf("unsupported spec list type %T", v)
	}
}

// Schedule is the durable intent to remind a user about one job's
// application deadline. Rows are never hard-deleted; terminal statuses keep
// the dispatch history addressable.
type Schedule struct {
	ID     uint64 `gorm:"primaryKey"`
	UserID uint64 `gorm:"index;not null;uniqueIndex:uq_schedules_user_job"`
	JobID  uint64 `gorm:"not null;uniqueIndex:uq_schedules_user_job"`

	ScheduledAt time.Time `gorm:"type:timestamptz;not null"`
	Timezone    string    `gorm:"type:text;not null;default:'UTC'"`

	Specs SpecList `gorm:"type:jsonb;not null;default:'[]'::jsonb"`

	Status string `gorm:"index;not null;default:'scheduled'"`

	// LastProcessedAt is the loop's watermark; NextFireAt is the derived
	// index value that keeps untouched schedules out of the tick query.
	LastProcessedAt *time.Time `gorm:"type:timestamptz"`
	NextFireAt      *time.Time `gorm:"index;type:timestamptz"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

// Terminal reports whether no reminder may ever fire again from this status.
func Terminal(status string) bool {
	return status == StatusSubmitted || status == StatusCancelled
}

// CanTransition encodes the monotonic status machine. Expired is
// informational: it can still move to submitted or cancelled.
func CanTransition(from, to string) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusScheduled:
		return to == StatusSubmitted || to == StatusCancelled || to == StatusExpired
	case StatusExpired:
		return to == StatusSubmitted || to == StatusCancelled
	default:
		return false
	}
}

const (
	minOffsetMinutes = -60 * 24 * 60 // 60 days before
	maxOffsetMinutes = 14 * 24 * 60  // 14 days after
)

// ValidateSpecs rejects unknown kinds, duplicate kinds, out-of-range offsets
// and offsets on the wrong side of the deadline for their kind.
func ValidateSpecs(specs []domain.ReminderSpec) error {
	if len(specs) == 0 {
		return errors.New("at least one reminder spec required")
	}
	seen := map[domain.Kind]bool{}
	for _, sp := range specs {
		switch sp.Kind {
		case domain.KindApproaching, domain.KindDayBefore, domain.KindDayOf:
			if sp.OffsetMinutes > 0 {
				return fmt.Errorf("kind %s must not fire after the deadline", sp.Kind)
			}
		case domain.KindOverdue:
			if sp.OffsetMinutes < 0 {
				return fmt.Errorf("kind %s must not fire before the deadline", sp.Kind)
			}
		default:
			return fmt.Errorf("unknown reminder kind %q", sp.Kind)
		}
		if seen[sp.Kind] {
			return fmt.Errorf("duplicate reminder kind %q", sp.Kind)
		}
		seen[sp.Kind] = true
		if sp.OffsetMinutes < minOffsetMinutes || sp.OffsetMinutes > maxOffsetMinutes {
			return fmt.Errorf("offset %d out of range for kind %q", sp.OffsetMinutes, sp.Kind)
		}
	}
	return nil
}
