package dispatch

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusRead    = "read"
)

// Record is one attempted delivery. The log is append-only: outcomes update
// the row's status but rows are never deleted, and a partial unique index on
// (user_id, job_id, kind, channel, coalesce(period_key,'')) where status is
// sent or read makes "at most one delivery per tuple" a storage invariant.
type Record struct {
	ID     uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uint64    `gorm:"index;not null"`
	JobID  uint64    `gorm:"index;not null"`

	Kind    string `gorm:"size:32;not null"`
	Channel string `gorm:"size:32;not null"`

	Status  string `gorm:"size:16;not null;default:'pending'"`
	Attempt int    `gorm:"not null;default:1"`

	// PeriodKey scopes weekly digests to their week-start so a re-run of the
	// aggregator cannot double-send. Nil for ordinary reminders.
	PeriodKey *string `gorm:"size:16"`

	Error  *string    `gorm:"type:text"`
	SentAt *time.Time `gorm:"type:timestamptz"`
	ReadAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
}
