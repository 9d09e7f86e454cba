package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"nudge/internal/domain"
)

// ErrDuplicate means another writer already promoted a record for the same
// tuple to sent. Callers treat it as success.
var ErrDuplicate = errors.New("dispatch already sent")

var ErrNotFound = errors.New("dispatch record not found")

type Repo struct {
	DB *gorm.DB
}

// Append inserts a pending record for an attempt about to be made.
func (r *Repo) Append(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Status = StatusPending
	return r.DB.WithContext(ctx).Create(rec).Error
}

// MarkSent promotes a pending record. If the partial unique index rejects
// the promotion a concurrent loop instance won the race; the local record is
// closed as failed so it does not linger pending, and ErrDuplicate tells the
// caller the reminder is already delivered.
func (r *Repo) MarkSent(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	err := r.DB.WithContext(ctx).Model(&Record{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": StatusSent, "sent_at": now}).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		msg := "suppressed: sent by concurrent worker"
		_ = r.DB.WithContext(ctx).Model(&Record{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": StatusFailed, "error": msg}).Error
		return ErrDuplicate
	}
	return err
}

func (r *Repo) MarkFailed(ctx context.Context, id uuid.UUID, msg string) error {
	return r.DB.WithContext(ctx).Model(&Record{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": StatusFailed, "error": msg}).Error
}

// HasSent is the idempotency probe for one tuple. periodKey narrows digest
// lookups to a single week; nil matches only records without a key.
func (r *Repo) HasSent(ctx context.Context, userID, jobID uint64, kind domain.Kind, channel domain.Channel, periodKey *string) (bool, error) {
	// read is a later state of a sent record, so it counts as sent here.
	q := r.DB.WithContext(ctx).Model(&Record{}).
		Where("user_id = ? AND job_id = ? AND kind = ? AND channel = ? AND status IN ?",
			userID, jobID, string(kind), string(channel), []string{StatusSent, StatusRead})
	if periodKey == nil {
		q = q.Where("period_key IS NULL")
	} else {
		q = q.Where("period_key = ?", *periodKey)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// FailureState summarizes the failed attempts for one tuple: count plus the
// first and last failure instants, for the bounded-retry gate.
type FailureState struct {
	Count int
	First time.Time
	Last  time.Time
}

func (r *Repo) Failures(ctx context.Context, userID, jobID uint64, kind domain.Kind, channel domain.Channel) (FailureState, error) {
	var rows []Record
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND job_id = ? AND kind = ? AND channel = ? AND status = ? AND period_key IS NULL",
			userID, jobID, string(kind), string(channel), StatusFailed).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return FailureState{}, err
	}
	st := FailureState{Count: len(rows)}
	if len(rows) > 0 {
		st.First = rows[0].CreatedAt
		st.Last = rows[len(rows)-1].CreatedAt
	}
	return st, nil
}

// History lists every record for one (user, job), oldest first. statuses
// optionally narrows the result.
func (r *Repo) History(ctx context.Context, userID, jobID uint64, statuses []string) ([]Record, error) {
	q := r.DB.WithContext(ctx).
		Where("user_id = ? AND job_id = ?", userID, jobID)
	if len(statuses) > 0 {
		q = q.Where("status = any(?)", pq.Array(statuses))
	}
	var out []Record
	err := q.Order("created_at asc").Find(&out).Error
	return out, err
}

// MarkRead applies an external read receipt. Only sent records can move to
// read; the engine itself never sets it.
func (r *Repo) MarkRead(ctx context.Context, userID uint64, id uuid.UUID) error {
	res := r.DB.WithContext(ctx).Model(&Record{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, StatusSent).
		Updates(map[string]any{"status": StatusRead, "read_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
