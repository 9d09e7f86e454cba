package prefs

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"nudge/internal/domain"
)

// QuietWindow is a local-time window in minutes since midnight. Start may be
// greater than End, meaning the window wraps midnight.
type QuietWindow struct {
	Enabled bool
	Start   int
	End     int
}

// Contains reports whether the local minute m falls inside the window.
// The end boundary is exclusive so a fire shifted to the end is allowed.
func (q QuietWindow) Contains(m int) bool {
	if !q.Enabled {
		return false
	}
	if q.Start < q.End {
		return m >= q.Start && m < q.End
	}
	return m >= q.Start || m < q.End
}

// Resolved is the effective notification configuration for one user after
// merging the stored row (if any) with system defaults.
type Resolved struct {
	Channels        map[domain.Channel]bool
	Kinds           map[domain.Kind]bool
	ApproachingDays int
	Location        *time.Location
	Quiet           QuietWindow
	DigestDay       time.Weekday
	DigestMinute    int
}

// Allows reports whether a (kind, channel) pair may fire. A disabled channel
// wins over any kind sub-toggle.
func (r Resolved) Allows(k domain.Kind, c domain.Channel) bool {
	return r.Channels[c] && r.Kinds[k]
}

// EnabledChannels returns the channels a kind may fire on, in stable order.
func (r Resolved) EnabledChannels(k domain.Kind) []domain.Channel {
	var out []domain.Channel
	for _, c := range domain.Channels() {
		if r.Allows(k, c) {
			out = append(out, c)
		}
	}
	return out
}

// Defaults is what a user with no stored Preferences row gets: email and
// in-app on, push off, quiet hours off, approaching window of 3 days,
// digest Monday 09:00 UTC.
func Defaults() Resolved {
	return Resolved{
		Channels: map[domain.Channel]bool{
			domain.ChannelEmail: true,
			domain.ChannelPush:  false,
			domain.ChannelInApp: true,
		},
		Kinds: map[domain.Kind]bool{
			domain.KindApproaching:  true,
			domain.KindDayBefore:    true,
			domain.KindDayOf:        true,
			domain.KindOverdue:      true,
			domain.KindWeeklyDigest: true,
		},
		ApproachingDays: 3,
		Location:        time.UTC,
		Quiet:           QuietWindow{},
		DigestDay:       time.Monday,
		DigestMinute:    9 * 60,
	}
}

type Resolver struct {
	DB *gorm.DB
}

// Resolve merges the stored row with defaults. It never treats a missing row
// or an unparseable field as an error; bad fields fall back to their default.
func (r *Resolver) Resolve(ctx context.Context, userID uint64) (Resolved, error) {
	var p Preferences
	err := r.DB.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Defaults(), nil
	}
	if err != nil {
		return Defaults(), err
	}
	return FromRow(p), nil
}

// FromRow converts a stored row to the resolved form, clamping and defaulting
// field by field.
func FromRow(p Preferences) Resolved {
	res := Defaults()

	res.Channels[domain.ChannelEmail] = p.EmailEnabled
	res.Channels[domain.ChannelPush] = p.PushEnabled
	res.Channels[domain.ChannelInApp] = p.InAppEnabled

	res.Kinds[domain.KindApproaching] = p.ApproachingOn
	res.Kinds[domain.KindDayBefore] = p.DayBeforeOn
	res.Kinds[domain.KindDayOf] = p.DayOfOn
	res.Kinds[domain.KindOverdue] = p.OverdueOn
	res.Kinds[domain.KindWeeklyDigest] = p.WeeklyDigestOn

	if p.ApproachingDays >= 1 && p.ApproachingDays <= 30 {
		res.ApproachingDays = p.ApproachingDays
	}

	if tz := strings.TrimSpace(p.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			res.Location = loc
		}
	}

	if p.QuietEnabled {
		start, okS := ParseClock(p.QuietStart)
		end, okE := ParseClock(p.QuietEnd)
		if okS && okE && start != end {
			res.Quiet = QuietWindow{Enabled: true, Start: start, End: end}
		}
	}

	if p.DigestDay >= 0 && p.DigestDay <= 6 {
		res.DigestDay = time.Weekday(p.DigestDay)
	}
	if m, ok := ParseClock(p.DigestTime); ok {
		res.DigestMinute = m
	}

	return res
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
