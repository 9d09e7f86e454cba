// Package plan computes concrete fire-times for a schedule. It is pure: the
// scheduler loop re-plans on every tick instead of persisting a materialized
// plan, which only works because identical inputs always yield identical
// output.
package plan

import (
	"sort"
	"time"

	"nudge/internal/domain"
	"nudge/internal/prefs"
)

// Fire is one planned delivery: a (kind, channel) pair and the instant it
// should be sent.
type Fire struct {
	Kind    domain.Kind
	Channel domain.Channel
	At      time.Time
}

// Plan expands reminder specs into per-channel fire-times, honoring the
// resolved preferences and quiet hours.
//
// now participates only in the overdue eligibility gate: an overdue fire is
// planned once the deadline has passed, and its time is a function of the
// original deadline, not of now.
func Plan(deadline time.Time, specs []domain.ReminderSpec, res prefs.Resolved, now time.Time) []Fire {
	var out []Fire
	seen := map[domain.Kind]map[domain.Channel]bool{}

	for _, spec := range specs {
		if spec.Kind == domain.KindOverdue && !now.After(deadline) {
			continue
		}
		channels := res.EnabledChannels(spec.Kind)
		if len(channels) == 0 {
			continue
		}

		naive := deadline.Add(time.Duration(spec.OffsetMinutes) * time.Minute)
		for _, ch := range channels {
			if seen[spec.Kind][ch] {
				continue
			}
			if seen[spec.Kind] == nil {
				seen[spec.Kind] = map[domain.Channel]bool{}
			}
			seen[spec.Kind][ch] = true

			out = append(out, Fire{
				Kind:    spec.Kind,
				Channel: ch,
				At:      adjustQuiet(naive, deadline, spec.Kind, res),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Channel < out[j].Channel
	})
	return out
}

// adjustQuiet moves a fire that lands inside the quiet-hours window. The
// preferred shift is forward to the window's end on the same local day; for
// pre-deadline kinds whose forward shift would cross the deadline, the fire
// moves backward to the window's start instead (earlier beats missed).
func adjustQuiet(fire, deadline time.Time, kind domain.Kind, res prefs.Resolved) time.Time {
	q := res.Quiet
	if !q.Enabled {
		return fire
	}

	local := fire.In(res.Location)
	m := local.Hour()*60 + local.Minute()
	if !q.Contains(m) {
		return fire
	}

	y, mo, d := local.Date()
	var fwd time.Time
	if q.Start < q.End || m < q.End {
		// window ends later the same local day
		fwd = time.Date(y, mo, d, q.End/60, q.End%60, 0, 0, res.Location)
	} else {
		// late-evening half of a midnight-wrapping window
		fwd = time.Date(y, mo, d+1, q.End/60, q.End%60, 0, 0, res.Location)
	}

	// Only reminders meant to land before the deadline are protected from
	// being pushed past it; a dayOf fire at the deadline itself may slide
	// forward out of the window.
	if kind != domain.KindOverdue && fire.Before(deadline) && fwd.After(deadline) {
		var back time.Time
		if m >= q.Start {
			back = time.Date(y, mo, d, q.Start/60, q.Start%60, 0, 0, res.Location)
		} else {
			// early-morning half of a wrapping window: start was yesterday
			back = time.Date(y, mo, d-1, q.Start/60, q.Start%60, 0, 0, res.Location)
		}
		return back.UTC()
	}
	return fwd.UTC()
}

// NextAfter returns the earliest future fire-time for a schedule, including
// the not-yet-eligible overdue fire, so the loop can index on it. Nil means
// nothing will ever fire again.
func NextAfter(deadline time.Time, specs []domain.ReminderSpec, res prefs.Resolved, now time.Time, fires []Fire) *time.Time {
	var next *time.Time
	consider := func(t time.Time) {
		if !t.After(now) {
			return
		}
		if next == nil || t.Before(*next) {
			u := t
			next = &u
		}
	}

	for _, f := range fires {
		consider(f.At)
	}
	// The planner gates overdue on now > deadline, so pre-deadline its fire
	// is absent from the plan but still upcoming.
	if !now.After(deadline) {
		for _, spec := range specs {
			if spec.Kind != domain.KindOverdue {
				continue
			}
			if len(res.EnabledChannels(spec.Kind)) == 0 {
				continue
			}
			consider(deadline.Add(time.Duration(spec.OffsetMinutes) * time.Minute))
		}
	}
	return next
}
