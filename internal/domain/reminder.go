package domain

// Kind is the reminder category relative to an application deadline.
type Kind string

const (
	KindApproaching  Kind = "approaching"
	KindDayBefore    Kind = "dayBefore"
	KindDayOf        Kind = "dayOf"
	KindOverdue      Kind = "overdue"
	KindWeeklyDigest Kind = "weeklyDigest"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "inApp"
)

func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelPush, ChannelInApp}
}

// ReminderSpec is one desired reminder: kind plus the offset from the
// deadline in minutes. Negative offsets fire before the deadline.
type ReminderSpec struct {
	Kind          Kind `json:"kind"`
	OffsetMinutes int  `json:"offsetMinutes"`
}

// DefaultSpecs is applied when a schedule is created without explicit specs.
// The approaching offset follows the user's approachingDays preference.
func DefaultSpecs(approachingDays int) []ReminderSpec {
	return []ReminderSpec{
		{Kind: KindApproaching, OffsetMinutes: -approachingDays * 24 * 60},
		{Kind: KindDayBefore, OffsetMinutes: -24 * 60},
		{Kind: KindDayOf, OffsetMinutes: 0},
		{Kind: KindOverdue, OffsetMinutes: 60},
	}
}
