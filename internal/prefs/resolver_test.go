package prefs

import (
	"testing"
	"time"

	"nudge/internal/domain"
)

func TestDefaultsShape(t *testing.T) {
	res := Defaults()

	if !res.Channels[domain.ChannelEmail] || !res.Channels[domain.ChannelInApp] {
		t.Fatal("email and inApp should default on")
	}
	if res.Channels[domain.ChannelPush] {
		t.Fatal("push should default off")
	}
	if res.Quiet.Enabled {
		t.Fatal("quiet hours should default off")
	}
	if res.ApproachingDays != 3 {
		t.Fatalf("approachingDays = %d, want 3", res.ApproachingDays)
	}
	for _, k := range []domain.Kind{domain.KindApproaching, domain.KindDayBefore, domain.KindDayOf, domain.KindOverdue, domain.KindWeeklyDigest} {
		if !res.Kinds[k] {
			t.Errorf("kind %s should default on", k)
		}
	}
}

func TestChannelDisabledWinsOverKindToggle(t *testing.T) {
	row := Preferences{
		EmailEnabled: false,
		DayOfOn:      true,
		InAppEnabled: true,
	}
	res := FromRow(row)

	if res.Allows(domain.KindDayOf, domain.ChannelEmail) {
		t.Fatal("disabled channel must suppress every kind under it")
	}
	if !res.Allows(domain.KindDayOf, domain.ChannelInApp) {
		t.Fatal("enabled channel with enabled kind should be allowed")
	}
}

func TestFromRowClampsAndDefaults(t *testing.T) {
	row := Preferences{
		EmailEnabled:    true,
		ApproachingDays: 99,        // out of range
		Timezone:        "Nope/TZ", // unknown
		QuietEnabled:    true,
		QuietStart:      "bogus",
		QuietEnd:        "08:00",
		DigestDay:       9, // out of range
		DigestTime:      "18:30",
	}
	res := FromRow(row)

	if res.ApproachingDays != 3 {
		t.Errorf("approachingDays = %d, want default 3", res.ApproachingDays)
	}
	if res.Location != time.UTC {
		t.Errorf("location = %v, want UTC fallback", res.Location)
	}
	if res.Quiet.Enabled {
		t.Error("unparseable quiet window must stay disabled")
	}
	if res.DigestDay != time.Monday {
		t.Errorf("digestDay = %v, want Monday fallback", res.DigestDay)
	}
	if res.DigestMinute != 18*60+30 {
		t.Errorf("digestMinute = %d, want %d", res.DigestMinute, 18*60+30)
	}
}

func TestFromRowQuietWindow(t *testing.T) {
	row := Preferences{
		QuietEnabled: true,
		QuietStart:   "22:00",
		QuietEnd:     "08:00",
	}
	res := FromRow(row)
	if !res.Quiet.Enabled {
		t.Fatal("quiet window should be enabled")
	}
	if res.Quiet.Start != 22*60 || res.Quiet.End != 8*60 {
		t.Fatalf("window = %d-%d", res.Quiet.Start, res.Quiet.End)
	}
}

func TestQuietWindowContainsWrapsMidnight(t *testing.T) {
	q := QuietWindow{Enabled: true, Start: 22 * 60, End: 8 * 60}

	cases := []struct {
		minute int
		want   bool
	}{
		{23 * 60, true},
		{2 * 60, true},
		{22 * 60, true},       // start boundary is inside
		{8 * 60, false},       // end boundary is outside
		{12 * 60, false},
		{21*60 + 59, false},
	}
	for _, c := range cases {
		if got := q.Contains(c.minute); got != c.want {
			t.Errorf("Contains(%d) = %v, want %v", c.minute, got, c.want)
		}
	}

	plain := QuietWindow{Enabled: true, Start: 9 * 60, End: 17 * 60}
	if plain.Contains(8 * 60) {
		t.Error("before start should be outside")
	}
	if !plain.Contains(12 * 60) {
		t.Error("midday should be inside")
	}
}

func TestParseClock(t *testing.T) {
	if m, ok := ParseClock("09:05"); !ok || m != 9*60+5 {
		t.Fatalf("ParseClock(09:05) = %d, %v", m, ok)
	}
	for _, s := range []string{"", "9", "25:00", "10:60", "aa:bb"} {
		if _, ok := ParseClock(s); ok {
			t.Errorf("ParseClock(%q) should fail", s)
		}
	}
}

func TestEnabledChannelsStableOrder(t *testing.T) {
	res := Defaults()
	res.Channels[domain.ChannelPush] = true

	got := res.EnabledChannels(domain.KindDayOf)
	want := []domain.Channel{domain.ChannelEmail, domain.ChannelPush, domain.ChannelInApp}
	if len(got) != len(want) {
		t.Fatalf("channels = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("channels = %v, want %v", got, want)
		}
	}
}
