package digest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"nudge/internal/dispatch"
	"nudge/internal/domain"
	"nudge/internal/gateway"
	"nudge/internal/metrics"
	"nudge/internal/prefs"
	"nudge/internal/schedule"
)

type fakeSource struct {
	users    []uint64
	upcoming []schedule.Schedule
	expired  []schedule.Schedule
}

func (f *fakeSource) ActiveUsers(context.Context) ([]uint64, error) {
	return f.users, nil
}

func (f *fakeSource) UpcomingForUser(context.Context, uint64, time.Time, time.Time) ([]schedule.Schedule, []schedule.Schedule, error) {
	return f.upcoming, f.expired, nil
}

type fakePrefs struct{ res prefs.Resolved }

func (f *fakePrefs) Resolve(context.Context, uint64) (prefs.Resolved, error) {
	return f.res, nil
}

type memLog struct {
	mu      sync.Mutex
	records []*dispatch.Record
}

func (m *memLog) Append(_ context.Context, rec *dispatch.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = uuid.New()
	rec.Status = dispatch.StatusPending
	m.records = append(m.records, rec)
	return nil
}

func (m *memLog) MarkSent(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			r.Status = dispatch.StatusSent
		}
	}
	return nil
}

func (m *memLog) MarkFailed(_ context.Context, id uuid.UUID, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			r.Status = dispatch.StatusFailed
			r.Error = &msg
		}
	}
	return nil
}

func (m *memLog) HasSent(_ context.Context, userID, jobID uint64, kind domain.Kind, channel domain.Channel, periodKey *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.UserID != userID || r.JobID != jobID || r.Kind != string(kind) || r.Channel != string(channel) {
			continue
		}
		if (r.PeriodKey == nil) != (periodKey == nil) {
			continue
		}
		if periodKey != nil && *r.PeriodKey != *periodKey {
			continue
		}
		if r.Status == dispatch.StatusSent || r.Status == dispatch.StatusRead {
			return true, nil
		}
	}
	return false, nil
}

type okGateway struct {
	mu    sync.Mutex
	calls int
}

func (g *okGateway) Send(context.Context, gateway.Notification) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return nil
}

// Monday 2025-03-10 09:00 UTC matches the default digest slot.
var digestNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newAggregator(src *fakeSource, log *memLog, gw *okGateway) *Aggregator {
	return &Aggregator{
		Schedules:       src,
		Prefs:           &fakePrefs{res: prefs.Defaults()},
		Log:             log,
		Gateway:         gw,
		Logger:          zap.NewNop(),
		DeliveryTimeout: time.Second,
		Now:             func() time.Time { return digestNow },
	}
}

func TestWeekKey(t *testing.T) {
	cases := []struct {
		day  time.Time
		want string
	}{
		{time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), "2025-03-10"},  // Monday itself
		{time.Date(2025, 3, 12, 23, 0, 0, 0, time.UTC), "2025-03-10"}, // Wednesday
		{time.Date(2025, 3, 16, 1, 0, 0, 0, time.UTC), "2025-03-10"},  // Sunday
		{time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC), "2025-03-17"},  // next Monday
	}
	for _, c := range cases {
		if got := WeekKey(c.day); got != c.want {
			t.Errorf("WeekKey(%v) = %s, want %s", c.day, got, c.want)
		}
	}
}

func TestBuildNilWhenNothingToReport(t *testing.T) {
	a := newAggregator(&fakeSource{}, &memLog{}, &okGateway{})

	p, err := a.Build(context.Background(), 7, digestNow)
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatalf("payload = %+v, want nil", p)
	}
}

func TestBuildSkipsResolvedOverdue(t *testing.T) {
	exp := schedule.Schedule{UserID: 7, JobID: 4, ScheduledAt: digestNow.Add(-48 * time.Hour), Status: schedule.StatusExpired}
	log := &memLog{}
	// overdue already delivered on email
	rec := &dispatch.Record{UserID: 7, JobID: 4, Kind: string(domain.KindOverdue), Channel: string(domain.ChannelEmail)}
	_ = log.Append(context.Background(), rec)
	_ = log.MarkSent(context.Background(), rec.ID)

	a := newAggregator(&fakeSource{expired: []schedule.Schedule{exp}}, log, &okGateway{})
	p, err := a.Build(context.Background(), 7, digestNow)
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatalf("payload = %+v, want nil (overdue already resolved)", p)
	}
}

func TestTickSendsOncePerChannelAndWeek(t *testing.T) {
	src := &fakeSource{
		users: []uint64{7},
		upcoming: []schedule.Schedule{
			{UserID: 7, JobID: 4, ScheduledAt: digestNow.Add(48 * time.Hour), Status: schedule.StatusScheduled},
		},
	}
	log := &memLog{}
	gw := &okGateway{}
	a := newAggregator(src, log, gw)

	built := testutil.ToFloat64(metrics.DigestsBuiltTotal)

	a.Tick(context.Background())

	// defaults: email + inApp enabled
	if gw.calls != 2 {
		t.Fatalf("gateway calls = %d, want 2", gw.calls)
	}
	if len(log.records) != 2 {
		t.Fatalf("records = %d, want 2", len(log.records))
	}
	for _, r := range log.records {
		if r.Status != dispatch.StatusSent {
			t.Errorf("record status = %s, want sent", r.Status)
		}
		if r.Kind != string(domain.KindWeeklyDigest) {
			t.Errorf("record kind = %s", r.Kind)
		}
		if r.PeriodKey == nil || *r.PeriodKey != "2025-03-10" {
			t.Errorf("periodKey = %v, want 2025-03-10", r.PeriodKey)
		}
	}

	// re-run within the same minute: idempotent, and the build counter must
	// not tick for a week already covered
	a.Tick(context.Background())
	if gw.calls != 2 {
		t.Fatalf("gateway calls after re-run = %d, want 2", gw.calls)
	}
	if len(log.records) != 2 {
		t.Fatalf("records after re-run = %d, want 2", len(log.records))
	}
	if got := testutil.ToFloat64(metrics.DigestsBuiltTotal) - built; got != 1 {
		t.Fatalf("digests built = %v, want exactly 1", got)
	}
}

func TestTickSkipsOffSlotUsers(t *testing.T) {
	src := &fakeSource{
		users: []uint64{7},
		upcoming: []schedule.Schedule{
			{UserID: 7, JobID: 4, ScheduledAt: digestNow.Add(48 * time.Hour), Status: schedule.StatusScheduled},
		},
	}
	gw := &okGateway{}
	a := newAggregator(src, &memLog{}, gw)
	a.Now = func() time.Time { return digestNow.Add(time.Minute) } // 09:01

	a.Tick(context.Background())
	if gw.calls != 0 {
		t.Fatalf("gateway calls = %d, want 0 outside the digest slot", gw.calls)
	}
}

func TestTickSkipsUsersWithDigestDisabled(t *testing.T) {
	src := &fakeSource{
		users: []uint64{7},
		upcoming: []schedule.Schedule{
			{UserID: 7, JobID: 4, ScheduledAt: digestNow.Add(48 * time.Hour), Status: schedule.StatusScheduled},
		},
	}
	res := prefs.Defaults()
	res.Kinds[domain.KindWeeklyDigest] = false

	gw := &okGateway{}
	a := newAggregator(src, &memLog{}, gw)
	a.Prefs = &fakePrefs{res: res}

	a.Tick(context.Background())
	if gw.calls != 0 {
		t.Fatalf("gateway calls = %d, want 0 with digest disabled", gw.calls)
	}
}
