package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type saveOnlyStore struct {
	quotas   map[string]domain.Quota
	SaveFunc func(ctx context.Context, q domain.Quota) error
}

func (s *saveOnlyStore) Get(ctx context.Context, id string) (domain.Quota, error) {
	q, ok := s.quotas[id]
	if !ok {
		return domain.Quota{}, domain.ErrQuotaNotFound
	}
	return q, nil
}

func (s *saveOnlyStore) Save(ctx context.Context, q domain.Quota) error {
	if s.SaveFunc != nil {
		return s.SaveFunc(ctx, q)
	}
	s.quotas[q.AccountUUID] = q
	return nil
}

func fixedClock(at *time.Time) func() time.Time {
	return func() time.Time { return *at }
}

func TestCheckQuota(t *testing.T) {
	now := t0.Add(time.Hour)
	gate := NewGate(NewInMemoryStore(), WithClock(fixedClock(&now)))

	tests := []struct {
		name    string
		quota   domain.Quota
		cost    int64
		wantErr bool
	}{
		{"unlimited", domain.Quota{Limit: 0, Used: 1 << 40}, 100, false},
		{"room left", domain.Quota{Limit: 100, Used: 50}, 10, false},
		{"exactly at limit", domain.Quota{Limit: 100, Used: 90}, 10, false},
		{"over limit", domain.Quota{Limit: 100, Used: 95}, 10, true},
		{"already exhausted", domain.Quota{Limit: 100, Used: 100}, 1, true},
		{
			"exhausted but period ended",
			domain.Quota{Limit: 100, Used: 100, PeriodStart: t0.Add(-48 * time.Hour), Period: 24 * time.Hour},
			1,
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gate.CheckQuota(context.Background(), tt.quota, tt.cost)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckQuota() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrQuotaExceeded) {
				t.Errorf("error = %v, want ErrQuotaExceeded", err)
			}
		})
	}
}

func TestRoll(t *testing.T) {
	day := 24 * time.Hour
	q := domain.Quota{Limit: 10, Used: 7, PeriodStart: t0, Period: day}

	tests := []struct {
		name      string
		now       time.Time
		wantUsed  int64
		wantStart time.Time
	}{
		{"inside period", t0.Add(23 * time.Hour), 7, t0},
		{"at boundary", t0.Add(day), 0, t0.Add(day)},
		{"several periods later", t0.Add(3*day + time.Hour), 0, t0.Add(3 * day)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Roll(q, tt.now)
			if got.Used != tt.wantUsed || !got.PeriodStart.Equal(tt.wantStart) {
				t.Errorf("Roll() = used %d start %v, want %d %v", got.Used, got.PeriodStart, tt.wantUsed, tt.wantStart)
			}
		})
	}

	if got := Roll(domain.Quota{Used: 5}, t0); got.Used != 5 {
		t.Error("quota without period must not roll")
	}
	if got := Roll(domain.Quota{Period: day}, t0); !got.PeriodStart.Equal(t0) {
		t.Errorf("unset period start = %v, want now", got.PeriodStart)
	}
}

func TestConsumeQuota(t *testing.T) {
	now := t0
	store := NewInMemoryStore()
	gate := NewGate(store, WithClock(fixedClock(&now)))
	ctx := context.Background()

	q := domain.Quota{AccountUUID: "acct", Limit: 1000, PeriodStart: t0, Period: time.Hour}
	_ = store.Save(ctx, q)

	q, err := gate.ConsumeQuota(ctx, q, 300)
	if err != nil {
		t.Fatal(err)
	}
	q, _ = gate.ConsumeQuota(ctx, q, 200)
	if q.Used != 500 {
		t.Errorf("Used = %d, want 500", q.Used)
	}

	stored, _ := store.Get(ctx, "acct")
	if stored.Used != 500 {
		t.Errorf("stored Used = %d, want 500", stored.Used)
	}

	now = t0.Add(time.Hour)
	q, _ = gate.ConsumeQuota(ctx, q, 50)
	if q.Used != 50 || !q.PeriodStart.Equal(t0.Add(time.Hour)) {
		t.Errorf("after rollover = %+v", q)
	}
}

func TestConsumeQuota_StaleCopyDoesNotLoseUsage(t *testing.T) {
	now := t0
	store := NewInMemoryStore()
	gate := NewGate(store, WithClock(fixedClock(&now)))
	ctx := context.Background()

	q := domain.Quota{AccountUUID: "acct", Limit: 1000, PeriodStart: t0, Period: time.Hour}
	_ = store.Save(ctx, q)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = gate.ConsumeQuota(ctx, q, 10)
		}()
	}
	wg.Wait()

	stored, _ := store.Get(ctx, "acct")
	if stored.Used != 200 {
		t.Errorf("Used = %d, want 200", stored.Used)
	}
}

func TestConsumeQuota_SaveOnlyStore(t *testing.T) {
	now := t0
	store := &saveOnlyStore{quotas: map[string]domain.Quota{}}
	gate := NewGate(store, WithClock(fixedClock(&now)))

	q, err := gate.ConsumeQuota(context.Background(), domain.Quota{AccountUUID: "acct", Limit: 10}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if q.Used != 4 || store.quotas["acct"].Used != 4 {
		t.Errorf("Used = %d, stored %d", q.Used, store.quotas["acct"].Used)
	}

	store.SaveFunc = func(ctx context.Context, q domain.Quota) error { return errors.New("disk full") }
	if _, err := gate.ConsumeQuota(context.Background(), q, 1); err == nil {
		t.Error("expected save error")
	}
}

func TestLoad(t *testing.T) {
	now := t0.Add(2 * time.Hour)
	store := NewInMemoryStore()
	gate := NewGate(store, WithClock(fixedClock(&now)))
	ctx := context.Background()

	q, err := gate.Load(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if q.Limit != 0 || q.AccountUUID != "missing" {
		t.Errorf("missing quota = %+v, want unlimited", q)
	}

	_ = store.Save(ctx, domain.Quota{AccountUUID: "acct", Limit: 10, Used: 10, PeriodStart: t0, Period: time.Hour})
	q, _ = gate.Load(ctx, "acct")
	if q.Used != 0 {
		t.Errorf("Used = %d, want rolled to 0", q.Used)
	}
}

func TestAlerts(t *testing.T) {
	now := t0
	store := NewInMemoryStore()
	gate := NewGate(store, WithClock(fixedClock(&now)))
	ctx := context.Background()

	var alerts []Alert
	gate.OnAlert(func(a Alert) { alerts = append(alerts, a) })

	q := domain.Quota{AccountUUID: "acct", Limit: 100, PeriodStart: t0, Period: time.Hour}
	_ = store.Save(ctx, q)

	steps := []struct {
		cost      int64
		wantLevel AlertLevel
	}{
		{50, ""},
		{30, AlertLevelWarning},
		{5, ""},
		{10, AlertLevelCritical},
		{1, ""},
		{10, AlertLevelExceeded},
		{10, ""},
	}

	for i, step := range steps {
		before := len(alerts)
		q, _ = gate.ConsumeQuota(ctx, q, step.cost)
		got := len(alerts) - before

		if step.wantLevel == "" {
			if got != 0 {
				t.Errorf("step %d: unexpected alert %+v", i, alerts[len(alerts)-1])
			}
			continue
		}
		if got != 1 {
			t.Fatalf("step %d: got %d alerts, want 1", i, got)
		}
		if a := alerts[len(alerts)-1]; a.Level != step.wantLevel || a.AccountID != "acct" {
			t.Errorf("step %d: alert = %+v, want level %s", i, a, step.wantLevel)
		}
	}

	now = t0.Add(time.Hour)
	_, _ = gate.ConsumeQuota(ctx, q, 85)
	if last := alerts[len(alerts)-1]; last.Level != AlertLevelWarning || !last.PeriodStart.Equal(now) {
		t.Errorf("new period alert = %+v, want warning", last)
	}
}

func TestAlerts_JumpFiresHighestOnly(t *testing.T) {
	now := t0
	gate := NewGate(NewInMemoryStore(), WithClock(fixedClock(&now)))

	var alerts []Alert
	gate.OnAlert(func(a Alert) { alerts = append(alerts, a) })

	_, _ = gate.ConsumeQuota(context.Background(), domain.Quota{AccountUUID: "acct", Limit: 100}, 120)

	if len(alerts) != 1 || alerts[0].Level != AlertLevelExceeded {
		t.Errorf("alerts = %+v, want one exceeded", alerts)
	}
	if alerts[0].Percentage != 120 {
		t.Errorf("Percentage = %v, want 120", alerts[0].Percentage)
	}
}
