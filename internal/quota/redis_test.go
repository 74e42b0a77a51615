package quota

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
)

func getRedisURL(t *testing.T) string {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping Redis quota tests")
	}
	return url
}

func TestRedisStore_GetSave(t *testing.T) {
	store, err := NewRedisStore(getRedisURL(t))
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	defer store.Delete(ctx, "quota-test-1")

	if _, err := store.Get(ctx, "quota-test-1"); !errors.Is(err, domain.ErrQuotaNotFound) {
		t.Fatalf("Get() error = %v, want ErrQuotaNotFound", err)
	}

	want := domain.Quota{
		AccountUUID: "quota-test-1",
		Limit:       1000,
		Used:        25,
		PeriodStart: time.UnixMilli(time.Now().UnixMilli()).UTC(),
		Period:      time.Hour,
	}
	if err := store.Save(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "quota-test-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestRedisStore_Increment(t *testing.T) {
	store, err := NewRedisStore(getRedisURL(t))
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	defer store.Delete(ctx, "quota-test-2")

	start := time.UnixMilli(time.Now().UnixMilli()).UTC()
	q := domain.Quota{AccountUUID: "quota-test-2", Limit: 100, PeriodStart: start, Period: time.Hour}

	for i := 0; i < 5; i++ {
		if q, err = store.Increment(ctx, q, 7); err != nil {
			t.Fatal(err)
		}
	}
	if q.Used != 35 {
		t.Errorf("Used = %d, want 35", q.Used)
	}

	next := q
	next.PeriodStart = start.Add(time.Hour)
	next, err = store.Increment(ctx, next, 3)
	if err != nil {
		t.Fatal(err)
	}
	if next.Used != 3 {
		t.Errorf("Used after new period = %d, want 3", next.Used)
	}

	stale, err := store.Increment(ctx, q, 1)
	if err != nil {
		t.Fatal(err)
	}
	if stale.Used != 4 || !stale.PeriodStart.Equal(next.PeriodStart) {
		t.Errorf("stale increment = %+v, want counted in newest period", stale)
	}
}
