package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/felipepmaragno/ai-orchestrator/internal/cost"
	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
	"github.com/felipepmaragno/ai-orchestrator/internal/failover"
	"github.com/felipepmaragno/ai-orchestrator/internal/gateway"
	"github.com/felipepmaragno/ai-orchestrator/internal/provider"
)

type mockGenerator struct {
	mu           sync.Mutex
	calls        []failover.Options
	GenerateFunc func(ctx context.Context, accountID string, req provider.Request) (*gateway.Generation, error)
}

func (m *mockGenerator) Generate(ctx context.Context, accountID string, req provider.Request, opts failover.Options) (*gateway.Generation, error) {
	m.mu.Lock()
	m.calls = append(m.calls, opts)
	m.mu.Unlock()
	return m.GenerateFunc(ctx, accountID, req)
}

func TestWorker_Poll(t *testing.T) {
	q := NewInMemoryQueue()
	_ = q.SendRequest(context.Background(), AsyncRequest{ID: "ok", AccountID: "acct", Request: JobRequest{Prompt: "good"}, ProviderID: "p1"})
	_ = q.SendRequest(context.Background(), AsyncRequest{ID: "bad", AccountID: "acct", Request: JobRequest{Prompt: "bad"}})

	gen := &mockGenerator{GenerateFunc: func(ctx context.Context, accountID string, req provider.Request) (*gateway.Generation, error) {
		if req.Prompt == "bad" {
			return nil, &gateway.Error{Attempted: []string{"A", "B"}, Err: &failover.ExhaustedError{Attempts: 2}}
		}
		return &gateway.Generation{
			ProviderID:   "p1",
			ProviderName: "A",
			Attempted:    []string{"A"},
			Response:     &provider.Response{Content: `{"x":1}`, Parsed: []byte(`{"x":1}`), Usage: provider.Usage{TotalTokens: 7}},
			Cost:         cost.Estimate{Cost: decimal.RequireFromString("0.0012")},
		}, nil
	}}

	w := NewWorker(q, gen, WorkerConfig{BatchSize: 5}, nil)
	n, err := w.Poll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("processed %d, want 2", n)
	}

	byID := map[string]AsyncResponse{}
	for _, r := range q.GetResponses() {
		byID[r.RequestID] = r
	}

	ok := byID["ok"]
	if ok.Error != "" || ok.ProviderName != "A" || ok.CostUSD != "0.001200" || ok.Usage.TotalTokens != 7 {
		t.Errorf("ok response = %+v", ok)
	}
	if string(ok.Parsed) != `{"x":1}` {
		t.Errorf("Parsed = %s", ok.Parsed)
	}

	bad := byID["bad"]
	if bad.Error != "all 2 providers failed" || len(bad.Attempted) != 2 {
		t.Errorf("bad response = %+v", bad)
	}

	if len(q.GetDeleted()) != 2 {
		t.Errorf("deleted = %v, want both jobs", q.GetDeleted())
	}

	var pinned bool
	for _, opts := range gen.calls {
		if opts.ProviderID == "p1" {
			pinned = true
		}
	}
	if !pinned {
		t.Error("job provider id should pin the generation")
	}
}

type failingResponses struct {
	*InMemoryQueue
}

func (f failingResponses) SendResponse(ctx context.Context, resp AsyncResponse) error {
	return errors.New("queue unavailable")
}

func TestWorker_KeepsJobWhenResponseFails(t *testing.T) {
	q := failingResponses{NewInMemoryQueue()}
	_ = q.SendRequest(context.Background(), AsyncRequest{ID: "job", AccountID: "acct"})

	gen := &mockGenerator{GenerateFunc: func(ctx context.Context, accountID string, req provider.Request) (*gateway.Generation, error) {
		return nil, domain.ErrQuotaExceeded
	}}

	if _, err := NewWorker(q, gen, WorkerConfig{}, nil).Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(q.GetDeleted()) != 0 {
		t.Error("job must stay queued when its response is lost")
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	q := NewInMemoryQueue()
	processed := make(chan struct{}, 1)
	gen := &mockGenerator{GenerateFunc: func(ctx context.Context, accountID string, req provider.Request) (*gateway.Generation, error) {
		processed <- struct{}{}
		return nil, errors.New("x")
	}}

	w := NewWorker(q, gen, WorkerConfig{IdleDelay: 5 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	_ = q.SendRequest(context.Background(), AsyncRequest{ID: "late", AccountID: "acct"})
	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not picked up")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
