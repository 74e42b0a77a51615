package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/failover"
	"github.com/felipepmaragno/ai-orchestrator/internal/gateway"
	"github.com/felipepmaragno/ai-orchestrator/internal/metrics"
	"github.com/felipepmaragno/ai-orchestrator/internal/provider"
)

// Generator is satisfied by *gateway.Gateway.
type Generator interface {
	Generate(ctx context.Context, accountID string, req provider.Request, opts failover.Options) (*gateway.Generation, error)
}

type WorkerConfig struct {
	BatchSize   int
	Concurrency int
	// IdleDelay is how long to wait after an empty or failed receive.
	IdleDelay time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:   10,
		Concurrency: 4,
		IdleDelay:   time.Second,
	}
}

// Worker pulls generation jobs off a Queue, runs them through the gateway
// and publishes one response per job.
type Worker struct {
	queue     Queue
	generator Generator
	config    WorkerConfig
	now       func() time.Time
	logger    *slog.Logger
}

func NewWorker(q Queue, generator Generator, cfg WorkerConfig, logger *slog.Logger) *Worker {
	def := DefaultWorkerConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = def.IdleDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:     q,
		generator: generator,
		config:    cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// Run polls until ctx is cancelled. Jobs already started finish first.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("queue worker started",
		"batch_size", w.config.BatchSize,
		"concurrency", w.config.Concurrency,
	)

	for {
		if ctx.Err() != nil {
			w.logger.Info("queue worker stopped")
			return
		}

		n, err := w.Poll(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("failed to receive jobs", "error", err)
		}
		if n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(w.config.IdleDelay):
		}
	}
}

// Poll receives one batch and processes it, returning the number of jobs
// handled.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	jobs, err := w.queue.ReceiveRequests(ctx, w.config.BatchSize)
	if err != nil {
		return 0, err
	}

	sem := make(chan struct{}, w.config.Concurrency)
	var wg sync.WaitGroup
	for _, job := range jobs {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(context.WithoutCancel(ctx), job)
		}()
	}
	wg.Wait()

	return len(jobs), nil
}

// process answers every job, successful or not, and deletes it once the
// response is published. A job whose response cannot be sent stays on the
// queue for redelivery.
func (w *Worker) process(ctx context.Context, job AsyncRequest) {
	resp := AsyncResponse{
		RequestID: job.ID,
		AccountID: job.AccountID,
		Attempted: []string{},
	}

	gen, err := w.generator.Generate(ctx, job.AccountID, job.Request.ToProvider(), failover.Options{
		ProviderID:  job.ProviderID,
		MaxAttempts: job.MaxAttempts,
	})

	status := "success"
	if err != nil {
		status = "error"
		resp.Error = err.Error()
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			resp.Attempted = gwErr.Attempted
		}
	} else {
		usage := gen.Response.Usage
		resp.ProviderID = gen.ProviderID
		resp.ProviderName = gen.ProviderName
		resp.Attempted = gen.Attempted
		resp.Content = gen.Response.Content
		resp.Parsed = gen.Response.Parsed
		resp.Usage = &usage
		resp.CostUSD = gen.Cost.Cost.StringFixed(6)
	}
	resp.CreatedAt = w.now()

	if err := w.queue.SendResponse(ctx, resp); err != nil {
		metrics.RecordJob("response_failed")
		w.logger.Error("failed to send job response", "job_id", job.ID, "error", err)
		return
	}
	if err := w.queue.DeleteRequest(ctx, job.ReceiptHandle); err != nil {
		w.logger.Error("failed to delete job", "job_id", job.ID, "error", err)
	}

	metrics.RecordJob(status)
	w.logger.Info("job processed",
		"job_id", job.ID,
		"account_id", job.AccountID,
		"status", status,
		"provider_id", resp.ProviderID,
	)
}
