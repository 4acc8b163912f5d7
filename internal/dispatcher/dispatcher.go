// Package dispatcher owns the hand-off between accepted audits and the worker
// pool. Every job that enters Submit either runs on a worker or ends FAILED.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/worker"
)

// ReasonUnscheduled is recorded when the queue rejects a job.
const ReasonUnscheduled = "audit could not be scheduled"

// Queue is the run queue the dispatcher feeds and drains.
type Queue interface {
	audit.Queue
	// Close stops accepting requests.
	Close()
	// Drain removes and returns every buffered request without blocking.
	Drain() []audit.RunRequest
}

// Dispatcher fans out queued audits to a pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
	store   audit.Store
	logger  *zap.Logger
}

// New creates a Dispatcher. The store records jobs that never reach a worker.
func New(queue Queue, workers []*worker.Worker, store audit.Store, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		store:   store,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes and every
// in-flight audit has returned. Jobs left in the queue are then failed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	d.queue.Close()
	wg.Wait()

	pending := d.queue.Drain()
	if len(pending) > 0 {
		d.logger.Warn("failing audits queued at shutdown", zap.Int("count", len(pending)))
	}
	failCtx := context.WithoutCancel(ctx)
	for _, req := range pending {
		d.fail(failCtx, req.JobID, worker.ReasonShutdown)
	}
}

// Submit hands an accepted audit to the worker pool without waiting for it
// to run. A rejected job is moved to FAILED before the error is returned.
func (d *Dispatcher) Submit(ctx context.Context, req audit.RunRequest) error {
	if err := d.queue.Enqueue(ctx, req); err != nil {
		d.fail(context.WithoutCancel(ctx), req.JobID, ReasonUnscheduled)
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, jobID, reason string) {
	if d.store == nil {
		return
	}
	if err := d.store.UpdateStatus(ctx, jobID, audit.StatusFailed, reason, nil); err != nil {
		d.logger.Error("fail unstarted audit", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	d.logger.Info("audit failed before start", zap.String("job_id", jobID), zap.String("reason", reason))
}
