// Package worker runs queued audits through the pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// ReasonShutdown is recorded for a job dequeued after the pool began stopping.
const ReasonShutdown = "service shut down before the audit started"

// Runner executes one audit.
type Runner interface {
	Run(ctx context.Context, req audit.RunRequest) (audit.Summary, error)
}

// Worker consumes run requests and executes them one at a time.
type Worker struct {
	id     int
	queue  audit.Queue
	runner Runner
	store  audit.Store
	logger *zap.Logger
}

// New constructs a Worker. The store is used to fail a job whose run panicked.
func New(id int, queue audit.Queue, runner Runner, store audit.Store, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		queue:  queue,
		runner: runner,
		store:  store,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, audit.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if ctx.Err() != nil {
			w.failJob(req.JobID, ReasonShutdown)
			return
		}
		w.logger.Debug("dequeued audit", zap.String("job_id", req.JobID))
		w.process(ctx, req)
	}
}

func (w *Worker) process(ctx context.Context, req audit.RunRequest) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("audit run panicked", zap.String("job_id", req.JobID), zap.Any("panic", r))
			w.failJob(req.JobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	summary, err := w.runner.Run(ctx, req)
	if err != nil {
		w.logger.Warn("audit run failed", zap.String("job_id", req.JobID), zap.Error(err))
		return
	}
	w.logger.Info("audit run finished",
		zap.String("job_id", req.JobID),
		zap.String("status", string(summary.Status)),
	)
}

// failJob moves a crashed job to FAILED. The store rejects the write if the
// job already reached a terminal state.
func (w *Worker) failJob(jobID, reason string) {
	if w.store == nil {
		return
	}
	if err := w.store.UpdateStatus(context.Background(), jobID, audit.StatusFailed, reason, nil); err != nil {
		w.logger.Error("fail job status update", zap.String("job_id", jobID), zap.Error(err))
	}
}
