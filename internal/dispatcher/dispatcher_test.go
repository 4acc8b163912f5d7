package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	queuememory "github.com/JakeFAU/site-auditor/internal/queue/memory"
	storagememory "github.com/JakeFAU/site-auditor/internal/storage/memory"
	"github.com/JakeFAU/site-auditor/internal/worker"
)

func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(1, queue, &countingRunner{}, nil, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherSubmitRunsOnPool(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := queuememory.NewQueue(8)
	runner := &countingRunner{}
	workers := []*worker.Worker{
		worker.New(1, queue, runner, nil, nil),
		worker.New(2, queue, runner, nil, nil),
	}
	dispatch := New(queue, workers, nil, nil)
	go dispatch.Run(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, dispatch.Submit(ctx, audit.RunRequest{JobID: fmt.Sprintf("job-%d", i)}))
	}
	require.Eventually(t, func() bool { return runner.count() == 5 }, time.Second, 10*time.Millisecond)
}

func TestDispatcherSubmitForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil, nil, nil)
	err := dispatch.Submit(context.Background(), audit.RunRequest{JobID: "job"})
	require.EqualError(t, err, "queue enqueue: boom")

	closed := queuememory.NewQueue(1)
	closed.Close()
	err = New(closed, nil, nil, nil).Submit(context.Background(), audit.RunRequest{JobID: "job"})
	require.ErrorIs(t, err, audit.ErrQueueClosed)
}

func TestDispatcherSubmitFailsRejectedJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storagememory.NewAuditStore(nil)
	require.NoError(t, store.CreateJob(ctx, audit.Job{ID: "job", Status: audit.StatusPending}))

	queue := queuememory.NewQueue(1)
	queue.Close()
	err := New(queue, nil, store, zap.NewNop()).Submit(ctx, audit.RunRequest{JobID: "job"})
	require.ErrorIs(t, err, audit.ErrQueueClosed)

	job, err := store.GetJob(ctx, "job")
	require.NoError(t, err)
	require.Equal(t, audit.StatusFailed, job.Status)
	require.Equal(t, ReasonUnscheduled, job.ErrorText)
}

func TestDispatcherRunFailsJobsQueuedAtShutdown(t *testing.T) {
	t.Parallel()

	store := storagememory.NewAuditStore(nil)
	queue := queuememory.NewQueue(8)
	runner := &countingRunner{}
	dispatch := New(queue, []*worker.Worker{worker.New(1, queue, runner, store, nil)}, store, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("job-%d", i)
		require.NoError(t, store.CreateJob(ctx, audit.Job{ID: id, Status: audit.StatusPending}))
		require.NoError(t, dispatch.Submit(ctx, audit.RunRequest{JobID: id}))
	}
	cancel()
	dispatch.Run(ctx)

	require.Zero(t, runner.count())
	require.Zero(t, queue.Len())
	for i := 0; i < 3; i++ {
		job, err := store.GetJob(context.Background(), fmt.Sprintf("job-%d", i))
		require.NoError(t, err)
		require.Equal(t, audit.StatusFailed, job.Status)
		require.Equal(t, worker.ReasonShutdown, job.ErrorText)
	}

	err := dispatch.Submit(context.Background(), audit.RunRequest{JobID: "late"})
	require.ErrorIs(t, err, audit.ErrQueueClosed)
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, audit.RunRequest) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (audit.RunRequest, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return audit.RunRequest{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

func (q *blockingQueue) Close() {}

func (q *blockingQueue) Drain() []audit.RunRequest { return nil }

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, audit.RunRequest) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (audit.RunRequest, error) {
	return audit.RunRequest{}, nil
}

func (q *errorQueue) Close() {}

func (q *errorQueue) Drain() []audit.RunRequest { return nil }

type countingRunner struct {
	mu sync.Mutex
	n  int
}

func (r *countingRunner) Run(context.Context, audit.RunRequest) (audit.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return audit.Summary{Status: audit.StatusCompleted}, nil
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
