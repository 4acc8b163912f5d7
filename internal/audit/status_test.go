package audit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusPartial, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusPartial, StatusCompleted, false},
		{StatusFailed, StatusInProgress, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_to_%s", tc.from, tc.to), func(t *testing.T) {
			require.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, StatusCompleted, DeriveStatus(5, 5, 0.2))
	require.Equal(t, StatusCompleted, DeriveStatus(5, 4, 0.2), "exactly at threshold stays completed")
	require.Equal(t, StatusPartial, DeriveStatus(3, 2, 0.2))
	require.Equal(t, StatusFailed, DeriveStatus(3, 0, 0.2))
	require.Equal(t, StatusFailed, DeriveStatus(0, 0, 0.2))
	require.Equal(t, StatusCompleted, DeriveStatus(3, 2, 0.5))
}

func TestMachineLifecycle(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	m := NewMachine("job-1", store)
	require.Equal(t, StatusPending, m.Current())

	require.NoError(t, m.Start(context.Background()))
	require.Equal(t, StatusInProgress, m.Current())

	summary := &Summary{Status: StatusPartial, PagesAttempted: 3, PagesSucceeded: 2, PagesFailed: 1}
	require.NoError(t, m.Finish(context.Background(), summary))
	require.Equal(t, StatusPartial, m.Current())

	require.Len(t, store.updates, 2)
	require.Nil(t, store.updates[0].summary)
	require.Same(t, summary, store.updates[1].summary)

	err := m.Fail(context.Background(), "late", nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Len(t, store.updates, 2)
}

func TestMachineFailFromPending(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	m := NewMachine("job-2", store)
	require.NoError(t, m.Fail(context.Background(), "unreachable sitemap", &Summary{Status: StatusFailed}))
	require.Equal(t, StatusFailed, m.Current())
	require.Equal(t, "unreachable sitemap", store.updates[0].errText)

	require.ErrorIs(t, m.Start(context.Background()), ErrInvalidTransition)
}

func TestMachineFinishRequiresTerminalSummary(t *testing.T) {
	t.Parallel()

	m := NewMachine("job-3", &recordingStore{})
	require.NoError(t, m.Start(context.Background()))
	require.Error(t, m.Finish(context.Background(), nil))
	require.ErrorIs(t, m.Finish(context.Background(), &Summary{Status: StatusInProgress}), ErrInvalidTransition)
}

func TestMachineKeepsStateWhenStoreFails(t *testing.T) {
	t.Parallel()

	store := &recordingStore{err: errors.New("db down")}
	m := NewMachine("job-4", store)
	require.Error(t, m.Start(context.Background()))
	require.Equal(t, StatusPending, m.Current())
}

func TestFetchErrorClassification(t *testing.T) {
	t.Parallel()

	timeout := ClassifyFetchError("u", fmt.Errorf("wrap: %w", context.DeadlineExceeded))
	require.Equal(t, FetchTimeout, timeout.Kind)
	require.False(t, timeout.Transient())

	netTimeout := ClassifyFetchError("u", &net.DNSError{IsTimeout: true})
	require.Equal(t, FetchTimeout, netTimeout.Kind)

	reset := ClassifyFetchError("u", errors.New("connection reset by peer"))
	require.Equal(t, FetchNetworkError, reset.Kind)
	require.True(t, reset.Transient())

	notFound := NewHTTPError("u", 404)
	require.False(t, notFound.Transient())
	require.Same(t, notFound, ClassifyFetchError("u", fmt.Errorf("outer: %w", notFound)))
	require.True(t, NewHTTPError("u", 503).Transient())
	require.Contains(t, notFound.Error(), "404")

	require.Nil(t, ClassifyFetchError("u", nil))
}

type statusUpdate struct {
	jobID   string
	status  Status
	errText string
	summary *Summary
}

type recordingStore struct {
	mu      sync.Mutex
	updates []statusUpdate
	err     error
}

func (s *recordingStore) CreateJob(context.Context, Job) error { return nil }

func (s *recordingStore) UpdateStatus(_ context.Context, jobID string, status Status, errText string, summary *Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.updates = append(s.updates, statusUpdate{jobID: jobID, status: status, errText: errText, summary: summary})
	return nil
}

func (s *recordingStore) GetJob(context.Context, string) (Job, error) {
	return Job{}, ErrJobNotFound
}
