package audit

import (
	"context"
	"fmt"
	"sync"
)

// Status is the persisted lifecycle state of an audit job.
type Status string

// Audit lifecycle states.
const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusPartial    Status = "PARTIAL"
	StatusFailed     Status = "FAILED"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusPartial, StatusFailed},
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

// Valid reports whether s is a known state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusPartial, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DeriveStatus picks the terminal state for a finished crawl. A failed ratio
// strictly above threshold yields PARTIAL.
func DeriveStatus(attempted, succeeded int, threshold float64) Status {
	if succeeded == 0 || attempted == 0 {
		return StatusFailed
	}
	failed := attempted - succeeded
	if float64(failed)/float64(attempted) > threshold {
		return StatusPartial
	}
	return StatusCompleted
}

// Machine guards the lifecycle of one job and writes every accepted
// transition through to the store. Entering a terminal state is the only
// place a summary is persisted.
type Machine struct {
	mu      sync.Mutex
	jobID   string
	current Status
	store   Store
}

// NewMachine starts a machine for a freshly created job in PENDING.
func NewMachine(jobID string, store Store) *Machine {
	return &Machine{jobID: jobID, current: StatusPending, store: store}
}

// Current returns the last persisted state.
func (m *Machine) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Start moves PENDING to IN_PROGRESS.
func (m *Machine) Start(ctx context.Context) error {
	return m.transition(ctx, StatusInProgress, "", nil)
}

// Fail moves the job to FAILED with a reason and an optional summary.
func (m *Machine) Fail(ctx context.Context, errText string, summary *Summary) error {
	return m.transition(ctx, StatusFailed, errText, summary)
}

// Finish enters the terminal state recorded on the summary.
func (m *Machine) Finish(ctx context.Context, summary *Summary) error {
	if summary == nil {
		return fmt.Errorf("finish job %s: summary is required", m.jobID)
	}
	if !summary.Status.Terminal() {
		return fmt.Errorf("finish job %s: %w: %s is not terminal", m.jobID, ErrInvalidTransition, summary.Status)
	}
	errText := ""
	if summary.Status == StatusFailed {
		errText = "no pages were analyzed"
	}
	return m.transition(ctx, summary.Status, errText, summary)
}

func (m *Machine) transition(ctx context.Context, to Status, errText string, summary *Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanTransition(m.current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, to)
	}
	if !to.Terminal() {
		summary = nil
	}
	if err := m.store.UpdateStatus(ctx, m.jobID, to, errText, summary); err != nil {
		return fmt.Errorf("persist status %s: %w", to, err)
	}
	m.current = to
	return nil
}
