package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/clock"
)

// AuditStore keeps audit jobs in memory for development and tests.
type AuditStore struct {
	mu    sync.RWMutex
	jobs  map[string]audit.Job
	clock audit.Clock
}

// NewAuditStore constructs an AuditStore. A nil clock uses the system clock.
func NewAuditStore(c audit.Clock) *AuditStore {
	if c == nil {
		c = clock.New()
	}
	return &AuditStore{
		jobs:  make(map[string]audit.Job),
		clock: c,
	}
}

// CreateJob stores a new job in PENDING.
func (s *AuditStore) CreateJob(_ context.Context, job audit.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", audit.ErrJobExists, job.ID)
	}
	if job.Status == "" {
		job.Status = audit.StatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock.Now()
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateStatus applies one lifecycle transition. Terminal jobs are immutable.
func (s *AuditStore) UpdateStatus(
	_ context.Context,
	jobID string,
	status audit.Status,
	errText string,
	summary *audit.Summary,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", audit.ErrJobNotFound, jobID)
	}
	if !audit.CanTransition(job.Status, status) {
		return fmt.Errorf("%w: %s -> %s", audit.ErrInvalidTransition, job.Status, status)
	}
	job.Status = status
	job.ErrorText = errText
	now := s.clock.Now()
	if status == audit.StatusInProgress && job.StartedAt == nil {
		job.StartedAt = pointerTime(now)
	}
	if status.Terminal() {
		job.CompletedAt = pointerTime(now)
	}
	if summary != nil {
		copied := *summary
		job.Summary = &copied
		job.OverallScore = summary.OverallScore
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *AuditStore) GetJob(_ context.Context, jobID string) (audit.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return audit.Job{}, fmt.Errorf("%w: %s", audit.ErrJobNotFound, jobID)
	}
	return job, nil
}

func pointerTime(t time.Time) *time.Time {
	return &t
}
