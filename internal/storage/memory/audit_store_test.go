package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/clock"
)

func TestAuditStoreLifecycle(t *testing.T) {
	t.Parallel()

	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewAuditStore(clk)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, audit.Job{ID: "job-1", SitemapURL: "https://s.test/sitemap.xml", ClientName: "Acme"}))
	require.ErrorIs(t, store.CreateJob(ctx, audit.Job{ID: "job-1"}), audit.ErrJobExists)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, audit.StatusPending, job.Status)
	require.Equal(t, clk.Now(), job.CreatedAt)

	clk.Advance(time.Second)
	require.NoError(t, store.UpdateStatus(ctx, "job-1", audit.StatusInProgress, "", nil))

	score := 72.5
	clk.Advance(time.Minute)
	require.NoError(t, store.UpdateStatus(ctx, "job-1", audit.StatusPartial, "", &audit.Summary{
		Status:         audit.StatusPartial,
		OverallScore:   &score,
		PagesAttempted: 4,
		PagesSucceeded: 2,
		PagesFailed:    2,
	}))

	job, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, audit.StatusPartial, job.Status)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
	require.Equal(t, time.Minute, job.CompletedAt.Sub(*job.StartedAt))
	require.Equal(t, 72.5, *job.OverallScore)
	require.Equal(t, 4, job.Summary.PagesAttempted)

	err = store.UpdateStatus(ctx, "job-1", audit.StatusFailed, "late", nil)
	require.ErrorIs(t, err, audit.ErrInvalidTransition)
}

func TestAuditStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewAuditStore(nil)
	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, audit.ErrJobNotFound)
	require.ErrorIs(t, store.UpdateStatus(context.Background(), "missing", audit.StatusInProgress, "", nil), audit.ErrJobNotFound)
	require.Error(t, store.CreateJob(context.Background(), audit.Job{}))
}
