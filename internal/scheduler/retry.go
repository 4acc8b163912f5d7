package scheduler

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// maxAttempts is the first try plus one retry.
const maxAttempts = 2

type retryPolicy struct {
	baseDelay time.Duration
}

// shouldRetry allows one more attempt for transient failures while the
// overall deadline still has room.
func (p retryPolicy) shouldRetry(err *audit.FetchError, attempt int, deadline context.Context) bool {
	if err == nil || attempt >= maxAttempts || deadline.Err() != nil {
		return false
	}
	return err.Transient()
}

// backoff returns half the base delay plus jitter up to the other half.
func (p retryPolicy) backoff() time.Duration {
	half := p.baseDelay / 2
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// sleep waits for d or until ctx ends, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
