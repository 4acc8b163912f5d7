// Package scheduler drives fetch and analysis for a set of page tasks on a
// bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/clock"
	"github.com/JakeFAU/site-auditor/internal/metrics"
)

var tracer = otel.Tracer("github.com/JakeFAU/site-auditor/internal/scheduler")

// Config wires optional crawl policies.
type Config struct {
	RetryBackoff time.Duration
	Robots       audit.RobotsPolicy
	Limiter      audit.RateLimiter
	Clock        audit.Clock
}

// Options bound one run.
type Options struct {
	Concurrency     int
	PerPageTimeout  time.Duration
	OverallDeadline time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.PerPageTimeout <= 0 {
		o.PerPageTimeout = 30 * time.Second
	}
	if o.OverallDeadline <= 0 {
		o.OverallDeadline = 10 * time.Minute
	}
	return o
}

// Scheduler produces exactly one PageResult per PageTask.
type Scheduler struct {
	fetcher  audit.Fetcher
	analyzer audit.Analyzer
	robots   audit.RobotsPolicy
	limiter  audit.RateLimiter
	clock    audit.Clock
	retry    retryPolicy
	logger   *zap.Logger
}

// New creates a Scheduler.
func New(fetcher audit.Fetcher, analyzer audit.Analyzer, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	return &Scheduler{
		fetcher:  fetcher,
		analyzer: analyzer,
		robots:   cfg.Robots,
		limiter:  cfg.Limiter,
		clock:    cfg.Clock,
		retry:    retryPolicy{baseDelay: cfg.RetryBackoff},
		logger:   logger,
	}
}

// Run processes tasks until they are exhausted or the overall deadline passes.
// Once the deadline passes no new task starts; in-flight pages finish or hit
// their own timeout, and every unstarted task is recorded as fetch_failed with
// reason deadline_exceeded. Results are ordered by discovery index.
func (s *Scheduler) Run(ctx context.Context, tasks []audit.PageTask, opts Options) []audit.PageResult {
	opts = opts.withDefaults()
	deadline, cancel := context.WithTimeout(ctx, opts.OverallDeadline)
	defer cancel()

	queue := newTaskQueue(tasks)
	results := newResultSet(len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < min(opts.Concurrency, len(tasks)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.work(ctx, deadline, queue, results, opts)
		}()
	}
	wg.Wait()

	skipped := queue.drain()
	for _, task := range skipped {
		results.add(audit.PageResult{
			URL:      task.URL,
			Index:    task.Index,
			Outcome:  audit.OutcomeFetchFailed,
			Attempts: task.Attempt,
			Error:    &audit.PageError{Reason: audit.ReasonDeadlineExceeded, Detail: "overall deadline elapsed before the page was started"},
		})
		metrics.ObservePage(string(audit.OutcomeFetchFailed), 0)
	}
	if len(skipped) > 0 {
		s.logger.Warn("crawl deadline reached", zap.Int("unstarted", len(skipped)), zap.Int("total", len(tasks)))
	}
	return results.sorted()
}

func (s *Scheduler) work(ctx, deadline context.Context, queue *taskQueue, results *resultSet, opts Options) {
	for {
		if deadline.Err() != nil {
			return
		}
		task, ok := queue.next()
		if !ok {
			return
		}
		results.add(s.process(ctx, deadline, task, opts))
	}
}

// process owns task for its whole lifetime. Each attempt runs under a fresh
// per-page timeout derived from ctx, so the overall deadline never cuts an
// attempt short.
func (s *Scheduler) process(ctx, deadline context.Context, task audit.PageTask, opts Options) audit.PageResult {
	ctx, span := tracer.Start(ctx, "audit.page", trace.WithAttributes(
		attribute.String("page.url", task.URL),
		attribute.Int("page.index", task.Index),
	))
	defer span.End()

	started := s.clock.Now()
	result := audit.PageResult{URL: task.URL, Index: task.Index}

	if s.robots != nil && !s.robots.Allowed(ctx, task.URL) {
		// Attempts stays 0: no request was sent for a disallowed page.
		result.Outcome = audit.OutcomeFetchFailed
		result.Error = &audit.PageError{Reason: audit.ReasonRobotsDisallowed, Detail: "blocked by robots.txt"}
		return s.finish(ctx, result, started)
	}

	var fetchErr *audit.FetchError
	for {
		task.Attempt++
		result.Attempts = task.Attempt

		resp, analysis, err := s.attempt(ctx, task.URL, opts.PerPageTimeout)
		switch {
		case err == nil:
			score := analysis.Score
			result.Outcome = audit.OutcomeOK
			result.StatusCode = resp.StatusCode
			result.Title = analysis.Title
			result.Headings = analysis.Headings
			result.ContentHash = analysis.ContentHash
			result.SEOFindings = nonNil(analysis.SEO)
			result.AccessibilityFindings = nonNil(analysis.Accessibility)
			result.Score = &score
			return s.finish(ctx, result, started)
		case errors.Is(err, audit.ErrAnalysisFailed):
			result.Outcome = audit.OutcomeAnalysisFailed
			result.StatusCode = resp.StatusCode
			result.Error = &audit.PageError{Reason: audit.ReasonEmptyDocument, Detail: err.Error()}
			return s.finish(ctx, result, started)
		}

		fetchErr = audit.ClassifyFetchError(task.URL, err)
		if !s.retry.shouldRetry(fetchErr, task.Attempt, deadline) {
			break
		}
		metrics.ObservePageRetry()
		s.logger.Debug("retrying page", zap.String("url", task.URL), zap.Int("attempt", task.Attempt), zap.Error(fetchErr))
		if !sleep(deadline, s.retry.backoff()) {
			break
		}
	}

	result.Outcome, result.Error = failure(fetchErr)
	if fetchErr.Kind == audit.FetchHTTPError {
		result.StatusCode = fetchErr.Status
	}
	return s.finish(ctx, result, started)
}

// attempt fetches and analyzes one page under the per-page timeout. A fetch
// that runs out the page timeout is always reported as a FetchTimeout.
func (s *Scheduler) attempt(ctx context.Context, url string, timeout time.Duration) (audit.FetchResponse, audit.Analysis, error) {
	pageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if s.limiter != nil {
		if err := s.limiter.Wait(pageCtx, url); err != nil {
			return audit.FetchResponse{}, audit.Analysis{}, s.timeoutOr(pageCtx, url, fmt.Errorf("rate limit wait: %w", err))
		}
	}
	resp, err := s.fetcher.Fetch(pageCtx, audit.FetchRequest{URL: url})
	if err != nil {
		return audit.FetchResponse{}, audit.Analysis{}, s.timeoutOr(pageCtx, url, err)
	}
	analysis, err := s.analyzer.Analyze(pageCtx, resp)
	if err != nil {
		if errors.Is(err, audit.ErrAnalysisFailed) {
			return resp, audit.Analysis{}, fmt.Errorf("analyze %s: %w", url, err)
		}
		return resp, audit.Analysis{}, s.timeoutOr(pageCtx, url, fmt.Errorf("analyze %s: %w", url, err))
	}
	// Analysis that outlives the page timeout is a timeout even when the
	// analyzer itself returned.
	if errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
		return resp, audit.Analysis{}, &audit.FetchError{Kind: audit.FetchTimeout, URL: url, Err: pageCtx.Err()}
	}
	return resp, analysis, nil
}

func (s *Scheduler) timeoutOr(pageCtx context.Context, url string, err error) error {
	if errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
		return &audit.FetchError{Kind: audit.FetchTimeout, URL: url, Err: err}
	}
	return err
}

func (s *Scheduler) finish(ctx context.Context, result audit.PageResult, started time.Time) audit.PageResult {
	elapsed := s.clock.Now().Sub(started)
	result.DurationMs = elapsed.Milliseconds()
	metrics.ObservePage(string(result.Outcome), elapsed)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("page.outcome", string(result.Outcome)),
		attribute.Int("page.attempts", result.Attempts),
	)
	if !result.OK() {
		span.SetStatus(codes.Error, result.Error.Reason)
		s.logger.Info("page failed",
			zap.String("url", result.URL),
			zap.String("outcome", string(result.Outcome)),
			zap.String("reason", result.Error.Reason),
			zap.Int("attempts", result.Attempts),
		)
	}
	return result
}

func failure(err *audit.FetchError) (audit.Outcome, *audit.PageError) {
	switch err.Kind {
	case audit.FetchTimeout:
		return audit.OutcomeTimedOut, &audit.PageError{Reason: audit.ReasonTimeout, Detail: err.Error()}
	case audit.FetchHTTPError:
		return audit.OutcomeFetchFailed, &audit.PageError{Reason: audit.ReasonHTTPError, Detail: err.Error(), Status: err.Status}
	default:
		return audit.OutcomeFetchFailed, &audit.PageError{Reason: audit.ReasonNetworkError, Detail: err.Error()}
	}
}

func nonNil(findings []audit.Finding) []audit.Finding {
	if findings == nil {
		return []audit.Finding{}
	}
	return findings
}
