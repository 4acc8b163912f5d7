// Package pipeline runs one audit end to end: resolve the sitemap, crawl and
// analyze every page, summarize, and persist the terminal state.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/metrics"
	"github.com/JakeFAU/site-auditor/internal/scheduler"
)

var tracer = otel.Tracer("github.com/JakeFAU/site-auditor/internal/pipeline")

// Resolver expands a sitemap into page URLs.
type Resolver interface {
	Resolve(ctx context.Context, sitemapURL string) ([]string, error)
}

// Crawler produces one result per task.
type Crawler interface {
	Run(ctx context.Context, tasks []audit.PageTask, opts scheduler.Options) []audit.PageResult
}

// Summarizer reduces page results into a summary.
type Summarizer interface {
	Summarize(ctx context.Context, results []audit.PageResult) audit.Summary
}

// Config controls the run and its report side effects.
type Config struct {
	Crawl          scheduler.Options
	ReportPrefix   string
	NotifyTopic    string
	PublishTimeout time.Duration
}

// Deps are the collaborators of a Pipeline. Blobs and Publisher are optional.
type Deps struct {
	Store      audit.Store
	Resolver   Resolver
	Crawler    Crawler
	Summarizer Summarizer
	Blobs      audit.BlobStore
	Publisher  audit.Publisher
}

// Pipeline executes audits.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Second
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}
}

// Run executes the audit for a job that is already stored as PENDING. A
// sitemap that cannot be resolved fails the job before any page is crawled and
// the error is returned. Once crawling starts the run always completes with a
// summary; page failures only shape its terminal status.
func (p *Pipeline) Run(ctx context.Context, req audit.RunRequest) (audit.Summary, error) {
	ctx, span := tracer.Start(ctx, "audit.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("audit.job_id", req.JobID),
		attribute.String("audit.sitemap_url", req.SitemapURL),
	)

	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	logger := p.logger.With(zap.String("job_id", req.JobID))
	machine := audit.NewMachine(req.JobID, p.deps.Store)
	// Terminal writes must land even if the caller is shutting down.
	persistCtx := context.WithoutCancel(ctx)

	urls, err := p.deps.Resolver.Resolve(ctx, req.SitemapURL)
	if err != nil {
		summary := failedSummary()
		logger.Warn("sitemap resolution failed", zap.String("sitemap_url", req.SitemapURL), zap.Error(err))
		if failErr := machine.Fail(persistCtx, err.Error(), &summary); failErr != nil {
			logger.Error("persist failed audit", zap.Error(failErr))
		}
		metrics.ObserveAudit(string(audit.StatusFailed))
		p.report(persistCtx, req, summary)
		span.RecordError(err)
		span.SetStatus(codes.Error, "sitemap resolution failed")
		return summary, fmt.Errorf("resolve sitemap %s: %w", req.SitemapURL, err)
	}

	if err := machine.Start(persistCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		return audit.Summary{}, fmt.Errorf("start audit %s: %w", req.JobID, err)
	}
	logger.Info("audit started", zap.Int("pages", len(urls)))

	tasks := make([]audit.PageTask, len(urls))
	for i, u := range urls {
		tasks[i] = audit.PageTask{URL: u, Index: i}
	}
	results := p.deps.Crawler.Run(ctx, tasks, p.cfg.Crawl)
	summary := p.deps.Summarizer.Summarize(ctx, results)

	if err := machine.Finish(persistCtx, &summary); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finish failed")
		return summary, fmt.Errorf("finish audit %s: %w", req.JobID, err)
	}
	metrics.ObserveAudit(string(summary.Status))
	span.SetAttributes(
		attribute.String("audit.status", string(summary.Status)),
		attribute.Int("audit.pages_attempted", summary.PagesAttempted),
		attribute.Int("audit.pages_succeeded", summary.PagesSucceeded),
	)

	fields := []zap.Field{
		zap.String("status", string(summary.Status)),
		zap.Int("attempted", summary.PagesAttempted),
		zap.Int("succeeded", summary.PagesSucceeded),
	}
	if summary.OverallScore != nil {
		fields = append(fields, zap.Float64("score", *summary.OverallScore))
	}
	logger.Info("audit finished", fields...)

	p.report(persistCtx, req, summary)
	return summary, nil
}

// report writes the summary artifact and publishes a notification. Both are
// best effort: the terminal state is already persisted.
func (p *Pipeline) report(ctx context.Context, req audit.RunRequest, summary audit.Summary) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()
	logger := p.logger.With(zap.String("job_id", req.JobID))

	var uri string
	if p.deps.Blobs != nil {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			logger.Warn("marshal summary report", zap.Error(err))
		} else {
			uri, err = p.deps.Blobs.PutObject(ctx, p.reportPath(req.JobID), "application/json", bytes.NewReader(data))
			if err != nil {
				logger.Warn("write summary report", zap.Error(err))
				uri = ""
			}
		}
	}

	if p.deps.Publisher == nil || p.cfg.NotifyTopic == "" {
		return
	}
	note := audit.Notification{
		JobID:          req.JobID,
		Status:         summary.Status,
		OverallScore:   summary.OverallScore,
		PagesAttempted: summary.PagesAttempted,
		PagesSucceeded: summary.PagesSucceeded,
		ReportURI:      uri,
		ClientEmail:    req.Metadata.ClientEmail,
	}
	id, err := p.deps.Publisher.Publish(ctx, p.cfg.NotifyTopic, note)
	if err != nil {
		logger.Warn("publish audit notification", zap.Error(err))
		return
	}
	logger.Debug("audit notification published", zap.String("message_id", id))
}

func (p *Pipeline) reportPath(jobID string) string {
	prefix := strings.Trim(p.cfg.ReportPrefix, "/")
	if prefix == "" {
		return path.Join(jobID, "summary.json")
	}
	return path.Join(prefix, jobID, "summary.json")
}

func failedSummary() audit.Summary {
	return audit.Summary{
		Status: audit.StatusFailed,
		IssueCounts: map[audit.Severity]int{
			audit.SeverityCritical: 0,
			audit.SeverityWarning:  0,
			audit.SeverityInfo:     0,
		},
		TopIssues:   []audit.IssueCount{},
		Pages:       []audit.PageResult{},
		ContentGaps: []audit.ContentGap{},
	}
}
