// Package aggregator reduces per-page results into an audit summary.
package aggregator

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
	"github.com/JakeFAU/site-auditor/internal/metrics"
)

// Config tunes summary derivation.
type Config struct {
	// PartialThreshold is the failed-page ratio above which a run is PARTIAL.
	PartialThreshold  float64
	ContentGapTimeout time.Duration
	TopIssues         int
}

// Aggregator builds summaries and requests content-gap enrichment.
type Aggregator struct {
	gaps   audit.ContentGapAnalyzer
	cfg    Config
	logger *zap.Logger
}

// New creates an Aggregator. A nil gaps analyzer disables enrichment.
func New(gaps audit.ContentGapAnalyzer, cfg Config, logger *zap.Logger) *Aggregator {
	if cfg.ContentGapTimeout <= 0 {
		cfg.ContentGapTimeout = 60 * time.Second
	}
	if cfg.TopIssues <= 0 {
		cfg.TopIssues = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{gaps: gaps, cfg: cfg, logger: logger}
}

// Summarize orders results by discovery index and derives the terminal
// summary. Content-gap analysis runs at most once and only when a page
// succeeded; its failure leaves ContentGaps empty.
func (a *Aggregator) Summarize(ctx context.Context, results []audit.PageResult) audit.Summary {
	pages := append([]audit.PageResult(nil), results...)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })

	summary := audit.Summary{
		PagesAttempted: len(pages),
		IssueCounts: map[audit.Severity]int{
			audit.SeverityCritical: 0,
			audit.SeverityWarning:  0,
			audit.SeverityInfo:     0,
		},
		Pages:       pages,
		TopIssues:   []audit.IssueCount{},
		ContentGaps: []audit.ContentGap{},
	}

	var total float64
	for _, p := range pages {
		if !p.OK() {
			continue
		}
		summary.PagesSucceeded++
		if p.Score != nil {
			total += *p.Score
		}
		for _, f := range p.SEOFindings {
			summary.IssueCounts[f.Severity]++
		}
		for _, f := range p.AccessibilityFindings {
			summary.IssueCounts[f.Severity]++
		}
	}
	summary.PagesFailed = summary.PagesAttempted - summary.PagesSucceeded
	if summary.PagesSucceeded > 0 {
		mean := total / float64(summary.PagesSucceeded)
		summary.OverallScore = &mean
		summary.TopIssues = topIssues(pages, a.cfg.TopIssues)
		summary.ContentGaps = a.contentGaps(ctx, pages)
	}
	summary.Status = audit.DeriveStatus(summary.PagesAttempted, summary.PagesSucceeded, a.cfg.PartialThreshold)
	return summary
}

func (a *Aggregator) contentGaps(ctx context.Context, pages []audit.PageResult) []audit.ContentGap {
	if a.gaps == nil {
		return []audit.ContentGap{}
	}
	digests := make([]audit.PageDigest, 0, len(pages))
	for _, p := range pages {
		if p.OK() {
			digests = append(digests, audit.PageDigest{URL: p.URL, Title: p.Title, Headings: p.Headings})
		}
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.ContentGapTimeout)
	defer cancel()
	gaps, err := a.gaps.AnalyzeContentGaps(ctx, digests)
	if err != nil {
		metrics.ObserveContentGapFailure()
		a.logger.Warn("content gap analysis failed", zap.Int("pages", len(digests)), zap.Error(err))
		return []audit.ContentGap{}
	}
	if gaps == nil {
		return []audit.ContentGap{}
	}
	return gaps
}

var severityRank = map[audit.Severity]int{
	audit.SeverityCritical: 3,
	audit.SeverityWarning:  2,
	audit.SeverityInfo:     1,
}

type issueKey struct {
	rule     string
	category audit.Category
	severity audit.Severity
}

// topIssues counts how many successful pages carry each rule, most severe and
// most widespread first.
func topIssues(pages []audit.PageResult, limit int) []audit.IssueCount {
	counts := make(map[issueKey]*audit.IssueCount)
	for _, p := range pages {
		if !p.OK() {
			continue
		}
		seen := make(map[issueKey]bool)
		for _, group := range [][]audit.Finding{p.SEOFindings, p.AccessibilityFindings} {
			for _, f := range group {
				key := issueKey{rule: f.RuleID, category: f.Category, severity: f.Severity}
				if seen[key] {
					continue
				}
				seen[key] = true
				issue, ok := counts[key]
				if !ok {
					issue = &audit.IssueCount{RuleID: f.RuleID, Category: f.Category, Severity: f.Severity, Message: f.Message}
					counts[key] = issue
				}
				issue.Pages++
			}
		}
	}

	out := make([]audit.IssueCount, 0, len(counts))
	for _, issue := range counts {
		out = append(out, *issue)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if severityRank[a.Severity] != severityRank[b.Severity] {
			return severityRank[a.Severity] > severityRank[b.Severity]
		}
		if a.Pages != b.Pages {
			return a.Pages > b.Pages
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.RuleID < b.RuleID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
