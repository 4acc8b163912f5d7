// Package analyzer runs SEO and accessibility rule checks against a rendered
// page and scores the result.
package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

const maxDigestHeadings = 20

// Config bounds the network side of analysis.
type Config struct {
	MaxLinkChecks        int
	LinkCheckConcurrency int
	LinkCheckTimeout     time.Duration
	UserAgent            string
}

// Analyzer implements audit.Analyzer.
type Analyzer struct {
	links  *linkChecker
	hasher audit.Hasher
	logger *zap.Logger
}

// New builds an Analyzer. A MaxLinkChecks of zero disables broken-link checks.
func New(cfg Config, hasher audit.Hasher, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		links:  newLinkChecker(cfg),
		hasher: hasher,
		logger: logger,
	}
}

// page is the parsed view every rule receives.
type page struct {
	doc *goquery.Document
	url *url.URL
}

// Analyze parses the DOM snapshot and runs both rule families. A structurally
// unusable document returns ErrAnalysisFailed and a ctx that ends during link
// checks returns its error; rule failures become findings.
func (a *Analyzer) Analyze(ctx context.Context, resp audit.FetchResponse) (audit.Analysis, error) {
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return audit.Analysis{}, fmt.Errorf("%w: empty document", audit.ErrAnalysisFailed)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return audit.Analysis{}, fmt.Errorf("%w: parse html: %w", audit.ErrAnalysisFailed, err)
	}
	if emptyDOM(doc) {
		return audit.Analysis{}, fmt.Errorf("%w: document has no content", audit.ErrAnalysisFailed)
	}

	p := &page{doc: doc}
	if u, err := url.Parse(resp.URL); err == nil && u.Host != "" {
		p.url = u
	}

	seo := runSEORules(p)
	broken, err := a.links.findings(ctx, p)
	if err != nil {
		return audit.Analysis{}, err
	}
	seo = append(seo, broken...)
	accessibility := runAccessibilityRules(p)

	analysis := audit.Analysis{
		Title:         pageTitle(doc),
		Headings:      headings(doc),
		SEO:           seo,
		Accessibility: accessibility,
		Score:         Score(seo, accessibility),
	}
	if a.hasher != nil {
		hash, err := a.hasher.Hash(resp.Body)
		if err != nil {
			a.logger.Warn("content hash failed", zap.String("url", resp.URL), zap.Error(err))
		} else {
			analysis.ContentHash = hash
		}
	}
	return analysis, nil
}

func emptyDOM(doc *goquery.Document) bool {
	body := doc.Find("body")
	return body.Find("*").Length() == 0 &&
		strings.TrimSpace(body.Text()) == "" &&
		pageTitle(doc) == ""
}

func pageTitle(doc *goquery.Document) string {
	return collapseSpace(doc.Find("title").First().Text())
}

func headings(doc *goquery.Document) []string {
	var out []string
	doc.Find("h1, h2, h3").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := collapseSpace(s.Text()); text != "" {
			out = append(out, text)
		}
		return len(out) < maxDigestHeadings
	})
	return out
}

// guard turns a panicking rule into an info finding.
func guard(ruleID string, category audit.Category, fn func() []audit.Finding) (findings []audit.Finding) {
	defer func() {
		if r := recover(); r != nil {
			findings = []audit.Finding{{
				RuleID:   ruleID,
				Category: category,
				Severity: audit.SeverityInfo,
				Message:  fmt.Sprintf("rule could not be evaluated: %v", r),
			}}
		}
	}()
	return fn()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
