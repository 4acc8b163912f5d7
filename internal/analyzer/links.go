package analyzer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// linkChecker HEAD-checks links through a shared collector; every check runs
// on a clone bound to its own context.
type linkChecker struct {
	base        *colly.Collector
	max         int
	concurrency int
	timeout     time.Duration
}

func newLinkChecker(cfg Config) *linkChecker {
	if cfg.LinkCheckConcurrency <= 0 {
		cfg.LinkCheckConcurrency = 4
	}
	if cfg.LinkCheckTimeout <= 0 {
		cfg.LinkCheckTimeout = 5 * time.Second
	}
	base := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	base.ParseHTTPErrorResponse = true
	base.SetRequestTimeout(cfg.LinkCheckTimeout)
	if cfg.UserAgent != "" {
		base.UserAgent = cfg.UserAgent
	}
	return &linkChecker{
		base:        base,
		max:         cfg.MaxLinkChecks,
		concurrency: cfg.LinkCheckConcurrency,
		timeout:     cfg.LinkCheckTimeout,
	}
}

type linkStatus struct {
	status int
	err    error
}

// findings HEAD-checks same-origin links. An unreachable link is a finding;
// running out of ctx is an error so the caller can record the page timeout.
func (c *linkChecker) findings(ctx context.Context, p *page) ([]audit.Finding, error) {
	if c.max <= 0 || p.url == nil {
		return nil, nil
	}
	links := sameOriginLinks(p, c.max)
	if len(links) == 0 {
		return nil, nil
	}

	results := make([]linkStatus, len(links))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, link := range links {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			status, err := c.head(gctx, link)
			results[i] = linkStatus{status: status, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("check links: %w", err)
	}

	var out []audit.Finding
	for i, res := range results {
		switch {
		case res.err != nil:
			out = append(out, seoFinding("broken-link", audit.SeverityWarning, "link %s is unreachable", links[i]))
		case brokenStatus(res.status):
			out = append(out, seoFinding("broken-link", audit.SeverityWarning, "link %s returned HTTP %d", links[i], res.status))
		}
	}
	return out, nil
}

// brokenStatus treats servers that refuse HEAD as healthy.
func brokenStatus(status int) bool {
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		return false
	}
	return status >= http.StatusBadRequest
}

func (c *linkChecker) head(ctx context.Context, link string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	collector := c.base.Clone()
	collector.ParseHTTPErrorResponse = true
	collector.Context = ctx

	var (
		status  int
		headErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			status = r.StatusCode
			return
		}
		headErr = err
	})

	if err := collector.Head(link); err != nil && headErr == nil && status == 0 {
		headErr = err
	}
	if headErr != nil {
		return 0, fmt.Errorf("head %s: %w", link, headErr)
	}
	return status, nil
}

// sameOriginLinks resolves anchors against the page URL and keeps distinct
// http(s) links on the same scheme and host, in document order.
func sameOriginLinks(p *page, limit int) []string {
	seen := make(map[string]struct{})
	var out []string
	p.doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := attr(s, "href")
		if href == "" || strings.HasPrefix(href, "#") {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		u := p.url.ResolveReference(ref)
		if (u.Scheme != "http" && u.Scheme != "https") ||
			!strings.EqualFold(u.Scheme, p.url.Scheme) || !strings.EqualFold(u.Host, p.url.Host) {
			return true
		}
		u.Host = strings.ToLower(u.Host)
		u.Fragment = ""
		u.RawFragment = ""
		link := u.String()
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}
		out = append(out, link)
		return len(out) < limit
	})
	return out
}
