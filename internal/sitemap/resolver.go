// Package sitemap resolves a sitemap or sitemap index into an ordered,
// deduplicated list of page URLs.
package sitemap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// Config bounds resolution.
type Config struct {
	// MaxPages caps the returned URL list.
	MaxPages int
	// MaxRawEntries caps <loc> entries seen across the whole index expansion,
	// before deduplication.
	MaxRawEntries int
}

// Resolver fetches and parses sitemaps.
type Resolver struct {
	fetcher audit.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New creates a Resolver.
func New(fetcher audit.Fetcher, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 500
	}
	if cfg.MaxRawEntries <= 0 {
		cfg.MaxRawEntries = 5000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, cfg: cfg, logger: logger}
}

type document struct {
	index bool
	locs  []string
}

// Resolve returns page URLs in order of first appearance, capped at MaxPages.
// A sitemap index is expanded one level; nested indexes and child sitemaps
// that fail to load are skipped.
func (r *Resolver) Resolve(ctx context.Context, sitemapURL string) ([]string, error) {
	root, err := r.load(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	raw := len(root.locs)
	if raw > r.cfg.MaxRawEntries {
		return nil, fmt.Errorf("%w: %d entries exceed limit %d", audit.ErrSitemapTooLarge, raw, r.cfg.MaxRawEntries)
	}

	set := newURLSet(r.cfg.MaxPages)
	if !root.index {
		set.addAll(root.locs)
		return r.finish(sitemapURL, set)
	}

	for _, child := range root.locs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", audit.ErrUnreachableSitemap, err)
		}
		childURL, ok := normalizeURL(child)
		if !ok {
			continue
		}
		doc, err := r.load(ctx, childURL)
		if err != nil {
			r.logger.Warn("child sitemap skipped", zap.String("sitemap", childURL), zap.Error(err))
			continue
		}
		if doc.index {
			r.logger.Warn("nested sitemap index ignored", zap.String("sitemap", childURL))
			continue
		}
		raw += len(doc.locs)
		if raw > r.cfg.MaxRawEntries {
			return nil, fmt.Errorf("%w: more than %d entries across index", audit.ErrSitemapTooLarge, r.cfg.MaxRawEntries)
		}
		set.addAll(doc.locs)
	}
	return r.finish(sitemapURL, set)
}

func (r *Resolver) finish(sitemapURL string, set *urlSet) ([]string, error) {
	if len(set.urls) == 0 {
		return nil, fmt.Errorf("%w: no usable URLs in %s", audit.ErrInvalidSitemap, sitemapURL)
	}
	r.logger.Debug("sitemap resolved",
		zap.String("sitemap", sitemapURL),
		zap.Int("urls", len(set.urls)),
		zap.Int("duplicates", set.duplicates),
		zap.Bool("capped", set.capped),
	)
	return set.urls, nil
}

func (r *Resolver) load(ctx context.Context, sitemapURL string) (document, error) {
	resp, err := r.fetcher.Fetch(ctx, audit.FetchRequest{URL: sitemapURL})
	if err != nil {
		return document{}, fmt.Errorf("%w: %w", audit.ErrUnreachableSitemap, err)
	}
	if !isXMLContentType(resp.Headers.Get("Content-Type")) {
		return document{}, fmt.Errorf("%w: content type %q is not XML", audit.ErrUnreachableSitemap, resp.Headers.Get("Content-Type"))
	}
	return parse(resp.Body)
}

func parse(body []byte) (document, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return document{}, fmt.Errorf("%w: empty document", audit.ErrInvalidSitemap)
	}
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return document{}, fmt.Errorf("%w: %w", audit.ErrInvalidSitemap, err)
	}
	switch {
	case xmlquery.FindOne(doc, "/urlset") != nil:
		return document{locs: locTexts(doc, "/urlset/url/loc")}, nil
	case xmlquery.FindOne(doc, "/sitemapindex") != nil:
		return document{index: true, locs: locTexts(doc, "/sitemapindex/sitemap/loc")}, nil
	default:
		return document{}, fmt.Errorf("%w: root element is neither urlset nor sitemapindex", audit.ErrInvalidSitemap)
	}
}

func locTexts(doc *xmlquery.Node, expr string) []string {
	nodes := xmlquery.Find(doc, expr)
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if text := strings.TrimSpace(n.InnerText()); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// isXMLContentType accepts any XML media type. A missing header is tolerated
// since many static hosts omit it for .xml files.
func isXMLContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/xml" || mediaType == "application/xml" || strings.HasSuffix(mediaType, "+xml")
}

// IsInputError reports whether err is one of the resolver failures that
// prevent an audit from starting.
func IsInputError(err error) bool {
	return errors.Is(err, audit.ErrInvalidSitemap) ||
		errors.Is(err, audit.ErrUnreachableSitemap) ||
		errors.Is(err, audit.ErrSitemapTooLarge)
}
