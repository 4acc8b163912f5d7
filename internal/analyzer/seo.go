package analyzer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

const (
	titleMinLen       = 30
	titleMaxLen       = 60
	descriptionMinLen = 70
	descriptionMaxLen = 160
)

type seoRule struct {
	id    string
	check func(p *page) []audit.Finding
}

var seoRules = []seoRule{
	{id: "title", check: checkTitle},
	{id: "meta-description", check: checkMetaDescription},
	{id: "single-h1", check: checkH1},
	{id: "image-alt-coverage", check: checkAltCoverage},
	{id: "canonical", check: checkCanonical},
}

func runSEORules(p *page) []audit.Finding {
	var out []audit.Finding
	for _, rule := range seoRules {
		out = append(out, guard(rule.id, audit.CategorySEO, func() []audit.Finding {
			return rule.check(p)
		})...)
	}
	return out
}

func seoFinding(ruleID string, severity audit.Severity, format string, args ...any) audit.Finding {
	return audit.Finding{
		RuleID:   ruleID,
		Category: audit.CategorySEO,
		Severity: severity,
		Message:  fmt.Sprintf(format, args...),
	}
}

func checkTitle(p *page) []audit.Finding {
	title := pageTitle(p.doc)
	if title == "" {
		return []audit.Finding{seoFinding("title", audit.SeverityCritical, "page has no <title>")}
	}
	n := utf8.RuneCountInString(title)
	if n < titleMinLen || n > titleMaxLen {
		return []audit.Finding{seoFinding("title", audit.SeverityWarning,
			"title is %d characters; keep it between %d and %d", n, titleMinLen, titleMaxLen)}
	}
	return nil
}

func checkMetaDescription(p *page) []audit.Finding {
	var content string
	found := false
	p.doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(name), "description") {
			return true
		}
		found = true
		content, _ = s.Attr("content")
		return false
	})
	content = collapseSpace(content)
	if !found || content == "" {
		return []audit.Finding{seoFinding("meta-description", audit.SeverityWarning, "page has no meta description")}
	}
	n := utf8.RuneCountInString(content)
	if n < descriptionMinLen || n > descriptionMaxLen {
		return []audit.Finding{seoFinding("meta-description", audit.SeverityInfo,
			"meta description is %d characters; keep it between %d and %d", n, descriptionMinLen, descriptionMaxLen)}
	}
	return nil
}

func checkH1(p *page) []audit.Finding {
	switch n := p.doc.Find("h1").Length(); {
	case n == 0:
		return []audit.Finding{seoFinding("single-h1", audit.SeverityCritical, "page has no <h1>")}
	case n > 1:
		return []audit.Finding{seoFinding("single-h1", audit.SeverityWarning, "page has %d <h1> elements; use exactly one", n)}
	default:
		return nil
	}
}

func checkAltCoverage(p *page) []audit.Finding {
	images := p.doc.Find("img")
	total := images.Length()
	if total == 0 {
		return nil
	}
	withAlt := images.FilterFunction(func(_ int, s *goquery.Selection) bool {
		_, ok := s.Attr("alt")
		return ok
	}).Length()
	ratio := float64(withAlt) / float64(total)
	switch {
	case ratio < 0.5:
		return []audit.Finding{seoFinding("image-alt-coverage", audit.SeverityCritical,
			"only %d of %d images have alt text", withAlt, total)}
	case ratio < 1:
		return []audit.Finding{seoFinding("image-alt-coverage", audit.SeverityWarning,
			"%d of %d images have alt text", withAlt, total)}
	default:
		return nil
	}
}

func checkCanonical(p *page) []audit.Finding {
	canonical := p.doc.Find("link[rel]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		for _, token := range strings.Fields(rel) {
			if strings.EqualFold(token, "canonical") {
				return true
			}
		}
		return false
	})
	switch canonical.Length() {
	case 0:
		return []audit.Finding{seoFinding("canonical", audit.SeverityInfo, "page has no canonical link")}
	case 1:
		if href, _ := canonical.Attr("href"); strings.TrimSpace(href) == "" {
			return []audit.Finding{seoFinding("canonical", audit.SeverityWarning, "canonical link has an empty href")}
		}
		return nil
	default:
		return []audit.Finding{seoFinding("canonical", audit.SeverityWarning,
			"page declares %d canonical links", canonical.Length())}
	}
}
