// Package detector decides when a plainly fetched page must be rendered in a
// headless browser before its DOM can be audited.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

const defaultMinTextBytes = 200

// mountSelectors match the root elements client-side frameworks render into.
var mountSelectors = strings.Join([]string{
	"#__next",
	"#__nuxt",
	"#root",
	"#app",
	"[data-reactroot]",
	"[ng-version]",
	"[data-server-rendered]",
}, ", ")

// Heuristic promotes pages whose server markup carries almost no visible text
// but does carry scripts or an empty framework mount point.
type Heuristic struct {
	MinTextBytes int
}

// NewHeuristic creates a detector. A non-positive minTextBytes uses the default.
func NewHeuristic(minTextBytes int) *Heuristic {
	if minTextBytes <= 0 {
		minTextBytes = defaultMinTextBytes
	}
	return &Heuristic{MinTextBytes: minTextBytes}
}

// ShouldPromote reports whether resp needs a headless render.
func (h *Heuristic) ShouldPromote(resp audit.FetchResponse) bool {
	if resp.Rendered || resp.StatusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}

	scripts := doc.Find("script").Length()
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	text := strings.Join(strings.Fields(body.Text()), " ")

	if len(text) >= h.MinTextBytes {
		return false
	}
	if scripts > 0 {
		return true
	}
	empty := false
	doc.Find(mountSelectors).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) == "" {
			empty = true
			return false
		}
		return true
	})
	return empty
}
