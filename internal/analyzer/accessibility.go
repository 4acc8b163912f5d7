package analyzer

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// Impact follows the four-level scale used by common accessibility engines.
type Impact string

const (
	ImpactCritical Impact = "critical"
	ImpactSerious  Impact = "serious"
	ImpactModerate Impact = "moderate"
	ImpactMinor    Impact = "minor"
)

// Severity maps an engine impact onto the audit severity scale.
func (i Impact) Severity() audit.Severity {
	switch i {
	case ImpactCritical, ImpactSerious:
		return audit.SeverityCritical
	case ImpactModerate:
		return audit.SeverityWarning
	default:
		return audit.SeverityInfo
	}
}

const (
	maxSamples      = 5
	maxSampleLength = 160
)

// accessibilityRule selects the offending nodes for one check.
type accessibilityRule struct {
	id      string
	impact  Impact
	wcag    string
	message string
	match   func(p *page) *goquery.Selection
}

var accessibilityRules = []accessibilityRule{
	{id: "image-alt", impact: ImpactCritical, wcag: "1.1.1", message: "images must have alternate text", match: imagesWithoutAlt},
	{id: "input-image-alt", impact: ImpactCritical, wcag: "1.1.1", message: "image buttons must have alternate text", match: imageInputsWithoutAlt},
	{id: "html-has-lang", impact: ImpactSerious, wcag: "3.1.1", message: "<html> element must have a lang attribute", match: htmlWithoutLang},
	{id: "html-lang-valid", impact: ImpactSerious, wcag: "3.1.1", message: "<html> lang attribute must be a valid language tag", match: htmlWithInvalidLang},
	{id: "document-title", impact: ImpactSerious, wcag: "2.4.2", message: "documents must have a non-empty <title>", match: documentWithoutTitle},
	{id: "label", impact: ImpactCritical, wcag: "4.1.2", message: "form elements must have labels", match: unlabelledControls},
	{id: "button-name", impact: ImpactCritical, wcag: "4.1.2", message: "buttons must have discernible text", match: unnamedButtons},
	{id: "link-name", impact: ImpactSerious, wcag: "2.4.4", message: "links must have discernible text", match: unnamedLinks},
	{id: "frame-title", impact: ImpactSerious, wcag: "4.1.2", message: "frames must have a title", match: untitledFrames},
	{id: "video-caption", impact: ImpactCritical, wcag: "1.2.2", message: "videos must have captions", match: uncaptionedVideos},
	{id: "aria-hidden-body", impact: ImpactCritical, wcag: "4.1.2", message: "aria-hidden must not be set on <body>", match: hiddenBody},
	{id: "aria-valid-attr", impact: ImpactCritical, wcag: "4.1.2", message: "ARIA attributes must be valid names", match: invalidARIAAttributes},
	{id: "aria-roles", impact: ImpactCritical, wcag: "4.1.2", message: "ARIA roles must be valid values", match: invalidRoles},
	{id: "meta-viewport", impact: ImpactCritical, wcag: "1.4.4", message: "zooming and scaling must not be disabled", match: restrictiveViewport},
	{id: "meta-refresh", impact: ImpactCritical, wcag: "2.2.1", message: "timed refresh must not be used", match: timedRefresh},
	{id: "color-contrast", impact: ImpactSerious, wcag: "1.4.3", message: "text must have sufficient color contrast", match: lowContrast},
	{id: "list", impact: ImpactSerious, wcag: "1.3.1", message: "lists must only directly contain <li>, <script> or <template>", match: malformedLists},
	{id: "listitem", impact: ImpactSerious, wcag: "1.3.1", message: "<li> elements must be contained in a list", match: orphanListItems},
	{id: "tabindex", impact: ImpactSerious, wcag: "2.4.3", message: "elements should not have a tabindex greater than zero", match: positiveTabindex},
	{id: "marquee", impact: ImpactSerious, wcag: "2.2.2", message: "<marquee> elements are deprecated and must not be used", match: marquees},
	{id: "landmark-one-main", impact: ImpactModerate, wcag: "1.3.1", message: "document should have one main landmark", match: missingMain},
	{id: "heading-order", impact: ImpactModerate, wcag: "1.3.1", message: "heading levels should only increase by one", match: skippedHeadings},
	{id: "empty-heading", impact: ImpactMinor, wcag: "2.4.6", message: "headings should not be empty", match: emptyHeadings},
	{id: "duplicate-id", impact: ImpactMinor, wcag: "4.1.1", message: "id attribute values must be unique", match: duplicateIDs},
}

func runAccessibilityRules(p *page) []audit.Finding {
	var out []audit.Finding
	for _, rule := range accessibilityRules {
		out = append(out, guard(rule.id, audit.CategoryAccessibility, func() []audit.Finding {
			return rule.evaluate(p)
		})...)
	}
	return out
}

func (r accessibilityRule) evaluate(p *page) []audit.Finding {
	nodes := r.match(p)
	if nodes == nil || nodes.Length() == 0 {
		return nil
	}
	return []audit.Finding{{
		RuleID:   r.id,
		Category: audit.CategoryAccessibility,
		Severity: r.impact.Severity(),
		Message:  r.message,
		Impact:   string(r.impact),
		WCAG:     r.wcag,
		Nodes:    nodes.Length(),
		Samples:  samples(nodes),
	}}
}

func samples(nodes *goquery.Selection) []string {
	out := make([]string, 0, min(nodes.Length(), maxSamples))
	nodes.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		html, err := goquery.OuterHtml(s)
		if err != nil {
			return true
		}
		out = append(out, truncateSample(collapseSpace(html)))
		return len(out) < maxSamples
	})
	return out
}

// truncateSample cuts s to at most maxSampleLength bytes on a rune boundary.
func truncateSample(s string) string {
	if len(s) <= maxSampleLength {
		return s
	}
	cut := maxSampleLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}

func hasAttr(s *goquery.Selection, name string) bool {
	_, ok := s.Attr(name)
	return ok
}

func ariaHidden(s *goquery.Selection) bool {
	return strings.EqualFold(attr(s, "aria-hidden"), "true")
}

func presentational(s *goquery.Selection) bool {
	role := strings.ToLower(attr(s, "role"))
	return role == "presentation" || role == "none"
}

// accessibleName approximates the accessible name computation: ARIA label,
// labelledby targets, text content, image alternatives, then title.
func accessibleName(p *page, s *goquery.Selection) string {
	if label := attr(s, "aria-label"); label != "" {
		return label
	}
	if ids := strings.Fields(attr(s, "aria-labelledby")); len(ids) > 0 {
		var parts []string
		for _, id := range ids {
			if text := collapseSpace(byID(p, id).Text()); text != "" {
				parts = append(parts, text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	if text := collapseSpace(s.Text()); text != "" {
		return text
	}
	var alt string
	s.Find("img[alt], svg[aria-label], [role=img][aria-label]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		alt = attr(img, "alt")
		if alt == "" {
			alt = attr(img, "aria-label")
		}
		return alt == ""
	})
	if alt != "" {
		return alt
	}
	return attr(s, "title")
}

// byID matches on the raw attribute so ids that are not valid CSS
// identifiers still resolve.
func byID(p *page, id string) *goquery.Selection {
	return p.doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return attr(s, "id") == id
	})
}

func imagesWithoutAlt(p *page) *goquery.Selection {
	return p.doc.Find("img").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if hasAttr(s, "alt") || ariaHidden(s) || presentational(s) {
			return false
		}
		return attr(s, "aria-label") == "" && attr(s, "aria-labelledby") == "" && attr(s, "title") == ""
	})
}

func imageInputsWithoutAlt(p *page) *goquery.Selection {
	return p.doc.Find("input").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(attr(s, "type"), "image") {
			return false
		}
		return attr(s, "alt") == "" && attr(s, "aria-label") == "" && attr(s, "title") == ""
	})
}

func htmlWithoutLang(p *page) *goquery.Selection {
	return p.doc.Find("html").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return attr(s, "lang") == "" && attr(s, "xml:lang") == ""
	})
}

var langTag = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{1,8})*$`)

func htmlWithInvalidLang(p *page) *goquery.Selection {
	return p.doc.Find("html").FilterFunction(func(_ int, s *goquery.Selection) bool {
		lang := attr(s, "lang")
		return lang != "" && !langTag.MatchString(lang)
	})
}

func documentWithoutTitle(p *page) *goquery.Selection {
	if pageTitle(p.doc) != "" {
		return nil
	}
	return p.doc.Find("html")
}

var unlabelledInputTypes = map[string]bool{
	"hidden": true, "submit": true, "reset": true, "button": true, "image": true,
}

func unlabelledControls(p *page) *goquery.Selection {
	return p.doc.Find("input, select, textarea").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if goquery.NodeName(s) == "input" && unlabelledInputTypes[strings.ToLower(attr(s, "type"))] {
			return false
		}
		if ariaHidden(s) || attr(s, "aria-label") != "" || attr(s, "aria-labelledby") != "" || attr(s, "title") != "" {
			return false
		}
		if s.ParentsFiltered("label").Length() > 0 {
			return false
		}
		if id := attr(s, "id"); id != "" {
			labelled := p.doc.Find("label[for]").FilterFunction(func(_ int, l *goquery.Selection) bool {
				return attr(l, "for") == id
			})
			if labelled.Length() > 0 {
				return false
			}
		}
		return attr(s, "placeholder") == ""
	})
}

func unnamedButtons(p *page) *goquery.Selection {
	buttons := p.doc.Find("button, [role=button]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return !ariaHidden(s) && accessibleName(p, s) == ""
	})
	inputs := p.doc.Find("input").FilterFunction(func(_ int, s *goquery.Selection) bool {
		switch strings.ToLower(attr(s, "type")) {
		case "button":
			return attr(s, "value") == "" && attr(s, "aria-label") == "" && attr(s, "title") == ""
		default:
			return false
		}
	})
	return buttons.AddSelection(inputs)
}

func unnamedLinks(p *page) *goquery.Selection {
	return p.doc.Find("a[href]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return !ariaHidden(s) && accessibleName(p, s) == ""
	})
}

func untitledFrames(p *page) *goquery.Selection {
	return p.doc.Find("iframe, frame").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return !ariaHidden(s) && attr(s, "title") == "" && attr(s, "aria-label") == ""
	})
}

func uncaptionedVideos(p *page) *goquery.Selection {
	return p.doc.Find("video").FilterFunction(func(_ int, s *goquery.Selection) bool {
		captions := s.Find("track").FilterFunction(func(_ int, t *goquery.Selection) bool {
			kind := strings.ToLower(attr(t, "kind"))
			return kind == "captions" || kind == "subtitles"
		})
		return captions.Length() == 0
	})
}

func hiddenBody(p *page) *goquery.Selection {
	return p.doc.Find("body").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return ariaHidden(s)
	})
}

var knownARIAAttributes = toSet(
	"aria-activedescendant", "aria-atomic", "aria-autocomplete", "aria-braillelabel",
	"aria-brailleroledescription", "aria-busy", "aria-checked", "aria-colcount",
	"aria-colindex", "aria-colindextext", "aria-colspan", "aria-controls", "aria-current",
	"aria-describedby", "aria-description", "aria-details", "aria-disabled",
	"aria-dropeffect", "aria-errormessage", "aria-expanded", "aria-flowto", "aria-grabbed",
	"aria-haspopup", "aria-hidden", "aria-invalid", "aria-keyshortcuts", "aria-label",
	"aria-labelledby", "aria-level", "aria-live", "aria-modal", "aria-multiline",
	"aria-multiselectable", "aria-orientation", "aria-owns", "aria-placeholder",
	"aria-posinset", "aria-pressed", "aria-readonly", "aria-relevant", "aria-required",
	"aria-roledescription", "aria-rowcount", "aria-rowindex", "aria-rowindextext",
	"aria-rowspan", "aria-selected", "aria-setsize", "aria-sort", "aria-valuemax",
	"aria-valuemin", "aria-valuenow", "aria-valuetext",
)

func invalidARIAAttributes(p *page) *goquery.Selection {
	return p.doc.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		for _, a := range s.Nodes[0].Attr {
			name := strings.ToLower(a.Key)
			if strings.HasPrefix(name, "aria-") && !knownARIAAttributes[name] {
				return true
			}
		}
		return false
	})
}

var knownRoles = toSet(
	"alert", "alertdialog", "application", "article", "banner", "blockquote", "button",
	"caption", "cell", "checkbox", "code", "columnheader", "combobox", "complementary",
	"contentinfo", "definition", "deletion", "dialog", "directory", "document", "emphasis",
	"feed", "figure", "form", "generic", "grid", "gridcell", "group", "heading", "img",
	"insertion", "link", "list", "listbox", "listitem", "log", "main", "mark", "marquee",
	"math", "menu", "menubar", "menuitem", "menuitemcheckbox", "menuitemradio", "meter",
	"navigation", "none", "note", "option", "paragraph", "presentation", "progressbar",
	"radio", "radiogroup", "region", "row", "rowgroup", "rowheader", "scrollbar", "search",
	"searchbox", "separator", "slider", "spinbutton", "status", "strong", "subscript",
	"superscript", "switch", "tab", "table", "tablist", "tabpanel", "term", "textbox",
	"time", "timer", "toolbar", "tooltip", "tree", "treegrid", "treeitem",
)

func invalidRoles(p *page) *goquery.Selection {
	return p.doc.Find("[role]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		roles := strings.Fields(strings.ToLower(attr(s, "role")))
		if len(roles) == 0 {
			return false
		}
		for _, role := range roles {
			if knownRoles[role] {
				return false
			}
		}
		return true
	})
}

func restrictiveViewport(p *page) *goquery.Selection {
	return p.doc.Find("meta[name]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(attr(s, "name"), "viewport") {
			return false
		}
		for _, part := range strings.FieldsFunc(strings.ToLower(attr(s, "content")), func(r rune) bool {
			return r == ',' || r == ';'
		}) {
			key, value, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			key, value = strings.TrimSpace(key), strings.TrimSpace(value)
			switch key {
			case "user-scalable":
				if value == "no" || value == "0" {
					return true
				}
			case "maximum-scale":
				if scale, err := strconv.ParseFloat(value, 64); err == nil && scale < 2 {
					return true
				}
			}
		}
		return false
	})
}

func timedRefresh(p *page) *goquery.Selection {
	return p.doc.Find("meta[http-equiv]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(attr(s, "http-equiv"), "refresh") {
			return false
		}
		delay, _, _ := strings.Cut(attr(s, "content"), ";")
		seconds, err := strconv.ParseFloat(strings.TrimSpace(delay), 64)
		return err == nil && seconds > 0
	})
}

func malformedLists(p *page) *goquery.Selection {
	return p.doc.Find("ul, ol").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if attr(s, "role") != "" {
			return false
		}
		bad := s.Children().FilterFunction(func(_ int, c *goquery.Selection) bool {
			switch goquery.NodeName(c) {
			case "li", "script", "template":
				return false
			default:
				return true
			}
		})
		return bad.Length() > 0
	})
}

func orphanListItems(p *page) *goquery.Selection {
	return p.doc.Find("li").FilterFunction(func(_ int, s *goquery.Selection) bool {
		parent := s.Parent()
		switch goquery.NodeName(parent) {
		case "ul", "ol", "menu":
			return false
		}
		return !strings.EqualFold(attr(parent, "role"), "list")
	})
}

func positiveTabindex(p *page) *goquery.Selection {
	return p.doc.Find("[tabindex]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		n, err := strconv.Atoi(attr(s, "tabindex"))
		return err == nil && n > 0
	})
}

func marquees(p *page) *goquery.Selection {
	return p.doc.Find("marquee")
}

func missingMain(p *page) *goquery.Selection {
	if p.doc.Find("main, [role=main]").Length() == 1 {
		return nil
	}
	return p.doc.Find("html")
}

func skippedHeadings(p *page) *goquery.Selection {
	previous := 0
	return p.doc.Find("h1, h2, h3, h4, h5, h6").FilterFunction(func(_ int, s *goquery.Selection) bool {
		level := int(goquery.NodeName(s)[1] - '0')
		skipped := previous > 0 && level > previous+1
		previous = level
		return skipped
	})
}

func emptyHeadings(p *page) *goquery.Selection {
	return p.doc.Find("h1, h2, h3, h4, h5, h6, [role=heading]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return !ariaHidden(s) && accessibleName(p, s) == ""
	})
}

func duplicateIDs(p *page) *goquery.Selection {
	counts := make(map[string]int)
	p.doc.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		if id := attr(s, "id"); id != "" {
			counts[id]++
		}
	})
	seen := make(map[string]bool)
	return p.doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		id := attr(s, "id")
		if counts[id] < 2 || seen[id] {
			return false
		}
		seen[id] = true
		return true
	})
}

func toSet(values ...string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}
