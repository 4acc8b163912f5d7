package analyzer

import (
	"math"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	minContrastNormal = 4.5
	minContrastLarge  = 3.0
)

type rgb struct{ r, g, b float64 }

var namedColors = map[string]rgb{
	"black":  {0, 0, 0},
	"white":  {255, 255, 255},
	"gray":   {128, 128, 128},
	"grey":   {128, 128, 128},
	"silver": {192, 192, 192},
	"red":    {255, 0, 0},
	"maroon": {128, 0, 0},
	"yellow": {255, 255, 0},
	"lime":   {0, 255, 0},
	"green":  {0, 128, 0},
	"aqua":   {0, 255, 255},
	"cyan":   {0, 255, 255},
	"blue":   {0, 0, 255},
	"navy":   {0, 0, 128},
	"purple": {128, 0, 128},
	"orange": {255, 165, 0},
}

// lowContrast only sees inline styles. A text color is compared against the
// nearest inline background on the element or its ancestors; elements without
// both are skipped.
func lowContrast(p *page) *goquery.Selection {
	return p.doc.Find("[style]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		style := parseStyle(attr(s, "style"))
		fg, ok := parseColor(style["color"])
		if !ok || collapseSpace(s.Text()) == "" {
			return false
		}
		bg, ok := inlineBackground(s)
		if !ok {
			return false
		}
		threshold := minContrastNormal
		if largeText(style) {
			threshold = minContrastLarge
		}
		return contrastRatio(fg, bg) < threshold
	})
}

func inlineBackground(s *goquery.Selection) (rgb, bool) {
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		style := parseStyle(attr(cur, "style"))
		for _, key := range []string{"background-color", "background"} {
			if c, ok := parseColor(firstToken(style[key])); ok {
				return c, true
			}
		}
	}
	return rgb{}, false
}

func parseStyle(style string) map[string]string {
	out := make(map[string]string)
	for _, decl := range strings.Split(style, ";") {
		key, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "!important"))
		out[strings.ToLower(strings.TrimSpace(key))] = strings.ToLower(value)
	}
	return out
}

func firstToken(value string) string {
	if strings.HasPrefix(value, "rgb") {
		if end := strings.Index(value, ")"); end > 0 {
			return value[:end+1]
		}
	}
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func parseColor(value string) (rgb, bool) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return rgb{}, false
	case strings.HasPrefix(value, "#"):
		return parseHex(value[1:])
	case strings.HasPrefix(value, "rgb(") && strings.HasSuffix(value, ")"):
		parts := strings.Split(value[4:len(value)-1], ",")
		if len(parts) != 3 {
			return rgb{}, false
		}
		var c [3]float64
		for i, part := range parts {
			n, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil || n < 0 || n > 255 {
				return rgb{}, false
			}
			c[i] = n
		}
		return rgb{c[0], c[1], c[2]}, true
	default:
		c, ok := namedColors[value]
		return c, ok
	}
}

func parseHex(hex string) (rgb, bool) {
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return rgb{}, false
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return rgb{}, false
	}
	return rgb{float64(n >> 16 & 0xff), float64(n >> 8 & 0xff), float64(n & 0xff)}, true
}

// largeText is 18pt, or 14pt bold, expressed in CSS pixels.
func largeText(style map[string]string) bool {
	size, ok := strings.CutSuffix(style["font-size"], "px")
	if !ok {
		return false
	}
	px, err := strconv.ParseFloat(strings.TrimSpace(size), 64)
	if err != nil {
		return false
	}
	weight := style["font-weight"]
	bold := weight == "bold" || weight == "bolder"
	if n, err := strconv.Atoi(weight); err == nil && n >= 700 {
		bold = true
	}
	return px >= 24 || (bold && px >= 18.66)
}

func luminance(c rgb) float64 {
	channel := func(v float64) float64 {
		v /= 255
		if v <= 0.03928 {
			return v / 12.92
		}
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return 0.2126*channel(c.r) + 0.7152*channel(c.g) + 0.0722*channel(c.b)
}

func contrastRatio(a, b rgb) float64 {
	la, lb := luminance(a), luminance(b)
	if la < lb {
		la, lb = lb, la
	}
	return (la + 0.05) / (lb + 0.05)
}
