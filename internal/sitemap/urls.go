package sitemap

import (
	"net/url"
	"strings"
)

type urlSet struct {
	max        int
	seen       map[string]struct{}
	urls       []string
	duplicates int
	capped     bool
}

func newURLSet(max int) *urlSet {
	return &urlSet{max: max, seen: make(map[string]struct{})}
}

func (s *urlSet) addAll(locs []string) {
	for _, loc := range locs {
		s.add(loc)
	}
}

func (s *urlSet) add(loc string) {
	normalized, ok := normalizeURL(loc)
	if !ok {
		return
	}
	if _, dup := s.seen[normalized]; dup {
		s.duplicates++
		return
	}
	if len(s.urls) >= s.max {
		s.capped = true
		return
	}
	s.seen[normalized] = struct{}{}
	s.urls = append(s.urls, normalized)
}

// normalizeURL canonicalizes an absolute http(s) URL for deduplication:
// lowercase scheme and host, no default port, no fragment, "/" for an empty path.
func normalizeURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), true
}
