package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObservePageAndAudit(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(auditPagesTotal.WithLabelValues("timed_out"))
	ObservePage("timed_out", 2*time.Second)
	if got := testutil.ToFloat64(auditPagesTotal.WithLabelValues("timed_out")); got != before+1 {
		t.Errorf("expected audit_pages_total{timed_out} to grow by 1, got %f -> %f", before, got)
	}

	beforeAudits := testutil.ToFloat64(auditsTotal.WithLabelValues("PARTIAL"))
	ObserveAudit("PARTIAL")
	if got := testutil.ToFloat64(auditsTotal.WithLabelValues("PARTIAL")); got != beforeAudits+1 {
		t.Errorf("expected audits_total{PARTIAL} to grow by 1, got %f", got)
	}

	IncActiveRuns()
	DecActiveRuns()
	if got := testutil.ToFloat64(auditActiveRuns); got != 0 {
		t.Errorf("expected active runs gauge to return to 0, got %f", got)
	}
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}

func TestObserveHeadlessPromotion(t *testing.T) {
	Init()

	before := testutil.ToFloat64(headlessPromotionsTotal.WithLabelValues("rendered"))
	ObserveHeadlessPromotion("rendered")
	if got := testutil.ToFloat64(headlessPromotionsTotal.WithLabelValues("rendered")); got != before+1 {
		t.Errorf("expected audit_headless_promotions_total{rendered} to grow by 1, got %f -> %f", before, got)
	}
}
