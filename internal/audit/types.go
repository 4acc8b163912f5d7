package audit

import (
	"net/http"
	"time"
)

// Job is one audit run over a sitemap.
type Job struct {
	ID           string     `json:"id"`
	SitemapURL   string     `json:"sitemap_url"`
	Status       Status     `json:"status"`
	ClientName   string     `json:"client_name,omitempty"`
	ClientEmail  string     `json:"client_email,omitempty"`
	OverallScore *float64   `json:"overall_score"`
	ErrorText    string     `json:"error_text,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Summary      *Summary   `json:"summary,omitempty"`
}

// Metadata is optional client information attached to a job at creation.
type Metadata struct {
	ClientName  string `json:"client_name,omitempty"`
	ClientEmail string `json:"client_email,omitempty"`
}

// RunRequest carries the immutable parameters a background worker needs to
// execute one audit.
type RunRequest struct {
	JobID      string
	SitemapURL string
	Metadata   Metadata
	Submitted  time.Time
}

// PageTask is one URL scheduled for fetching and analysis.
type PageTask struct {
	URL     string
	Index   int
	Attempt int
}

// Outcome classifies how a page task ended.
type Outcome string

// Page outcomes.
const (
	OutcomeOK             Outcome = "ok"
	OutcomeFetchFailed    Outcome = "fetch_failed"
	OutcomeTimedOut       Outcome = "timed_out"
	OutcomeAnalysisFailed Outcome = "analysis_failed"
)

// Failure reason codes recorded on PageError.Reason.
const (
	ReasonDeadlineExceeded = "deadline_exceeded"
	ReasonTimeout          = "timeout"
	ReasonNetworkError     = "network_error"
	ReasonHTTPError        = "http_error"
	ReasonRobotsDisallowed = "robots_disallowed"
	ReasonEmptyDocument    = "empty_document"
)

// PageError describes why a page did not produce an analysis.
type PageError struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status,omitempty"`
}

// PageResult is the single, immutable outcome for one PageTask.
type PageResult struct {
	URL                   string     `json:"url"`
	Index                 int        `json:"index"`
	Outcome               Outcome    `json:"outcome"`
	Attempts              int        `json:"attempts"`
	DurationMs            int64      `json:"duration_ms"`
	StatusCode            int        `json:"status_code,omitempty"`
	Title                 string     `json:"title,omitempty"`
	Headings              []string   `json:"headings,omitempty"`
	ContentHash           string     `json:"content_hash,omitempty"`
	SEOFindings           []Finding  `json:"seo_findings"`
	AccessibilityFindings []Finding  `json:"accessibility_findings"`
	Score                 *float64   `json:"score,omitempty"`
	Error                 *PageError `json:"error,omitempty"`
}

// OK reports whether the page was fetched and analyzed.
func (r PageResult) OK() bool {
	return r.Outcome == OutcomeOK
}

// Severity grades a finding.
type Severity string

// Finding severities.
const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Category separates the two rule families.
type Category string

// Finding categories.
const (
	CategorySEO           Category = "seo"
	CategoryAccessibility Category = "accessibility"
)

// Finding is one reported issue on a page.
type Finding struct {
	RuleID   string   `json:"rule_id"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Impact   string   `json:"impact,omitempty"`
	WCAG     string   `json:"wcag,omitempty"`
	Nodes    int      `json:"nodes,omitempty"`
	Samples  []string `json:"samples,omitempty"`
}

// Analysis is the analyzer output for one rendered page.
type Analysis struct {
	Title         string
	Headings      []string
	ContentHash   string
	SEO           []Finding
	Accessibility []Finding
	Score         float64
}

// ContentGap is an AI-derived recommendation for missing site content.
type ContentGap struct {
	Category       string   `json:"category"`
	Description    string   `json:"description"`
	Priority       string   `json:"priority"`
	SuggestedPages []string `json:"suggested_pages"`
	Reasoning      string   `json:"reasoning"`
}

// PageDigest is the slice of a page handed to content-gap analysis.
type PageDigest struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Headings []string `json:"headings"`
}

// IssueCount tallies one recurring finding across pages.
type IssueCount struct {
	RuleID   string   `json:"rule_id"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Pages    int      `json:"pages"`
}

// Summary is the terminal artifact of an audit run.
type Summary struct {
	Status         Status           `json:"status"`
	OverallScore   *float64         `json:"overall_score"`
	PagesAttempted int              `json:"pages_attempted"`
	PagesSucceeded int              `json:"pages_succeeded"`
	PagesFailed    int              `json:"pages_failed"`
	IssueCounts    map[Severity]int `json:"issue_counts"`
	TopIssues      []IssueCount     `json:"top_issues"`
	Pages          []PageResult     `json:"pages"`
	ContentGaps    []ContentGap     `json:"content_gaps"`
}

// FetchRequest asks a fetcher for one URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse captures the retrieved document.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}

// Notification is published once an audit reaches a terminal state.
type Notification struct {
	JobID          string   `json:"job_id"`
	Status         Status   `json:"status"`
	OverallScore   *float64 `json:"overall_score"`
	PagesAttempted int      `json:"pages_attempted"`
	PagesSucceeded int      `json:"pages_succeeded"`
	ReportURI      string   `json:"report_uri,omitempty"`
	ClientEmail    string   `json:"client_email,omitempty"`
}

// Attributes returns routing metadata for message brokers.
func (n Notification) Attributes() map[string]string {
	return map[string]string{
		"job_id": n.JobID,
		"status": string(n.Status),
	}
}
