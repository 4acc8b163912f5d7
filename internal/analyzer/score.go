package analyzer

import "github.com/JakeFAU/site-auditor/internal/audit"

var severityPenalty = map[audit.Severity]float64{
	audit.SeverityCritical: 15,
	audit.SeverityWarning:  5,
	audit.SeverityInfo:     1,
}

// Score starts at 100 and subtracts a fixed penalty per finding, clamped to
// [0, 100]. Each finding counts once regardless of how many nodes it covers.
func Score(groups ...[]audit.Finding) float64 {
	score := 100.0
	for _, findings := range groups {
		for _, f := range findings {
			score -= severityPenalty[f.Severity]
		}
	}
	return max(0, min(100, score))
}
