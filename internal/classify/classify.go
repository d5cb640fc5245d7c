// Package classify assigns severity tiers to signals: keyword-bucket
// matching for text and threshold checks for numeric series.
package classify

import (
	"strings"

	"github.com/linnemanlabs/sift/internal/signal"
)

// Keyword buckets are checked in tier order; the first match wins, so a
// headline with both an incident term and a regulatory term is high.
var (
	incidentTerms   = []string{"hack", "exploit", "breach", "depeg", "halt"}
	regulatoryTerms = []string{"sec", "cnbv", "banxico", "cpi", "fomc", "rate", "etf"}
)

// Severity maps a title plus optional summary to a tier. Case-folded
// substring matching, high bucket short-circuits.
func Severity(title, summary string) signal.Severity {
	text := strings.ToLower(title + " " + summary)

	for _, term := range incidentTerms {
		if strings.Contains(text, term) {
			return signal.SeverityHigh
		}
	}
	for _, term := range regulatoryTerms {
		if strings.Contains(text, term) {
			return signal.SeverityMedium
		}
	}
	return signal.SeverityLow
}
