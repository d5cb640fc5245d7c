// Package signal defines the domain model for ingested signals: raw items,
// severity tiers, pipeline stages, and content fingerprints.
package signal

import "time"

// Namespace partitions the dedup keyspace by signal kind.
type Namespace string

const (
	NamespaceNews Namespace = "news"
	NamespaceTVL  Namespace = "tvl"
)

// Item is a validated, immutable external event (news headline, social
// mention). Ownership passes by value to downstream stages.
type Item struct {
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	URL         string    `json:"url"`
	Category    string    `json:"category,omitempty"`
	Tickers     []string  `json:"tickers,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// TVLPoint is a single on-chain total-value-locked observation.
// Change24h is nil when the collector did not supply a relative change.
type TVLPoint struct {
	Chain     string    `json:"chain"`
	Protocol  string    `json:"protocol"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	TS        time.Time `json:"ts"`
	Change24h *float64  `json:"change24h,omitempty"`
}

// Severity is an ordered priority tier.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Valid reports whether s is a known severity tier.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Stage tracks where a signal is in the pipeline. Progression is forward
// only; standby resolves to escalated or dismissed, both terminal.
type Stage string

const (
	// StageIngested means the item passed schema validation.
	StageIngested Stage = "ingested"

	// StageDeduped means the dedup gate confirmed the fingerprint as new.
	StageDeduped Stage = "deduped"

	// StageStandby means the item is parked for human/automated triage.
	StageStandby Stage = "standby"

	// StageEscalated means an alert was (or is being) dispatched. Terminal.
	StageEscalated Stage = "escalated"

	// StageDismissed means a triage decision discarded the item. Terminal.
	StageDismissed Stage = "dismissed"
)

var stageNext = map[Stage]map[Stage]bool{
	StageIngested: {StageDeduped: true},
	StageDeduped:  {StageStandby: true, StageEscalated: true},
	StageStandby:  {StageEscalated: true, StageDismissed: true},
}

// CanAdvance reports whether a transition from s to next is legal.
func (s Stage) CanAdvance(next Stage) bool {
	return stageNext[s][next]
}

// Terminal reports whether no further transition is possible from s.
func (s Stage) Terminal() bool {
	return len(stageNext[s]) == 0
}
