package triage

import (
	"time"

	"github.com/linnemanlabs/sift/internal/signal"
)

// Item is a signal admitted by the dedup gate, tracked through the
// pipeline stages. Reason explains why the item was parked or escalated.
type Item struct {
	ID          string           `json:"id"`
	Fingerprint string           `json:"fingerprint"`
	Namespace   signal.Namespace `json:"namespace"`
	Source      string           `json:"source"`
	Title       string           `json:"title"`
	Summary     string           `json:"summary,omitempty"`
	URL         string           `json:"url,omitempty"`
	Category    string           `json:"category,omitempty"`
	Tickers     []string         `json:"tickers,omitempty"`
	Keywords    []string         `json:"keywords,omitempty"`
	Severity    signal.Severity  `json:"severity"`
	Stage       signal.Stage     `json:"stage"`
	Reason      string           `json:"reason,omitempty"`
	PublishedAt time.Time        `json:"published_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Outcome is the resolution a triage decision applies to a standby item.
type Outcome string

const (
	OutcomeEscalated Outcome = "escalated"
	OutcomeDismissed Outcome = "dismissed"
)

// Stage maps an outcome to the terminal pipeline stage it produces.
func (o Outcome) Stage() signal.Stage {
	if o == OutcomeEscalated {
		return signal.StageEscalated
	}
	return signal.StageDismissed
}

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeEscalated || o == OutcomeDismissed
}

// Decision records how a standby item was resolved. Created only when an
// item leaves standby.
type Decision struct {
	ID         string    `json:"id"`
	SignalID   string    `json:"signal_id"`
	Outcome    Outcome   `json:"outcome"`
	Notes      string    `json:"notes,omitempty"`
	Assignee   string    `json:"assignee,omitempty"`
	EscalateTo string    `json:"escalate_to,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// AlertRecord is the persisted trace of a dispatched (or attempted) alert.
type AlertRecord struct {
	ID         string            `json:"id"`
	SignalID   string            `json:"signal_id,omitempty"`
	Severity   signal.Severity   `json:"severity"`
	Message    string            `json:"message"`
	TraceID    string            `json:"trace_id,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
	Delivered  bool              `json:"delivered"`
	Diagnostic string            `json:"diagnostic,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// TriagedItem joins an item that left standby with its decisions.
type TriagedItem struct {
	Item      *Item       `json:"item"`
	Decisions []*Decision `json:"decisions"`
}
