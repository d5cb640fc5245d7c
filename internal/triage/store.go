package triage

import (
	"context"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sift/internal/signal"
)

// ErrNotFound is returned by lookups for unknown IDs where absence is an
// error rather than an (ok=false) miss.
var ErrNotFound = xerrors.New("triage: item not found")

// Store is the persistence interface for signal items, triage decisions,
// and alert records. Each write is independent and idempotent; there is no
// multi-step transaction spanning stage transitions.
type Store interface {
	// Put inserts or updates a signal item.
	Put(ctx context.Context, it *Item) error

	// Get retrieves an item by ID.
	Get(ctx context.Context, id string) (*Item, bool, error)

	// GetByFingerprint retrieves the most recent item for a fingerprint
	// within a namespace.
	GetByFingerprint(ctx context.Context, ns signal.Namespace, fp string) (*Item, bool, error)

	// ListStandby returns items at the given stage, most recent first.
	ListStandby(ctx context.Context, stage signal.Stage, limit int) ([]*Item, error)

	// ListTriaged returns items that left standby, joined with their
	// decisions, most recently updated first.
	ListTriaged(ctx context.Context, limit int) ([]*TriagedItem, error)

	// RecordDecision appends a triage decision for an item.
	RecordDecision(ctx context.Context, d *Decision) error

	// DecisionsFor returns the decisions recorded for an item, oldest first.
	DecisionsFor(ctx context.Context, signalID string) ([]*Decision, error)

	// AppendAlert appends a delivered-alert record.
	AppendAlert(ctx context.Context, a *AlertRecord) error
}
