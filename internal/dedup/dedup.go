// Package dedup provides the at-most-once admission gate. A Gate records
// fingerprints with set-if-absent semantics; only the first caller for a
// given (namespace, fingerprint) sees "is new".
package dedup

import (
	"context"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sift/internal/signal"
)

// Gate is the admission check. Check must be atomic with respect to
// concurrent callers using the same fingerprint.
type Gate interface {
	// Check records fp in ns and reports whether it was previously unseen.
	Check(ctx context.Context, ns signal.Namespace, fp string) (isNew bool, err error)
}

// fallbackGate tries the shared primary store first and degrades to the
// local gate when the primary errors. Degradation is a warning, never
// fatal; the local gate has no shared view, so a fingerprint admitted
// locally may be re-admitted elsewhere. Accepted trade-off.
type fallbackGate struct {
	primary Gate
	local   Gate
	logger  log.Logger
}

// WithFallback wraps primary so that errors fall back to local.
func WithFallback(primary, local Gate, logger log.Logger) Gate {
	if logger == nil {
		logger = log.Nop()
	}
	return &fallbackGate{primary: primary, local: local, logger: logger}
}

func (g *fallbackGate) Check(ctx context.Context, ns signal.Namespace, fp string) (bool, error) {
	isNew, err := g.primary.Check(ctx, ns, fp)
	if err == nil {
		return isNew, nil
	}

	g.logger.Warn(ctx, "dedup store unreachable, falling back to local gate",
		"namespace", string(ns),
		"error", err.Error(),
	)
	return g.local.Check(ctx, ns, fp)
}
