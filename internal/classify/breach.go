package classify

import (
	"fmt"

	"github.com/linnemanlabs/sift/internal/signal"
)

// BreachThresholds configures the boundary-breach classifier. DropThreshold
// is a signed fraction (a drop of 12% is -0.12); Floor is an absolute
// minimum applied only when no relative change is supplied.
type BreachThresholds struct {
	DropThreshold float64
	Floor         float64
}

// DefaultBreachThresholds mirror the source system's alerting rules.
func DefaultBreachThresholds() BreachThresholds {
	return BreachThresholds{DropThreshold: -0.12, Floor: 1_000_000}
}

// Breach is the outcome of a boundary check.
type Breach struct {
	Alert    bool
	Severity signal.Severity
	Reason   string
}

// TVLBreach flags a point whose 24h change meets the drop threshold, or
// whose absolute value is under the floor when no change is supplied.
// Evaluated independently per point.
func TVLBreach(p signal.TVLPoint, th BreachThresholds) Breach {
	if p.Change24h != nil {
		if *p.Change24h <= th.DropThreshold {
			return Breach{
				Alert:    true,
				Severity: signal.SeverityHigh,
				Reason:   fmt.Sprintf("TVL drop %.1f%% breaches %.1f%% threshold", *p.Change24h*100, th.DropThreshold*100),
			}
		}
		return Breach{Severity: signal.SeverityLow}
	}

	if p.Value < th.Floor {
		return Breach{
			Alert:    true,
			Severity: signal.SeverityHigh,
			Reason:   fmt.Sprintf("TVL %.0f below floor %.0f", p.Value, th.Floor),
		}
	}
	return Breach{Severity: signal.SeverityLow}
}
