package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Timestamps are re-serialized to UTC with millisecond precision so that
// equivalent instants in different textual forms hash identically.
const canonicalTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Fingerprint returns the content-addressed identifier for a news item:
// sha256 over source, normalized title, URL, and the canonical timestamp.
// Pure and deterministic; identical logical items always collide.
func Fingerprint(it Item) string {
	base := fmt.Sprintf("%s|%s|%s|%s",
		it.Source,
		strings.ToLower(strings.TrimSpace(it.Title)),
		it.URL,
		it.PublishedAt.UTC().Format(canonicalTimeLayout),
	)
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

// TVLFingerprint returns the identifier for a TVL observation: sha256 over
// chain, protocol, metric, and the canonical timestamp. The value itself is
// excluded so a re-reported point for the same instant dedups.
func TVLFingerprint(p TVLPoint) string {
	base := fmt.Sprintf("%s|%s|%s|%s",
		p.Chain,
		p.Protocol,
		p.Metric,
		p.TS.UTC().Format(canonicalTimeLayout),
	)
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

// ParseTimestamp parses an ISO-8601/RFC3339 timestamp. A timestamp that
// does not parse is a hard input error, never swallowed.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
