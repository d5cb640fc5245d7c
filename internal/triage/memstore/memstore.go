// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/sift/internal/signal"
	"github.com/linnemanlabs/sift/internal/triage"
)

// Store holds items, decisions, and alerts in memory. Suitable for
// dev/testing; selected when no database URL is configured.
type Store struct {
	mu        sync.RWMutex
	items     map[string]*triage.Item    // signal ID -> item
	byFp      map[string]string          // namespace:fingerprint -> signal ID
	decisions map[string][]*triage.Decision
	alerts    []*triage.AlertRecord
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		items:     make(map[string]*triage.Item),
		byFp:      make(map[string]string),
		decisions: make(map[string][]*triage.Decision),
	}
}

func fpKey(ns signal.Namespace, fp string) string {
	return string(ns) + ":" + fp
}

// Put stores a copy of the item.
func (s *Store) Put(_ context.Context, it *triage.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *it
	s.items[it.ID] = &cp
	s.byFp[fpKey(it.Namespace, it.Fingerprint)] = it.ID
	return nil
}

// Get retrieves an item by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Item, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, false, nil
	}
	cp := *it
	return &cp, true, nil
}

// GetByFingerprint retrieves an item by namespace and fingerprint.
func (s *Store) GetByFingerprint(_ context.Context, ns signal.Namespace, fp string) (*triage.Item, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byFp[fpKey(ns, fp)]
	if !ok {
		return nil, false, nil
	}
	cp := *s.items[id]
	return &cp, true, nil
}

// ListStandby returns items at the given stage, most recently updated first.
func (s *Store) ListStandby(_ context.Context, stage signal.Stage, limit int) ([]*triage.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*triage.Item
	for _, it := range s.items {
		if it.Stage != stage {
			continue
		}
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListTriaged returns items that left standby, joined with decisions.
func (s *Store) ListTriaged(_ context.Context, limit int) ([]*triage.TriagedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*triage.TriagedItem
	for _, it := range s.items {
		if len(s.decisions[it.ID]) == 0 {
			continue
		}
		cp := *it
		ti := &triage.TriagedItem{Item: &cp}
		for _, d := range s.decisions[it.ID] {
			dc := *d
			ti.Decisions = append(ti.Decisions, &dc)
		}
		out = append(out, ti)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Item.UpdatedAt.After(out[j].Item.UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordDecision appends a decision for an item.
func (s *Store) RecordDecision(_ context.Context, d *triage.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[d.SignalID]; !ok {
		return triage.ErrNotFound
	}
	cp := *d
	s.decisions[d.SignalID] = append(s.decisions[d.SignalID], &cp)
	return nil
}

// DecisionsFor returns decisions for an item, oldest first.
func (s *Store) DecisionsFor(_ context.Context, signalID string) ([]*triage.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*triage.Decision
	for _, d := range s.decisions[signalID] {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

// AppendAlert appends an alert record.
func (s *Store) AppendAlert(_ context.Context, a *triage.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts = append(s.alerts, &cp)
	return nil
}

// Alerts returns a snapshot of the appended alert records, oldest first.
// Test helper; the production read path is the alerts table.
func (s *Store) Alerts() []*triage.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*triage.AlertRecord, 0, len(s.alerts))
	for _, a := range s.alerts {
		cp := *a
		out = append(out, &cp)
	}
	return out
}
