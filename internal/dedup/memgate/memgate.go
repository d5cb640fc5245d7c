// Package memgate provides a process-local dedup gate: a mutex-guarded,
// TTL-bound LRU of seen fingerprints. Used standalone in dev/testing and
// as the degradation target when the shared store is unreachable.
package memgate

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/sift/internal/signal"
)

// Gate holds seen fingerprints in memory, most recent at the front.
type Gate struct {
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	ll    *list.List
	items map[string]*list.Element

	now func() time.Time // overridable for tests
}

type entry struct {
	key string
	exp time.Time
}

// New initializes a gate bounded to maxKeys entries with the given TTL.
func New(maxKeys int, ttl time.Duration) *Gate {
	if maxKeys <= 0 {
		maxKeys = 100_000
	}
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Gate{
		cap:   maxKeys,
		ttl:   ttl,
		ll:    list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
	}
}

// Check implements dedup.Gate. The mutex makes check-and-record atomic for
// concurrent callers; an expired entry is treated as absent.
func (g *Gate) Check(_ context.Context, ns signal.Namespace, fp string) (bool, error) {
	key := string(ns) + ":" + fp
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if el, ok := g.items[key]; ok {
		en := el.Value.(entry)
		if now.Before(en.exp) {
			g.ll.MoveToFront(el)
			return false, nil
		}
		g.ll.Remove(el)
		delete(g.items, key)
	}

	el := g.ll.PushFront(entry{key: key, exp: now.Add(g.ttl)})
	g.items[key] = el

	for g.ll.Len() > g.cap {
		tail := g.ll.Back()
		if tail == nil {
			break
		}
		g.ll.Remove(tail)
		delete(g.items, tail.Value.(entry).key)
	}
	// opportunistic cleanup of expired entries at the tail
	for {
		tail := g.ll.Back()
		if tail == nil || now.Before(tail.Value.(entry).exp) {
			break
		}
		g.ll.Remove(tail)
		delete(g.items, tail.Value.(entry).key)
	}

	return true, nil
}

// Len reports the current number of tracked fingerprints.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ll.Len()
}
