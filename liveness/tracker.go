// Package liveness implements the leader-only, process-local heartbeat
// map: endpoint -> last-seen timestamp, guarded by one mutex. Only
// differences between timestamps are meaningful; time.Time carries a
// monotonic reading, so wall-clock steps don't fake an expiry.
package liveness

import (
	"sync"
	"time"
)

// RemovalOp describes a task the sweeper schedules on the update worker
// when an endpoint's heartbeat has expired.
type RemovalOp struct {
	Endpoint string
}

// Tracker is the in-memory liveness map held by the current leader.
type Tracker struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{lastSeen: make(map[string]time.Time)}
}

// Touch refreshes endpoint's last-seen time but does not create an entry
// that was never added — PING on an unknown endpoint is a no-op here; the
// dispatcher responds with a REJOIN hint instead.
func (t *Tracker) Touch(endpoint string) (existed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.lastSeen[endpoint]; !ok {
		return false
	}
	t.lastSeen[endpoint] = time.Now()
	return true
}

// Add unconditionally (re)creates the entry — used by JOIN.
func (t *Tracker) Add(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[endpoint] = time.Now()
}

// Remove drops endpoint from the map, idempotently.
func (t *Tracker) Remove(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSeen, endpoint)
}

// Sweep returns every endpoint whose last heartbeat is older than timeout
// as of now, and removes them from the map. Never blocks on I/O: callers
// are responsible for scheduling the REMOVE reconfiguration asynchronously.
func (t *Tracker) Sweep(now time.Time, timeout time.Duration) []RemovalOp {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []RemovalOp
	for endpoint, seen := range t.lastSeen {
		if now.Sub(seen) > timeout {
			expired = append(expired, RemovalOp{Endpoint: endpoint})
			delete(t.lastSeen, endpoint)
		}
	}
	return expired
}

// Restore wholesale-replaces the map with a fresh now timestamp for each
// endpoint, used when a peer is promoted to leader and must rebuild
// liveness from the Nodes table's UP set.
func (t *Tracker) Restore(endpoints []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen = make(map[string]time.Time, len(endpoints))
	now := time.Now()
	for _, e := range endpoints {
		t.lastSeen[e] = now
	}
}

// Snapshot returns every tracked endpoint in no particular order.
func (t *Tracker) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.lastSeen))
	for e := range t.lastSeen {
		out = append(out, e)
	}
	return out
}

// Clear empties the map, used when this peer loses leadership.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen = make(map[string]time.Time)
}
