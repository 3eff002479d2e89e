// Package syncstate holds the small concurrency primitives shared by the synchronization cores:
// a per-collection phase tracker, a keyed mutex and a listener set.
package syncstate

import (
	"sync"
	"time"
)

// Phase is where a collection stands relative to the remote store.
type Phase int

const (
	// Idle means nothing has been requested yet, or the state was reset.
	Idle Phase = iota
	// Pending means at least one remote call is in flight.
	Pending
	// Reconciled means the last remote call succeeded and local state reflects it.
	Reconciled
	// Failed means the last remote call failed and local state was left untouched.
	Failed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Reconciled:
		return "reconciled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Tracker follows the phase of one collection. Several calls may be in flight at once; the
// collection stays Pending until the last of them ends, and then takes the outcome of the call
// that ended last.
type Tracker struct {
	mu       sync.Mutex
	inflight int
	settled  Phase
	lastErr  error
	changed  time.Time
}

// Begin marks a remote call as started and returns the function that ends it.
func (t *Tracker) Begin() func(err error) {
	t.mu.Lock()
	t.inflight++
	t.changed = time.Now()
	t.mu.Unlock()

	var once sync.Once
	return func(err error) {
		once.Do(func() { t.end(err) })
	}
}

func (t *Tracker) end(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight > 0 {
		t.inflight--
	}
	t.lastErr = err
	if err != nil {
		t.settled = Failed
	} else {
		t.settled = Reconciled
	}
	t.changed = time.Now()
}

// Phase reports the current phase.
func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight > 0 {
		return Pending
	}
	return t.settled
}

// Loading reports whether any call is in flight.
func (t *Tracker) Loading() bool {
	return t.Phase() == Pending
}

// Err returns the error of the most recently ended call, or nil.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Changed returns when the phase last changed.
func (t *Tracker) Changed() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// Reset returns a settled tracker to Idle, e.g. on sign-out. In-flight calls are not affected.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settled = Idle
	t.lastErr = nil
	t.changed = time.Now()
}
