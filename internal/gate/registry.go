package gate

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status of an access session. Absent means no live session exists for
// the uid: never opened, or already expired.
type Status string

const (
	StatusPending  Status = "pending"
	StatusMatched  Status = "matched"
	StatusRejected Status = "rejected"
	StatusAbsent   Status = "absent"
)

// Terminal reports whether s is a settled verdict.
func (s Status) Terminal() bool {
	return s == StatusMatched || s == StatusRejected
}

// session is one in-flight access attempt. Guarded by its own mutex so
// submissions for different uids never block each other.
type session struct {
	mu           sync.Mutex
	status       Status
	lastActivity time.Time
}

// Registry owns all access sessions, keyed by uid, with at most one live
// session per uid. Expired entries are purged lazily on every operation;
// Run adds a periodic sweep for idle deployments.
//
// The registry is a pure state machine: it performs no I/O and records no
// events. Callers evaluate frames before entering it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session

	ttl time.Duration
	now func() time.Time

	// onEvict is invoked (outside locks) for every expired session.
	onEvict func(uid string)
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// OnEvict registers a callback fired after a session expires. Used for
// metrics; must not block.
func (r *Registry) OnEvict(fn func(uid string)) {
	r.onEvict = fn
}

// Open creates a pending session for uid, or refreshes the existing one.
// Re-opening is idempotent: a pending session stays pending, a terminal
// session keeps its verdict until the TTL retires it.
func (r *Registry) Open(uid string) Status {
	r.purge()

	r.mu.Lock()
	s, ok := r.sessions[uid]
	if !ok {
		s = &session{status: StatusPending, lastActivity: r.now()}
		r.sessions[uid] = s
		r.mu.Unlock()
		return StatusPending
	}
	r.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = r.now()
	return s.status
}

// Transition applies one frame evaluation to uid's session and returns
// the resulting status. The read-decide-write sequence is atomic per
// uid: of two concurrent submissions only one can move the session out
// of pending, and the other observes the settled verdict.
//
// A terminal session short-circuits: late frames from an in-flight
// camera stream must never flip a verdict.
func (r *Registry) Transition(uid string, matched, lastFrame bool) (Status, bool) {
	r.purge()

	r.mu.RLock()
	s, ok := r.sessions[uid]
	r.mu.RUnlock()
	if !ok {
		return StatusAbsent, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity = r.now()
	if s.status.Terminal() {
		return s.status, true
	}

	switch {
	case matched:
		s.status = StatusMatched
	case lastFrame:
		s.status = StatusRejected
	}
	return s.status, true
}

// Status reports uid's session state and refreshes its activity, keeping
// an actively polled session alive. It never advances the state machine.
func (r *Registry) Status(uid string) Status {
	r.purge()

	r.mu.RLock()
	s, ok := r.sessions[uid]
	r.mu.RUnlock()
	if !ok {
		return StatusAbsent
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = r.now()
	return s.status
}

// MostRecentPending returns the pending session with the newest activity.
// Compatibility shim for single-door installs where the camera submits
// frames without a uid.
func (r *Registry) MostRecentPending() (string, bool) {
	r.purge()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var bestUID string
	var bestAt time.Time
	for uid, s := range r.sessions {
		s.mu.Lock()
		if s.status == StatusPending && s.lastActivity.After(bestAt) {
			bestUID, bestAt = uid, s.lastActivity
		}
		s.mu.Unlock()
	}
	return bestUID, bestUID != ""
}

// Len reports the number of live sessions after purging expired ones.
func (r *Registry) Len() int {
	r.purge()

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// purge evicts every session idle longer than the TTL. Called on each
// registry operation so expiry needs no background work to be correct.
func (r *Registry) purge() {
	now := r.now()

	r.mu.Lock()
	var evicted []string
	for uid, s := range r.sessions {
		s.mu.Lock()
		expired := now.Sub(s.lastActivity) > r.ttl
		s.mu.Unlock()
		if expired {
			delete(r.sessions, uid)
			evicted = append(evicted, uid)
		}
	}
	r.mu.Unlock()

	if r.onEvict != nil {
		for _, uid := range evicted {
			r.onEvict(uid)
		}
	}
}

// Run sweeps expired sessions periodically until ctx is cancelled, so
// abandoned opens do not pile up on a registry nobody touches.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := r.Len()
			slog.Debug("session sweep", "live", before)
		}
	}
}
