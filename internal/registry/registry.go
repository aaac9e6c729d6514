// Package registry tracks live and recently-disconnected client sessions: who
// is connected, when each client was last seen, each client's reconnect grace
// period and response cache, and the process-wide active-client count. All
// state is guarded by one lock; the shared-backend shutdown hook fires under
// that lock when the count reaches zero so shutdown can never race a client
// mid-admission.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/datapath-io/datapath/internal/respcache"
)

// Registry is the process-wide client session registry.
type Registry struct {
	mu           sync.Mutex
	maxClients   int
	numClients   int
	lastSeen     map[string]time.Time
	gracePeriods map[string]time.Duration
	caches       map[string]*respcache.Cache

	// shutdownAll is invoked under mu when numClients transitions to zero.
	shutdownAll func()

	stopOnce sync.Once
	stopped  chan struct{}

	log *slog.Logger
}

// New creates a registry admitting at most maxClients concurrent sessions.
// shutdownAll may be nil.
func New(maxClients int, shutdownAll func(), log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		maxClients:   maxClients,
		lastSeen:     make(map[string]time.Time),
		gracePeriods: make(map[string]time.Duration),
		caches:       make(map[string]*respcache.Cache),
		shutdownAll:  shutdownAll,
		stopped:      make(chan struct{}),
		log:          log,
	}
}

// Admit decides whether a connection for clientID may enter the ACTIVE state.
//
// A fresh client is admitted only while the active count is below the
// threshold. A reconnecting client with no session on record is rejected with
// NotFound: its grace window already expired. The threshold check deliberately
// runs first, so a reconnect to an unknown session on a saturated server is
// reported as ResourceExhausted rather than NotFound. A reconnecting client
// with a live session simply has its last-seen time refreshed; the counter is
// not incremented a second time and the existing response cache is reused.
func (r *Registry) Admit(clientID string, reconnecting bool, now time.Time) (*respcache.Cache, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, known := r.lastSeen[clientID]
	if !known && r.numClients >= r.maxClients {
		r.log.Warn("rejecting client: active client threshold reached",
			"client_id", clientID, "num_clients", r.numClients, "threshold", r.maxClients)
		return nil, status.Errorf(codes.ResourceExhausted,
			"client threshold reached: %d active clients", r.numClients)
	}
	if reconnecting && !known {
		return nil, status.Error(codes.NotFound,
			"attempted to reconnect to a session that has already been cleaned up")
	}
	if known {
		r.log.Debug("client reconnected", "client_id", clientID)
	} else {
		r.numClients++
		r.log.Debug("accepted data connection", "client_id", clientID, "num_clients", r.numClients)
	}
	r.lastSeen[clientID] = now

	cache, ok := r.caches[clientID]
	if !ok {
		cache = respcache.New()
		r.caches[clientID] = cache
	}
	return cache, nil
}

// SetGracePeriod records the reconnect grace period requested by the client's
// init. The most recent init wins.
func (r *Registry) SetGracePeriod(clientID string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gracePeriods[clientID] = d
}

// GracePeriod returns the recorded grace period, if any.
func (r *Registry) GracePeriod(clientID string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.gracePeriods[clientID]
	return d, ok
}

// NumClients reports the current active-client count.
func (r *Registry) NumClients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numClients
}

// Locked runs fn while holding the registry lock. Used to serialize backend
// operations that must not overlap admission or teardown.
func (r *Registry) Locked(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

// Stop signals every pending grace-period wait to finish early. Safe to call
// more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopped) })
}

// Teardown runs the end-of-connection protocol for clientID. Unless immediate
// cleanup was requested it first waits out the client's recorded grace
// period, holding no lock, interruptible by Stop. It then finalizes under the
// lock. Reports whether this call actually removed the session.
func (r *Registry) Teardown(clientID string, connStart time.Time, immediate bool, releaseAll func(clientID string)) bool {
	if !immediate {
		if delay, ok := r.GracePeriod(clientID); ok {
			r.log.Debug("delaying cleanup for reconnect window",
				"client_id", clientID, "grace_period", delay)
			t := time.NewTimer(delay)
			select {
			case <-r.stopped:
			case <-t.C:
			}
			t.Stop()
		}
	} else {
		r.log.Debug("cleaning up immediately", "client_id", clientID)
	}
	return r.finalize(clientID, connStart, releaseAll)
}

// finalize is the single critical section deciding the fate of a session
// after the grace wait. Deleting the last-seen entry doubles as the
// teardown-complete marker: a concurrent second teardown for the same client
// observes the missing entry and no-ops, and a reconnect during the wait
// refreshed last-seen under this same lock, so the comparison against
// connStart always sees it.
func (r *Registry) finalize(clientID string, connStart time.Time, releaseAll func(clientID string)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.lastSeen[clientID]
	if !ok {
		r.log.Debug("session already cleaned up", "client_id", clientID)
		return false
	}
	if last.After(connStart) {
		r.log.Debug("client reconnected, skipping cleanup", "client_id", clientID)
		return false
	}

	if releaseAll != nil {
		releaseAll(clientID)
	}
	delete(r.lastSeen, clientID)
	delete(r.gracePeriods, clientID)
	delete(r.caches, clientID)
	r.numClients--
	r.log.Debug("removed client session", "client_id", clientID, "num_clients", r.numClients)

	// Shared-backend shutdown must stay inside this critical section so it
	// cannot race a client that is mid-admission.
	if r.numClients == 0 && r.shutdownAll != nil {
		r.log.Debug("last client removed, shutting down shared backend")
		r.shutdownAll()
	}
	return true
}
