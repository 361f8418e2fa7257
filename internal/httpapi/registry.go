package httpapi

import (
	"sync"
	"time"

	"portal-onboarding/internal/flows/membership"
	"portal-onboarding/internal/flows/signin"
	"portal-onboarding/internal/verification"
)

// payAttempt is one running payment handshake. done closes once outcome and
// err are set.
type payAttempt struct {
	done    chan struct{}
	outcome verification.Outcome
	err     error
}

// wizardEntry.owner is written with both the registry lock and mu held.
type wizardEntry struct {
	ctrl     *membership.Controller
	checkout *verification.HostedCheckout

	mu       sync.Mutex
	owner    string
	attempt  *payAttempt
	lastSeen time.Time
}

func (e *wizardEntry) currentAttempt() *payAttempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempt
}

func (e *wizardEntry) ownerID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.owner
}

type flowEntry struct {
	ctrl     *signin.Controller
	owner    string
	lastSeen time.Time
}

// registry holds the live controllers, each owned by one browser session.
type registry struct {
	mu      sync.Mutex
	wizards map[string]*wizardEntry
	flows   map[string]*flowEntry
}

func newRegistry() *registry {
	return &registry{
		wizards: make(map[string]*wizardEntry),
		flows:   make(map[string]*flowEntry),
	}
}

func (r *registry) putWizard(id string, e *wizardEntry, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
	r.wizards[id] = e
}

// wizard returns the entry only to its owner.
func (r *registry) wizard(id, owner string, now time.Time) (*wizardEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.wizards[id]
	if !ok || e.owner != owner {
		return nil, false
	}
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
	return e, true
}

func (r *registry) putFlow(id string, e *flowEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[id] = e
}

func (r *registry) flow(id, owner string, now time.Time) (*flowEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.flows[id]
	if !ok || e.owner != owner {
		return nil, false
	}
	e.lastSeen = now
	return e, true
}

// rebind hands everything owned by from over to to and returns the wizards
// that moved.
func (r *registry) rebind(from, to string) []*wizardEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var moved []*wizardEntry
	for _, e := range r.wizards {
		e.mu.Lock()
		if e.owner == from {
			e.owner = to
			moved = append(moved, e)
		}
		e.mu.Unlock()
	}
	for _, e := range r.flows {
		if e.owner == from {
			e.owner = to
		}
	}
	return moved
}

// sweep drops idle controllers. Wizards with a running payment are kept.
func (r *registry) sweep(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.wizards {
		e.mu.Lock()
		idle := e.attempt == nil && e.lastSeen.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(r.wizards, id)
			removed++
		}
	}
	for id, e := range r.flows {
		if e.lastSeen.Before(cutoff) {
			delete(r.flows, id)
			removed++
		}
	}
	return removed
}

func (r *registry) size() (wizards, flows int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.wizards), len(r.flows)
}
