package recurrence

import (
	"context"

	appLog "schedadmin/internal/log"
	"schedadmin/internal/model"
)

// Lookup fetches a single event by identifier, typically over the network.
type Lookup interface {
	GetEvent(ctx context.Context, id string) (model.Event, error)
}

// LocalLookup finds an already-loaded event by identifier.
type LocalLookup interface {
	Find(id string) (model.Event, bool)
}

// Events is a LocalLookup over a plain slice.
type Events []model.Event

func (evs Events) Find(id string) (model.Event, bool) {
	for _, ev := range evs {
		if ev.ID == id {
			return ev, true
		}
	}
	return model.Event{}, false
}

// Resolution tells where a resolved rule came from.
type Resolution string

const (
	FromEvent    Resolution = "event"
	FromLocal    Resolution = "local"
	FromRemote   Resolution = "remote"
	NoRecurrence Resolution = "none"
	// Unresolved means a master was referenced but could not be fetched.
	// The returned rule is Default() and says nothing about the series.
	Unresolved Resolution = "unresolved"
)

// Resolver finds the recurrence rule of an event. Instances of a series do
// not carry the rule themselves; it lives on the master event.
//
// Every call that misses the local collection issues a fresh remote
// lookup. Nothing is cached.
type Resolver struct {
	local  LocalLookup
	remote Lookup
}

// NewResolver builds a resolver. Either lookup may be nil.
func NewResolver(local LocalLookup, remote Lookup) *Resolver {
	return &Resolver{local: local, remote: remote}
}

// Resolve returns the event's rule. A failed master lookup is logged and
// yields Default(), the same as an event without recurrence.
func (r *Resolver) Resolve(ctx context.Context, ev model.Event) Rule {
	rule, _ := r.ResolveDetailed(ctx, ev)
	return rule
}

// ResolveDetailed is Resolve plus the provenance of the rule.
func (r *Resolver) ResolveDetailed(ctx context.Context, ev model.Event) (Rule, Resolution) {
	if len(ev.Recurrence) > 0 {
		return ParseRecurrence(ev.Recurrence), FromEvent
	}

	masterID := ev.RecurringEventID
	if masterID == "" {
		return Default(), NoRecurrence
	}

	// A loaded master copy without its rule lines is not trusted; the
	// remote lookup gets a chance to supply them.
	var localHit bool
	if r != nil && r.local != nil {
		if master, ok := r.local.Find(masterID); ok {
			if len(master.Recurrence) > 0 {
				return ParseRecurrence(master.Recurrence), FromLocal
			}
			localHit = true
		}
	}

	if r == nil || r.remote == nil {
		if localHit {
			return Default(), FromLocal
		}
		appLog.Debug("recurrence: master not loaded and no remote lookup", "event", ev.ID, "master", masterID)
		return Default(), Unresolved
	}

	master, err := r.remote.GetEvent(ctx, masterID)
	if err != nil {
		appLog.Error("recurrence: master event lookup failed", err, "event", ev.ID, "master", masterID)
		return Default(), Unresolved
	}
	return ParseRecurrence(master.Recurrence), FromRemote
}
