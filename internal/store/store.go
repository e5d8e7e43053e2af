// Package store keeps the classes currently loaded from the backend or from
// ICS feeds. It is the local collection recurrence resolution looks in
// before asking the backend, and the event source of the day view.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"schedadmin/internal/api"
	"schedadmin/internal/ics"
	appLog "schedadmin/internal/log"
	"schedadmin/internal/model"
)

// Snapshot is everything one load produced.
type Snapshot struct {
	// Events are displayable classes (standalone and instances).
	Events []model.Event
	// Series are masters of recurring classes. They are looked up by
	// instances but not displayed on their own.
	Series []model.Event
}

// Source produces a snapshot.
type Source interface {
	Load(ctx context.Context) (Snapshot, error)
}

// Store holds the latest snapshot. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	snap     Snapshot
	byID     map[string]model.Event
	loadedAt time.Time
	lastErr  error
}

func New() *Store {
	return &Store{byID: map[string]model.Event{}}
}

// Replace swaps in a new snapshot.
func (s *Store) Replace(snap Snapshot) {
	byID := make(map[string]model.Event, len(snap.Events)+len(snap.Series))
	for _, ev := range snap.Events {
		byID[ev.ID] = ev
	}
	// Masters win over a displayable event with the same ID; lookups by
	// RecurringEventID want the recurrence lines.
	for _, ev := range snap.Series {
		byID[ev.ID] = ev
	}

	s.mu.Lock()
	s.snap = snap
	s.byID = byID
	s.loadedAt = time.Now()
	s.lastErr = nil
	s.mu.Unlock()
}

// Find implements recurrence.LocalLookup.
func (s *Store) Find(id string) (model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.byID[id]
	return ev, ok
}

// Events returns a copy of the displayable events.
func (s *Store) Events() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Event(nil), s.snap.Events...)
}

// Series returns a copy of the masters.
func (s *Store) Series() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Event(nil), s.snap.Series...)
}

// Status reports when the store was last loaded and the error of the last
// failed refresh, if it failed after that.
func (s *Store) Status() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt, s.lastErr
}

func (s *Store) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Refresh loads src and replaces the snapshot. On error the previous
// snapshot is kept.
func (s *Store) Refresh(ctx context.Context, src Source) error {
	start := time.Now()
	snap, err := src.Load(ctx)
	if err != nil {
		s.setErr(err)
		return fmt.Errorf("refresh: %w", err)
	}
	s.Replace(snap)
	appLog.Info("store refreshed", "events", len(snap.Events), "series", len(snap.Series), "took", time.Since(start).String())
	return nil
}

// Lister is the part of the backend client the store needs.
type Lister interface {
	ListClasses(ctx context.Context, calendarType string) ([]model.Event, error)
}

var _ Lister = (*api.Client)(nil)

// ClassesSource loads classes from the backend. The backend returns
// recurring classes expanded into instances; events that still carry
// recurrence lines are kept as series too.
type ClassesSource struct {
	API          Lister
	CalendarType string
}

func (c ClassesSource) Load(ctx context.Context) (Snapshot, error) {
	events, err := c.API.ListClasses(ctx, c.CalendarType)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	for _, ev := range events {
		ev = model.Normalize(ev)
		if len(ev.Recurrence) > 0 {
			snap.Series = append(snap.Series, ev)
		}
		snap.Events = append(snap.Events, ev)
	}
	return snap, nil
}

// FeedSource loads ICS feeds and expands recurring classes within a window
// around now.
type FeedSource struct {
	Fetcher  *ics.Fetcher
	Feeds    []ics.Feed
	Backfill time.Duration
	Horizon  time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

func (f FeedSource) Load(ctx context.Context) (Snapshot, error) {
	results, errs := f.Fetcher.FetchAll(ctx, f.Feeds)
	if len(results) == 0 && len(errs) > 0 {
		return Snapshot{}, errors.Join(errs...)
	}

	var all []model.Event
	for _, res := range results {
		events, err := ics.Parse(res.Feed, res.Body)
		if err != nil {
			appLog.Error("feed parse failed", err, "feed", res.Feed.ID)
			continue
		}
		all = append(all, events...)
	}

	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	t := now()
	out, err := ics.Expand(all, ics.ExpandConfig{
		RangeStart: t.Add(-f.Backfill),
		RangeEnd:   t.Add(f.Horizon),
	})
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Events: out.Events, Series: out.Series}, nil
}

// MultiSource merges sources. A failing source is logged and skipped; the
// load fails only when every source fails.
type MultiSource []Source

func (m MultiSource) Load(ctx context.Context) (Snapshot, error) {
	var (
		snap Snapshot
		errs []error
	)
	for _, src := range m {
		part, err := src.Load(ctx)
		if err != nil {
			appLog.Error("source load failed", err)
			errs = append(errs, err)
			continue
		}
		snap.Events = append(snap.Events, part.Events...)
		snap.Series = append(snap.Series, part.Series...)
	}
	if len(errs) > 0 && len(errs) == len(m) {
		return Snapshot{}, errors.Join(errs...)
	}
	sort.SliceStable(snap.Events, func(i, j int) bool {
		return snap.Events[i].Start.Time.Before(snap.Events[j].Start.Time)
	})
	return snap, nil
}
