package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "schedadmin/internal/log"
)

// Refresher reloads a store on a cron schedule and on demand.
type Refresher struct {
	store   *Store
	source  Source
	timeout time.Duration

	cron *cron.Cron

	// mu serializes refreshes started by cron and by Trigger.
	mu sync.Mutex
}

// NewRefresher validates schedule (standard five-field cron syntax or a
// descriptor like "@every 10m") and prepares a refresher.
func NewRefresher(st *Store, src Source, schedule string, loc *time.Location, timeout time.Duration) (*Refresher, error) {
	if loc == nil {
		loc = time.Local
	}
	r := &Refresher{store: st, source: src, timeout: timeout}
	r.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start performs an initial refresh and starts the schedule. It stops the
// schedule when ctx is done.
func (r *Refresher) Start(ctx context.Context) {
	if err := r.Trigger(ctx); err != nil {
		appLog.Error("initial refresh failed", err)
	}
	r.cron.Start()
	go func() {
		<-ctx.Done()
		<-r.cron.Stop().Done()
		appLog.Info("refresh schedule stopped")
	}()
}

// Trigger refreshes now.
func (r *Refresher) Trigger(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.store.Refresh(ctx, r.source)
}

// Next returns the next scheduled run, zero before Start.
func (r *Refresher) Next() time.Time {
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (r *Refresher) run() {
	if err := r.Trigger(context.Background()); err != nil {
		appLog.Error("scheduled refresh failed", err)
	}
}

// cronLogger routes cron's own messages to the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
