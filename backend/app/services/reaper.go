package services

import (
	"context"
	"time"

	"chunk-relay/backend/app/session"
	"chunk-relay/backend/global"
	"chunk-relay/transfer"
)

const timeoutMessage = "Session timed out due to inactivity"

// Reaper evicts sessions that stopped receiving chunks.
type Reaper struct {
	store     *session.Store
	reporter  *ResultReporter
	interval  time.Duration
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewReaper builds a reaper. retention bounds how long evicted or finished
// session ids are remembered.
func NewReaper(store *session.Store, reporter *ResultReporter, interval, timeout, retention time.Duration) *Reaper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Reaper{
		store:     store,
		reporter:  reporter,
		interval:  interval,
		timeout:   timeout,
		retention: retention,
		now:       time.Now,
	}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one eviction pass and returns the number of sessions evicted.
func (r *Reaper) Sweep(ctx context.Context) int {
	now := r.now()
	evicted := r.store.EvictStale(now.Add(-r.timeout), now)
	for _, info := range evicted {
		global.Logger.Warn().
			Str("session", info.ID).
			Str("file", info.FileName).
			Int("received", info.Received).
			Int("total", info.TotalChunks).
			Time("last_activity", info.LastActivity).
			Msg("session timed out")
		r.reporter.Report(ctx, transfer.ResultRecord{
			SessionID: info.ID,
			FileName:  info.FileName,
			Status:    transfer.StatusFailed,
			Message:   timeoutMessage,
		})
	}
	pruned := r.store.PruneFinalized(now.Add(-r.retention))
	global.Logger.Info().
		Int("evicted", len(evicted)).
		Int("pruned", pruned).
		Int("active", r.store.Len()).
		Msg("reaper sweep")
	return len(evicted)
}
