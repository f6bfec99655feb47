package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Syncer is the part of Tracker the worker drives.
type Syncer interface {
	Stats(ctx context.Context) (Stats, error)
	Sync(ctx context.Context) (SyncReport, error)
}

// SyncWorker periodically pushes records that are not yet in the workspace,
// for example ones recorded before Notion was configured.
type SyncWorker struct {
	tracker Syncer
	every   time.Duration
	logger  *slog.Logger
}

// NewSyncWorker returns a worker running every interval.
// If interval is <= 0, it defaults to 5 minutes.
func NewSyncWorker(t Syncer, interval time.Duration) *SyncWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SyncWorker{tracker: t, every: interval, logger: slog.Default()}
}

// Run syncs once immediately and then on every tick until ctx is cancelled.
func (w *SyncWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()
	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("background sync failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce syncs if anything is pending. It returns the number of companies
// pushed.
func (w *SyncWorker) RunOnce(ctx context.Context) (int, error) {
	st, err := w.tracker.Stats(ctx)
	if err != nil {
		return 0, err
	}
	if st.Unsynced == 0 {
		return 0, nil
	}
	rep, err := w.tracker.Sync(ctx)
	if len(rep.Pushed) > 0 {
		w.logger.Info("background sync pushed records", "companies", rep.Pushed)
	}
	return len(rep.Pushed), err
}
