package sqlite

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// WatchOptions tunes the cross-process change watcher.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before subscribers are
	// notified; more changes during the window reset the timer. 0 fires
	// immediately.
	Debounce time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls PRAGMA data_version to catch writes from other processes
// (another pinlayd instance, the audit tool clearing selectors) and pushes
// the affected pages to this process's subscribers. In-process saves
// notify directly and do not need the watcher.
type Watcher struct {
	store *Store
	opts  WatchOptions

	version atomic.Int64
	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
}

// WatchStats are point-in-time counters.
type WatchStats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
}

// NewWatcher creates a Watcher over the store. Call Run to start polling.
func NewWatcher(store *Store, opts WatchOptions) *Watcher {
	opts.defaults()
	return &Watcher{store: store, opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() WatchStats {
	return WatchStats{
		Checks:  w.checks.Load(),
		Changes: w.changes.Load(),
		Errors:  w.errors.Load(),
	}
}

// Run polls until ctx is cancelled. On each detected change the watcher
// re-reads every subscribed page and notifies its subscribers; pages
// without subscribers cost nothing.
func (w *Watcher) Run(ctx context.Context) {
	log := w.opts.Logger

	if v, err := w.dataVersion(ctx); err != nil {
		log.Warn("sqlite: initial version check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := false

	log.Info("sqlite: watcher started",
		"interval", w.opts.Interval, "debounce", w.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			log.Info("sqlite: watcher stopped")
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.dataVersion(ctx)
			if err != nil {
				w.errors.Add(1)
				log.Warn("sqlite: version check failed", "error", err)
				continue
			}
			if cur == w.version.Load() {
				continue
			}
			w.version.Store(cur)
			w.changes.Add(1)

			if w.opts.Debounce <= 0 {
				w.fire(ctx)
				continue
			}
			pending = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.opts.Debounce)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			if pending {
				pending = false
				w.fire(ctx)
			}
		}
	}
}

func (w *Watcher) fire(ctx context.Context) {
	for _, page := range w.store.subscribedPages() {
		w.store.notifyPage(ctx, page)
	}
}

func (w *Watcher) dataVersion(ctx context.Context) (int64, error) {
	var v int64
	err := w.store.DB.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}
