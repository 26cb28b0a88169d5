package overlay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pinlay/pinlay/geom"
)

// FrameSource measures the host page geometry: scroll offsets, the scoped
// container's document offset, and the visible dimensions. Correctness
// depends on measuring at use-time — implementations must not cache layout
// from mount-time.
type FrameSource interface {
	Frame(ctx context.Context) (geom.Frame, error)
}

// FrameFunc adapts a function to FrameSource.
type FrameFunc func(ctx context.Context) (geom.Frame, error)

// Frame implements FrameSource.
func (f FrameFunc) Frame(ctx context.Context) (geom.Frame, error) { return f(ctx) }

// StaticFrame returns a FrameSource that always reports f. Useful in tests
// and for embedders that push frames into the engine themselves.
func StaticFrame(f geom.Frame) FrameSource {
	return FrameFunc(func(context.Context) (geom.Frame, error) { return f, nil })
}

// Refresher polls a FrameSource and pushes fresh frames into a callback,
// standing in for the resize/scroll/mutation observers a browser shell
// would wire. It also drives the engine's periodic tick (gesture expiry,
// drop-grace pruning).
type Refresher struct {
	src      FrameSource
	interval time.Duration
	onFrame  func(geom.Frame)
	onTick   func()
	logger   *slog.Logger

	polls  atomic.Int64
	errors atomic.Int64
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithRefreshInterval sets the poll interval. Default: 100ms.
func WithRefreshInterval(d time.Duration) RefresherOption {
	return func(r *Refresher) { r.interval = d }
}

// WithRefreshLogger sets a custom logger.
func WithRefreshLogger(l *slog.Logger) RefresherOption {
	return func(r *Refresher) { r.logger = l }
}

// WithTick registers a callback invoked once per poll after the frame
// update.
func WithTick(fn func()) RefresherOption {
	return func(r *Refresher) { r.onTick = fn }
}

// NewRefresher creates a Refresher delivering frames to onFrame.
func NewRefresher(src FrameSource, onFrame func(geom.Frame), opts ...RefresherOption) *Refresher {
	r := &Refresher{
		src:      src,
		interval: 100 * time.Millisecond,
		onFrame:  onFrame,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run polls until ctx is cancelled. Measurement errors are logged and
// skipped; the last good frame stays in effect.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.polls.Add(1)
			f, err := r.src.Frame(ctx)
			if err != nil {
				r.errors.Add(1)
				r.logger.Warn("overlay: frame measurement failed", "error", err)
			} else {
				r.onFrame(f)
			}
			if r.onTick != nil {
				r.onTick()
			}
		}
	}
}

// Stats are point-in-time poll counters.
type Stats struct {
	Polls  int64 `json:"polls"`
	Errors int64 `json:"errors"`
}

// Stats returns the refresher's counters.
func (r *Refresher) Stats() Stats {
	return Stats{Polls: r.polls.Load(), Errors: r.errors.Load()}
}
