package session

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"golang.org/x/time/rate"
)

// Refresher re-validates a session. [Manager] implements it.
type Refresher interface {
	Refresh(ctx context.Context) (models.Session, error)
}

// FocusWatcher turns window-focus and visibility events into session re-checks.
// A burst of events costs at most one check per interval.
type FocusWatcher struct {
	refresher Refresher
	limiter   *rate.Limiter
	logger    *log.Logger
}

// NewFocusWatcher creates a watcher allowing one refresh per interval. A non-positive interval
// refreshes on every event.
func NewFocusWatcher(r Refresher, interval time.Duration, logger *log.Logger) *FocusWatcher {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &FocusWatcher{
		refresher: r,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    shared.WithLogger(logger, "component", "focus"),
	}
}

// Notify handles one focus event. It reports whether a refresh was run.
func (w *FocusWatcher) Notify(ctx context.Context) bool {
	if !w.limiter.Allow() {
		w.logger.Debug("focus refresh throttled")
		return false
	}
	if _, err := w.refresher.Refresh(ctx); err != nil {
		w.logger.Warn("focus refresh failed", "err", err)
	}
	return true
}

// Run handles events until ctx ends or events is closed.
func (w *FocusWatcher) Run(ctx context.Context, events <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				return nil
			}
			w.Notify(ctx)
		}
	}
}
