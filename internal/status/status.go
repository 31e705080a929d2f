// Package status shows the latest human-readable progress message in a
// single overlay element and mirrors every message to the log.
package status

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"extendvps/internal/page"
	"extendvps/internal/waiter"
)

// ElementID is the id of the overlay element.
const ElementID = "vps-renewal-progress"

// Reporter owns the overlay. The element is created by the first message and
// replaced in place afterwards.
type Reporter struct {
	overlay page.Overlay
	waiter  *waiter.Waiter
	logger  *zap.Logger

	mu      sync.Mutex
	last    string
	visible bool
}

func New(overlay page.Overlay, w *waiter.Waiter, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if w == nil {
		w = waiter.New(logger)
	}
	return &Reporter{overlay: overlay, waiter: w, logger: logger.Named("status")}
}

// Update replaces the overlay text.
func (r *Reporter) Update(ctx context.Context, msg string) {
	r.logger.Info(msg)
	r.show(ctx, msg)
}

// Warn shows a message that needs the user's attention.
func (r *Reporter) Warn(ctx context.Context, msg string) {
	r.logger.Warn(msg)
	r.show(ctx, msg)
}

// Fail shows msg and logs the underlying error.
func (r *Reporter) Fail(ctx context.Context, msg string, err error) {
	r.logger.Error(msg, zap.Error(err))
	r.show(ctx, msg)
}

func (r *Reporter) show(ctx context.Context, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = msg
	if err := r.overlay.ShowOverlay(ctx, ElementID, msg); err != nil {
		r.logger.Debug("overlay update failed", zap.Error(err))
		return
	}
	r.visible = true
}

// Remove deletes the overlay element if it was created.
func (r *Reporter) Remove(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.visible {
		return
	}
	if err := r.overlay.RemoveOverlay(ctx, ElementID); err != nil {
		r.logger.Debug("overlay removal failed", zap.Error(err))
		return
	}
	r.visible = false
}

// RemoveAfter waits d and then removes the overlay. It returns early, leaving
// the overlay in place, if ctx ends.
func (r *Reporter) RemoveAfter(ctx context.Context, d time.Duration) error {
	if err := r.waiter.Delay(ctx, d); err != nil {
		return err
	}
	r.Remove(ctx)
	return nil
}

// Last returns the most recent message, shown or not.
func (r *Reporter) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
