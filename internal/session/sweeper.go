package session

import (
	"context"
	"log"
	"time"
)

// Sweeper is the background task that closes overdue sessions and drives
// token rotation for the ones still Active. It talks to the engine only
// through the same transition and rotation contracts the request paths use,
// so Tick can be driven directly in tests.
type Sweeper struct {
	mgr      *Manager
	store    Store
	rotate   func(ctx context.Context, sessionID string) error
	interval time.Duration
}

// NewSweeper creates a sweeper. rotate may be nil when token rotation is
// handled elsewhere.
func NewSweeper(mgr *Manager, store Store, rotate func(ctx context.Context, sessionID string) error, interval time.Duration) *Sweeper {
	return &Sweeper{mgr: mgr, store: store, rotate: rotate, interval: interval}
}

// Run ticks until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Tick performs one sweep pass: time-driven closes first, then rotation for
// the sessions that remain Active.
func (w *Sweeper) Tick(ctx context.Context) {
	if _, err := w.mgr.CloseDue(ctx); err != nil {
		log.Printf("sweep close failed: %v", err)
	}
	if w.rotate == nil {
		return
	}
	active, err := w.store.ListActive(ctx)
	if err != nil {
		log.Printf("sweep list active failed: %v", err)
		return
	}
	for _, s := range active {
		if err := w.rotate(ctx, s.ID); err != nil {
			log.Printf("token rotation failed for session %s: %v", s.ID, err)
		}
	}
}
