package depot

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically reclaims expired upload sessions from a Sweeper.
type Reaper struct {
	store    Sweeper
	interval time.Duration

	// now is replaceable so expiry behavior can be tested.
	now func() time.Time
}

// NewReaper returns a reaper that sweeps store every interval.
func NewReaper(store Sweeper, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Reaper{store: store, interval: interval, now: time.Now}
}

// Sweep runs one reclamation pass immediately.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	reaped, err := r.store.Sweep(ctx, r.now())
	if err != nil {
		return reaped, err
	}
	if reaped > 0 {
		uploadsReaped.Add(float64(reaped))
		slog.Info("Reaped expired uploads", "count", reaped)
	}
	return reaped, nil
}

// Run sweeps on the reaper's interval until ctx is canceled. Sweep
// failures are logged and the loop keeps going; a transient database
// error must not stop reclamation for good.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				slog.Error("Reaper sweep failed", "err", err)
			}
		}
	}
}
