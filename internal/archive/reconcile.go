package archive

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/lifelinehq/lifeline/internal/models"
)

const (
	defaultReconcileInterval = 5 * time.Minute
	defaultStrandedAfter     = 2 * time.Minute
)

// Reconciler is the safety net behind the archival pipeline. It re-runs the
// archival body for incidents stranded in ENDING (a crash between claim and
// archive) or retired to ENDED without cleanup (a stale row detected on the
// turn path).
type Reconciler struct {
	archiver      *Archiver
	interval      time.Duration
	strandedAfter time.Duration
	out           io.Writer
}

// ReconcilerOpts holds parameters for creating a Reconciler.
type ReconcilerOpts struct {
	Archiver      *Archiver
	Interval      time.Duration // sweep period (default 5m)
	StrandedAfter time.Duration // min quiet time before a row counts as stranded (default 2m)
	Out           io.Writer
}

// NewReconciler creates a Reconciler.
func NewReconciler(opts ReconcilerOpts) (*Reconciler, error) {
	if opts.Archiver == nil {
		return nil, fmt.Errorf("archive: archiver is required")
	}
	r := &Reconciler{
		archiver:      opts.Archiver,
		interval:      opts.Interval,
		strandedAfter: opts.StrandedAfter,
		out:           opts.Out,
	}
	if r.interval <= 0 {
		r.interval = defaultReconcileInterval
	}
	if r.strandedAfter <= 0 {
		r.strandedAfter = defaultStrandedAfter
	}
	if r.out == nil {
		r.out = io.Discard
	}
	return r, nil
}

// Run sweeps until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	fmt.Fprintf(r.out, "Reconciler running (every %s)\n", r.interval)
	for {
		if n, err := r.Sweep(ctx); err != nil {
			log.Printf("archive: reconcile sweep: %v", err)
		} else if n > 0 {
			fmt.Fprintf(r.out, "Reconciled %d stranded incident(s)\n", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.interval):
		}
	}
}

// Sweep runs one reconciliation pass and returns how many stranded incidents
// it re-archived.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := r.archiver.nowFn().Add(-r.strandedAfter)

	var stranded []models.Incident
	if err := r.archiver.local.WithContext(ctx).
		Where("status IN ? AND last_activity_at < ?",
			[]string{models.StatusEnding, models.StatusEnded}, cutoff).
		Find(&stranded).Error; err != nil {
		return 0, fmt.Errorf("find stranded: %w", err)
	}

	n := 0
	for _, inc := range stranded {
		if err := r.archiver.Archive(ctx, inc.ID, ResolutionReconciled); err != nil {
			log.Printf("archive: reconcile %s: %v", inc.ID, err)
			continue
		}
		n++
	}
	return n, nil
}
