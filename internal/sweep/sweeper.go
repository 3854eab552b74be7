// Package sweep closes out TEXT incidents that have gone quiet. VOICE
// incidents are never swept; telephony callbacks end those.
package sweep

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/lifelinehq/lifeline/internal/channel"
	"github.com/lifelinehq/lifeline/internal/models"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// Archiver is the end-of-life trigger surface the sweeper fires into.
type Archiver interface {
	EndIncident(incidentID, resolution string) error
}

// Resolutions the sweeper reports. They mirror the archive package values
// without importing it.
const (
	resolutionTimeout = "inactivity-timeout"
	resolutionMaxAge  = "max-age"
)

// Sweeper periodically examines ACTIVE TEXT incidents and warns or ends
// them based on inactivity. The warned set lives here and nowhere else; it
// is rebuilt from scratch after a restart, which at worst repeats a warning.
type Sweeper struct {
	db       *gorm.DB
	archiver Archiver
	notifier channel.Adapter
	every    time.Duration
	warn     time.Duration
	end      time.Duration
	maxAge   time.Duration
	warned   map[string]bool
	nowFn    func() time.Time
	out      io.Writer
}

// Opts holds parameters for creating a Sweeper.
type Opts struct {
	DB       *gorm.DB
	Archiver Archiver
	Notifier channel.Adapter // nil disables warnings
	Every    time.Duration   // sweep period (default 60s)
	Warn     time.Duration   // idle time before a warning (default 120s)
	End      time.Duration   // idle time before ending (default 300s)
	MaxAge   time.Duration   // absolute incident age limit (default 24h)
	Out      io.Writer
}

// New creates a Sweeper.
func New(opts Opts) (*Sweeper, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("sweep: db is required")
	}
	if opts.Archiver == nil {
		return nil, fmt.Errorf("sweep: archiver is required")
	}
	s := &Sweeper{
		db:       opts.DB,
		archiver: opts.Archiver,
		notifier: opts.Notifier,
		every:    opts.Every,
		warn:     opts.Warn,
		end:      opts.End,
		maxAge:   opts.MaxAge,
		warned:   make(map[string]bool),
		nowFn:    time.Now,
		out:      opts.Out,
	}
	if s.every <= 0 {
		s.every = 60 * time.Second
	}
	if s.warn <= 0 {
		s.warn = 120 * time.Second
	}
	if s.end <= 0 {
		s.end = 300 * time.Second
	}
	if s.maxAge <= 0 {
		s.maxAge = 24 * time.Hour
	}
	if s.warn >= s.end {
		return nil, fmt.Errorf("sweep: warn threshold must be below end threshold")
	}
	if s.out == nil {
		s.out = io.Discard
	}
	return s, nil
}

// SetNowFunc overrides the clock, for tests.
func (s *Sweeper) SetNowFunc(fn func() time.Time) {
	s.nowFn = fn
}

// Run schedules sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.every), func() {
		if err := s.Check(ctx); err != nil {
			log.Printf("sweep: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("sweep: schedule: %w", err)
	}

	fmt.Fprintf(s.out, "Inactivity sweep running (every %s, warn %s, end %s, max age %s)\n",
		s.every, s.warn, s.end, s.maxAge)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Check runs one sweep pass over all ACTIVE TEXT incidents.
func (s *Sweeper) Check(ctx context.Context) error {
	now := s.nowFn()

	var incs []models.Incident
	if err := s.db.WithContext(ctx).
		Where("status = ? AND medium = ?", models.StatusActive, models.MediumText).
		Find(&incs).Error; err != nil {
		return fmt.Errorf("list active text incidents: %w", err)
	}

	seen := make(map[string]bool, len(incs))
	for _, inc := range incs {
		seen[inc.ID] = true
		age := now.Sub(inc.CreatedAt)
		idle := now.Sub(inc.LastActivityAt)

		switch {
		case age >= s.maxAge:
			fmt.Fprintf(s.out, "Incident %s exceeded max age (%s) — ending\n", inc.ID, age.Round(time.Second))
			if err := s.archiver.EndIncident(inc.ID, resolutionMaxAge); err != nil {
				log.Printf("sweep: end %s: %v", inc.ID, err)
			}
			delete(s.warned, inc.ID)

		case idle >= s.end:
			fmt.Fprintf(s.out, "Incident %s idle %s — ending\n", inc.ID, idle.Round(time.Second))
			if err := s.archiver.EndIncident(inc.ID, resolutionTimeout); err != nil {
				log.Printf("sweep: end %s: %v", inc.ID, err)
			}
			delete(s.warned, inc.ID)

		case idle >= s.warn:
			if s.warned[inc.ID] {
				continue
			}
			s.warned[inc.ID] = true
			s.sendWarning(ctx, inc, idle)

		default:
			// Activity since the last look resets the warning.
			delete(s.warned, inc.ID)
		}
	}

	// Drop warned entries for incidents that ended through other triggers.
	for id := range s.warned {
		if !seen[id] {
			delete(s.warned, id)
		}
	}
	return nil
}

// sendWarning delivers the inactivity warning. Delivery is best-effort; a
// failed send still counts as warned so quiet channels aren't spammed.
func (s *Sweeper) sendWarning(ctx context.Context, inc models.Incident, idle time.Duration) {
	remaining := s.end - idle
	text := fmt.Sprintf("Are you still there? This report will close after %s more of inactivity.",
		remaining.Round(time.Second))

	fmt.Fprintf(s.out, "Incident %s idle %s — warning\n", inc.ID, idle.Round(time.Second))
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, inc.ChannelIdentity, text); err != nil {
		log.Printf("sweep: warn %s: %v", inc.ID, err)
	}
}

// WarnedCount returns the size of the warned set, for observability.
func (s *Sweeper) WarnedCount() int {
	return len(s.warned)
}
