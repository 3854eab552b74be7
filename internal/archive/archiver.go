// Package archive moves ended incidents from the active tier to the durable
// historical store, exactly once, and clears their mirror entries.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lifelinehq/lifeline/internal/mirror"
	"github.com/lifelinehq/lifeline/internal/models"
	"github.com/lifelinehq/lifeline/internal/work"
	"gorm.io/gorm"
)

// Final resolutions recorded on the historical record.
const (
	ResolutionCompleted = "completed"
	ResolutionFailed    = "failed"
	ResolutionBusy      = "busy"
	ResolutionNoAnswer  = "no-answer"
	ResolutionHangup    = "hangup"
	ResolutionTimeout   = "inactivity-timeout"
	ResolutionMaxLength = "max-length"
	ResolutionMaxAge    = "max-age"
	ResolutionManual    = "manual"
	// ResolutionReconciled marks records recovered by the safety-net sweep,
	// where the original trigger's resolution is no longer known.
	ResolutionReconciled = "reconciled"
)

const archiveTimeout = 30 * time.Second

// Archiver owns the end-of-life transition and the archival body.
type Archiver struct {
	local   *gorm.DB
	history *gorm.DB
	mirror  mirror.Store
	pool    *work.Pool
	nowFn   func() time.Time
}

// Opts holds parameters for creating an Archiver.
type Opts struct {
	Local   *gorm.DB
	History *gorm.DB
	Mirror  mirror.Store
	Pool    *work.Pool
}

// New creates an Archiver.
func New(opts Opts) (*Archiver, error) {
	if opts.Local == nil {
		return nil, fmt.Errorf("archive: local db is required")
	}
	if opts.History == nil {
		return nil, fmt.Errorf("archive: history db is required")
	}
	if opts.Mirror == nil {
		return nil, fmt.Errorf("archive: mirror store is required")
	}
	if opts.Pool == nil {
		return nil, fmt.Errorf("archive: worker pool is required")
	}
	return &Archiver{
		local:   opts.Local,
		history: opts.History,
		mirror:  opts.Mirror,
		pool:    opts.Pool,
		nowFn:   time.Now,
	}, nil
}

// SetNowFunc overrides the clock, for tests.
func (a *Archiver) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}

// EndIncident claims an incident's end of life and schedules the archival
// body in the background. Multiple triggers race here freely: the single
// ACTIVE -> ENDING status swap picks exactly one winner, every loser is a
// silent no-op.
func (a *Archiver) EndIncident(incidentID, resolution string) error {
	if incidentID == "" {
		return fmt.Errorf("archive: incident id is required")
	}

	res := a.local.Model(&models.Incident{}).
		Where("id = ? AND status = ?", incidentID, models.StatusActive).
		Update("status", models.StatusEnding)
	if res.Error != nil {
		return fmt.Errorf("archive: claim %s: %w", incidentID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Already claimed, already archived, or never existed.
		return nil
	}

	if !a.pool.Submit(func() { a.runArchive(incidentID, resolution) }) {
		// Pool saturated; pay the latency here rather than strand the row.
		log.Printf("archive: pool full, archiving %s inline", incidentID)
		a.runArchive(incidentID, resolution)
	}
	return nil
}

// runArchive executes the archival body with its own timeout and error
// boundary. Failures before the historical write revert the incident to
// ACTIVE so a later trigger retries.
func (a *Archiver) runArchive(incidentID, resolution string) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	if err := a.Archive(ctx, incidentID, resolution); err != nil {
		log.Printf("archive: %s: %v", incidentID, err)
	}
}

// Archive performs the archival body for an incident that has been claimed
// (or left stranded mid-claim). It is idempotent: a historical record that
// already exists is never written twice, and cleanup of the active and
// mirror tiers is retried on every call.
func (a *Archiver) Archive(ctx context.Context, incidentID, resolution string) error {
	var inc models.Incident
	if err := a.local.WithContext(ctx).First(&inc, "id = ?", incidentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Row already cleaned up; nothing left to do.
			return nil
		}
		return fmt.Errorf("load %s: %w", incidentID, err)
	}

	var msgs []models.Message
	if err := a.local.WithContext(ctx).
		Where("conversation_id = ?", inc.ConversationID).
		Order("seq ASC").Find(&msgs).Error; err != nil {
		return fmt.Errorf("load conversation %s: %w", inc.ConversationID, err)
	}

	var existing int64
	if err := a.history.WithContext(ctx).Model(&models.HistoricalIncident{}).
		Where("id = ?", incidentID).Count(&existing).Error; err != nil {
		a.revertToActive(incidentID)
		return fmt.Errorf("history existence check %s: %w", incidentID, err)
	}

	if existing == 0 {
		resolvedAt := a.nowFn()
		record := models.HistoricalIncident{
			ID:              inc.ID,
			ChannelIdentity: inc.ChannelIdentity,
			WorkerID:        inc.WorkerID,
			ConversationID:  inc.ConversationID,
			Urgency:         inc.Urgency,
			Medium:          inc.Medium,
			SupervisorID:    inc.SupervisorID,
			FinalResolution: resolution,
			CreatedAt:       inc.CreatedAt,
			ResolvedAt:      resolvedAt,
			DurationSeconds: int(resolvedAt.Sub(inc.CreatedAt).Round(time.Second).Seconds()),
			ArchivedAt:      resolvedAt,
		}

		err := a.history.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			for _, m := range msgs {
				hm := models.HistoricalMessage{
					ConversationID: m.ConversationID,
					Seq:            m.Seq,
					Role:           m.Role,
					Content:        m.Content,
					Citations:      m.Citations,
					CreatedAt:      m.CreatedAt,
				}
				if err := tx.Create(&hm).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			a.revertToActive(incidentID)
			return fmt.Errorf("history write %s: %w", incidentID, err)
		}
	}

	// From here the historical record is durable. Cleanup failures are
	// logged and left for the reconciler; they must not undo the claim.
	if err := a.mirror.Delete(ctx, inc.ID, inc.ConversationID); err != nil {
		log.Printf("archive: mirror cleanup %s: %v", inc.ID, err)
	}

	if err := a.local.WithContext(ctx).
		Where("conversation_id = ?", inc.ConversationID).
		Delete(&models.Message{}).Error; err != nil {
		log.Printf("archive: local message cleanup %s: %v", inc.ConversationID, err)
	}
	if err := a.local.WithContext(ctx).
		Where("id = ?", inc.ID).
		Delete(&models.Incident{}).Error; err != nil {
		log.Printf("archive: local incident cleanup %s: %v", inc.ID, err)
	}
	return nil
}

// revertToActive undoes a claim whose archival body could not reach the
// historical store, so a later trigger can retry end-to-end.
func (a *Archiver) revertToActive(incidentID string) {
	if err := a.local.Model(&models.Incident{}).
		Where("id = ? AND status = ?", incidentID, models.StatusEnding).
		Update("status", models.StatusActive).Error; err != nil {
		log.Printf("archive: revert %s to ACTIVE: %v", incidentID, err)
	}
}
