// Package incident owns the authoritative store for active incidents. Every
// write lands here first; the mirror and historical tiers are derived.
package incident

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lifelinehq/lifeline/internal/models"
	"gorm.io/gorm"
)

// ExistenceChecker answers whether an incident is still present in the
// mirror. A nil checker disables the reuse guard (tests, degraded mode).
type ExistenceChecker interface {
	IncidentExists(ctx context.Context, incidentID string) (bool, error)
}

// Store wraps the local authoritative database.
type Store struct {
	db     *gorm.DB
	mirror ExistenceChecker
	nowFn  func() time.Time
}

// NewStore creates a Store over the local database.
func NewStore(db *gorm.DB, mirror ExistenceChecker) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("incident: db is required")
	}
	return &Store{db: db, mirror: mirror, nowFn: time.Now}, nil
}

// SetNowFunc overrides the clock, for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.nowFn = fn
}

// TurnInput is one reporter turn: the worker's text plus the assistant reply
// already generated for it.
type TurnInput struct {
	ChannelIdentity string
	Medium          string
	UserText        string
	AssistantText   string
	Urgency         string
	Citations       string
}

// TurnResult is the authoritative state after a turn has been appended.
type TurnResult struct {
	Incident      models.Incident
	Messages      []models.Message
	NewIncident   bool
	TotalMessages int
}

// UpsertTurn appends a turn to the channel's ACTIVE incident, creating the
// incident first when none exists. The whole operation is one local
// transaction; no network store sits on this path except the mirror
// existence probe that guards against resurrecting an archived incident.
func (s *Store) UpsertTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	if in.ChannelIdentity == "" {
		return nil, fmt.Errorf("incident: channel identity is required: %w", ErrInvalid)
	}
	if in.UserText == "" {
		return nil, fmt.Errorf("incident: user text is required: %w", ErrInvalid)
	}
	medium := in.Medium
	if medium == "" {
		medium = models.MediumText
	}
	if medium != models.MediumVoice && medium != models.MediumText {
		return nil, fmt.Errorf("incident: unknown medium %q: %w", in.Medium, ErrInvalid)
	}
	urgency := in.Urgency
	if urgency == "" {
		urgency = models.UrgencyNormal
	}
	if models.UrgencyRank(urgency) == 0 {
		return nil, fmt.Errorf("incident: unknown urgency %q: %w", in.Urgency, ErrInvalid)
	}

	now := s.nowFn()
	var res TurnResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inc models.Incident
		found := true
		err := tx.Where("channel_identity = ? AND status = ?", in.ChannelIdentity, models.StatusActive).
			First(&inc).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("incident: find active for %s: %w", in.ChannelIdentity, err)
			}
			found = false
		}

		// An ACTIVE row whose mirror entry is gone was archived elsewhere
		// (or its cleanup half-finished). Never append to it; retire it and
		// start fresh. The reconciler collects the leftover row.
		if found && s.mirror != nil {
			exists, probeErr := s.mirror.IncidentExists(ctx, inc.ID)
			if probeErr != nil {
				log.Printf("incident: mirror probe for %s: %v (reusing local row)", inc.ID, probeErr)
			} else if !exists {
				if err := tx.Model(&models.Incident{}).Where("id = ?", inc.ID).
					Update("status", models.StatusEnded).Error; err != nil {
					return fmt.Errorf("incident: retire stale %s: %w", inc.ID, err)
				}
				found = false
			}
		}

		if !found {
			incID, convID := NewIDPair(now)
			inc = models.Incident{
				ID:              incID,
				ChannelIdentity: in.ChannelIdentity,
				WorkerID:        resolveWorkerID(tx, in.ChannelIdentity),
				ConversationID:  convID,
				Urgency:         models.UrgencyNormal,
				Status:          models.StatusActive,
				Medium:          medium,
				CreatedAt:       now,
				LastActivityAt:  now,
			}
			if err := tx.Create(&inc).Error; err != nil {
				return fmt.Errorf("incident: create for %s: %w", in.ChannelIdentity, err)
			}
			res.NewIncident = true
		}

		var maxSeq int
		if err := tx.Model(&models.Message{}).
			Where("conversation_id = ?", inc.ConversationID).
			Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("incident: max seq for %s: %w", inc.ConversationID, err)
		}

		userMsg := models.Message{
			ConversationID: inc.ConversationID,
			Seq:            maxSeq + 1,
			Role:           models.RoleUser,
			Content:        in.UserText,
			CreatedAt:      now,
		}
		if err := tx.Create(&userMsg).Error; err != nil {
			return fmt.Errorf("incident: append user turn: %w", err)
		}
		if in.AssistantText != "" {
			asstMsg := models.Message{
				ConversationID: inc.ConversationID,
				Seq:            maxSeq + 2,
				Role:           models.RoleAssistant,
				Content:        in.AssistantText,
				Citations:      in.Citations,
				CreatedAt:      now,
			}
			if err := tx.Create(&asstMsg).Error; err != nil {
				return fmt.Errorf("incident: append assistant turn: %w", err)
			}
		}

		updates := map[string]interface{}{
			"last_activity_at": now,
			"urgency":          models.MaxUrgency(inc.Urgency, urgency),
		}
		if err := tx.Model(&models.Incident{}).Where("id = ?", inc.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("incident: touch %s: %w", inc.ID, err)
		}
		inc.LastActivityAt = now
		inc.Urgency = models.MaxUrgency(inc.Urgency, urgency)

		var msgs []models.Message
		if err := tx.Where("conversation_id = ?", inc.ConversationID).
			Order("seq ASC").Find(&msgs).Error; err != nil {
			return fmt.Errorf("incident: load conversation %s: %w", inc.ConversationID, err)
		}

		res.Incident = inc
		res.Messages = msgs
		res.TotalMessages = len(msgs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Get returns an incident by ID.
func (s *Store) Get(ctx context.Context, incidentID string) (models.Incident, error) {
	var inc models.Incident
	if err := s.db.WithContext(ctx).First(&inc, "id = ?", incidentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Incident{}, ErrNotFound
		}
		return models.Incident{}, fmt.Errorf("incident: get %s: %w", incidentID, err)
	}
	return inc, nil
}

// ErrNotFound is returned when an incident does not exist in the local store.
var ErrNotFound = errors.New("incident: not found")

// ErrInvalid marks a rejected turn input. Callers can distinguish it from
// a store failure with errors.Is.
var ErrInvalid = errors.New("invalid turn input")

// FindActiveByChannel returns the channel's ACTIVE incident, if any.
func (s *Store) FindActiveByChannel(ctx context.Context, channelIdentity string) (models.Incident, bool, error) {
	var inc models.Incident
	err := s.db.WithContext(ctx).
		Where("channel_identity = ? AND status = ?", channelIdentity, models.StatusActive).
		First(&inc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Incident{}, false, nil
	}
	if err != nil {
		return models.Incident{}, false, fmt.Errorf("incident: find active for %s: %w", channelIdentity, err)
	}
	return inc, true, nil
}

// Conversation returns the ordered message log for a conversation.
func (s *Store) Conversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("incident: load conversation %s: %w", conversationID, err)
	}
	return msgs, nil
}

// ActiveList returns all ACTIVE incidents, most recent activity first.
func (s *Store) ActiveList(ctx context.Context) ([]models.Incident, error) {
	var incs []models.Incident
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusActive).
		Order("last_activity_at DESC").Find(&incs).Error; err != nil {
		return nil, fmt.Errorf("incident: list active: %w", err)
	}
	return incs, nil
}

// Takeover assigns an incident to a supervisor. An incident already owned by
// a different supervisor cannot be taken over.
func (s *Store) Takeover(ctx context.Context, incidentID, supervisorID string) error {
	if supervisorID == "" {
		return fmt.Errorf("incident: supervisor id is required")
	}
	inc, err := s.Get(ctx, incidentID)
	if err != nil {
		return err
	}
	if inc.SupervisorID != "" && inc.SupervisorID != supervisorID {
		return fmt.Errorf("incident: %s already assigned to %s", incidentID, inc.SupervisorID)
	}
	if err := s.db.WithContext(ctx).Model(&models.Incident{}).
		Where("id = ?", incidentID).
		Update("supervisor_id", supervisorID).Error; err != nil {
		return fmt.Errorf("incident: takeover %s: %w", incidentID, err)
	}
	return nil
}

// resolveWorkerID maps a channel identity to a registered worker, deriving a
// synthetic ID for unregistered channels.
func resolveWorkerID(tx *gorm.DB, channelIdentity string) string {
	var w models.Worker
	if err := tx.Where("channel_identity = ?", channelIdentity).First(&w).Error; err == nil {
		return w.ID
	}
	return DeriveWorkerID(channelIdentity)
}
