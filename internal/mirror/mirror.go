// Package mirror maintains a best-effort, low-latency copy of active
// incidents in Redis. The mirror is disposable: it is rebuilt from the
// authoritative store on every turn and never read back for writes.
package mirror

import (
	"context"

	"github.com/lifelinehq/lifeline/internal/models"
)

// Store is the mirror read/write interface. Implementations must treat
// writes as full-document replacements.
type Store interface {
	// PutIncident replaces the mirrored incident document.
	PutIncident(ctx context.Context, inc models.Incident) error

	// PutConversation replaces the mirrored ordered message log.
	PutConversation(ctx context.Context, conversationID string, msgs []models.Message) error

	// GetIncident returns the mirrored incident document. Returns ok=false
	// when no entry exists.
	GetIncident(ctx context.Context, incidentID string) (models.Incident, bool, error)

	// GetConversation returns the mirrored ordered message log. A missing
	// entry returns an empty slice with ok=false.
	GetConversation(ctx context.Context, conversationID string) ([]models.Message, bool, error)

	// IncidentExists reports whether the incident is present in the mirror.
	IncidentExists(ctx context.Context, incidentID string) (bool, error)

	// Delete removes both mirror entries for an incident.
	Delete(ctx context.Context, incidentID, conversationID string) error
}

// incidentKey and conversationKey build the mirror key layout.
func incidentKey(incidentID string) string {
	return "active:incident:" + incidentID
}

func conversationKey(conversationID string) string {
	return "active:conversation:" + conversationID
}
