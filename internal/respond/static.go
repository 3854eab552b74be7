package respond

import (
	"context"

	"github.com/lifelinehq/lifeline/internal/models"
)

// StaticResponder returns a fixed acknowledgement. It keeps the reply path
// alive when no model is configured or the provider is down.
type StaticResponder struct {
	Text string
}

// Respond returns the configured text, or a generic acknowledgement.
func (s *StaticResponder) Respond(ctx context.Context, history []models.Message, userText string) (Reply, error) {
	text := s.Text
	if text == "" {
		text = "Your report has been received. A supervisor has been notified and will follow up."
	}
	return Reply{Text: text, Urgency: models.UrgencyNormal}, nil
}
