package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lifelinehq/lifeline/internal/archive"
	"github.com/lifelinehq/lifeline/internal/incident"
	"github.com/lifelinehq/lifeline/internal/models"
	"github.com/lifelinehq/lifeline/internal/respond"
)

const goodbyeText = "This report has reached its length limit and is now closed. Start a new message to open a fresh report."

// turnRequest is the intake payload for a worker turn.
type turnRequest struct {
	ChannelIdentity string `json:"channel_identity" binding:"required"`
	Medium          string `json:"medium"`
	Text            string `json:"text" binding:"required"`
}

// turnResponse is what the channel integration relays back to the worker.
type turnResponse struct {
	IncidentID     string `json:"incident_id"`
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
	Urgency        string `json:"urgency"`
	NewIncident    bool   `json:"new_incident"`
	Ended          bool   `json:"ended"`
}

// handleTurn runs the full reply path: generate an assistant reply
// against the prior history, append both messages in one local
// transaction, hand the snapshot to the replicator, and close the
// incident when it hits the length cap. Only the local store sits
// between request and response.
func (s *server) handleTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Medium == "" {
		req.Medium = models.MediumText
	}

	ctx := c.Request.Context()

	// History for the responder comes from the channel's current
	// incident, if any. A missing or errored lookup just means the
	// responder sees an empty history.
	var history []models.Message
	if active, ok, err := s.incidents.FindActiveByChannel(ctx, req.ChannelIdentity); err == nil && ok {
		history, _ = s.incidents.Conversation(ctx, active.ConversationID)
	}

	reply, err := s.responder.Respond(ctx, history, req.Text)
	if err != nil {
		log.Printf("api: responder failed for %s: %v", req.ChannelIdentity, err)
		reply = respond.Reply{
			Text:    "Your report has been received. A supervisor has been notified and will follow up.",
			Urgency: models.UrgencyNormal,
		}
	}

	result, err := s.incidents.UpsertTurn(ctx, incident.TurnInput{
		ChannelIdentity: req.ChannelIdentity,
		Medium:          req.Medium,
		UserText:        req.Text,
		AssistantText:   reply.Text,
		Urgency:         reply.Urgency,
		Citations:       reply.Citations,
	})
	if err != nil {
		if errors.Is(err, incident.ErrInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Printf("api: upsert turn for %s: %v", req.ChannelIdentity, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if s.replicator != nil {
		s.replicator.Enqueue(result.Incident, result.Messages)
	}

	resp := turnResponse{
		IncidentID:     result.Incident.ID,
		ConversationID: result.Incident.ConversationID,
		Reply:          reply.Text,
		Urgency:        result.Incident.Urgency,
		NewIncident:    result.NewIncident,
	}

	if result.TotalMessages >= s.maxTurns {
		if err := s.archiver.EndIncident(result.Incident.ID, archive.ResolutionMaxLength); err != nil {
			log.Printf("api: length-cap end failed for %s: %v", result.Incident.ID, err)
		}
		resp.Reply = resp.Reply + "\n\n" + goodbyeText
		resp.Ended = true
	}

	c.JSON(http.StatusOK, resp)
}
