package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lifelinehq/lifeline/internal/archive"
	"github.com/lifelinehq/lifeline/internal/incident"
	"github.com/lifelinehq/lifeline/internal/models"
)

// incidentView is the supervisor-facing shape of an incident.
type incidentView struct {
	ID              string `json:"id"`
	ChannelIdentity string `json:"channel_identity"`
	WorkerID        string `json:"worker_id"`
	ConversationID  string `json:"conversation_id"`
	Urgency         string `json:"urgency"`
	Status          string `json:"status"`
	Medium          string `json:"medium"`
	SupervisorID    string `json:"supervisor_id,omitempty"`
	CreatedAt       string `json:"created_at"`
	LastActivityAt  string `json:"last_activity_at"`
}

func toIncidentView(inc models.Incident) incidentView {
	return incidentView{
		ID:              inc.ID,
		ChannelIdentity: inc.ChannelIdentity,
		WorkerID:        inc.WorkerID,
		ConversationID:  inc.ConversationID,
		Urgency:         inc.Urgency,
		Status:          inc.Status,
		Medium:          inc.Medium,
		SupervisorID:    inc.SupervisorID,
		CreatedAt:       inc.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		LastActivityAt:  inc.LastActivityAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// handleListIncidents returns the active incidents the calling
// supervisor is allowed to see, most recently active first.
func (s *server) handleListIncidents(c *gin.Context) {
	sup := currentSupervisor(c)

	all, err := s.incidents.ActiveList(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]incidentView, 0, len(all))
	for _, inc := range all {
		if canView(s.db, sup, inc) {
			views = append(views, toIncidentView(inc))
		}
	}
	c.JSON(http.StatusOK, gin.H{"incidents": views, "count": len(views)})
}

// messageView is the supervisor-facing shape of a message.
type messageView struct {
	Seq       int    `json:"seq"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Citations string `json:"citations,omitempty"`
	CreatedAt string `json:"created_at"`
}

// handleConversation returns a point-in-time snapshot of an incident
// and its full message log, read from the local store.
func (s *server) handleConversation(c *gin.Context) {
	inc, ok := s.loadVisibleIncident(c)
	if !ok {
		return
	}

	msgs, err := s.incidents.Conversation(c.Request.Context(), inc.ConversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, messageView{
			Seq:       m.Seq,
			Role:      m.Role,
			Content:   m.Content,
			Citations: m.Citations,
			CreatedAt: m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"incident":       toIncidentView(inc),
		"messages":       views,
		"total_messages": len(views),
	})
}

// handleEndIncident lets a supervisor close an incident manually.
func (s *server) handleEndIncident(c *gin.Context) {
	inc, ok := s.loadVisibleIncident(c)
	if !ok {
		return
	}

	if err := s.archiver.EndIncident(inc.ID, archive.ResolutionManual); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended", "incident_id": inc.ID})
}

// handleTakeover assigns the incident to the calling supervisor.
func (s *server) handleTakeover(c *gin.Context) {
	sup := currentSupervisor(c)
	inc, ok := s.loadVisibleIncident(c)
	if !ok {
		return
	}

	if err := s.incidents.Takeover(c.Request.Context(), inc.ID, sup.ID); err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "already assigned") {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "assigned", "incident_id": inc.ID, "supervisor_id": sup.ID})
}

// loadVisibleIncident resolves the :id param against the local store
// and enforces the access rule. It writes the error response itself
// and returns ok=false when the caller should stop.
func (s *server) loadVisibleIncident(c *gin.Context) (models.Incident, bool) {
	id := c.Param("id")
	inc, err := s.incidents.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return models.Incident{}, false
	}

	if !canView(s.db, currentSupervisor(c), inc) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this incident"})
		return models.Incident{}, false
	}
	return inc, true
}
