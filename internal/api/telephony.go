package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lifelinehq/lifeline/internal/archive"
)

// terminalCallStatuses maps provider call-status values to archive
// resolutions. Non-terminal statuses (ringing, in-progress, ...) are
// acknowledged and ignored.
var terminalCallStatuses = map[string]string{
	"completed": archive.ResolutionCompleted,
	"failed":    archive.ResolutionFailed,
	"busy":      archive.ResolutionBusy,
	"no-answer": archive.ResolutionNoAnswer,
}

// handleCallStatus receives the telephony provider's form-encoded
// status callback and ends the channel's incident when the call has
// reached a terminal state.
func (s *server) handleCallStatus(c *gin.Context) {
	channelIdentity := c.PostForm("channel_identity")
	if channelIdentity == "" {
		channelIdentity = c.PostForm("From")
	}
	status := c.PostForm("CallStatus")

	if channelIdentity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel_identity is required"})
		return
	}

	resolution, terminal := terminalCallStatuses[status]
	if !terminal {
		c.Status(http.StatusNoContent)
		return
	}

	inc, ok, err := s.incidents.FindActiveByChannel(c.Request.Context(), channelIdentity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		// Either never started or already ended by another trigger.
		c.Status(http.StatusNoContent)
		return
	}

	if err := s.archiver.EndIncident(inc.ID, resolution); err != nil {
		log.Printf("api: call-status end failed for %s: %v", inc.ID, err)
	}
	c.Status(http.StatusNoContent)
}

// handleHangup receives the explicit hangup signal. The incident is
// ended after a short grace delay so a status callback racing in
// behind the hangup still finds consistent state; whichever trigger
// claims the incident first wins.
func (s *server) handleHangup(c *gin.Context) {
	channelIdentity := c.PostForm("channel_identity")
	if channelIdentity == "" {
		channelIdentity = c.PostForm("From")
	}
	if channelIdentity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel_identity is required"})
		return
	}

	inc, ok, err := s.incidents.FindActiveByChannel(c.Request.Context(), channelIdentity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}

	id := inc.ID
	time.AfterFunc(s.hangupGrace, func() {
		if err := s.archiver.EndIncident(id, archive.ResolutionHangup); err != nil {
			log.Printf("api: hangup end failed for %s: %v", id, err)
		}
	})

	c.JSON(http.StatusOK, gin.H{"goodbye": "Thank you. Your report has been recorded. Stay safe."})
}
