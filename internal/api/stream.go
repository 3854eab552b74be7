package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lifelinehq/lifeline/internal/incident"
	"github.com/lifelinehq/lifeline/internal/models"
)

const (
	streamPollInterval      = 1 * time.Second
	streamHeartbeatInterval = 30 * time.Second
)

// streamMessage is the wire shape of one message in the stream.
type streamMessage struct {
	Seq       int    `json:"seq"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Citations string `json:"citations,omitempty"`
}

func toStreamMessages(msgs []models.Message) []streamMessage {
	out := make([]streamMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, streamMessage{
			Seq:       m.Seq,
			Role:      m.Role,
			Content:   m.Content,
			Citations: m.Citations,
		})
	}
	return out
}

// handleStream serves a live view of one conversation over SSE. Every
// read comes from the mirror, never from the local store, so any
// number of viewers can watch without touching the reply path. The
// poll diffs on message seq; a mirror entry disappearing means the
// incident was archived.
func (s *server) handleStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()

	// Failures after this point are reported in-band as SSE error
	// events: the stream content type is already committed.
	inc, err := s.incidents.Get(ctx, c.Param("id"))
	if err != nil {
		msg := "internal error"
		if errors.Is(err, incident.ErrNotFound) {
			msg = "incident not found"
		}
		writeSSE(c.Writer, "error", gin.H{"message": msg})
		c.Writer.Flush()
		return
	}
	if !canView(s.db, currentSupervisor(c), inc) {
		writeSSE(c.Writer, "error", gin.H{"message": "not authorized for this incident"})
		c.Writer.Flush()
		return
	}

	mirrored, found, err := s.mirror.GetIncident(ctx, inc.ID)
	if err != nil {
		writeSSE(c.Writer, "error", gin.H{"message": "mirror unavailable"})
		c.Writer.Flush()
		return
	}
	if !found {
		// Archived between the access check and here.
		writeSSE(c.Writer, "ended", gin.H{"incident_id": inc.ID})
		c.Writer.Flush()
		return
	}

	msgs, _, err := s.mirror.GetConversation(ctx, mirrored.ConversationID)
	if err != nil {
		writeSSE(c.Writer, "error", gin.H{"message": "mirror unavailable"})
		c.Writer.Flush()
		return
	}

	lastSeen := 0
	if len(msgs) > 0 {
		lastSeen = msgs[len(msgs)-1].Seq
	}

	writeSSE(c.Writer, "initial", gin.H{
		"incident":       toIncidentView(mirrored),
		"messages":       toStreamMessages(msgs),
		"total_messages": len(msgs),
	})
	c.Writer.Flush()

	ticker := time.NewTicker(streamPollInterval)
	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer ticker.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", gin.H{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case <-ticker.C:
			_, found, err := s.mirror.GetIncident(ctx, inc.ID)
			if err != nil {
				writeSSE(c.Writer, "error", gin.H{"message": "mirror unavailable"})
				c.Writer.Flush()
				return
			}
			if !found {
				writeSSE(c.Writer, "ended", gin.H{"incident_id": inc.ID})
				c.Writer.Flush()
				return
			}

			msgs, _, err := s.mirror.GetConversation(ctx, mirrored.ConversationID)
			if err != nil {
				writeSSE(c.Writer, "error", gin.H{"message": "mirror unavailable"})
				c.Writer.Flush()
				return
			}

			var fresh []models.Message
			for _, m := range msgs {
				if m.Seq > lastSeen {
					fresh = append(fresh, m)
				}
			}
			if len(fresh) == 0 {
				continue
			}
			lastSeen = fresh[len(fresh)-1].Seq

			writeSSE(c.Writer, "new_messages", gin.H{
				"messages":       toStreamMessages(fresh),
				"total_messages": len(msgs),
			})
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
