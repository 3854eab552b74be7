// Package respond generates the assistant side of an incident turn.
package respond

import (
	"context"
	"regexp"
	"strings"

	"github.com/lifelinehq/lifeline/internal/models"
)

// Reply is one generated assistant turn.
type Reply struct {
	Text      string
	Urgency   string // NORMAL, URGENT or CRITICAL
	Citations string // comma-separated source references, may be empty
}

// Responder produces a Reply for the worker's latest text given the
// conversation so far.
type Responder interface {
	Respond(ctx context.Context, history []models.Message, userText string) (Reply, error)
}

var (
	urgencyTagRe = regexp.MustCompile(`(?i)\[URGENCY:\s*([A-Z]+)\s*\]`)
	sourcesTagRe = regexp.MustCompile(`(?i)\[SOURCES:\s*([^\]]*)\]`)
)

// ParseTags extracts the urgency and source tags a model appends to its
// reply and strips them from the visible text. Missing or unrecognized
// urgency falls back to NORMAL.
func ParseTags(raw string) Reply {
	reply := Reply{Urgency: models.UrgencyNormal}

	if m := urgencyTagRe.FindStringSubmatch(raw); m != nil {
		level := strings.ToUpper(strings.TrimSpace(m[1]))
		if models.UrgencyRank(level) > 0 {
			reply.Urgency = level
		}
		raw = urgencyTagRe.ReplaceAllString(raw, "")
	}

	if m := sourcesTagRe.FindStringSubmatch(raw); m != nil {
		var sources []string
		for _, s := range strings.Split(m[1], ",") {
			if s = strings.TrimSpace(s); s != "" {
				sources = append(sources, s)
			}
		}
		reply.Citations = strings.Join(sources, ", ")
		raw = sourcesTagRe.ReplaceAllString(raw, "")
	}

	reply.Text = strings.TrimSpace(raw)
	return reply
}
