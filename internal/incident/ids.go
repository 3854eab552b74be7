package incident

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewIDPair generates a time-ordered incident ID and its sibling
// conversation ID. Both share the same timestamp and suffix so they sort
// together and can be eyeballed as a pair in logs.
func NewIDPair(now time.Time) (incidentID, conversationID string) {
	stamp := now.UTC().Format("20060102150405")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "inc_" + stamp + "_" + suffix, "conv_" + stamp + "_" + suffix
}

// sanitizeChannel strips characters that would make a channel identity
// awkward as part of a derived worker ID.
func sanitizeChannel(channel string) string {
	var b strings.Builder
	for _, r := range channel {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DeriveWorkerID builds the fallback worker ID for an unregistered channel.
func DeriveWorkerID(channel string) string {
	return "worker_" + sanitizeChannel(channel)
}
