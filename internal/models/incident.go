package models

import "time"

// Incident statuses. An incident is ACTIVE while the conversation is live,
// ENDING once an end-of-life trigger has claimed it, and ENDED after the
// archival body has run (the row is normally gone by then).
const (
	StatusActive = "ACTIVE"
	StatusEnding = "ENDING"
	StatusEnded  = "ENDED"
)

// Incident media.
const (
	MediumVoice = "VOICE"
	MediumText  = "TEXT"
)

// Urgency levels, ordered. Urgency only ever rises over an incident's life.
const (
	UrgencyNormal   = "NORMAL"
	UrgencyUrgent   = "URGENT"
	UrgencyCritical = "CRITICAL"
)

// Incident is a live report from a frontline worker. At most one ACTIVE
// incident exists per channel identity at any time.
type Incident struct {
	ID              string `gorm:"primaryKey;size:64"`
	ChannelIdentity string `gorm:"size:128;not null;index"`
	WorkerID        string `gorm:"size:64;index"`
	ConversationID  string `gorm:"size:64;uniqueIndex"`
	Urgency         string `gorm:"size:16;default:NORMAL"`
	Status          string `gorm:"size:16;default:ACTIVE;index"`
	Medium          string `gorm:"size:8;default:TEXT"`
	SupervisorID    string `gorm:"size:64"`
	CreatedAt       time.Time
	LastActivityAt  time.Time
}

// Message is one turn entry in an incident's conversation. Seq is 1-based,
// strictly increasing and gap-free within a conversation.
type Message struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	ConversationID string `gorm:"size:64;not null;index"`
	Seq            int    `gorm:"not null"`
	Role           string `gorm:"size:16;not null"`
	Content        string `gorm:"type:text"`
	Citations      string `gorm:"type:text"`
	CreatedAt      time.Time
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// UrgencyRank maps an urgency level to its order for raise-only comparison.
// Unknown levels rank below NORMAL.
func UrgencyRank(u string) int {
	switch u {
	case UrgencyNormal:
		return 1
	case UrgencyUrgent:
		return 2
	case UrgencyCritical:
		return 3
	}
	return 0
}

// MaxUrgency returns the higher-ranked of two urgency levels.
func MaxUrgency(a, b string) string {
	if UrgencyRank(b) > UrgencyRank(a) {
		return b
	}
	return a
}
