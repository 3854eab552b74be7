package models

import "time"

// HistoricalIncident is the durable, write-once record of an incident after
// archival. Rows are only ever inserted by the archival pipeline.
type HistoricalIncident struct {
	ID              string `gorm:"primaryKey;size:64"`
	ChannelIdentity string `gorm:"size:128;index"`
	WorkerID        string `gorm:"size:64;index"`
	ConversationID  string `gorm:"size:64;uniqueIndex"`
	Urgency         string `gorm:"size:16"`
	Medium          string `gorm:"size:8"`
	SupervisorID    string `gorm:"size:64"`
	FinalResolution string `gorm:"size:64"`
	CreatedAt       time.Time
	ResolvedAt      time.Time
	DurationSeconds int
	ArchivedAt      time.Time
}

// HistoricalMessage is one archived conversation turn entry.
type HistoricalMessage struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	ConversationID string `gorm:"size:64;not null;index"`
	Seq            int    `gorm:"not null"`
	Role           string `gorm:"size:16;not null"`
	Content        string `gorm:"type:text"`
	Citations      string `gorm:"type:text"`
	CreatedAt      time.Time
}
