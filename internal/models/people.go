package models

import "time"

// Worker is a frontline reporter, identified by the channel they report from
// (a phone number for VOICE, a chat handle for TEXT).
type Worker struct {
	ID              string `gorm:"primaryKey;size:64"`
	ChannelIdentity string `gorm:"size:128;uniqueIndex"`
	Name            string `gorm:"size:128"`
	Org             string `gorm:"size:64;index"`
	Active          bool   `gorm:"default:true"`
	CreatedAt       time.Time
}

// Supervisor is a monitoring user. The bearer token is their API credential.
type Supervisor struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128"`
	Org       string `gorm:"size:64;index"`
	Token     string `gorm:"size:128;uniqueIndex"`
	CreatedAt time.Time
}
