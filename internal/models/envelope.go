package models

import "time"

// Envelope is one published poll envelope, kept so that peers joining later
// can replay it.
type Envelope struct {
	ID          int64     `gorm:"primaryKey;autoIncrement;index:idx_envelopes_topic_id,priority:2" json:"id"`
	Topic       string    `gorm:"size:190;not null;index:idx_envelopes_topic_id,priority:1" json:"topic"`
	Payload     []byte    `gorm:"type:bytea;not null" json:"payload"`
	Fingerprint string    `gorm:"size:16;not null;index" json:"fingerprint"` // xxhash64 of payload, hex
	SentAt      int64     `gorm:"column:sent_at;not null" json:"sent_at"`     // unix nanoseconds
	CreatedAt   time.Time `json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Envelope) TableName() string {
	return "wapoll_envelopes"
}
