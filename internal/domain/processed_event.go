package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessedEvent marks a gateway webhook event as handled so redeliveries are ignored.
type ProcessedEvent struct {
	EventID       string     `gorm:"primaryKey;size:255" json:"eventId"`
	Type          string     `gorm:"size:100;not null" json:"type"`
	TransactionID *uuid.UUID `gorm:"type:uuid;index" json:"transactionId,omitempty"`
	ProcessedAt   time.Time  `gorm:"not null" json:"processedAt"`
}

func (ProcessedEvent) TableName() string {
	return "processed_webhook_events"
}
