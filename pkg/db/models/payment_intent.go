package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mvrodrig/tillsync/pkg/enums"
)

// ConflictDetail captures why the remote ledger flagged a resubmission as a
// duplicate. Present only while the intent status is conflict.
type ConflictDetail struct {
	Type       enums.ConflictType `json:"type"`
	Message    string             `json:"message"`
	DetectedAt time.Time          `json:"detected_at"`
	SaleID     string             `json:"sale_id,omitempty"`
	ReceiptNo  string             `json:"receipt_no,omitempty"`
}

// PaymentIntent is a locally queued payment awaiting confirmation by the
// remote ledger. A confirmed intent is deleted, never kept as "succeeded".
type PaymentIntent struct {
	ID            uuid.UUID          `gorm:"column:id;type:text;primaryKey"`
	TerminalID    string             `gorm:"column:terminal_id;not null"`
	Payload       json.RawMessage    `gorm:"column:payload;not null"`
	Status        enums.IntentStatus `gorm:"column:status;not null;default:'pending'"`
	RetryCount    int                `gorm:"column:retry_count;not null;default:0"`
	LastAttemptAt *time.Time         `gorm:"column:last_attempt_at"`
	NextRetryAt   *time.Time         `gorm:"column:next_retry_at"`
	LastError     *string            `gorm:"column:last_error"`
	Conflict      *ConflictDetail    `gorm:"column:conflict;serializer:json"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the payment queue table.
func (PaymentIntent) TableName() string {
	return "payment_intents"
}
