package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusProcessed OutboxStatus = "PROCESSED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

// Ledger event types written to the outbox.
const (
	EventBatchRegistered   = "ledger.batch_registered"
	EventStockDeducted     = "ledger.stock_deducted"
	EventBatchExpired      = "ledger.batch_expired"
	EventDispenseCompleted = "ledger.dispense_completed"
	EventRecordRecovered   = "ledger.record_recovered"
)

// OutboxEvent is a ledger event staged for publication. Rows are written in
// the same flow as the mutation they describe and published asynchronously by
// the outbox processor.
type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
}
