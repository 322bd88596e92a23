package domain

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// MessageStatus defines the aggregate delivery state of a message.
type MessageStatus string

const (
	MessageStatusPending            MessageStatus = "pending"
	MessageStatusQueued             MessageStatus = "queued"
	MessageStatusProcessing         MessageStatus = "processing"
	MessageStatusDelivered          MessageStatus = "delivered"
	MessageStatusFailed             MessageStatus = "failed"
	MessageStatusPartiallyDelivered MessageStatus = "partially_delivered"
)

// Value implements the driver.Valuer interface for MessageStatus.
func (ms MessageStatus) Value() (driver.Value, error) {
	return string(ms), nil
}

// Scan implements the sql.Scanner interface for MessageStatus.
func (ms *MessageStatus) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan MessageStatus: value is not string or []byte, it is %T", value)
		}
		strVal = string(bytesVal)
	}
	*ms = MessageStatus(strVal)
	switch *ms {
	case MessageStatusPending, MessageStatusQueued, MessageStatusProcessing,
		MessageStatusDelivered, MessageStatusFailed, MessageStatusPartiallyDelivered:
		return nil
	default:
		return fmt.Errorf("unknown MessageStatus value: %s", strVal)
	}
}

// Message is the durable, idempotency-keyed record of an accepted envelope.
// The pair (ProjectID, IdempotencyKey) is unique; a second intake with the
// same pair resolves to the existing row.
type Message struct {
	ID             string        `json:"id"`
	ProjectID      string        `json:"project_id"`
	IdempotencyKey string        `json:"idempotency_key"`
	Envelope       Envelope      `json:"envelope"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// MessageDetail is a message joined with its full audit trail.
type MessageDetail struct {
	Message  *Message  `json:"message"`
	Attempts []Attempt `json:"attempts"`
	Events   []Event   `json:"events"`
}

// Job is the queue payload for one (message, channel) delivery unit. The
// envelope itself stays in the database; the worker reads it back by id so the
// queue carries no payload data and the store stays authoritative.
type Job struct {
	MessageID string  `json:"message_id"`
	Channel   Channel `json:"channel"`
}
