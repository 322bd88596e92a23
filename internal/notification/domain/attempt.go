package domain

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// AttemptStatus defines the lifecycle state of a single delivery attempt.
type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "pending"
	AttemptStatusStarted   AttemptStatus = "started"
	AttemptStatusSucceeded AttemptStatus = "succeeded"
	AttemptStatusFailed    AttemptStatus = "failed"
)

// Value implements the driver.Valuer interface for AttemptStatus.
func (as AttemptStatus) Value() (driver.Value, error) {
	return string(as), nil
}

// Scan implements the sql.Scanner interface for AttemptStatus.
func (as *AttemptStatus) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan AttemptStatus: value is not string or []byte, it is %T", value)
		}
		strVal = string(bytesVal)
	}
	*as = AttemptStatus(strVal)
	switch *as {
	case AttemptStatusPending, AttemptStatusStarted, AttemptStatusSucceeded, AttemptStatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown AttemptStatus value: %s", strVal)
	}
}

// Attempt records one execution of delivering a message via one channel.
// Queue redelivery legitimately produces multiple attempts for the same
// (message, channel) pair; the aggregate status formula accounts for all of
// them. An attempt is never mutated after FinishedAt is set.
type Attempt struct {
	ID         string        `json:"id"`
	MessageID  string        `json:"message_id"`
	Channel    Channel       `json:"channel"`
	Provider   string        `json:"provider"`
	Status     AttemptStatus `json:"status"`
	Error      *string       `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}
