package domain

import (
	"encoding/json"
	"time"
)

// EventType enumerates the facts recorded in a message's audit trail.
type EventType string

const (
	EventMessageAccepted  EventType = "message.accepted"
	EventMessageQueued    EventType = "message.queued"
	EventAttemptStarted   EventType = "attempt.started"
	EventAttemptSucceeded EventType = "attempt.succeeded"
	EventAttemptFailed    EventType = "attempt.failed"
	EventMessageDelivered EventType = "message.delivered"
	EventMessageFailed    EventType = "message.failed"
)

// Event is an immutable, timestamped fact in a message's history. Events are
// append-only and ordered by CreatedAt.
type Event struct {
	ID        string          `json:"id"`
	MessageID string          `json:"message_id"`
	Type      EventType       `json:"type"`
	Channel   *Channel        `json:"channel,omitempty"`
	Provider  *string         `json:"provider,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewMessageEvent builds a message-level event (accepted, queued, delivered, failed).
func NewMessageEvent(messageID string, t EventType) Event {
	return Event{MessageID: messageID, Type: t}
}

// NewAttemptEvent builds an attempt-level event carrying channel and provider.
func NewAttemptEvent(messageID string, t EventType, channel Channel, provider string, payload json.RawMessage) Event {
	return Event{
		MessageID: messageID,
		Type:      t,
		Channel:   &channel,
		Provider:  &provider,
		Payload:   payload,
	}
}
