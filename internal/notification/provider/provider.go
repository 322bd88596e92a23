// Package provider defines the channel adapter contract the delivery pipeline
// depends on, plus the concrete vendor adapters. The pipeline only ever sees
// this interface; vendor details stay inside each adapter.
package provider

import (
	"context"
	"encoding/json"

	"github.com/notisend/gateway/internal/notification/domain"
)

// PreparedMessage carries channel-specific send parameters produced by Prepare.
// AttemptID is filled in by the job processor before Send so vendors that
// support idempotency keys can deduplicate redelivered jobs server-side.
type PreparedMessage struct {
	Channel   domain.Channel
	AttemptID string
	Data      any
}

// Error is an expected, classifiable provider failure.
type Error struct {
	Code       string         `json:"code,omitempty"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"http_status,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Response is the outcome of a provider Send call.
//
// Convention: failures the vendor reports in-band (rejected recipient, invalid
// number, 4xx) are returned as Success=false with Error set and never as a Go
// error. Only unexpected failures (network drop, serialization bug) surface as
// an error from Send, to be handled by the processor's outer boundary.
//
// Bulk channels model partial delivery as Success=true with failed-recipient
// detail in Data; partial failure inside one attempt is payload detail, not a
// distinct attempt status.
type Response struct {
	Success    bool           `json:"success"`
	Data       map[string]any `json:"data,omitempty"`
	Error      *Error         `json:"error,omitempty"`
	ExternalID string         `json:"external_id,omitempty"`
}

// Provider is the capability contract every channel adapter implements.
type Provider interface {
	// Name identifies the concrete adapter, recorded on each attempt.
	Name() string
	// Validate fails if the envelope cannot possibly be handled by this
	// channel: no recipient with the required identifier, or missing channel
	// configuration. Called before an attempt is created.
	Validate(env *domain.Envelope) error
	// Prepare is a pure transform producing channel-specific send parameters.
	// It fails if no eligible recipients remain after filtering.
	Prepare(env *domain.Envelope) (*PreparedMessage, error)
	// Send performs the network call. See Response for the error convention.
	Send(ctx context.Context, prep *PreparedMessage) (*Response, error)
	// MapEvents deterministically translates a response into attempt events.
	MapEvents(resp *Response, messageID string) []domain.Event
}

// mapResponseEvents is the shared MapEvents implementation: one
// attempt.succeeded or attempt.failed event carrying the provider payload.
func mapResponseEvents(channel domain.Channel, providerName string, resp *Response, messageID string) []domain.Event {
	if resp.Success {
		payload, _ := json.Marshal(map[string]any{
			"data":        resp.Data,
			"external_id": resp.ExternalID,
		})
		return []domain.Event{
			domain.NewAttemptEvent(messageID, domain.EventAttemptSucceeded, channel, providerName, payload),
		}
	}
	payload, _ := json.Marshal(map[string]any{"error": resp.Error})
	return []domain.Event{
		domain.NewAttemptEvent(messageID, domain.EventAttemptFailed, channel, providerName, payload),
	}
}
