package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/notisend/gateway/internal/notification/domain"
)

// MockProvider is a configurable test implementation of Provider. It is also
// usable for local runs where no real vendor is configured.
type MockProvider struct {
	logger  *slog.Logger
	channel domain.Channel

	FailSend       bool          // return Success=false from Send
	FailCode       string        // error code used when FailSend is set
	SendErr        error         // returned from Send as an unexpected error
	ValidateErr    error         // returned from Validate
	SimulatedDelay time.Duration // simulates network latency
}

// NewMockProvider creates a mock adapter for the given channel.
func NewMockProvider(logger *slog.Logger, channel domain.Channel) *MockProvider {
	return &MockProvider{
		logger:  logger.With("provider", "mock"),
		channel: channel,
	}
}

func (p *MockProvider) Name() string { return "mock-" + string(p.channel) }

func (p *MockProvider) Validate(env *domain.Envelope) error {
	if p.ValidateErr != nil {
		return p.ValidateErr
	}
	if len(env.Recipients) == 0 {
		return errors.New("envelope has no recipients")
	}
	return nil
}

func (p *MockProvider) Prepare(env *domain.Envelope) (*PreparedMessage, error) {
	return &PreparedMessage{
		Channel: p.channel,
		Data:    map[string]any{"text": env.Payload.Text, "recipients": len(env.Recipients)},
	}, nil
}

func (p *MockProvider) Send(ctx context.Context, prep *PreparedMessage) (*Response, error) {
	if p.SimulatedDelay > 0 {
		select {
		case <-time.After(p.SimulatedDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.SendErr != nil {
		return nil, p.SendErr
	}
	if p.FailSend {
		code := p.FailCode
		if code == "" {
			code = "mock_failure"
		}
		p.logger.WarnContext(ctx, "mock provider simulating send failure", "code", code)
		return &Response{
			Success: false,
			Error:   &Error{Code: code, Message: fmt.Sprintf("mock provider simulated failure (%s)", code)},
		}, nil
	}
	externalID := "mock-" + uuid.NewString()
	p.logger.InfoContext(ctx, "mock provider send succeeded", "external_id", externalID, "attempt_id", prep.AttemptID)
	return &Response{Success: true, Data: map[string]any{"simulated": true}, ExternalID: externalID}, nil
}

func (p *MockProvider) MapEvents(resp *Response, messageID string) []domain.Event {
	return mapResponseEvents(p.channel, p.Name(), resp, messageID)
}
