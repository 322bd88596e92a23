package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/notisend/gateway/internal/notification/domain"
)

// EmailProvider sends bulk email through an HTTP vendor API.
type EmailProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	apiKey     string
	sender     string
}

// NewEmailProvider creates an email adapter. sender is the default from
// address used when the envelope carries no sender email.
func NewEmailProvider(logger *slog.Logger, apiURL, apiKey, sender string, httpClient *http.Client) *EmailProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &EmailProvider{
		logger:     logger.With("provider", "email"),
		httpClient: httpClient,
		apiURL:     apiURL,
		apiKey:     apiKey,
		sender:     sender,
	}
}

// emailSendRequest is the vendor wire format for a bulk send.
type emailSendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject,omitempty"`
	Text    string   `json:"text"`
	HTML    string   `json:"html,omitempty"`
}

type emailSendResponse struct {
	MessageID        string   `json:"message_id"`
	Accepted         int      `json:"accepted"`
	FailedRecipients []string `json:"failed_recipients,omitempty"`
	ErrorCode        string   `json:"error_code,omitempty"`
	ErrorMessage     string   `json:"error_message,omitempty"`
}

func (p *EmailProvider) Name() string { return "email-http" }

func (p *EmailProvider) Validate(env *domain.Envelope) error {
	if p.apiURL == "" || p.apiKey == "" {
		return errors.New("email provider is not configured (api url/key missing)")
	}
	for _, r := range env.Recipients {
		if r.Email != "" {
			return nil
		}
	}
	return errors.New("envelope has no recipient with an email address")
}

func (p *EmailProvider) Prepare(env *domain.Envelope) (*PreparedMessage, error) {
	var to []string
	for _, r := range env.Recipients {
		if r.Email != "" {
			to = append(to, r.Email)
		}
	}
	if len(to) == 0 {
		return nil, errors.New("no eligible email recipients after filtering")
	}
	from := p.sender
	if env.Sender != nil && env.Sender.Email != "" {
		from = env.Sender.Email
		if env.Sender.Name != "" {
			from = fmt.Sprintf("%s <%s>", env.Sender.Name, env.Sender.Email)
		}
	}
	return &PreparedMessage{
		Channel: domain.ChannelEmail,
		Data: &emailSendRequest{
			From:    from,
			To:      to,
			Subject: env.Payload.Title,
			Text:    env.Payload.Text,
			HTML:    env.Payload.HTML,
		},
	}, nil
}

func (p *EmailProvider) Send(ctx context.Context, prep *PreparedMessage) (*Response, error) {
	reqBody, ok := prep.Data.(*emailSendRequest)
	if !ok {
		return nil, fmt.Errorf("unexpected prepared data type %T for email provider", prep.Data)
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal email send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewBuffer(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create email HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	// Vendor-side dedup on queue redelivery.
	httpReq.Header.Set("Idempotency-Key", prep.AttemptID)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("email vendor request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read email vendor response: %w", err)
	}

	var vendorResp emailSendResponse
	if err := json.Unmarshal(body, &vendorResp); err != nil {
		return nil, fmt.Errorf("failed to decode email vendor response (status %d): %w", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode >= 400 {
		code := vendorResp.ErrorCode
		if code == "" {
			code = "vendor_error"
		}
		msg := vendorResp.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("email vendor returned status %d", httpResp.StatusCode)
		}
		p.logger.WarnContext(ctx, "email vendor rejected send", "status", httpResp.StatusCode, "code", code)
		return &Response{
			Success: false,
			Error:   &Error{Code: code, Message: msg, HTTPStatus: httpResp.StatusCode},
		}, nil
	}

	// Partial failures stay a successful attempt; the failed recipients are
	// recorded in the attempt payload.
	data := map[string]any{"accepted": vendorResp.Accepted}
	if len(vendorResp.FailedRecipients) > 0 {
		data["failed_recipients"] = vendorResp.FailedRecipients
		data["failed"] = len(vendorResp.FailedRecipients)
	}
	p.logger.InfoContext(ctx, "email submitted to vendor",
		"external_id", vendorResp.MessageID, "accepted", vendorResp.Accepted,
		"failed", len(vendorResp.FailedRecipients))
	return &Response{Success: true, Data: data, ExternalID: vendorResp.MessageID}, nil
}

func (p *EmailProvider) MapEvents(resp *Response, messageID string) []domain.Event {
	return mapResponseEvents(domain.ChannelEmail, p.Name(), resp, messageID)
}
