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

// SMSProvider sends SMS through an HTTP vendor API.
type SMSProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	apiKey     string
	senderID   string
}

func NewSMSProvider(logger *slog.Logger, apiURL, apiKey, senderID string, httpClient *http.Client) *SMSProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SMSProvider{
		logger:     logger.With("provider", "sms"),
		httpClient: httpClient,
		apiURL:     apiURL,
		apiKey:     apiKey,
		senderID:   senderID,
	}
}

// smsSendRequest is the vendor wire format. Vendors in this class accept a
// batch of recipients for one message body.
type smsSendRequest struct {
	Sender     string   `json:"sender"`
	Body       string   `json:"body"`
	Recipients []string `json:"recipients"`
	ClientRef  string   `json:"client_ref,omitempty"`
}

type smsSendResponse struct {
	ID      string `json:"id"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Failed  int    `json:"failed,omitempty"`
}

func (p *SMSProvider) Name() string { return "sms-http" }

func (p *SMSProvider) Validate(env *domain.Envelope) error {
	if p.apiURL == "" || p.apiKey == "" {
		return errors.New("sms provider is not configured (api url/key missing)")
	}
	for _, r := range env.Recipients {
		if r.SMS != nil && r.SMS.PhoneNumber != "" {
			return nil
		}
	}
	return errors.New("envelope has no recipient with an sms phone number")
}

func (p *SMSProvider) Prepare(env *domain.Envelope) (*PreparedMessage, error) {
	var recipients []string
	for _, r := range env.Recipients {
		if r.SMS != nil && r.SMS.PhoneNumber != "" {
			recipients = append(recipients, r.SMS.PhoneNumber)
		}
	}
	if len(recipients) == 0 {
		return nil, errors.New("no eligible sms recipients after filtering")
	}
	// SMS has no markup; title is prepended when present.
	body := env.Payload.Text
	if env.Payload.Title != "" {
		body = env.Payload.Title + "\n" + body
	}
	return &PreparedMessage{
		Channel: domain.ChannelSMS,
		Data: &smsSendRequest{
			Sender:     p.senderID,
			Body:       body,
			Recipients: recipients,
		},
	}, nil
}

func (p *SMSProvider) Send(ctx context.Context, prep *PreparedMessage) (*Response, error) {
	reqBody, ok := prep.Data.(*smsSendRequest)
	if !ok {
		return nil, fmt.Errorf("unexpected prepared data type %T for sms provider", prep.Data)
	}
	reqBody.ClientRef = prep.AttemptID

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sms send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewBuffer(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create sms HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sms vendor request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read sms vendor response: %w", err)
	}

	var vendorResp smsSendResponse
	if err := json.Unmarshal(body, &vendorResp); err != nil {
		return nil, fmt.Errorf("failed to decode sms vendor response (status %d): %w", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode >= 400 {
		code := vendorResp.Code
		if code == "" {
			code = "vendor_error"
		}
		msg := vendorResp.Message
		if msg == "" {
			msg = fmt.Sprintf("sms vendor returned status %d", httpResp.StatusCode)
		}
		p.logger.WarnContext(ctx, "sms vendor rejected send", "status", httpResp.StatusCode, "code", code)
		return &Response{
			Success: false,
			Error:   &Error{Code: code, Message: msg, HTTPStatus: httpResp.StatusCode},
		}, nil
	}

	data := map[string]any{"recipients": len(reqBody.Recipients)}
	if vendorResp.Failed > 0 {
		data["failed"] = vendorResp.Failed
	}
	p.logger.InfoContext(ctx, "sms submitted to vendor", "external_id", vendorResp.ID, "recipients", len(reqBody.Recipients))
	return &Response{Success: true, Data: data, ExternalID: vendorResp.ID}, nil
}

func (p *SMSProvider) MapEvents(resp *Response, messageID string) []domain.Event {
	return mapResponseEvents(domain.ChannelSMS, p.Name(), resp, messageID)
}
