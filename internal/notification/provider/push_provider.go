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

// PushProvider sends mobile push notifications through an HTTP vendor API
// that accepts a batch of device targets.
type PushProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	apiKey     string
}

func NewPushProvider(logger *slog.Logger, apiURL, apiKey string, httpClient *http.Client) *PushProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &PushProvider{
		logger:     logger.With("provider", "push"),
		httpClient: httpClient,
		apiURL:     apiURL,
		apiKey:     apiKey,
	}
}

type pushTarget struct {
	EndpointARN string `json:"endpoint_arn,omitempty"`
	DeviceToken string `json:"device_token,omitempty"`
	Platform    string `json:"platform,omitempty"`
}

type pushSendRequest struct {
	Targets   []pushTarget `json:"targets"`
	Title     string       `json:"title,omitempty"`
	Body      string       `json:"body"`
	ClientRef string       `json:"client_ref,omitempty"`
}

type pushSendResponse struct {
	BatchID string `json:"batch_id"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (p *PushProvider) Name() string { return "push-http" }

func (p *PushProvider) Validate(env *domain.Envelope) error {
	if p.apiURL == "" || p.apiKey == "" {
		return errors.New("push provider is not configured (api url/key missing)")
	}
	for _, r := range env.Recipients {
		if r.Push != nil && (r.Push.EndpointARN != "" || r.Push.DeviceToken != "") {
			return nil
		}
	}
	return errors.New("envelope has no recipient with a push target")
}

func (p *PushProvider) Prepare(env *domain.Envelope) (*PreparedMessage, error) {
	var targets []pushTarget
	for _, r := range env.Recipients {
		if r.Push == nil {
			continue
		}
		if r.Push.EndpointARN == "" && r.Push.DeviceToken == "" {
			continue
		}
		targets = append(targets, pushTarget{
			EndpointARN: r.Push.EndpointARN,
			DeviceToken: r.Push.DeviceToken,
			Platform:    r.Push.Platform,
		})
	}
	if len(targets) == 0 {
		return nil, errors.New("no eligible push recipients after filtering")
	}
	return &PreparedMessage{
		Channel: domain.ChannelPush,
		Data: &pushSendRequest{
			Targets: targets,
			Title:   env.Payload.Title,
			Body:    env.Payload.Text,
		},
	}, nil
}

func (p *PushProvider) Send(ctx context.Context, prep *PreparedMessage) (*Response, error) {
	reqBody, ok := prep.Data.(*pushSendRequest)
	if !ok {
		return nil, fmt.Errorf("unexpected prepared data type %T for push provider", prep.Data)
	}
	reqBody.ClientRef = prep.AttemptID

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewBuffer(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create push HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("push vendor request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read push vendor response: %w", err)
	}

	var vendorResp pushSendResponse
	if err := json.Unmarshal(body, &vendorResp); err != nil {
		return nil, fmt.Errorf("failed to decode push vendor response (status %d): %w", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode >= 400 {
		code := vendorResp.Code
		if code == "" {
			code = "vendor_error"
		}
		msg := vendorResp.Message
		if msg == "" {
			msg = fmt.Sprintf("push vendor returned status %d", httpResp.StatusCode)
		}
		p.logger.WarnContext(ctx, "push vendor rejected send", "status", httpResp.StatusCode, "code", code)
		return &Response{
			Success: false,
			Error:   &Error{Code: code, Message: msg, HTTPStatus: httpResp.StatusCode},
		}, nil
	}

	data := map[string]any{"sent": vendorResp.Sent}
	if vendorResp.Failed > 0 {
		data["failed"] = vendorResp.Failed
	}
	p.logger.InfoContext(ctx, "push batch submitted to vendor",
		"external_id", vendorResp.BatchID, "sent", vendorResp.Sent, "failed", vendorResp.Failed)
	return &Response{Success: true, Data: data, ExternalID: vendorResp.BatchID}, nil
}

func (p *PushProvider) MapEvents(resp *Response, messageID string) []domain.Event {
	return mapResponseEvents(domain.ChannelPush, p.Name(), resp, messageID)
}
