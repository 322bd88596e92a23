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

// SlackProvider posts messages via the Slack chat.postMessage-style API.
// Slack reports errors in-band with ok=false and an error token, so most
// failures come back classifiable rather than as HTTP errors.
type SlackProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	botToken   string
}

func NewSlackProvider(logger *slog.Logger, apiURL, botToken string, httpClient *http.Client) *SlackProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackProvider{
		logger:     logger.With("provider", "slack"),
		httpClient: httpClient,
		apiURL:     apiURL,
		botToken:   botToken,
	}
}

type slackPostRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type slackPostResponse struct {
	OK    bool   `json:"ok"`
	TS    string `json:"ts,omitempty"`
	Error string `json:"error,omitempty"`
}

// slackFatalTokens maps Slack error tokens onto the classifier's code set.
var slackFatalTokens = map[string]string{
	"channel_not_found": "not_found",
	"user_not_found":    "not_found",
	"invalid_auth":      "unauthorized",
	"account_inactive":  "unauthorized",
	"not_in_channel":    "invalid_recipient",
	"is_archived":       "invalid_recipient",
	"msg_too_long":      "invalid_payload",
}

func (p *SlackProvider) Name() string { return "slack-api" }

func slackTarget(r domain.Recipient) string {
	if r.Slack == nil {
		return ""
	}
	switch {
	case r.Slack.UserID != "":
		return r.Slack.UserID
	case r.Slack.ChannelID != "":
		return r.Slack.ChannelID
	case r.Slack.ChannelName != "":
		return "#" + r.Slack.ChannelName
	case r.Slack.Email != "":
		// Email lookup requires an extra users.lookupByEmail round-trip;
		// passed through as-is and resolved vendor-side.
		return r.Slack.Email
	}
	return ""
}

func (p *SlackProvider) Validate(env *domain.Envelope) error {
	if p.apiURL == "" || p.botToken == "" {
		return errors.New("slack provider is not configured (api url/token missing)")
	}
	for _, r := range env.Recipients {
		if slackTarget(r) != "" {
			return nil
		}
	}
	return errors.New("envelope has no recipient with a slack identifier")
}

func (p *SlackProvider) Prepare(env *domain.Envelope) (*PreparedMessage, error) {
	var targets []string
	for _, r := range env.Recipients {
		if t := slackTarget(r); t != "" {
			targets = append(targets, t)
		}
	}
	if len(targets) == 0 {
		return nil, errors.New("no eligible slack recipients after filtering")
	}
	text := env.Payload.Text
	if env.Payload.Title != "" {
		text = "*" + env.Payload.Title + "*\n" + text
	}
	return &PreparedMessage{
		Channel: domain.ChannelSlack,
		Data:    &slackPrepared{Targets: targets, Text: text},
	}, nil
}

type slackPrepared struct {
	Targets []string
	Text    string
}

func (p *SlackProvider) Send(ctx context.Context, prep *PreparedMessage) (*Response, error) {
	prepared, ok := prep.Data.(*slackPrepared)
	if !ok {
		return nil, fmt.Errorf("unexpected prepared data type %T for slack provider", prep.Data)
	}

	posted := make([]string, 0, len(prepared.Targets))
	for _, target := range prepared.Targets {
		reqBytes, err := json.Marshal(&slackPostRequest{Channel: target, Text: prepared.Text})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal slack request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewBuffer(reqBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to create slack HTTP request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.botToken)

		httpResp, err := p.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("slack request failed: %w", err)
		}
		body, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read slack response: %w", err)
		}

		var slackResp slackPostResponse
		if err := json.Unmarshal(body, &slackResp); err != nil {
			return nil, fmt.Errorf("failed to decode slack response (status %d): %w", httpResp.StatusCode, err)
		}
		if !slackResp.OK {
			code, fatal := slackFatalTokens[slackResp.Error]
			if !fatal {
				code = slackResp.Error
			}
			p.logger.WarnContext(ctx, "slack rejected post", "target", target, "error", slackResp.Error)
			return &Response{
				Success: false,
				Error: &Error{
					Code:    code,
					Message: "slack error: " + slackResp.Error,
					Details: map[string]any{"target": target, "slack_error": slackResp.Error},
				},
			}, nil
		}
		posted = append(posted, slackResp.TS)
	}

	p.logger.InfoContext(ctx, "slack messages posted", "count", len(posted))
	resp := &Response{Success: true, Data: map[string]any{"posted": len(posted)}}
	if len(posted) > 0 {
		resp.ExternalID = posted[0]
	}
	return resp, nil
}

func (p *SlackProvider) MapEvents(resp *Response, messageID string) []domain.Event {
	return mapResponseEvents(domain.ChannelSlack, p.Name(), resp, messageID)
}
