package domain

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Channel is a delivery medium a message can be sent through.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelSlack    Channel = "slack"
	ChannelPush     Channel = "push"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelWeb      Channel = "web"
)

// KnownChannel reports whether c is one of the supported delivery channels.
func KnownChannel(c Channel) bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelSlack, ChannelPush, ChannelWhatsApp, ChannelWeb:
		return true
	}
	return false
}

// Sender identifies who a notification is from.
type Sender struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// SlackRecipient addresses a Slack user or channel. Exactly one identifier is
// required; precedence when several are set is UserID, ChannelID, ChannelName, Email.
type SlackRecipient struct {
	UserID      string `json:"user_id,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
	ChannelName string `json:"channel_name,omitempty"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
}

// SMSRecipient addresses a phone number for SMS delivery.
type SMSRecipient struct {
	PhoneNumber string `json:"phone_number" validate:"required,e164"`
}

// WhatsAppRecipient addresses a phone number for WhatsApp delivery.
type WhatsAppRecipient struct {
	PhoneNumber string `json:"phone_number" validate:"required,e164"`
}

// PushRecipient addresses a mobile push target, either an endpoint ARN or a
// raw device token plus platform.
type PushRecipient struct {
	EndpointARN string `json:"endpoint_arn,omitempty"`
	DeviceToken string `json:"device_token,omitempty"`
	Platform    string `json:"platform,omitempty" validate:"omitempty,oneof=ios android web"`
}

// WebPushKeys holds the browser subscription encryption keys.
type WebPushKeys struct {
	P256DH string `json:"p256dh" validate:"required"`
	Auth   string `json:"auth" validate:"required"`
}

// WebRecipient addresses a web push subscription.
type WebRecipient struct {
	Endpoint string      `json:"endpoint" validate:"required,url"`
	Keys     WebPushKeys `json:"keys"`
}

// Recipient is a union of channel-specific identifiers. A recipient may carry
// identifiers for several channels at once; each provider filters to the ones
// it can address.
type Recipient struct {
	Email    string             `json:"email,omitempty" validate:"omitempty,email"`
	Slack    *SlackRecipient    `json:"slack,omitempty"`
	SMS      *SMSRecipient      `json:"sms,omitempty"`
	WhatsApp *WhatsAppRecipient `json:"whatsapp,omitempty"`
	Push     *PushRecipient     `json:"push,omitempty"`
	Web      *WebRecipient      `json:"web,omitempty"`
}

// Payload is the pre-rendered content of a notification.
type Payload struct {
	Title string `json:"title,omitempty"`
	Text  string `json:"text" validate:"required"`
	HTML  string `json:"html,omitempty"`
}

// Envelope is the immutable, channel-agnostic description of an intended
// communication. It is embedded verbatim in the Message that accepts it.
type Envelope struct {
	IdempotencyKey string                    `json:"idempotency_key" validate:"required,max=255"`
	Sender         *Sender                   `json:"sender,omitempty"`
	Recipients     []Recipient               `json:"recipients" validate:"required,min=1,dive"`
	Channels       []Channel                 `json:"channels" validate:"required,min=1"`
	Payload        Payload                   `json:"payload"`
	Metadata       map[string]any            `json:"metadata,omitempty"`
	Overrides      map[string]map[string]any `json:"overrides,omitempty"`
	ScheduleAt     *time.Time                `json:"schedule_at,omitempty"`
	Priority       string                    `json:"priority,omitempty" validate:"omitempty,oneof=low normal high"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural correctness of the envelope before persistence.
// Channel-specific addressability is the concern of each provider's Validate,
// not of this method.
func (e *Envelope) Validate() error {
	if err := validate.Struct(e); err != nil {
		return err
	}
	seen := make(map[Channel]struct{}, len(e.Channels))
	for _, c := range e.Channels {
		if !KnownChannel(c) {
			return fmt.Errorf("%w: %q", ErrUnknownChannel, c)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("duplicate channel %q in envelope", c)
		}
		seen[c] = struct{}{}
	}
	return nil
}
