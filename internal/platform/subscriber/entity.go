package subscriber

import "time"

// Type identifies the delivery transport for a subscriber.
type Type string

const (
	TypeWebhook   Type = "WEBHOOK"
	TypeWebSocket Type = "WEBSOCKET"
	TypeEmail     Type = "EMAIL"
)

// WebhookConfig configures a WEBHOOK-type subscriber.
type WebhookConfig struct {
	URL           string `bson:"url" json:"url"`
	SigningSecret string `bson:"signingSecret,omitempty" json:"-"`
	TimeoutMs     int    `bson:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
}

// WebSocketConfig configures a WEBSOCKET-type subscriber (topic fan-out).
type WebSocketConfig struct {
	Topic string `bson:"topic" json:"topic"`
}

// EmailConfig configures an EMAIL-type subscriber (digest notifications).
type EmailConfig struct {
	Address string `bson:"address" json:"address"`
}

// Subscriber is a delivery target for change events.
//
// Collection: subscribers
type Subscriber struct {
	ID        string          `bson:"_id" json:"id"`
	Type      Type            `bson:"type" json:"type"`
	Enabled   bool            `bson:"enabled" json:"enabled"`
	Webhook   WebhookConfig   `bson:"webhook,omitempty" json:"webhook,omitempty"`
	WebSocket WebSocketConfig `bson:"webSocket,omitempty" json:"webSocket,omitempty"`
	Email     EmailConfig     `bson:"email,omitempty" json:"email,omitempty"`
	CreatedAt time.Time       `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time       `bson:"updatedAt" json:"updatedAt"`
}

// Endpoint returns the transport-specific delivery address.
func (s *Subscriber) Endpoint() string {
	switch s.Type {
	case TypeWebhook:
		return s.Webhook.URL
	case TypeWebSocket:
		return s.WebSocket.Topic
	case TypeEmail:
		return s.Email.Address
	default:
		return ""
	}
}
