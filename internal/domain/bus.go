package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl" yaml:"natsUrl"`
	NATSToken         string `json:"-" yaml:"natsToken"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"natsReconnectWait"` // seconds

	// NATSQueueGroup load-balances each subject across every subscriber in the group.
	NATSQueueGroup string `json:"natsQueueGroup" yaml:"natsQueueGroup"`
}

// Standard topic names for the validation pipeline.
const (
	TopicDocumentExtracted = "kestrel.document.extracted"
	TopicVerdict           = "kestrel.verdict"
	TopicAlert             = "kestrel.alert"
)

// DocumentMessage is the payload published on TopicDocumentExtracted.
type DocumentMessage struct {
	DocumentID string `json:"documentId"`
	TenantID   string `json:"tenantId"`
	TraceID    string `json:"traceId,omitempty"`
	Schema     string `json:"schema"`
	Shape      string `json:"shape,omitempty"`
	Data       Record `json:"data"`
}

// VerdictMessage is the payload published on TopicVerdict and TopicAlert.
type VerdictMessage struct {
	ReportID   string    `json:"reportId"`
	DocumentID string    `json:"documentId"`
	TenantID   string    `json:"tenantId"`
	TraceID    string    `json:"traceId,omitempty"`
	Status     string    `json:"status"`
	FraudRisk  FraudRisk `json:"fraudRisk"`
	Confidence float64   `json:"confidence"`
	Reasons    []string  `json:"reasons,omitempty"`
}
