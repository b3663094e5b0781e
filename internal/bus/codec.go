package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"go.opentelemetry.io/otel/trace"
)

// Metadata keys carrying the publisher's span across the bus.
const (
	MetaTraceID = "trace_id"
	MetaSpanID  = "span_id"
)

// newMessage wraps a payload in the bus envelope, copying the active span of ctx.
func newMessage(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		msg.Metadata[MetaTraceID] = sc.TraceID().String()
		msg.Metadata[MetaSpanID] = sc.SpanID().String()
	}
	return msg
}

// withTrace returns ctx carrying the publisher's span as a remote parent.
func withTrace(ctx context.Context, msg *domain.Message) context.Context {
	traceID, err := trace.TraceIDFromHex(msg.Metadata[MetaTraceID])
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(msg.Metadata[MetaSpanID])
	if err != nil {
		return ctx
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

// PublishJSON encodes v as JSON and publishes it on topic.
func PublishJSON(ctx context.Context, b domain.EventBus, tenantID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}

// Decode unmarshals the JSON payload of msg into v.
func Decode(msg *domain.Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", msg.Topic, err)
	}
	return nil
}
