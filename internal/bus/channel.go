// Package bus provides event bus implementations for Kestrel.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrTenantRequired = errors.New("tenantID is required")
	ErrClosed         = errors.New("bus is closed")
)

// ChannelBus implements EventBus using Go channels.
// Used as the Community tier event bus.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string][]*channelSubscription
	closed        bool
	dropped       atomic.Int64
}

type channelSubscription struct {
	bus     *ChannelBus
	id      string
	key     string
	topic   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
	}
}

// Publish delivers a message to every subscriber of the topic.
// A subscriber whose buffer is full loses the message; see Dropped.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	return b.deliver(newMessage(ctx, tenantID, topic, payload))
}

// Subscribe registers a handler for a topic. The handler runs on a dedicated
// goroutine until the subscription or the bus is closed.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	key := b.makeKey(tenantID, topic)

	sub := &channelSubscription{
		bus:     b,
		id:      uuid.New().String(),
		key:     key,
		topic:   topic,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
	}

	go sub.run()

	b.subscriptions[key] = append(b.subscriptions[key], sub)
	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if err := s.handler(withTrace(s.ctx, msg), msg); err != nil {
				slog.Error("handler error",
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Request publishes payload and waits for the first message on the
// "<topic>.reply.<id>" topic. The reply topic is passed in the request
// metadata under "reply_to".
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg := newMessage(ctx, tenantID, topic, payload)
	msg.Metadata[MetaReplyTo] = replyTopic
	if err := b.deliver(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("request timeout on %s", topic)
	}
}

// MetaReplyTo names the metadata key holding the reply topic of a request.
const MetaReplyTo = "reply_to"

func (b *ChannelBus) deliver(msg *domain.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, sub := range b.subscriptions[b.makeKey(msg.TenantID, msg.Topic)] {
		select {
		case sub.msgCh <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("bus subscriber full, message dropped",
				"tenant_id", msg.TenantID,
				"topic", msg.Topic,
				"subscription", sub.id,
			)
		}
	}
	return nil
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription. Later calls are no-ops.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subscriptions = make(map[string][]*channelSubscription)
	return nil
}

// Dropped returns the number of messages lost to full subscriber buffers.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers returns the number of active subscriptions for a tenant topic.
func (b *ChannelBus) Subscribers(tenantID, topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions[b.makeKey(tenantID, topic)])
}

func (b *ChannelBus) makeKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

// Unsubscribe stops the handler goroutine and detaches from the bus.
func (s *channelSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()

		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscriptions[s.key]
		for i, other := range subs {
			if other == s {
				b.subscriptions[s.key] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subscriptions[s.key]) == 0 {
			delete(b.subscriptions, s.key)
		}
	})
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}

// metaTransport marks reply addresses that are raw NATS inboxes.
const (
	metaTransport = "transport"
	transportNATS = "nats"
)

// Reply answers a request received through Subscribe on either bus.
func Reply(ctx context.Context, b domain.EventBus, req *domain.Message, payload []byte) error {
	replyTo := req.Metadata[MetaReplyTo]
	if replyTo == "" {
		return fmt.Errorf("message %s carries no reply topic", req.ID)
	}
	if req.Metadata[metaTransport] == transportNATS {
		nb, ok := b.(*NATSBus)
		if !ok {
			return fmt.Errorf("message %s expects a NATS reply", req.ID)
		}
		return nb.respond(ctx, req, replyTo, payload)
	}
	return b.Publish(ctx, req.TenantID, replyTo, payload)
}
