package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func waitFor(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		_, err := bus.Subscribe(ctx, tenantID, domain.TopicDocumentExtracted, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, tenantID, domain.TopicDocumentExtracted, []byte("hello")))

		msg := waitFor(t, got)
		assert.Equal(t, "hello", string(msg.Payload))
		assert.Equal(t, tenantID, msg.TenantID)
		assert.Equal(t, domain.TopicDocumentExtracted, msg.Topic)
		assert.NotEmpty(t, msg.ID)
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var tenantA, tenantB atomic.Int32
		done := make(chan *domain.Message, 1)

		_, err := bus.Subscribe(ctx, "tenant-a", "isolation", func(ctx context.Context, msg *domain.Message) error {
			tenantA.Add(1)
			done <- msg
			return nil
		})
		require.NoError(t, err)
		_, err = bus.Subscribe(ctx, "tenant-b", "isolation", func(ctx context.Context, msg *domain.Message) error {
			tenantB.Add(1)
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, "tenant-a", "isolation", []byte("x")))
		waitFor(t, done)
		time.Sleep(20 * time.Millisecond)

		assert.Equal(t, int32(1), tenantA.Load())
		assert.Equal(t, int32(0), tenantB.Load())
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		assert.ErrorIs(t, bus.Publish(ctx, "", "topic", nil), ErrTenantRequired)

		_, err := bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error { return nil })
		assert.ErrorIs(t, err, ErrTenantRequired)
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		sub, err := bus.Subscribe(ctx, tenantID, "unsub", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, bus.Subscribers(tenantID, "unsub"))

		require.NoError(t, sub.Unsubscribe())
		require.NoError(t, sub.Unsubscribe())
		assert.Equal(t, 0, bus.Subscribers(tenantID, "unsub"))

		require.NoError(t, bus.Publish(ctx, tenantID, "unsub", []byte("late")))
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(0), count.Load())
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		got := make(chan *domain.Message, 2)
		for i := 0; i < 2; i++ {
			_, err := bus.Subscribe(ctx, tenantID, "multi", func(ctx context.Context, msg *domain.Message) error {
				got <- msg
				return nil
			})
			require.NoError(t, err)
		}

		require.NoError(t, bus.Publish(ctx, tenantID, "multi", []byte("fan-out")))
		waitFor(t, got)
		waitFor(t, got)
	})

	t.Run("HandlerErrorKeepsSubscription", func(t *testing.T) {
		got := make(chan *domain.Message, 2)
		_, err := bus.Subscribe(ctx, tenantID, "failing", func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return errors.New("boom")
		})
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, tenantID, "failing", []byte("1")))
		require.NoError(t, bus.Publish(ctx, tenantID, "failing", []byte("2")))
		waitFor(t, got)
		waitFor(t, got)
	})

	t.Run("TracePropagation", func(t *testing.T) {
		traceID, _ := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
		spanID, _ := trace.SpanIDFromHex("b7ad6b7169203331")
		parent := trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
		}))

		seen := make(chan trace.SpanContext, 1)
		_, err := bus.Subscribe(ctx, tenantID, "traced", func(ctx context.Context, msg *domain.Message) error {
			seen <- trace.SpanContextFromContext(ctx)
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, bus.Publish(parent, tenantID, "traced", nil))

		select {
		case sc := <-seen:
			assert.Equal(t, traceID, sc.TraceID())
			assert.True(t, sc.IsRemote())
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for traced message")
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		_, err := bus.Subscribe(ctx, tenantID, "echo", func(ctx context.Context, msg *domain.Message) error {
			return Reply(ctx, bus, msg, append([]byte("re:"), msg.Payload...))
		})
		require.NoError(t, err)

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		reply, err := bus.Request(reqCtx, tenantID, "echo", []byte("ping"))
		require.NoError(t, err)
		assert.Equal(t, "re:ping", string(reply))
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, bus.Ping(ctx))
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, err := bus.Subscribe(ctx, tenantID, domain.TopicVerdict, func(ctx context.Context, msg *domain.Message) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, domain.TopicVerdict, sub.Topic())
	})
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()
	ctx := context.Background()

	block := make(chan struct{})
	_, err := bus.Subscribe(ctx, "t", "slow", func(ctx context.Context, msg *domain.Message) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(ctx, "t", "slow", nil))
	}
	close(block)

	assert.Greater(t, bus.Dropped(), int64(0))
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	_, err := bus.Subscribe(ctx, "tenant-001", "close", func(ctx context.Context, msg *domain.Message) error { return nil })
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(ctx, "tenant-001", "close", []byte("data")), ErrClosed)
	assert.ErrorIs(t, bus.Ping(ctx), ErrClosed)
}

func TestPublishJSONAndDecode(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()
	ctx := context.Background()

	got := make(chan *domain.Message, 1)
	_, err := bus.Subscribe(ctx, "tenant-001", domain.TopicDocumentExtracted, func(ctx context.Context, msg *domain.Message) error {
		got <- msg
		return nil
	})
	require.NoError(t, err)

	in := domain.DocumentMessage{
		DocumentID: "doc-1",
		TenantID:   "tenant-001",
		Schema:     "InvoiceData",
		Data:       domain.Record{"invoice_number": "INV-1"},
	}
	require.NoError(t, PublishJSON(ctx, bus, "tenant-001", domain.TopicDocumentExtracted, in))

	var out domain.DocumentMessage
	require.NoError(t, Decode(waitFor(t, got), &out))
	assert.Equal(t, in.DocumentID, out.DocumentID)
	assert.Equal(t, "INV-1", out.Data["invoice_number"])

	bad := &domain.Message{Topic: "x", Payload: []byte("{")}
	assert.Error(t, Decode(bad, &out))
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		require.NoError(t, err)
		defer bus.Close()

		_, ok := bus.(*ChannelBus)
		assert.True(t, ok, "expected ChannelBus for channel type")
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{Type: "kafka"})
		assert.Error(t, err)
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()
	ctx := context.Background()

	const messageCount = 100
	var received atomic.Int32
	done := make(chan struct{})

	_, err := bus.Subscribe(ctx, "tenant-load", "load", func(ctx context.Context, msg *domain.Message) error {
		if received.Add(1) == messageCount {
			close(done)
		}
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < messageCount; i++ {
		require.NoError(t, bus.Publish(ctx, "tenant-load", "load", []byte("msg")))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}

func TestNATSSubject(t *testing.T) {
	assert.Equal(t, "kestrel.tenant-a.kestrel.verdict", makeSubject("tenant-a", domain.TopicVerdict))
}

func TestReplyRouting(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()
	ctx := context.Background()

	t.Run("NoReplyTopic", func(t *testing.T) {
		req := &domain.Message{ID: "m1", TenantID: "t", Metadata: map[string]string{}}
		assert.Error(t, Reply(ctx, bus, req, []byte("x")))
	})

	t.Run("NATSInboxOnChannelBus", func(t *testing.T) {
		req := &domain.Message{ID: "m2", TenantID: "t", Metadata: map[string]string{
			MetaReplyTo:   "_INBOX.abc",
			metaTransport: transportNATS,
		}}
		assert.Error(t, Reply(ctx, bus, req, []byte("x")))
	})
}
