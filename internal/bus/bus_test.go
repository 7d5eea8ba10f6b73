package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		var receivedMsg *domain.Message
		_, err := bus.Subscribe(ctx, domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
			receivedMsg = msg
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, domain.TopicDecision, []byte(`{"requestId":"r-1"}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		waitOrFail(t, &wg, time.Second)

		if string(receivedMsg.Payload) != `{"requestId":"r-1"}` {
			t.Errorf("unexpected payload %q", receivedMsg.Payload)
		}
		if receivedMsg.Topic != domain.TopicDecision {
			t.Errorf("expected topic %s, got %s", domain.TopicDecision, receivedMsg.Topic)
		}
		if receivedMsg.ID == "" {
			t.Error("expected message ID to be set")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var decisions, reviews atomic.Int32

		bus.Subscribe(ctx, "isolation.decision", func(ctx context.Context, msg *domain.Message) error {
			decisions.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "isolation.review", func(ctx context.Context, msg *domain.Message) error {
			reviews.Add(1)
			return nil
		})

		bus.Publish(ctx, "isolation.decision", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if decisions.Load() != 1 {
			t.Errorf("decision subscriber should receive 1 message, got %d", decisions.Load())
		}
		if reviews.Load() != 0 {
			t.Errorf("review subscriber should receive 0 messages, got %d", reviews.Load())
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, "unsub.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		sub.Unsubscribe()
		time.Sleep(10 * time.Millisecond)

		bus.Publish(ctx, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, "multi.topic", []byte("broadcast"))
		time.Sleep(50 * time.Millisecond)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("HandlerErrorKeepsSubscription", func(t *testing.T) {
		var count atomic.Int32

		bus.Subscribe(ctx, "failing.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return errors.New("boom")
		})

		bus.Publish(ctx, "failing.topic", []byte("a"))
		bus.Publish(ctx, "failing.topic", []byte("b"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 2 {
			t.Errorf("expected handler to see 2 messages, got %d", count.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, domain.TopicManualReview, func(ctx context.Context, msg *domain.Message) error {
			return nil
		})

		if sub.Topic() != domain.TopicManualReview {
			t.Errorf("expected topic %q, got %q", domain.TopicManualReview, sub.Topic())
		}
	})
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	bus.Subscribe(ctx, "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	// First message occupies the handler, second fills the buffer.
	bus.Publish(ctx, "slow.topic", []byte("1"))
	<-started
	bus.Publish(ctx, "slow.topic", []byte("2"))
	bus.Publish(ctx, "slow.topic", []byte("3"))

	if got := bus.Dropped(); got != 1 {
		t.Errorf("expected 1 dropped message, got %d", got)
	}
	close(release)
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	if err := bus.Publish(ctx, "close.topic", []byte("data")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}

	if _, err := bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on subscribe after close, got %v", err)
	}

	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}

	if err := bus.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestEnvelopeRoundTrip(t *testing.T) {
	data, err := encodeEnvelope(context.Background(), domain.TopicApplicationSubmitted, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	msg, err := decodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Topic != domain.TopicApplicationSubmitted || string(msg.Payload) != `{"a":1}` {
		t.Errorf("unexpected envelope %+v", msg)
	}

	if _, err := decodeEnvelope([]byte("not json")); err == nil {
		t.Error("expected decode error for garbage")
	}
}

func TestTraceContextPropagation(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	parent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	t.Run("Envelope", func(t *testing.T) {
		data, err := encodeEnvelope(parent, domain.TopicDecision, []byte("{}"))
		if err != nil {
			t.Fatal(err)
		}
		msg, err := decodeEnvelope(data)
		if err != nil {
			t.Fatal(err)
		}
		if msg.Metadata["traceparent"] == "" {
			t.Fatalf("expected traceparent in metadata, got %v", msg.Metadata)
		}
		got := trace.SpanContextFromContext(messageContext(context.Background(), msg))
		if got.TraceID() != traceID || !got.IsRemote() {
			t.Errorf("expected remote span context with trace %s, got %+v", traceID, got)
		}
	})

	t.Run("ChannelBus", func(t *testing.T) {
		bus := NewChannelBus(10)
		defer bus.Close()

		got := make(chan trace.SpanContext, 1)
		bus.Subscribe(context.Background(), domain.TopicDecision, func(ctx context.Context, msg *domain.Message) error {
			got <- trace.SpanContextFromContext(ctx)
			return nil
		})
		if err := bus.Publish(parent, domain.TopicDecision, []byte("{}")); err != nil {
			t.Fatal(err)
		}

		select {
		case sc := <-got:
			if sc.TraceID() != traceID {
				t.Errorf("expected trace %s, got %s", traceID, sc.TraceID())
			}
		case <-time.After(time.Second):
			t.Fatal("no message received")
		}
	})

	t.Run("NoTrace", func(t *testing.T) {
		msg := newMessage(context.Background(), domain.TopicDecision, nil)
		if len(msg.Metadata) != 0 {
			t.Errorf("expected empty metadata, got %v", msg.Metadata)
		}
		ctx := context.Background()
		if messageContext(ctx, msg) != ctx {
			t.Error("expected context to be returned unchanged")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, domain.TopicApplicationSubmitted, func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, domain.TopicApplicationSubmitted, []byte("msg"))
	}

	waitOrFail(t, &wg, 5*time.Second)

	if received.Load() != messageCount {
		t.Errorf("expected %d messages, got %d", messageCount, received.Load())
	}
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for messages")
	}
}
