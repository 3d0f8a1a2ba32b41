package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeStream struct {
	mu   sync.Mutex
	adds []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds = append(f.adds, a)
	return redis.NewStringResult("1-0", f.err)
}

func TestStreamSink_ForwardsEvents(t *testing.T) {
	fake := &fakeStream{}
	eb := NewEventBus(testLogger())
	sink := NewStreamSink(StreamConfig{Client: fake, MaxLen: 1000, Logger: testLogger()})
	detach := sink.Attach(eb)

	ts := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	eb.Emit(Event{Type: EventPaymentVerified, Source: "payment", Timestamp: ts,
		Payload: map[string]any{"payment_id": "pay_123"}})
	eb.Emit(Event{Type: EventMessageSent, Source: "notify"})
	detach()

	if len(fake.adds) != 2 {
		t.Fatalf("got %d XADDs, want 2", len(fake.adds))
	}
	first := fake.adds[0]
	if first.Stream != "paychat:events" || first.MaxLen != 1000 || !first.Approx {
		t.Errorf("unexpected args: %+v", first)
	}
	values := first.Values.(map[string]any)
	if values["type"] != EventPaymentVerified || values["ts"] != "2024-03-05T09:30:00Z" {
		t.Errorf("values = %v", values)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(values["payload"].(string)), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["payment_id"] != "pay_123" {
		t.Errorf("payload = %v", payload)
	}

	// Detached sinks no longer receive events.
	eb.Emit(Event{Type: EventMessageSent})
	if len(fake.adds) != 2 {
		t.Errorf("event forwarded after detach")
	}
	detach()
}

func TestStreamSink_PublishError(t *testing.T) {
	fake := &fakeStream{err: errors.New("connection refused")}
	sink := NewStreamSink(StreamConfig{Client: fake, Logger: testLogger()})
	err := sink.Publish(context.Background(), Event{Type: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if fake.adds[0].MaxLen != 0 {
		t.Errorf("uncapped sink set MaxLen %d", fake.adds[0].MaxLen)
	}
}

func TestStreamSink_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	fake := &blockingStream{release: block}
	eb := NewEventBus(testLogger())
	sink := NewStreamSink(StreamConfig{Client: fake, Buffer: 1, Logger: testLogger()})
	detach := sink.Attach(eb)

	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: "burst"})
	}
	close(block)
	detach()

	if n := fake.count(); n >= 10 || n == 0 {
		t.Errorf("published %d events, want some dropped", n)
	}
}

type blockingStream struct {
	release chan struct{}
	mu      sync.Mutex
	n       int
}

func (b *blockingStream) XAdd(ctx context.Context, _ *redis.XAddArgs) *redis.StringCmd {
	<-b.release
	b.mu.Lock()
	b.n++
	b.mu.Unlock()
	return redis.NewStringResult("1-0", nil)
}

func (b *blockingStream) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}
