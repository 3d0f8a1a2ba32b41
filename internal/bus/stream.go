package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamAdder is the slice of the Redis client the sink needs. *redis.Client
// satisfies it.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamConfig configures a StreamSink.
type StreamConfig struct {
	Client  StreamAdder
	Stream  string // default: paychat:events
	MaxLen  int64  // approximate stream cap; 0 keeps everything
	Buffer  int    // queued events before new ones are dropped (default: 256)
	Timeout time.Duration
	Logger  *slog.Logger
}

// StreamSink mirrors bus events onto a Redis stream so other services can
// consume payment activity. Publishing happens on its own goroutine; when
// Redis is slow or down events are dropped rather than stalling Emit.
type StreamSink struct {
	client  StreamAdder
	stream  string
	maxLen  int64
	timeout time.Duration
	logger  *slog.Logger

	queue chan Event
	wg    sync.WaitGroup
}

func NewStreamSink(cfg StreamConfig) *StreamSink {
	if cfg.Stream == "" {
		cfg.Stream = "paychat:events"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &StreamSink{
		client:  cfg.Client,
		stream:  cfg.Stream,
		maxLen:  cfg.MaxLen,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		queue:   make(chan Event, cfg.Buffer),
	}
}

// Attach forwards every event on eb to the stream. The returned function
// unsubscribes and waits for queued events to be written.
func (s *StreamSink) Attach(eb *EventBus) func() {
	id := eb.On("*", func(e Event) {
		select {
		case s.queue <- e:
		default:
			s.logger.Warn("event stream queue full, dropping event", "type", e.Type)
		}
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for e := range s.queue {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			if err := s.Publish(ctx, e); err != nil {
				s.logger.Warn("event stream publish failed", "type", e.Type, "err", err)
			}
			cancel()
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			eb.Off("*", id)
			close(s.queue)
			s.wg.Wait()
		})
	}
}

// Publish writes one event to the stream.
func (s *StreamSink) Publish(ctx context.Context, e Event) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: streamValues(e),
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	return s.client.XAdd(ctx, args).Err()
}

// streamValues flattens an event into stream fields. The payload is kept as
// one JSON field so consumers decode it the same way for every event type.
func streamValues(e Event) map[string]any {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]any{
		"type":    e.Type,
		"source":  e.Source,
		"ts":      ts.UTC().Format(time.RFC3339Nano),
		"payload": string(payload),
	}
}
