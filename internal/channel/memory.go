package channel

import (
	"context"
	"sync"

	"paychat/internal/domain"
)

// Sent is one message recorded by a Memory channel.
type Sent struct {
	ChatID  string
	Message domain.ChatMessage
}

// Memory records every message it is asked to send. Err, when set, makes
// Send fail without recording.
type Memory struct {
	mu   sync.Mutex
	sent []Sent
	err  error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Start(context.Context) error { return nil }

func (m *Memory) Stop() error { return nil }

func (m *Memory) Send(ctx context.Context, chatID string, msg domain.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, Sent{ChatID: chatID, Message: msg})
	return nil
}

// FailWith makes subsequent sends return err; nil restores delivery.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Messages returns a copy of what was sent, in order.
func (m *Memory) Messages() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}
