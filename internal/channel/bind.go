package channel

import (
	"context"

	"paychat/internal/domain"
)

type conversation struct {
	ch     domain.Channel
	chatID string
}

// Bind adapts a transport into the conversation identified by chatID. A nil
// channel or empty chatID yields nil, which the dispatcher treats as an
// unavailable conversation.
func Bind(ch domain.Channel, chatID string) domain.Conversation {
	if ch == nil || chatID == "" {
		return nil
	}
	return &conversation{ch: ch, chatID: chatID}
}

func (c *conversation) ID() string { return c.chatID }

func (c *conversation) Send(ctx context.Context, msg domain.ChatMessage) error {
	return c.ch.Send(ctx, c.chatID, msg)
}
