package domain

import "context"

// Channel is a chat transport (Telegram, Slack, WebSocket, ...) able to deliver
// chat messages into a conversation identified by chatID.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, chatID string, msg ChatMessage) error
}

// Conversation is a single chat conversation exposing a send capability.
// Two sends from the same caller are issued in request order; delivery order
// is up to the transport.
type Conversation interface {
	ID() string
	Send(ctx context.Context, msg ChatMessage) error
}
