package notify

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"paychat/internal/bus"
	"paychat/internal/domain"
)

const groupColor = "#00BCD4"

// GroupPayment is a payment announced to a group conversation. Members > 1
// with Split set divides the amount evenly.
type GroupPayment struct {
	Amount  domain.Amount
	Members int
	Split   bool
}

// Text is the group announcement line.
func (g GroupPayment) Text() string {
	if g.Split && g.Members > 0 {
		each := g.Amount.Div(decimal.NewFromInt(int64(g.Members))).StringFixed(2)
		return fmt.Sprintf("💰 Group Payment: %s split %d ways (%s%s each)",
			g.Amount.Display(), g.Members, domain.CurrencySymbol, each)
	}
	return fmt.Sprintf("💰 Group Payment: %s sent to the group", g.Amount.Display())
}

// DispatchGroup posts a single payment message to a group conversation.
func (d *Dispatcher) DispatchGroup(ctx context.Context, conv domain.Conversation, g GroupPayment) (domain.ChatMessage, error) {
	if conv == nil {
		return domain.ChatMessage{}, ErrChannelUnavailable
	}
	if !g.Amount.IsPositive() {
		return domain.ChatMessage{}, fmt.Errorf("group payment amount %s: must be positive", g.Amount)
	}
	if g.Split && g.Members <= 0 {
		return domain.ChatMessage{}, fmt.Errorf("group payment split needs members, got %d", g.Members)
	}

	text := g.Text()
	msg := domain.ChatMessage{
		ID:   d.newID(),
		Text: text,
		Type: domain.TypePayment,
		Attachments: []domain.Attachment{{
			Type:  string(domain.TypePayment),
			Title: "Group Payment",
			Text:  text,
			Color: groupColor,
		}},
	}
	if err := conv.Send(ctx, msg); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("send group payment: %w", err)
	}
	d.logger.Info("group payment sent", "chat_id", conv.ID(), "amount", g.Amount.String(), "split", g.Split)
	d.emit(bus.EventMessageSent, map[string]any{
		"stage":      "group",
		"chat_id":    conv.ID(),
		"message_id": msg.ID,
	})
	return msg, nil
}
