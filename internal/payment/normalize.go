package payment

import (
	"time"

	"paychat/internal/domain"
)

// unknownSender is shown when the signed-in user has no display name.
const unknownSender = "Unknown"

// GatewayResult is everything the gateway produced for one verified payment.
type GatewayResult struct {
	Amount       domain.Amount
	Credentials  domain.Credentials
	Verification domain.Verification
	VerifiedAt   time.Time
}

// Normalize assembles the canonical payment event from a verified gateway
// result. Identifiers are copied byte for byte. A nil sender leaves SenderName
// empty, which the dispatcher refuses.
func Normalize(res GatewayResult, intent domain.PaymentIntent, sender *domain.Identity) domain.PaymentEvent {
	intent = intent.Trimmed()

	paymentID := res.Credentials.PaymentID
	if paymentID == "" {
		paymentID = res.Verification.PaymentID
	}
	orderID := res.Credentials.OrderID
	if orderID == "" {
		orderID = res.Verification.OrderID
	}

	var senderName string
	if sender != nil {
		senderName = sender.FullName
		if senderName == "" {
			senderName = unknownSender
		}
	}

	return domain.PaymentEvent{
		Amount:        res.Amount,
		RecipientName: intent.RecipientName,
		UpiID:         intent.UpiOrAccountID,
		PaymentID:     paymentID,
		OrderID:       orderID,
		Timestamp:     res.VerifiedAt,
		SenderName:    senderName,
		Status:        domain.StatusCompleted,
		Direction:     domain.DirectionSent,
	}
}
