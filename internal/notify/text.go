package notify

import (
	"fmt"
	"strings"
	"time"

	"paychat/internal/domain"
)

// ConfirmationText is the payer's view of a payment.
func ConfirmationText(ev domain.PaymentEvent, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("💰 Payment Sent Successfully! ✅\n\n")
	fmt.Fprintf(&b, "💵 Amount: %s\n", ev.Amount.Display())
	fmt.Fprintf(&b, "👤 To: %s\n", ev.RecipientName)
	if ev.UpiID != "" {
		fmt.Fprintf(&b, "🏦 UPI: %s\n", ev.UpiID)
	}
	fmt.Fprintf(&b, "🆔 Transaction ID: %s\n", ev.PaymentID)
	fmt.Fprintf(&b, "📅 Time: %s", domain.FormatLocalTime(ev.Timestamp, loc, true))
	return b.String()
}

// NotificationText is the recipient's view of a payment.
func NotificationText(ev domain.PaymentEvent) string {
	return fmt.Sprintf("🔔 Payment Received! ✅\n\n💵 %s from %s\n🆔 TXN: %s",
		ev.Amount.Display(), ev.SenderName, ev.PaymentID)
}
