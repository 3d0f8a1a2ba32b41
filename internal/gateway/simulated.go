package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"paychat/internal/domain"
)

// SimulatedCheckout completes every checkout immediately with credentials
// signed by the key secret, the way the gateway signs them in test mode.
// It lets the full flow run against a development backend without a browser.
type SimulatedCheckout struct {
	KeySecret string
	// Outcome forces a dismissed or failed checkout when set.
	Outcome domain.CheckoutStatus
}

func (s *SimulatedCheckout) EnsureScriptLoaded(context.Context) bool { return true }

func (s *SimulatedCheckout) Open(ctx context.Context, order domain.Order, _ domain.CheckoutRequest) (domain.CheckoutOutcome, error) {
	if err := ctx.Err(); err != nil {
		return domain.CheckoutOutcome{}, err
	}
	switch s.Outcome {
	case domain.CheckoutDismissed:
		return domain.CheckoutOutcome{Status: domain.CheckoutDismissed}, nil
	case domain.CheckoutFailed:
		return domain.CheckoutOutcome{Status: domain.CheckoutFailed, Reason: "simulated failure"}, nil
	}
	paymentID := "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
	return domain.CheckoutOutcome{
		Status: domain.CheckoutCompleted,
		Credentials: domain.Credentials{
			OrderID:   order.ID,
			PaymentID: paymentID,
			Signature: Sign(s.KeySecret, order.ID, paymentID),
		},
	}, nil
}

// Sign computes the checkout signature: hex HMAC-SHA256 of
// "order_id|payment_id" keyed with the key secret.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a checkout signature in constant time.
func VerifySignature(secret string, creds domain.Credentials) bool {
	want := Sign(secret, creds.OrderID, creds.PaymentID)
	return hmac.Equal([]byte(want), []byte(creds.Signature))
}
