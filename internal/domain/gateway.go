package domain

import "context"

// Order is a gateway order minted by the backend. Amount is in minor units.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Credentials are returned by the hosted checkout on completion and forwarded
// to the backend for signature verification.
type Credentials struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// CheckoutRequest carries the per-payment presentation of the hosted checkout.
type CheckoutRequest struct {
	Description string
	Prefill     Identity
	Notes       map[string]string
}

// CheckoutStatus is how the hosted checkout resolved.
type CheckoutStatus string

const (
	CheckoutCompleted CheckoutStatus = "completed"
	CheckoutDismissed CheckoutStatus = "dismissed"
	CheckoutFailed    CheckoutStatus = "failed"
)

// CheckoutOutcome is the resolution of one hosted checkout.
type CheckoutOutcome struct {
	Status      CheckoutStatus
	Credentials Credentials
	Reason      string
}

// Verification is the backend's answer to a signature verification request.
type Verification struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"payment_id,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// GatewayClient is the payment gateway as seen by the payment flow.
type GatewayClient interface {
	// EnsureScriptLoaded loads the checkout script once per session and
	// reports whether it is available. It never fails with an error.
	EnsureScriptLoaded(ctx context.Context) bool
	CreateOrder(ctx context.Context, amount Amount) (Order, error)
	// OpenCheckout blocks until the checkout completes, is dismissed, fails,
	// or ctx ends.
	OpenCheckout(ctx context.Context, order Order, req CheckoutRequest) (CheckoutOutcome, error)
	Verify(ctx context.Context, creds Credentials) (Verification, error)
}

// Notifier shows non-blocking transient notifications to the user.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}
