package gateway

import (
	"context"
	"errors"

	"paychat/internal/domain"
)

// Checkout is the hosted checkout surface.
type Checkout interface {
	EnsureScriptLoaded(ctx context.Context) bool
	Open(ctx context.Context, order domain.Order, req domain.CheckoutRequest) (domain.CheckoutOutcome, error)
}

// Adapter composes the backend client and a checkout into the gateway the
// payment flow talks to.
type Adapter struct {
	backend  *Backend
	checkout Checkout
}

var _ domain.GatewayClient = (*Adapter)(nil)

func NewAdapter(backend *Backend, checkout Checkout) *Adapter {
	return &Adapter{backend: backend, checkout: checkout}
}

func (a *Adapter) EnsureScriptLoaded(ctx context.Context) bool {
	return a.checkout.EnsureScriptLoaded(ctx)
}

func (a *Adapter) CreateOrder(ctx context.Context, amount domain.Amount) (domain.Order, error) {
	return a.backend.CreateOrder(ctx, amount)
}

func (a *Adapter) OpenCheckout(ctx context.Context, order domain.Order, req domain.CheckoutRequest) (domain.CheckoutOutcome, error) {
	outcome, err := a.checkout.Open(ctx, order, req)
	if err != nil {
		var gwErr *Error
		if errors.As(err, &gwErr) {
			return outcome, err
		}
		return outcome, &Error{Kind: KindCheckout, Err: err}
	}
	return outcome, nil
}

func (a *Adapter) Verify(ctx context.Context, creds domain.Credentials) (domain.Verification, error) {
	return a.backend.Verify(ctx, creds)
}
