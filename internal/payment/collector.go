package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"paychat/internal/bus"
	"paychat/internal/domain"
	"paychat/internal/gateway"
	"paychat/internal/notice"
	"paychat/internal/notify"
)

var (
	ErrAlreadyProcessing  = errors.New("a payment is already being processed")
	ErrScriptLoad         = errors.New("payment gateway script failed to load")
	ErrOrderFailed        = errors.New("payment order could not be created")
	ErrCheckoutDismissed  = errors.New("checkout dismissed by user")
	ErrCheckoutFailed     = errors.New("checkout failed")
	ErrVerificationFailed = errors.New("payment verification failed")
)

// User-facing flow messages.
const (
	msgScriptLoad    = "Failed to load payment gateway"
	msgOrderFailed   = "Failed to create payment order"
	msgPaymentFailed = "Payment failed. Please try again."
	msgVerifyFailed  = "Payment verification failed"
	msgSuccess       = "💰 Payment successful!"
)

// Dispatcher posts the chat messages for a verified payment.
type Dispatcher interface {
	Dispatch(ctx context.Context, conv domain.Conversation, ev domain.PaymentEvent) (*notify.Task, error)
}

// CollectorConfig wires a Collector.
type CollectorConfig struct {
	Gateway      domain.GatewayClient
	Dispatcher   Dispatcher
	Conversation domain.Conversation
	Sender       *domain.Identity
	Notifier     domain.Notifier
	Events       *bus.EventBus
	Now          func() time.Time
	Logger       *slog.Logger
}

// Collector is the input surface of a payment: it validates an intent, runs
// it through the gateway and hands the verified event to the dispatcher.
// Only one submission is in flight at a time.
type Collector struct {
	gateway    domain.GatewayClient
	dispatcher Dispatcher
	conv       domain.Conversation
	sender     *domain.Identity
	notifier   domain.Notifier
	events     *bus.EventBus
	now        func() time.Time
	logger     *slog.Logger

	mu         sync.Mutex
	processing bool
}

// Receipt is the result of a successful submission.
type Receipt struct {
	Event domain.PaymentEvent
	// Task tracks the deferred recipient notification. Nil when dispatch was
	// aborted, in which case DispatchErr says why.
	Task        *notify.Task
	DispatchErr error
}

func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notice.NewLog(cfg.Logger)
	}
	return &Collector{
		gateway:    cfg.Gateway,
		dispatcher: cfg.Dispatcher,
		conv:       cfg.Conversation,
		sender:     cfg.Sender,
		notifier:   cfg.Notifier,
		events:     cfg.Events,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
}

// Processing reports whether a submission is in flight.
func (c *Collector) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

func (c *Collector) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing {
		return false
	}
	c.processing = true
	return true
}

func (c *Collector) end() {
	c.mu.Lock()
	c.processing = false
	c.mu.Unlock()
}

// Submit validates the intent and runs the gateway flow. Invalid intents are
// rejected without any network call. The processing state is held until the
// checkout resolves, so repeated submits cannot mint duplicate orders.
func (c *Collector) Submit(ctx context.Context, intent domain.PaymentIntent) (*Receipt, error) {
	amount, err := Validate(intent)
	if err != nil {
		c.notifier.Error(err.(*ValidationError).Message)
		return nil, err
	}

	if !c.begin() {
		return nil, ErrAlreadyProcessing
	}
	defer c.end()

	intent = intent.Trimmed()
	c.emit(bus.EventPaymentSubmitted, map[string]any{
		"amount":    amount.String(),
		"recipient": intent.RecipientName,
	})

	if !c.gateway.EnsureScriptLoaded(ctx) {
		c.notifier.Error(msgScriptLoad)
		c.fail("script")
		return nil, ErrScriptLoad
	}

	order, err := c.gateway.CreateOrder(ctx, amount)
	if err != nil {
		c.notifier.Error(userMessage(err, msgOrderFailed))
		c.fail("order")
		return nil, fmt.Errorf("%w: %w", ErrOrderFailed, err)
	}
	c.logger.Info("payment order created", "order_id", order.ID, "amount", order.Amount, "currency", order.Currency)

	started := c.now()
	outcome, err := c.gateway.OpenCheckout(ctx, order, domain.CheckoutRequest{
		Description: "Payment to " + intent.RecipientName,
		Prefill:     c.prefill(),
		Notes: map[string]string{
			"recipient_name": intent.RecipientName,
			"recipient_upi":  intent.UpiOrAccountID,
		},
	})
	if err != nil {
		c.logger.Error("checkout error", "order_id", order.ID, "err", err)
		c.notifier.Error(msgPaymentFailed)
		c.fail("checkout")
		return nil, fmt.Errorf("%w: %w", ErrCheckoutFailed, err)
	}

	switch outcome.Status {
	case domain.CheckoutDismissed:
		c.logger.Info("checkout dismissed", "order_id", order.ID)
		c.emit(bus.EventPaymentDismissed, map[string]any{"order_id": order.ID})
		return nil, ErrCheckoutDismissed
	case domain.CheckoutFailed:
		c.logger.Warn("checkout reported failure", "order_id", order.ID, "reason", outcome.Reason)
		c.notifier.Error(msgPaymentFailed)
		c.fail("checkout")
		return nil, fmt.Errorf("%w: %s", ErrCheckoutFailed, outcome.Reason)
	}

	verification, err := c.gateway.Verify(ctx, outcome.Credentials)
	if err != nil || !verification.Success {
		c.logger.Warn("payment verification failed",
			"order_id", outcome.Credentials.OrderID,
			"payment_id", outcome.Credentials.PaymentID,
			"err", err,
		)
		c.notifier.Error(msgVerifyFailed)
		c.fail("verify")
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
		}
		return nil, ErrVerificationFailed
	}

	verifiedAt := c.now()
	event := Normalize(GatewayResult{
		Amount:       amount,
		Credentials:  outcome.Credentials,
		Verification: verification,
		VerifiedAt:   verifiedAt,
	}, intent, c.sender)

	c.notifier.Success(msgSuccess)
	c.emit(bus.EventPaymentVerified, map[string]any{
		"payment_id":  event.PaymentID,
		"order_id":    event.OrderID,
		"amount":      event.Amount.String(),
		"checkout_ms": verifiedAt.Sub(started).Milliseconds(),
	})

	receipt := &Receipt{Event: event}
	task, err := c.dispatcher.Dispatch(ctx, c.conv, event)
	if err != nil {
		c.logger.Error("payment messages not dispatched", "payment_id", event.PaymentID, "err", err)
		receipt.DispatchErr = err
		return receipt, nil
	}
	receipt.Task = task
	return receipt, nil
}

func (c *Collector) prefill() domain.Identity {
	if c.sender == nil {
		return domain.Identity{}
	}
	return *c.sender
}

func (c *Collector) fail(stage string) {
	c.emit(bus.EventPaymentFailed, map[string]any{"stage": stage})
}

func (c *Collector) emit(eventType string, payload map[string]any) {
	c.events.Publish("payment", eventType, payload)
}

// userMessage prefers the backend's own message for order failures.
func userMessage(err error, fallback string) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	return fallback
}
