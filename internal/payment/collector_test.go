package payment

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"paychat/internal/bus"
	"paychat/internal/domain"
	"paychat/internal/gateway"
	"paychat/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeGateway struct {
	mu           sync.Mutex
	scriptOK     bool
	orderErr     error
	outcome      domain.CheckoutOutcome
	checkoutErr  error
	verification domain.Verification
	verifyErr    error
	// block, when set, holds OpenCheckout until closed.
	block chan struct{}

	scriptCalls, orderCalls, checkoutCalls, verifyCalls int
	lastRequest                                         domain.CheckoutRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		scriptOK: true,
		outcome: domain.CheckoutOutcome{
			Status:      domain.CheckoutCompleted,
			Credentials: domain.Credentials{OrderID: "order_1", PaymentID: "pay_123", Signature: "sig"},
		},
		verification: domain.Verification{Success: true},
	}
}

func (g *fakeGateway) EnsureScriptLoaded(context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scriptCalls++
	return g.scriptOK
}

func (g *fakeGateway) CreateOrder(_ context.Context, amount domain.Amount) (domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orderCalls++
	if g.orderErr != nil {
		return domain.Order{}, g.orderErr
	}
	return domain.Order{ID: "order_1", Amount: amount.MinorUnits(), Currency: "INR"}, nil
}

func (g *fakeGateway) OpenCheckout(ctx context.Context, _ domain.Order, req domain.CheckoutRequest) (domain.CheckoutOutcome, error) {
	g.mu.Lock()
	g.checkoutCalls++
	g.lastRequest = req
	block := g.block
	g.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.CheckoutOutcome{}, ctx.Err()
		}
	}
	return g.outcome, g.checkoutErr
}

func (g *fakeGateway) Verify(context.Context, domain.Credentials) (domain.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	return g.verification, g.verifyErr
}

func (g *fakeGateway) networkCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.orderCalls + g.checkoutCalls + g.verifyCalls
}

type recordingNotifier struct {
	mu       sync.Mutex
	success  []string
	failures []string
}

func (n *recordingNotifier) Success(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.success = append(n.success, msg)
}

func (n *recordingNotifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, msg)
}

func (n *recordingNotifier) errors() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.failures...)
}

type recordingConversation struct {
	mu   sync.Mutex
	sent []domain.ChatMessage
}

func (c *recordingConversation) ID() string { return "chat-1" }

func (c *recordingConversation) Send(_ context.Context, msg domain.ChatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingConversation) messages() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ChatMessage(nil), c.sent...)
}

type harness struct {
	gw       *fakeGateway
	notifier *recordingNotifier
	conv     *recordingConversation
	events   *bus.EventBus
	disp     *notify.Dispatcher
	c        *Collector
}

func newHarness(t *testing.T, delay time.Duration) *harness {
	t.Helper()
	h := &harness{
		gw:       newFakeGateway(),
		notifier: &recordingNotifier{},
		conv:     &recordingConversation{},
		events:   bus.NewEventBus(testLogger()),
	}
	h.disp = notify.NewDispatcher(notify.Config{Delay: delay, Events: h.events, Logger: testLogger()})
	t.Cleanup(func() { h.disp.Close() })
	h.c = NewCollector(CollectorConfig{
		Gateway:      h.gw,
		Dispatcher:   h.disp,
		Conversation: h.conv,
		Sender:       &domain.Identity{UserID: "u1", FullName: "Bob", Email: "bob@example.com"},
		Notifier:     h.notifier,
		Events:       h.events,
		Logger:       testLogger(),
	})
	return h
}

var aliceIntent = domain.PaymentIntent{Amount: "500", UpiOrAccountID: "alice@upi", RecipientName: "Alice"}

func TestSubmit_ValidIntentCreatesOneOrder(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)

	receipt, err := h.c.Submit(context.Background(), aliceIntent)
	if err != nil {
		t.Fatal(err)
	}
	if h.gw.orderCalls != 1 {
		t.Errorf("order calls = %d, want 1", h.gw.orderCalls)
	}
	if receipt.Task == nil {
		t.Fatalf("expected a notification task, dispatch error: %v", receipt.DispatchErr)
	}
	receipt.Task.Wait()
	if h.c.Processing() {
		t.Error("processing should clear after the flow resolves")
	}
}

func TestSubmit_InvalidIntentMakesNoCalls(t *testing.T) {
	for _, intent := range []domain.PaymentIntent{
		{Amount: "-5", UpiOrAccountID: "alice@upi", RecipientName: "Alice"},
		{Amount: "", UpiOrAccountID: "alice@upi", RecipientName: "Alice"},
		{Amount: "5", UpiOrAccountID: "", RecipientName: "Alice"},
		{Amount: "ten", UpiOrAccountID: "alice@upi", RecipientName: "Alice"},
	} {
		h := newHarness(t, time.Millisecond)
		_, err := h.c.Submit(context.Background(), intent)

		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%+v: expected validation error, got %v", intent, err)
		}
		if h.gw.scriptCalls != 0 || h.gw.networkCalls() != 0 {
			t.Errorf("%+v: gateway touched (script=%d network=%d)", intent, h.gw.scriptCalls, h.gw.networkCalls())
		}
		if errs := h.notifier.errors(); len(errs) != 1 || errs[0] != verr.Message {
			t.Errorf("%+v: notifier errors = %v", intent, errs)
		}
		if len(h.conv.messages()) != 0 {
			t.Errorf("%+v: messages sent", intent)
		}
	}
}

func TestSubmit_NegativeAmountScenario(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	_, err := h.c.Submit(context.Background(), domain.PaymentIntent{Amount: "-5", UpiOrAccountID: "a@upi", RecipientName: "Alice"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Message != "Please enter a valid amount" {
		t.Fatalf("got %v", err)
	}
	if h.gw.networkCalls() != 0 {
		t.Error("network calls issued for an invalid amount")
	}
}

func TestSubmit_EndToEndScenario(t *testing.T) {
	h := newHarness(t, 40*time.Millisecond)

	start := time.Now()
	receipt, err := h.c.Submit(context.Background(), aliceIntent)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Event.PaymentID != "pay_123" || receipt.Event.Amount.String() != "500" {
		t.Errorf("event = %+v", receipt.Event)
	}

	msgs := h.conv.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected the confirmation immediately, got %d messages", len(msgs))
	}
	if !strings.Contains(msgs[0].Text, "500") || !strings.Contains(msgs[0].Text, "Alice") {
		t.Errorf("confirmation text = %q", msgs[0].Text)
	}

	if err := receipt.Task.Wait(); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("notification arrived after %v, want >= 40ms", elapsed)
	}
	msgs = h.conv.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	n := msgs[1]
	if !strings.Contains(n.Text, "500") || n.PaymentDetails.PaymentID != "pay_123" || n.PaymentDetails.Direction != domain.DirectionReceived {
		t.Errorf("notification = %+v", n)
	}

	if got := h.notifier.success; len(got) != 1 || got[0] != "💰 Payment successful!" {
		t.Errorf("success toasts = %v", got)
	}
	if h.gw.lastRequest.Description != "Payment to Alice" || h.gw.lastRequest.Notes["recipient_upi"] != "alice@upi" {
		t.Errorf("checkout request = %+v", h.gw.lastRequest)
	}
	if h.gw.lastRequest.Prefill.Email != "bob@example.com" {
		t.Errorf("prefill = %+v", h.gw.lastRequest.Prefill)
	}
	if len(h.events.Replay(bus.EventPaymentVerified, time.Time{})) != 1 {
		t.Error("expected a payment.verified event")
	}
}

func TestSubmit_VerificationFailure(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	h.gw.verification = domain.Verification{Success: false, Message: "Invalid signature"}

	receipt, err := h.c.Submit(context.Background(), aliceIntent)
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("got %v", err)
	}
	if receipt != nil {
		t.Error("no event may be produced")
	}
	time.Sleep(10 * time.Millisecond)
	if n := len(h.conv.messages()); n != 0 {
		t.Errorf("messages sent after failed verification: %d", n)
	}
	if errs := h.notifier.errors(); len(errs) != 1 || errs[0] != "Payment verification failed" {
		t.Errorf("notifier errors = %v", errs)
	}
	if len(h.events.Replay(bus.EventPaymentFailed, time.Time{})) != 1 {
		t.Error("expected a payment.failed event")
	}
}

func TestSubmit_VerifyTransportError(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	h.gw.verifyErr = &gateway.Error{Kind: gateway.KindVerify, Err: errors.New("connection reset")}

	if _, err := h.c.Submit(context.Background(), aliceIntent); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("got %v", err)
	}
	if n := len(h.conv.messages()); n != 0 {
		t.Errorf("messages sent: %d", n)
	}
}

func TestSubmit_GatewayFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeGateway)
		wantErr error
		toast   string
	}{
		{"script", func(g *fakeGateway) { g.scriptOK = false }, ErrScriptLoad, "Failed to load payment gateway"},
		{"order generic", func(g *fakeGateway) { g.orderErr = errors.New("dial tcp") }, ErrOrderFailed, "Failed to create payment order"},
		{"order with backend message", func(g *fakeGateway) {
			g.orderErr = &gateway.Error{Kind: gateway.KindOrder, Message: "Amount too large"}
		}, ErrOrderFailed, "Amount too large"},
		{"checkout error", func(g *fakeGateway) { g.checkoutErr = errors.New("tab crashed") }, ErrCheckoutFailed, "Payment failed. Please try again."},
		{"checkout failed", func(g *fakeGateway) {
			g.outcome = domain.CheckoutOutcome{Status: domain.CheckoutFailed, Reason: "declined"}
		}, ErrCheckoutFailed, "Payment failed. Please try again."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, time.Millisecond)
			tt.setup(h.gw)
			_, err := h.c.Submit(context.Background(), aliceIntent)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if errs := h.notifier.errors(); len(errs) != 1 || errs[0] != tt.toast {
				t.Errorf("toasts = %v, want %q", errs, tt.toast)
			}
			if h.gw.verifyCalls != 0 {
				t.Error("verify must not run")
			}
			if h.c.Processing() {
				t.Error("processing state not cleared")
			}
		})
	}
}

func TestSubmit_DismissedIsSilent(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	h.gw.outcome = domain.CheckoutOutcome{Status: domain.CheckoutDismissed}

	_, err := h.c.Submit(context.Background(), aliceIntent)
	if !errors.Is(err, ErrCheckoutDismissed) {
		t.Fatalf("got %v", err)
	}
	if errs := h.notifier.errors(); len(errs) != 0 {
		t.Errorf("dismissal should not toast, got %v", errs)
	}
	if h.c.Processing() {
		t.Error("processing state not cleared")
	}
	if len(h.events.Replay(bus.EventPaymentDismissed, time.Time{})) != 1 {
		t.Error("expected payment.dismissed event")
	}
}

func TestSubmit_RejectsConcurrentSubmission(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	h.gw.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.c.Submit(context.Background(), aliceIntent)
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for !h.c.Processing() {
		if time.Now().After(deadline) {
			t.Fatal("first submission never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := h.c.Submit(context.Background(), aliceIntent); !errors.Is(err, ErrAlreadyProcessing) {
		t.Errorf("second submit: got %v", err)
	}
	close(h.gw.block)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if h.gw.orderCalls != 1 {
		t.Errorf("order calls = %d, want 1", h.gw.orderCalls)
	}
}

func TestSubmit_DispatchAbortedWithoutSender(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	h.c.sender = nil

	receipt, err := h.c.Submit(context.Background(), aliceIntent)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(receipt.DispatchErr, notify.ErrSenderUnavailable) || receipt.Task != nil {
		t.Errorf("receipt = %+v", receipt)
	}
	if n := len(h.conv.messages()); n != 0 {
		t.Errorf("messages sent: %d", n)
	}
}

func TestSubmit_DispatchAbortedWithoutConversation(t *testing.T) {
	h := newHarness(t, time.Millisecond)
	h.c.conv = nil

	receipt, err := h.c.Submit(context.Background(), aliceIntent)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(receipt.DispatchErr, notify.ErrChannelUnavailable) {
		t.Errorf("dispatch err = %v", receipt.DispatchErr)
	}
}

func TestNewCollector_NilNotifier(t *testing.T) {
	gw := newFakeGateway()
	c := NewCollector(CollectorConfig{Gateway: gw, Logger: testLogger()})

	_, err := c.Submit(context.Background(), domain.PaymentIntent{Amount: "0", UpiOrAccountID: "alice@upi", RecipientName: "Alice"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if gw.networkCalls() != 0 {
		t.Errorf("network calls = %d, want 0", gw.networkCalls())
	}
}
