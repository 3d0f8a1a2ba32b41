package render

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"paychat/internal/domain"
)

var ist = time.FixedZone("IST", 19800)

func TestRender_Kinds(t *testing.T) {
	r := New(ist)
	tests := []struct {
		name string
		raw  string
		want Kind
	}{
		{"plain text message", `{"text":"hello"}`, KindNone},
		{"null details", `{"text":"hi","payment_details":null}`, KindNone},
		{"sent", `{"payment_details":{"amount":500,"recipient_name":"Alice","transaction_id":"pay_1","timestamp":"2026-10-18T11:04:00Z","direction":"sent"}}`, KindCard},
		{"string amount", `{"payment_details":{"amount":"12.50","transaction_id":"pay_1"}}`, KindCard},
		{"details not an object", `{"payment_details":"oops"}`, KindFallback},
		{"details array", `{"payment_details":[1,2]}`, KindFallback},
		{"bad amount", `{"payment_details":{"amount":"lots"}}`, KindFallback},
		{"missing amount", `{"payment_details":{"transaction_id":"pay_1"}}`, KindFallback},
		{"bad timestamp", `{"payment_details":{"amount":5,"timestamp":"yesterday"}}`, KindFallback},
		{"wrong field type", `{"payment_details":{"amount":5,"transaction_id":{"x":1}}}`, KindFallback},
		{"not json", `{"payment_details":`, KindFallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Render(json.RawMessage(tt.raw))
			if got.Kind != tt.want {
				t.Fatalf("kind = %s, want %s (err=%v)", got.Kind, tt.want, got.Err)
			}
			if got.Kind == KindFallback && got.Text() != FallbackText {
				t.Errorf("fallback text = %q", got.Text())
			}
			if got.Kind == KindNone && got.Text() != "" {
				t.Errorf("none should render nothing, got %q", got.Text())
			}
		})
	}
}

func TestRender_ReceivedCard(t *testing.T) {
	raw := `{"payment_details":{"amount":1500.5,"sender_name":"Bob","recipient_name":"Alice","recipient_upi":"alice@upi","transaction_id":"pay_123","timestamp":"2026-10-18T11:04:00Z","status":"completed","direction":"received"}}`
	res := New(ist).Render(json.RawMessage(raw))
	if res.Kind != KindCard {
		t.Fatalf("kind = %s (%v)", res.Kind, res.Err)
	}
	c := res.Card
	if c.Style != StyleCredit || c.Title != "💰 Money Received" || c.Note != "Credited to your account" {
		t.Errorf("unexpected credit card: %+v", c)
	}
	if c.CounterpartyLabel != "From" || c.Counterparty != "Bob" {
		t.Errorf("counterparty = %s %s", c.CounterpartyLabel, c.Counterparty)
	}
	if c.UpiID != "" {
		t.Error("received cards do not show the UPI id")
	}
	if c.Amount != "₹1,500.5" {
		t.Errorf("amount = %q", c.Amount)
	}
	if c.Time != "18 Oct, 04:34 pm" {
		t.Errorf("time = %q", c.Time)
	}
}

func TestRender_SentCard(t *testing.T) {
	raw := `{"payment_details":{"amount":500,"recipient_name":"Alice","recipient_upi":"alice@upi","transaction_id":"pay_123","direction":"sent"}}`
	c := New(ist).Render(json.RawMessage(raw)).Card
	if c == nil {
		t.Fatal("expected card")
	}
	if c.Style != StyleDebit || c.Title != "💸 Payment Sent" || c.Note != "Debited from your account" {
		t.Errorf("unexpected debit card: %+v", c)
	}
	if c.Counterparty != "Alice" || c.UpiID != "alice@upi" {
		t.Errorf("counterparty=%q upi=%q", c.Counterparty, c.UpiID)
	}
	if c.Time != "" {
		t.Errorf("no timestamp should leave time empty, got %q", c.Time)
	}

	text := c.Text()
	for _, want := range []string{"💸 Payment Sent", "₹500", "To", "Alice", "UPI ID", "alice@upi", "pay_123", "✅ Completed Successfully", "Powered by ChatSphere Pay"} {
		if !strings.Contains(text, want) {
			t.Errorf("card text missing %q:\n%s", want, text)
		}
	}
}

func TestRender_LegacyTypeKey(t *testing.T) {
	raw := `{"payment_details":{"amount":10,"sender_name":"Bob","type":"received"}}`
	c := New(ist).Render(json.RawMessage(raw)).Card
	if c == nil || c.Style != StyleCredit {
		t.Fatalf("legacy type key should select the credit card, got %+v", c)
	}

	raw = `{"payment_details":{"amount":10,"type":"received","direction":"sent"}}`
	if c := New(ist).Render(json.RawMessage(raw)).Card; c.Style != StyleDebit {
		t.Error("direction takes precedence over type")
	}
}

func TestRender_UnknownDirectionIsDebit(t *testing.T) {
	raw := `{"payment_details":{"amount":10,"direction":"sideways"}}`
	if c := New(ist).Render(json.RawMessage(raw)).Card; c == nil || c.Style != StyleDebit {
		t.Fatalf("got %+v", c)
	}
}

func TestRenderMessage(t *testing.T) {
	r := New(ist)
	if res := r.RenderMessage(domain.ChatMessage{Text: "hi"}); res.Kind != KindNone {
		t.Errorf("kind = %s", res.Kind)
	}

	amount, _ := domain.ParseAmount("250")
	ev := domain.PaymentEvent{Amount: amount, SenderName: "Bob", PaymentID: "pay_9", Direction: domain.DirectionReceived}
	res := r.RenderMessage(domain.ChatMessage{PaymentDetails: &ev})
	if res.Kind != KindCard || res.Card.Counterparty != "Bob" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestRender_RoundTripsDispatchedMessage(t *testing.T) {
	amount, _ := domain.ParseAmount("500")
	ev := domain.PaymentEvent{
		Amount:        amount,
		RecipientName: "Alice",
		PaymentID:     "pay_123",
		Timestamp:     time.Date(2026, 10, 18, 11, 4, 0, 0, time.UTC),
		SenderName:    "Bob",
		Status:        domain.StatusCompleted,
		Direction:     domain.DirectionReceived,
	}
	raw, err := json.Marshal(domain.ChatMessage{Text: "x", Type: domain.TypePaymentNotification, PaymentDetails: &ev})
	if err != nil {
		t.Fatal(err)
	}
	res := Render(raw)
	if res.Kind != KindCard || res.Card.TransactionID != "pay_123" || res.Card.Amount != "₹500" {
		t.Errorf("unexpected result: %+v", res.Card)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := map[string]string{
		"0":          "₹0",
		"999":        "₹999",
		"1000":       "₹1,000",
		"1234567.89": "₹1,234,567.89",
		"-42.5":      "-₹42.5",

		"100000000000000000000.25": "₹100,000,000,000,000,000,000.25",
	}
	for in, want := range tests {
		a, err := domain.ParseAmount(in)
		if err != nil {
			t.Fatal(err)
		}
		if got := formatAmount(a); got != want {
			t.Errorf("formatAmount(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestRender_AmountBeyondInt64(t *testing.T) {
	raw := `{"payment_details":{"amount":100000000000000000000,"recipient_name":"Alice","transaction_id":"pay_1"}}`
	res := New(ist).Render(json.RawMessage(raw))
	if res.Kind != KindCard {
		t.Fatalf("kind = %s (%v)", res.Kind, res.Err)
	}
	if want := "₹100,000,000,000,000,000,000"; res.Card.Amount != want {
		t.Errorf("amount = %q, want %q", res.Card.Amount, want)
	}
}
