// Package render turns payment chat messages into summary cards.
package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"paychat/internal/domain"
)

// Kind discriminates a Result.
type Kind int

const (
	// KindNone means the message is not a payment message.
	KindNone Kind = iota
	KindCard
	KindFallback
)

func (k Kind) String() string {
	switch k {
	case KindCard:
		return "card"
	case KindFallback:
		return "fallback"
	default:
		return "none"
	}
}

// FallbackText is shown in place of a card whose details cannot be read.
const FallbackText = "❌ Error displaying payment message"

// Result is the outcome of rendering one chat message. Card is set for
// KindCard, Err for KindFallback.
type Result struct {
	Kind Kind
	Card *Card
	Err  error
}

// Text renders the result for a plain-text surface. KindNone yields "".
func (r Result) Text() string {
	switch r.Kind {
	case KindCard:
		return r.Card.Text()
	case KindFallback:
		return FallbackText
	default:
		return ""
	}
}

// Renderer renders payment details in a fixed display zone.
type Renderer struct {
	loc *time.Location
}

// New returns a Renderer for the given zone; nil means the default zone.
func New(loc *time.Location) *Renderer {
	if loc == nil {
		loc = domain.LoadDisplayLocation(domain.DefaultDisplayZone)
	}
	return &Renderer{loc: loc}
}

var defaultRenderer = New(nil)

// Render renders a raw chat message in the default zone.
func Render(raw json.RawMessage) Result { return defaultRenderer.Render(raw) }

// Render decodes a raw chat message and renders its payment details.
func (r *Renderer) Render(raw json.RawMessage) Result {
	var envelope struct {
		PaymentDetails json.RawMessage `json:"payment_details"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fallback(fmt.Errorf("decode message: %w", err))
	}
	return r.renderDetails(envelope.PaymentDetails)
}

// RenderMessage renders an already decoded chat message.
func (r *Renderer) RenderMessage(msg domain.ChatMessage) Result {
	if msg.PaymentDetails == nil {
		return Result{Kind: KindNone}
	}
	return r.card(*msg.PaymentDetails)
}

func (r *Renderer) renderDetails(raw json.RawMessage) Result {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Result{Kind: KindNone}
	}
	ev, err := decodeDetails(raw)
	if err != nil {
		return fallback(err)
	}
	return r.card(ev)
}

func fallback(err error) Result {
	return Result{Kind: KindFallback, Err: err}
}

// wireDetails mirrors the payload keys; timestamp is parsed separately so
// the formats older clients emit are accepted.
type wireDetails struct {
	Amount        *domain.Amount `json:"amount"`
	RecipientName string         `json:"recipient_name"`
	UpiID         string         `json:"recipient_upi"`
	PaymentID     string         `json:"transaction_id"`
	OrderID       string         `json:"order_id"`
	Timestamp     *string        `json:"timestamp"`
	SenderName    string         `json:"sender_name"`
	Status        string         `json:"status"`
	Direction     string         `json:"direction"`
	Type          string         `json:"type"`
}

var errMissingAmount = errors.New("payment details have no amount")

func decodeDetails(raw json.RawMessage) (domain.PaymentEvent, error) {
	if raw[0] != '{' {
		return domain.PaymentEvent{}, fmt.Errorf("payment details are not an object")
	}
	var w wireDetails
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("decode payment details: %w", err)
	}
	if w.Amount == nil {
		return domain.PaymentEvent{}, errMissingAmount
	}

	ev := domain.PaymentEvent{
		Amount:        *w.Amount,
		RecipientName: w.RecipientName,
		UpiID:         w.UpiID,
		PaymentID:     w.PaymentID,
		OrderID:       w.OrderID,
		SenderName:    w.SenderName,
		Status:        domain.PaymentStatus(w.Status),
		Direction:     domain.Direction(w.Direction),
	}
	if ev.Direction == "" {
		ev.Direction = domain.Direction(w.Type)
	}
	if w.Timestamp != nil && *w.Timestamp != "" {
		ts, err := parseFlexibleTime(*w.Timestamp)
		if err != nil {
			return domain.PaymentEvent{}, err
		}
		ev.Timestamp = ts
	}
	return ev, nil
}

func parseFlexibleTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp %q", s)
}

// Style is the visual treatment of a card.
type Style string

const (
	StyleCredit Style = "credit"
	StyleDebit  Style = "debit"
)

// Card is the rendered summary of one payment message.
type Card struct {
	Style             Style
	Title             string
	Amount            string
	Note              string
	CounterpartyLabel string
	Counterparty      string
	UpiID             string
	TransactionID     string
	Time              string
	Status            string
	Footer            string
}

func (r *Renderer) card(ev domain.PaymentEvent) Result {
	c := &Card{
		Amount:        formatAmount(ev.Amount),
		TransactionID: ev.PaymentID,
		Status:        "✅ Completed Successfully",
		Footer:        "Powered by ChatSphere Pay",
	}
	if !ev.Timestamp.IsZero() {
		c.Time = domain.FormatLocalTime(ev.Timestamp, r.loc, false)
	}
	if ev.Direction == domain.DirectionReceived {
		c.Style = StyleCredit
		c.Title = "💰 Money Received"
		c.Note = "Credited to your account"
		c.CounterpartyLabel = "From"
		c.Counterparty = ev.SenderName
	} else {
		c.Style = StyleDebit
		c.Title = "💸 Payment Sent"
		c.Note = "Debited from your account"
		c.CounterpartyLabel = "To"
		c.Counterparty = ev.RecipientName
		c.UpiID = ev.UpiID
	}
	return Result{Kind: KindCard, Card: c}
}

// formatAmount groups the integer part by thousands, e.g. "₹12,500.75".
func formatAmount(a domain.Amount) string {
	sign := ""
	if a.IsNegative() {
		sign = "-"
	}
	abs := a.Abs()
	s := humanize.BigComma(abs.Truncate(0).BigInt())
	if str := abs.String(); strings.Contains(str, ".") {
		s += str[strings.IndexByte(str, '.'):]
	}
	return sign + domain.CurrencySymbol + s
}

// Text lays the card out for terminals and plain-text chats.
func (c *Card) Text() string {
	var b strings.Builder
	b.WriteString(c.Title)
	if c.Time != "" {
		b.WriteString("  ·  " + c.Time)
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "  %s\n  %s\n\n", c.Amount, c.Note)
	fmt.Fprintf(&b, "  %-15s %s\n", c.CounterpartyLabel, c.Counterparty)
	if c.UpiID != "" {
		fmt.Fprintf(&b, "  %-15s %s\n", "UPI ID", c.UpiID)
	}
	fmt.Fprintf(&b, "  %-15s %s\n\n", "Transaction ID", c.TransactionID)
	fmt.Fprintf(&b, "  %s\n  %s\n", c.Status, c.Footer)
	return b.String()
}
