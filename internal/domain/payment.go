package domain

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells whose perspective a payment record is presented from.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// PaymentStatus of a verified payment. Only completed payments become events.
type PaymentStatus string

const StatusCompleted PaymentStatus = "completed"

// CurrencySymbol is prefixed to amounts in human-readable text.
const CurrencySymbol = "₹"

// Amount is an exact decimal amount in major currency units. It encodes to a
// JSON number and decodes from either a number or a numeric string.
type Amount struct {
	decimal.Decimal
}

// ParseAmount parses a decimal string such as "500" or "12.50".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{Decimal: d}, nil
}

// NewAmount wraps a decimal.
func NewAmount(d decimal.Decimal) Amount { return Amount{Decimal: d} }

// AmountFromMinor converts minor units (paise) to an Amount.
func AmountFromMinor(minor int64) Amount {
	return Amount{Decimal: decimal.New(minor, -2)}
}

var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// FitsMinorUnits reports whether the amount in minor units fits an int64.
// Gateways take integral paise, so larger amounts cannot be charged.
func (a Amount) FitsMinorUnits() bool {
	return a.Abs().Shift(2).Round(0).LessThanOrEqual(maxMinorUnits)
}

// MinorUnits returns the amount in minor units, rounded half away from zero.
// The result is only meaningful when FitsMinorUnits is true.
func (a Amount) MinorUnits() int64 {
	return a.Shift(2).Round(0).IntPart()
}

func (a Amount) String() string { return a.Decimal.String() }

// Display renders the amount with the currency symbol, e.g. "₹500".
func (a Amount) Display() string { return CurrencySymbol + a.String() }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		a.Decimal = decimal.Zero
		return nil
	}
	s := strings.Trim(string(data), `"`)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid amount %s: %w", data, err)
	}
	a.Decimal = d
	return nil
}

// PaymentIntent is the user-entered payment request before gateway submission.
type PaymentIntent struct {
	Amount         string `json:"amount" validate:"required"`
	UpiOrAccountID string `json:"upi_id" validate:"required"`
	RecipientName  string `json:"recipient_name" validate:"required"`
}

// Trimmed returns a copy with surrounding whitespace removed from every field.
func (p PaymentIntent) Trimmed() PaymentIntent {
	return PaymentIntent{
		Amount:         strings.TrimSpace(p.Amount),
		UpiOrAccountID: strings.TrimSpace(p.UpiOrAccountID),
		RecipientName:  strings.TrimSpace(p.RecipientName),
	}
}

// PaymentEvent is a normalized, verified payment fact. The JSON keys match the
// payload existing chat clients already render.
type PaymentEvent struct {
	Amount        Amount        `json:"amount"`
	RecipientName string        `json:"recipient_name"`
	UpiID         string        `json:"recipient_upi,omitempty"`
	PaymentID     string        `json:"transaction_id"`
	OrderID       string        `json:"order_id"`
	Timestamp     time.Time     `json:"timestamp"`
	SenderName    string        `json:"sender_name"`
	Status        PaymentStatus `json:"status"`
	Direction     Direction     `json:"direction"`
}

// As returns a copy of the event presented from the given perspective.
func (e PaymentEvent) As(d Direction) PaymentEvent {
	e.Direction = d
	return e
}

// Identity is the locally known signed-in user.
type Identity struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Email    string `json:"email,omitempty"`
}
