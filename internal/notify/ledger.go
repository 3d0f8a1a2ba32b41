package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"paychat/internal/domain"
)

// Stage identifies one of the two messages derived from a payment.
type Stage string

const (
	StageConfirmation Stage = "confirmation"
	StageNotification Stage = "notification"
)

// DispatchStatus is the delivery state of one stage.
type DispatchStatus string

const (
	StatusPending   DispatchStatus = "pending"
	StatusSent      DispatchStatus = "sent"
	StatusFailed    DispatchStatus = "failed"
	StatusCancelled DispatchStatus = "cancelled"
)

// ErrUnknownPayment is returned by a Ledger for payment ids it never recorded.
var ErrUnknownPayment = errors.New("unknown payment")

// PaymentRecord is a payment as remembered by the ledger.
type PaymentRecord struct {
	Event     domain.PaymentEvent `json:"event"`
	ChatID    string              `json:"chat_id"`
	CreatedAt time.Time           `json:"created_at"`
}

// DispatchRecord is the delivery state of one stage of one payment.
type DispatchRecord struct {
	PaymentID string         `json:"payment_id"`
	Stage     Stage          `json:"stage"`
	Status    DispatchStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Ledger remembers payments and which of their messages were delivered, so a
// replayed dispatch never sends the same stage twice.
type Ledger interface {
	RecordPayment(ctx context.Context, chatID string, ev domain.PaymentEvent) error
	Payment(ctx context.Context, paymentID string) (PaymentRecord, error)
	// Claim marks a stage pending for a new attempt. It returns false when the
	// stage is already sent or pending.
	Claim(ctx context.Context, paymentID string, stage Stage, messageID string) (bool, error)
	Complete(ctx context.Context, paymentID string, stage Stage) error
	Fail(ctx context.Context, paymentID string, stage Stage, cause error) error
	Cancel(ctx context.Context, paymentID string, stage Stage) error
	Dispatches(ctx context.Context, paymentID string) ([]DispatchRecord, error)
}

// claimable reports whether a stage in the given state may be attempted again.
func claimable(s DispatchStatus) bool {
	return s == StatusFailed || s == StatusCancelled
}

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu         sync.Mutex
	payments   map[string]PaymentRecord
	dispatches map[string]map[Stage]*DispatchRecord
	now        func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		payments:   make(map[string]PaymentRecord),
		dispatches: make(map[string]map[Stage]*DispatchRecord),
		now:        time.Now,
	}
}

func (l *MemoryLedger) RecordPayment(_ context.Context, chatID string, ev domain.PaymentEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.payments[ev.PaymentID]; ok {
		return nil
	}
	l.payments[ev.PaymentID] = PaymentRecord{Event: ev, ChatID: chatID, CreatedAt: l.now()}
	return nil
}

func (l *MemoryLedger) Payment(_ context.Context, paymentID string) (PaymentRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.payments[paymentID]
	if !ok {
		return PaymentRecord{}, ErrUnknownPayment
	}
	return rec, nil
}

func (l *MemoryLedger) Claim(_ context.Context, paymentID string, stage Stage, messageID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stages, ok := l.dispatches[paymentID]
	if !ok {
		stages = make(map[Stage]*DispatchRecord)
		l.dispatches[paymentID] = stages
	}
	rec, ok := stages[stage]
	if ok && !claimable(rec.Status) {
		return false, nil
	}
	if !ok {
		rec = &DispatchRecord{PaymentID: paymentID, Stage: stage}
		stages[stage] = rec
	}
	rec.Status = StatusPending
	rec.Attempts++
	rec.MessageID = messageID
	rec.UpdatedAt = l.now()
	return true, nil
}

func (l *MemoryLedger) Complete(_ context.Context, paymentID string, stage Stage) error {
	return l.set(paymentID, stage, StatusSent, "")
}

func (l *MemoryLedger) Fail(_ context.Context, paymentID string, stage Stage, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return l.set(paymentID, stage, StatusFailed, msg)
}

func (l *MemoryLedger) Cancel(_ context.Context, paymentID string, stage Stage) error {
	return l.set(paymentID, stage, StatusCancelled, "")
}

func (l *MemoryLedger) set(paymentID string, stage Stage, status DispatchStatus, lastErr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.dispatches[paymentID][stage]
	if !ok {
		return ErrUnknownPayment
	}
	rec.Status = status
	if lastErr != "" {
		rec.LastError = lastErr
	}
	rec.UpdatedAt = l.now()
	return nil
}

func (l *MemoryLedger) Dispatches(_ context.Context, paymentID string) ([]DispatchRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stages, ok := l.dispatches[paymentID]
	if !ok {
		if _, known := l.payments[paymentID]; !known {
			return nil, ErrUnknownPayment
		}
		return nil, nil
	}
	var out []DispatchRecord
	for _, st := range []Stage{StageConfirmation, StageNotification} {
		if rec, ok := stages[st]; ok {
			out = append(out, *rec)
		}
	}
	return out, nil
}
