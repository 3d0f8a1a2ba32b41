package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"paychat/internal/bus"
	"paychat/internal/domain"
)

// DefaultDelay separates the confirmation from the recipient notification.
const DefaultDelay = time.Second

var (
	ErrChannelUnavailable   = errors.New("chat conversation unavailable")
	ErrSenderUnavailable    = errors.New("sender identity unavailable")
	ErrNotificationCanceled = errors.New("payment notification cancelled")
	ErrNotificationPending  = errors.New("payment notification still pending")
	ErrDispatcherClosed     = errors.New("dispatcher closed")
)

// Config configures a Dispatcher.
type Config struct {
	Delay    time.Duration
	Ledger   Ledger
	Events   *bus.EventBus
	Location *time.Location
	Logger   *slog.Logger
	NewID    func() string
}

// Dispatcher turns a verified payment into its two chat messages: the
// confirmation immediately, the recipient notification after Delay.
type Dispatcher struct {
	delay    time.Duration
	ledger   Ledger
	events   *bus.EventBus
	location *time.Location
	logger   *slog.Logger
	newID    func() string

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Ledger == nil {
		cfg.Ledger = NewMemoryLedger()
	}
	if cfg.Location == nil {
		cfg.Location = domain.LoadDisplayLocation(domain.DefaultDisplayZone)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Dispatcher{
		delay:    cfg.Delay,
		ledger:   cfg.Ledger,
		events:   cfg.Events,
		location: cfg.Location,
		logger:   cfg.Logger,
		newID:    cfg.NewID,
		closing:  make(chan struct{}),
	}
}

// Task tracks the deferred recipient notification of one payment.
type Task struct {
	PaymentID string

	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

func newTask(paymentID string, cancel context.CancelFunc) *Task {
	if cancel == nil {
		cancel = func() {}
	}
	return &Task{PaymentID: paymentID, done: make(chan struct{}), cancel: cancel}
}

// resolvedTask is returned when the notification needs no new send.
func resolvedTask(paymentID string) *Task {
	t := newTask(paymentID, nil)
	close(t.done)
	return t
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Done is closed once the notification was sent, failed or was cancelled.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task resolves and returns its outcome.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Cancel stops the notification if it has not been sent yet.
func (t *Task) Cancel() { t.cancel() }

// Dispatch sends the confirmation through conv and schedules the
// notification. Cancelling ctx, cancelling the task or closing the
// Dispatcher before the delay elapses prevents the notification.
//
// A notification failure is not retried and is not returned to the caller of
// Dispatch; it is logged, recorded in the ledger and emitted on the bus.
func (d *Dispatcher) Dispatch(ctx context.Context, conv domain.Conversation, ev domain.PaymentEvent) (*Task, error) {
	if conv == nil {
		d.logger.Error("payment dispatch aborted: no conversation", "payment_id", ev.PaymentID)
		return nil, ErrChannelUnavailable
	}
	if ev.SenderName == "" {
		d.logger.Error("payment dispatch aborted: no sender", "payment_id", ev.PaymentID)
		return nil, ErrSenderUnavailable
	}
	if !d.acquire() {
		return nil, ErrDispatcherClosed
	}
	handedOff := false
	defer func() {
		if !handedOff {
			d.wg.Done()
		}
	}()

	lctx := context.WithoutCancel(ctx)
	if err := d.ledger.RecordPayment(lctx, conv.ID(), ev); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	if err := d.sendStage(ctx, conv, ev, StageConfirmation); err != nil {
		return nil, err
	}

	messageID := d.newID()
	claimed, err := d.ledger.Claim(lctx, ev.PaymentID, StageNotification, messageID)
	if err != nil {
		return nil, fmt.Errorf("claim notification: %w", err)
	}
	if !claimed {
		d.logger.Info("payment notification already handled", "payment_id", ev.PaymentID)
		return resolvedTask(ev.PaymentID), nil
	}

	taskCtx, cancel := context.WithCancel(ctx)
	task := newTask(ev.PaymentID, cancel)
	handedOff = true
	go d.runNotification(taskCtx, conv, ev, messageID, task)
	return task, nil
}

func (d *Dispatcher) runNotification(ctx context.Context, conv domain.Conversation, ev domain.PaymentEvent, messageID string, task *Task) {
	defer d.wg.Done()
	defer task.cancel()

	timer := time.NewTimer(d.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		d.cancelled(ev, "context")
		task.finish(ErrNotificationCanceled)
		return
	case <-d.closing:
		d.cancelled(ev, "shutdown")
		task.finish(ErrNotificationCanceled)
		return
	}

	task.finish(d.deliverNotification(ctx, conv, ev, messageID))
}

// Retry re-sends a notification that failed or was cancelled. A notification
// that was already delivered is not sent again.
func (d *Dispatcher) Retry(ctx context.Context, conv domain.Conversation, paymentID string) error {
	if conv == nil {
		return ErrChannelUnavailable
	}
	if !d.acquire() {
		return ErrDispatcherClosed
	}
	defer d.wg.Done()

	rec, err := d.ledger.Payment(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("load payment %s: %w", paymentID, err)
	}

	messageID := d.newID()
	claimed, err := d.ledger.Claim(ctx, paymentID, StageNotification, messageID)
	if err != nil {
		return fmt.Errorf("claim notification: %w", err)
	}
	if !claimed {
		dispatches, err := d.ledger.Dispatches(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("load dispatches: %w", err)
		}
		for _, dr := range dispatches {
			if dr.Stage == StageNotification && dr.Status == StatusPending {
				return ErrNotificationPending
			}
		}
		d.logger.Info("payment notification already delivered", "payment_id", paymentID)
		return nil
	}

	d.logger.Info("retrying payment notification", "payment_id", paymentID, "chat_id", conv.ID())
	return d.deliverNotification(ctx, conv, rec.Event, messageID)
}

// Close cancels every pending notification and waits for in-flight sends.
// No ledger write happens after Close returns.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.closing)
	}
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}

// acquire registers an in-flight operation unless the Dispatcher is closed.
func (d *Dispatcher) acquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.wg.Add(1)
	return true
}

func (d *Dispatcher) sendStage(ctx context.Context, conv domain.Conversation, ev domain.PaymentEvent, stage Stage) error {
	lctx := context.WithoutCancel(ctx)
	messageID := d.newID()
	claimed, err := d.ledger.Claim(lctx, ev.PaymentID, stage, messageID)
	if err != nil {
		return fmt.Errorf("claim %s: %w", stage, err)
	}
	if !claimed {
		d.logger.Info("payment message already handled", "payment_id", ev.PaymentID, "stage", stage)
		return nil
	}

	msg := domain.ChatMessage{
		ID:             messageID,
		Text:           ConfirmationText(ev, d.location),
		Type:           domain.TypePaymentConfirmation,
		PaymentDetails: eventPtr(ev.As(domain.DirectionSent)),
	}
	if err := conv.Send(ctx, msg); err != nil {
		d.logger.Error("payment confirmation failed", "payment_id", ev.PaymentID, "chat_id", conv.ID(), "err", err)
		d.record(d.ledger.Fail(lctx, ev.PaymentID, stage, err))
		return fmt.Errorf("send confirmation: %w", err)
	}
	d.record(d.ledger.Complete(lctx, ev.PaymentID, stage))
	d.sent(conv, ev, stage, messageID)
	return nil
}

func (d *Dispatcher) deliverNotification(ctx context.Context, conv domain.Conversation, ev domain.PaymentEvent, messageID string) error {
	lctx := context.WithoutCancel(ctx)
	msg := domain.ChatMessage{
		ID:             messageID,
		Text:           NotificationText(ev),
		Type:           domain.TypePaymentNotification,
		PaymentDetails: eventPtr(ev.As(domain.DirectionReceived)),
	}
	if err := conv.Send(ctx, msg); err != nil {
		d.logger.Warn("payment notification failed", "payment_id", ev.PaymentID, "chat_id", conv.ID(), "err", err)
		d.record(d.ledger.Fail(lctx, ev.PaymentID, StageNotification, err))
		d.emit(bus.EventNotificationFailed, map[string]any{
			"payment_id": ev.PaymentID,
			"chat_id":    conv.ID(),
			"error":      err.Error(),
		})
		return fmt.Errorf("send notification: %w", err)
	}
	d.record(d.ledger.Complete(lctx, ev.PaymentID, StageNotification))
	d.sent(conv, ev, StageNotification, messageID)
	return nil
}

func (d *Dispatcher) cancelled(ev domain.PaymentEvent, reason string) {
	d.logger.Info("payment notification cancelled", "payment_id", ev.PaymentID, "reason", reason)
	d.record(d.ledger.Cancel(context.Background(), ev.PaymentID, StageNotification))
	d.emit(bus.EventNotificationCancelled, map[string]any{"payment_id": ev.PaymentID, "reason": reason})
}

func (d *Dispatcher) sent(conv domain.Conversation, ev domain.PaymentEvent, stage Stage, messageID string) {
	d.logger.Info("payment message sent", "payment_id", ev.PaymentID, "stage", stage, "chat_id", conv.ID())
	d.emit(bus.EventMessageSent, map[string]any{
		"payment_id": ev.PaymentID,
		"stage":      string(stage),
		"chat_id":    conv.ID(),
		"message_id": messageID,
	})
}

func (d *Dispatcher) record(err error) {
	if err != nil {
		d.logger.Error("ledger write failed", "err", err)
	}
}

func (d *Dispatcher) emit(eventType string, payload map[string]any) {
	d.events.Publish("notify", eventType, payload)
}

func eventPtr(ev domain.PaymentEvent) *domain.PaymentEvent { return &ev }
