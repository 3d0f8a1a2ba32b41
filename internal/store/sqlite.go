package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"paychat/internal/domain"
	"paychat/internal/notify"
)

// Ledger is a SQLite-backed notify.Ledger.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ notify.Ledger = (*Ledger)(nil)

// Open opens (creating if needed) the ledger database at dbPath and brings
// its schema up to date.
func Open(dbPath string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &Ledger{db: db, logger: logger, now: time.Now}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) stamp() string {
	return l.now().UTC().Format(time.RFC3339Nano)
}

func parseStamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (l *Ledger) RecordPayment(ctx context.Context, chatID string, ev domain.PaymentEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode payment: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO payments (payment_id, order_id, amount, recipient_name, recipient_upi, sender_name, status, chat_id, event_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(payment_id) DO NOTHING`,
		ev.PaymentID, ev.OrderID, ev.Amount.String(), ev.RecipientName, ev.UpiID, ev.SenderName,
		string(ev.Status), chatID, string(data), l.stamp(),
	)
	if err != nil {
		return fmt.Errorf("insert payment %s: %w", ev.PaymentID, err)
	}
	return nil
}

func (l *Ledger) Payment(ctx context.Context, paymentID string) (notify.PaymentRecord, error) {
	row := l.db.QueryRowContext(ctx,
		"SELECT event_json, chat_id, created_at FROM payments WHERE payment_id = ?", paymentID)
	rec, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.PaymentRecord{}, notify.ErrUnknownPayment
	}
	return rec, err
}

// ListPayments returns the most recent payments first.
func (l *Ledger) ListPayments(ctx context.Context, limit int) ([]notify.PaymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		"SELECT event_json, chat_id, created_at FROM payments ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []notify.PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(s scanner) (notify.PaymentRecord, error) {
	var eventJSON, chatID, createdAt string
	if err := s.Scan(&eventJSON, &chatID, &createdAt); err != nil {
		return notify.PaymentRecord{}, err
	}
	var ev domain.PaymentEvent
	if err := json.Unmarshal([]byte(eventJSON), &ev); err != nil {
		return notify.PaymentRecord{}, fmt.Errorf("decode stored payment: %w", err)
	}
	return notify.PaymentRecord{Event: ev, ChatID: chatID, CreatedAt: parseStamp(createdAt)}, nil
}

func (l *Ledger) Claim(ctx context.Context, paymentID string, stage notify.Stage, messageID string) (bool, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM dispatches WHERE payment_id = ? AND stage = ?", paymentID, string(stage),
	).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO dispatches (payment_id, stage, status, attempts, message_id, updated_at)
			VALUES (?, ?, ?, 1, ?, ?)`,
			paymentID, string(stage), string(notify.StatusPending), messageID, l.stamp())
	case err != nil:
		return false, fmt.Errorf("load dispatch: %w", err)
	case status == string(notify.StatusFailed) || status == string(notify.StatusCancelled):
		_, err = tx.ExecContext(ctx, `
			UPDATE dispatches SET status = ?, attempts = attempts + 1, message_id = ?, updated_at = ?
			WHERE payment_id = ? AND stage = ?`,
			string(notify.StatusPending), messageID, l.stamp(), paymentID, string(stage))
	default:
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim %s/%s: %w", paymentID, stage, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit claim: %w", err)
	}
	return true, nil
}

func (l *Ledger) Complete(ctx context.Context, paymentID string, stage notify.Stage) error {
	return l.set(ctx, paymentID, stage, notify.StatusSent, nil)
}

func (l *Ledger) Fail(ctx context.Context, paymentID string, stage notify.Stage, cause error) error {
	return l.set(ctx, paymentID, stage, notify.StatusFailed, cause)
}

func (l *Ledger) Cancel(ctx context.Context, paymentID string, stage notify.Stage) error {
	return l.set(ctx, paymentID, stage, notify.StatusCancelled, nil)
}

func (l *Ledger) set(ctx context.Context, paymentID string, stage notify.Stage, status notify.DispatchStatus, cause error) error {
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	now := l.stamp()
	res, err := l.db.ExecContext(ctx, `
		UPDATE dispatches SET status = ?, last_error = CASE WHEN ? = '' THEN last_error ELSE ? END, updated_at = ?
		WHERE payment_id = ? AND stage = ?`,
		string(status), errText, errText, now, paymentID, string(stage))
	if err != nil {
		return fmt.Errorf("update dispatch %s/%s: %w", paymentID, stage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notify.ErrUnknownPayment
	}
	if _, err := l.db.ExecContext(ctx,
		"INSERT INTO dispatch_attempts (payment_id, stage, status, error, created_at) VALUES (?, ?, ?, ?, ?)",
		paymentID, string(stage), string(status), errText, now,
	); err != nil {
		l.logger.Warn("dispatch history not recorded", "payment_id", paymentID, "err", err)
	}
	return nil
}

func (l *Ledger) Dispatches(ctx context.Context, paymentID string) ([]notify.DispatchRecord, error) {
	if _, err := l.Payment(ctx, paymentID); err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT stage, status, attempts, last_error, message_id, updated_at
		FROM dispatches WHERE payment_id = ?
		ORDER BY CASE stage WHEN 'confirmation' THEN 0 ELSE 1 END`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	defer rows.Close()

	var out []notify.DispatchRecord
	for rows.Next() {
		var rec notify.DispatchRecord
		var stage, status, updatedAt string
		if err := rows.Scan(&stage, &status, &rec.Attempts, &rec.LastError, &rec.MessageID, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		rec.PaymentID = paymentID
		rec.Stage = notify.Stage(stage)
		rec.Status = notify.DispatchStatus(status)
		rec.UpdatedAt = parseStamp(updatedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Attempt is one entry of a payment's delivery history.
type Attempt struct {
	Stage     notify.Stage
	Status    notify.DispatchStatus
	Error     string
	CreatedAt time.Time
}

// History returns the delivery history of a payment, oldest first.
func (l *Ledger) History(ctx context.Context, paymentID string) ([]Attempt, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT stage, status, error, created_at FROM dispatch_attempts WHERE payment_id = ? ORDER BY id", paymentID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var stage, status, createdAt string
		if err := rows.Scan(&stage, &status, &a.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Stage = notify.Stage(stage)
		a.Status = notify.DispatchStatus(status)
		a.CreatedAt = parseStamp(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
