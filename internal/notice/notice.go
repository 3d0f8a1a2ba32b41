// Package notice shows the short success and error notices of the payment
// flow.
package notice

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"paychat/internal/domain"
)

// Terminal prints notices as single lines.
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
}

func NewTerminal(out io.Writer) *Terminal {
	if out == nil {
		out = os.Stderr
	}
	return &Terminal{out: out}
}

func (t *Terminal) Success(msg string) { t.print("✔", msg) }

func (t *Terminal) Error(msg string) { t.print("✖", msg) }

func (t *Terminal) print(mark, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "%s %s\n", mark, msg)
}

// Log records notices in the log, for headless runs.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Success(msg string) { l.logger.Info("notice", "kind", "success", "text", msg) }

func (l *Log) Error(msg string) { l.logger.Warn("notice", "kind", "error", "text", msg) }

// Multi fans notices out to several notifiers.
type Multi []domain.Notifier

func (m Multi) Success(msg string) {
	for _, n := range m {
		n.Success(msg)
	}
}

func (m Multi) Error(msg string) {
	for _, n := range m {
		n.Error(msg)
	}
}

// Recorder keeps notices in memory.
type Recorder struct {
	mu        sync.Mutex
	successes []string
	errors    []string
}

func (r *Recorder) Success(msg string) {
	r.mu.Lock()
	r.successes = append(r.successes, msg)
	r.mu.Unlock()
}

func (r *Recorder) Error(msg string) {
	r.mu.Lock()
	r.errors = append(r.errors, msg)
	r.mu.Unlock()
}

func (r *Recorder) Successes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.successes...)
}

func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}
