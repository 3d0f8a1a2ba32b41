package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"paychat/internal/domain"
)

// Registry holds the enabled transports by name.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]domain.Channel
	started  []domain.Channel
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels: make(map[string]domain.Channel),
		logger:   logger,
	}
}

func (r *Registry) Register(ch domain.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Name()] = ch
	r.logger.Debug("registered channel", "name", ch.Name())
}

func (r *Registry) Get(name string) domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[name]
}

// Conversation binds the named transport to chatID.
func (r *Registry) Conversation(name, chatID string) (domain.Conversation, error) {
	ch := r.Get(name)
	if ch == nil {
		return nil, fmt.Errorf("unknown channel: %s (available: %v)", name, r.Names())
	}
	return Bind(ch, chatID), nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for n := range r.channels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// StartAll starts every registered transport in name order. On failure the
// ones already started are stopped again.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.channels))
	for n := range r.channels {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		ch := r.channels[n]
		if err := ch.Start(ctx); err != nil {
			r.stopStarted()
			return fmt.Errorf("start channel %s: %w", n, err)
		}
		r.started = append(r.started, ch)
		r.logger.Info("channel started", "name", n)
	}
	return nil
}

// Start starts a single transport, for commands that only talk to one.
func (r *Registry) Start(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	if !ok {
		return fmt.Errorf("unknown channel: %s", name)
	}
	for _, s := range r.started {
		if s == ch {
			return nil
		}
	}
	if err := ch.Start(ctx); err != nil {
		return fmt.Errorf("start channel %s: %w", name, err)
	}
	r.started = append(r.started, ch)
	r.logger.Info("channel started", "name", name)
	return nil
}

// StopAll stops started transports in reverse start order.
func (r *Registry) StopAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopStarted()
}

func (r *Registry) stopStarted() error {
	var errs []error
	for i := len(r.started) - 1; i >= 0; i-- {
		ch := r.started[i]
		if err := ch.Stop(); err != nil {
			r.logger.Warn("channel stop failed", "name", ch.Name(), "err", err)
			errs = append(errs, fmt.Errorf("stop channel %s: %w", ch.Name(), err))
		}
	}
	r.started = nil
	return errors.Join(errs...)
}
