package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"paychat/internal/domain"
	"paychat/internal/render"
)

// CLI prints chat messages to a terminal. Payment messages are shown as the
// rendered card under the message text.
type CLI struct {
	out      io.Writer
	renderer *render.Renderer
	logger   *slog.Logger
	mu       sync.Mutex
}

type CLIConfig struct {
	Out      io.Writer
	Renderer *render.Renderer
	Logger   *slog.Logger
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.New(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{out: cfg.Out, renderer: cfg.Renderer, logger: cfg.Logger}
}

func (c *CLI) Name() string { return "cli" }

func (c *CLI) Start(context.Context) error { return nil }

func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(_ context.Context, chatID string, msg domain.ChatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintf(c.out, "--- %s ---\n", chatID); err != nil {
		return fmt.Errorf("cli write: %w", err)
	}
	if text := messageText(msg); text != "" {
		fmt.Fprintln(c.out, text)
	}
	if res := c.renderer.RenderMessage(msg); res.Kind != render.KindNone {
		fmt.Fprintln(c.out)
		fmt.Fprintln(c.out, res.Text())
	}
	_, err := fmt.Fprintln(c.out, "----------------")
	return err
}
