package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"paychat/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// telegramSender is the part of the bot API used to deliver messages.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers payment messages through a Telegram bot.
type Telegram struct {
	token     string
	parseMode string

	bot     *tgbotapi.BotAPI
	sender  telegramSender
	backoff func(attempt int) time.Duration
	logger  *slog.Logger
}

type TelegramConfig struct {
	Token     string
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		parseMode: cfg.ParseMode,
		backoff:   func(attempt int) time.Duration { return time.Duration(attempt+1) * time.Second },
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects the bot and answers /start with the chat id payments should
// be addressed to. Polling stops when ctx ends.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.sender = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				t.logger.Info("telegram channel stopping")
				bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(ctx, update)
			}
		}
	}()
	return nil
}

// Stop is a no-op: polling ends with Start's context. Calling
// StopReceivingUpdates twice panics.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.Chat == nil || !update.Message.IsCommand() {
		return
	}
	if update.Message.Command() != "start" {
		return
	}
	chatID := update.Message.Chat.ID
	text := fmt.Sprintf("👋 Payment notifications can be posted here.\n\nChat ID: %d", chatID)
	if err := t.sendText(ctx, chatID, text); err != nil {
		t.logger.Warn("telegram /start reply failed", "chat_id", chatID, "err", err)
	}
}

// Send posts the message text, split into chunks Telegram accepts.
func (t *Telegram) Send(ctx context.Context, chatID string, msg domain.ChatMessage) error {
	if t.sender == nil {
		return ErrNotStarted
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	return t.sendText(ctx, id, messageText(msg))
}

func (t *Telegram) sendText(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitText(text, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk sends one chunk: Markdown first, plain text when Telegram cannot
// parse the entities, with backoff on rate limits and transient errors.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, text string) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.sender.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		errStr := err.Error()

		if attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			if _, err2 := t.sender.Send(tgbotapi.NewMessage(chatID, text)); err2 == nil {
				return nil
			}
		}

		if attempt == telegramMaxSendRetries {
			break
		}
		wait := t.backoff(attempt)
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			wait *= 3
			t.logger.Warn("telegram rate limited, backing off", "retry_after", wait, "attempt", attempt+1)
		} else {
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	t.logger.Error("telegram send failed after retries", "err", lastErr, "attempts", telegramMaxSendRetries+1)
	return fmt.Errorf("telegram send: %w", lastErr)
}

// ErrNotStarted is returned by transports asked to send before Start.
var ErrNotStarted = errors.New("channel not started")
