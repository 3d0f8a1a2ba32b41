package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"time"

	"paychat/internal/browser"
	"paychat/internal/bus"
	"paychat/internal/channel"
	"paychat/internal/config"
	"paychat/internal/domain"
	"paychat/internal/gateway"
	"paychat/internal/metrics"
	"paychat/internal/notify"
	"paychat/internal/render"
	"paychat/internal/store"

	"github.com/redis/go-redis/v9"
)

// app holds the components built from one config: the event bus, ledger,
// dispatcher and the registered chat transports.
type app struct {
	cfg        *config.Config
	out        io.Writer
	events     *bus.EventBus
	metrics    *metrics.MetricsCollector
	ledger     notify.Ledger
	store      *store.Ledger // nil when the ledger is in memory
	renderer   *render.Renderer
	dispatcher *notify.Dispatcher
	channels   *channel.Registry
	websocket  *channel.WebSocketChannel
	webhook    *channel.Webhook

	closers []func() error
}

func newApp(cfg *config.Config, out io.Writer) (*app, error) {
	if out == nil {
		out = os.Stdout
	}
	a := &app{
		cfg:      cfg,
		out:      out,
		events:   bus.NewEventBus(logger),
		metrics:  metrics.NewMetricsCollector(),
		renderer: render.New(domain.LoadDisplayLocation(cfg.Render.TimeZone)),
	}
	detach := metrics.NewPaymentMetrics(a.metrics).Attach(a.events)
	a.closers = append(a.closers, func() error {
		detach()
		return nil
	})
	if rc := cfg.Events.Redis; rc.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		detachStream := bus.NewStreamSink(bus.StreamConfig{
			Client: rdb,
			Stream: rc.Stream,
			MaxLen: rc.MaxLen,
			Logger: logger,
		}).Attach(a.events)
		a.closers = append(a.closers, rdb.Close, func() error {
			detachStream()
			return nil
		})
	}

	if cfg.Store.Enabled {
		db, err := store.Open(cfg.Store.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		a.store = db
		a.ledger = db
		a.closers = append(a.closers, db.Close)
	} else {
		a.ledger = notify.NewMemoryLedger()
	}

	a.dispatcher = notify.NewDispatcher(notify.Config{
		Delay:    time.Duration(cfg.Dispatch.DelayMs) * time.Millisecond,
		Ledger:   a.ledger,
		Events:   a.events,
		Location: domain.LoadDisplayLocation(cfg.Render.TimeZone),
		Logger:   logger,
	})
	a.channels = a.buildChannels()
	return a, nil
}

func (a *app) buildChannels() *channel.Registry {
	cc := a.cfg.Channels
	reg := channel.NewRegistry(logger)
	reg.Register(channel.NewMemory())
	if cc.CLI.Enabled {
		reg.Register(channel.NewCLI(channel.CLIConfig{Out: a.out, Renderer: a.renderer, Logger: logger}))
	}
	if cc.Telegram.Enabled {
		reg.Register(channel.NewTelegram(channel.TelegramConfig{
			Token:     cc.Telegram.Token,
			ParseMode: cc.Telegram.ParseMode,
			Logger:    logger,
		}))
	}
	if cc.Slack.Enabled {
		reg.Register(channel.NewSlack(channel.SlackConfig{BotToken: cc.Slack.BotToken, Logger: logger}))
	}
	if cc.Discord.Enabled {
		reg.Register(channel.NewDiscord(channel.DiscordConfig{
			Token:   cc.Discord.Token,
			GuildID: cc.Discord.GuildID,
			Logger:  logger,
		}))
	}
	if cc.WebSocket.Enabled {
		a.websocket = channel.NewWebSocketChannel(channel.WSConfig{
			Addr:   cc.WebSocket.Addr,
			Path:   cc.WebSocket.Path,
			Logger: logger,
		})
		reg.Register(a.websocket)
	}
	if cc.Webhook.Enabled {
		a.webhook = channel.NewWebhook(channel.WebhookConfig{
			URL:       cc.Webhook.URL,
			Secret:    cc.Webhook.Secret,
			Addr:      cc.Webhook.Addr,
			Path:      cc.Webhook.Path,
			Renderer:  a.renderer,
			OnReceive: a.webhookReceived,
			Logger:    logger,
		})
		reg.Register(a.webhook)
	}
	return reg
}

// webhookReceived prints inbound deliveries the way the terminal transport
// shows outbound ones.
func (a *app) webhookReceived(d channel.WebhookDelivery, res render.Result) {
	a.events.Publish("webhook", bus.EventWebhookReceived, map[string]any{
		"chat_id":    d.ChatID,
		"message_id": d.Message.ID,
		"kind":       res.Kind.String(),
	})
	fmt.Fprintf(a.out, "<<< %s\n%s\n", d.ChatID, res.Text())
}

// conversation resolves the transport and chat for a command, falling back to
// dispatch.channel and dispatch.chatId.
func (a *app) conversation(name, chatID string) (domain.Conversation, error) {
	if name == "" {
		name = a.cfg.Dispatch.Channel
	}
	if chatID == "" {
		chatID = a.cfg.Dispatch.ChatID
	}
	if chatID == "" {
		if name != "cli" && name != "memory" {
			return nil, fmt.Errorf("channel %s needs a chat id (--chat or dispatch.chatId)", name)
		}
		chatID = "terminal"
	}
	return a.channels.Conversation(name, chatID)
}

// gatewayClient builds the gateway client. simulate replaces the browser checkout
// with one that signs its own credentials.
func (a *app) gatewayClient(simulate bool, outcome domain.CheckoutStatus) (domain.GatewayClient, error) {
	gc := a.cfg.Gateway
	backend, err := gateway.NewBackend(gateway.BackendConfig{
		BaseURL: a.cfg.Backend.BaseURL,
		Timeout: time.Duration(a.cfg.Backend.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	if simulate || gc.Mode == "simulated" {
		secret := gc.KeySecret
		if secret == "" {
			secret = a.cfg.Server.RazorpayKeySecret
		}
		if secret == "" {
			return nil, errors.New("simulated checkout needs gateway.keySecret")
		}
		return gateway.NewAdapter(backend, &gateway.SimulatedCheckout{KeySecret: secret, Outcome: outcome}), nil
	}

	pageURL := gc.PageURL
	if pageURL == "" {
		pageURL = checkoutPageURL(a.cfg.Backend.BaseURL)
	}
	checkout := gateway.NewBrowserCheckout(gateway.CheckoutConfig{
		PageURL:      pageURL,
		ScriptURL:    gc.ScriptURL,
		KeyID:        gc.KeyID,
		MerchantName: gc.MerchantName,
		ThemeColor:   gc.ThemeColor,
		Bridge: browser.NewBridge(browser.BridgeConfig{
			ProfileDir: gc.ProfileDir,
			Headless:   gc.Headless,
			ExecPath:   gc.ChromePath,
			Logger:     logger,
		}),
		Logger: logger,
	})
	a.closers = append(a.closers, checkout.Close)
	return gateway.NewAdapter(backend, checkout), nil
}

// checkoutPageURL is the blank page served next to the backend API.
func checkoutPageURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "about:blank"
	}
	u.Path = "/checkout"
	u.RawQuery = ""
	return u.String()
}

// close cancels pending notifications before stopping the transports.
func (a *app) close() error {
	errs := []error{a.dispatcher.Close(), a.channels.StopAll()}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
