package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"paychat/internal/domain"
	"paychat/internal/render"
)

const signatureHeader = "X-Signature-256"

// WebhookConfig configures the webhook channel. URL is where outbound
// messages are posted; Addr, when set, serves the inbound receiver.
type WebhookConfig struct {
	URL      string
	Secret   string // HMAC secret for signing and verifying deliveries
	Addr     string // e.g. ":9090"
	Path     string // inbound path (default: /webhook)
	Client   *http.Client
	Renderer *render.Renderer
	// OnReceive is called for every verified inbound delivery.
	OnReceive func(d WebhookDelivery, res render.Result)
	Logger    *slog.Logger
}

// WebhookDelivery is the signed JSON body exchanged between peers.
type WebhookDelivery struct {
	ChatID  string             `json:"chat_id"`
	Message domain.ChatMessage `json:"message"`
	SentAt  time.Time          `json:"sent_at"`
}

// Webhook delivers chat messages as signed HTTP POSTs and receives them the
// same way.
type Webhook struct {
	url       string
	secret    string
	addr      string
	path      string
	client    *http.Client
	renderer  *render.Renderer
	onReceive func(WebhookDelivery, render.Result)
	logger    *slog.Logger
	server    *http.Server
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.New(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		url:       cfg.URL,
		secret:    cfg.Secret,
		addr:      cfg.Addr,
		path:      cfg.Path,
		client:    cfg.Client,
		renderer:  cfg.Renderer,
		onReceive: cfg.OnReceive,
		logger:    cfg.Logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Start serves the inbound receiver when an address is configured.
func (w *Webhook) Start(ctx context.Context) error {
	if w.addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(w.path, w.Handler())
	w.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("webhook listen: %w", err)
	}
	w.logger.Info("webhook receiver listening", "addr", ln.Addr().String(), "path", w.path)

	go func() {
		if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("webhook server stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

func (w *Webhook) Stop() error {
	if w.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.server.Shutdown(shutdownCtx)
}

// Send posts the message to the configured URL, signed with the secret.
func (w *Webhook) Send(ctx context.Context, chatID string, msg domain.ChatMessage) error {
	if w.url == "" {
		return fmt.Errorf("webhook url not configured")
	}
	body, err := json.Marshal(WebhookDelivery{ChatID: chatID, Message: msg, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(signatureHeader, signHMAC(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook post: HTTP %d", resp.StatusCode)
	}
	w.logger.Debug("webhook delivered", "chat_id", chatID, "message_id", msg.ID)
	return nil
}

// Handler verifies and renders inbound deliveries.
func (w *Webhook) Handler() http.Handler {
	return http.HandlerFunc(w.handleWebhook)
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get(signatureHeader)
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var envelope struct {
		ChatID  string          `json:"chat_id"`
		Message json.RawMessage `json:"message"`
		SentAt  time.Time       `json:"sent_at"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Message) == 0 {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	// Rendering works on the raw message so malformed payment details still
	// produce a fallback instead of a rejected delivery.
	res := w.renderer.Render(envelope.Message)
	delivery := WebhookDelivery{ChatID: envelope.ChatID, SentAt: envelope.SentAt}
	if err := json.Unmarshal(envelope.Message, &delivery.Message); err != nil {
		delivery.Message = domain.ChatMessage{}
	}

	w.logger.Info("webhook received", "chat_id", delivery.ChatID, "kind", res.Kind.String())
	if w.onReceive != nil {
		w.onReceive(delivery, res)
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusAccepted)
	json.NewEncoder(rw).Encode(map[string]string{"status": "accepted", "kind": res.Kind.String()})
}

func signHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(signHMAC(body, secret)), []byte(signature))
}
