package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"paychat/internal/domain"
)

// ErrNoSubscribers is returned when no client is connected to the chat.
var ErrNoSubscribers = errors.New("no websocket client subscribed to chat")

// WSConfig configures the WebSocket channel.
type WSConfig struct {
	Addr   string // listen address (default: ":8081")
	Path   string // WebSocket endpoint path (default: /ws)
	Logger *slog.Logger
}

// WebSocketChannel pushes chat messages to connected chat clients.
type WebSocketChannel struct {
	addr   string
	path   string
	logger *slog.Logger
	server *http.Server
	ln     net.Listener

	mu      sync.RWMutex
	clients map[string]*wsClient
}

type wsClient struct {
	conn   *websocket.Conn
	chatID string
	mu     sync.Mutex
}

// WSMessage is the JSON frame sent to clients.
type WSMessage struct {
	Type    string              `json:"type"` // "message" | "status"
	ChatID  string              `json:"chat_id,omitempty"`
	Content string              `json:"content,omitempty"`
	Message *domain.ChatMessage `json:"message,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewWebSocketChannel(cfg WSConfig) *WebSocketChannel {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8081"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebSocketChannel{
		addr:    cfg.Addr,
		path:    cfg.Path,
		logger:  cfg.Logger,
		clients: make(map[string]*wsClient),
	}
}

func (ws *WebSocketChannel) Name() string { return "websocket" }

// Start listens and serves in the background until ctx ends or Stop.
func (ws *WebSocketChannel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(ws.path, ws.Handler())
	ws.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", ws.addr)
	if err != nil {
		return fmt.Errorf("websocket listen: %w", err)
	}
	ws.ln = ln
	ws.logger.Info("websocket server listening", "addr", ln.Addr().String(), "path", ws.path)

	go func() {
		if err := ws.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ws.logger.Error("websocket server stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		ws.Stop()
	}()
	return nil
}

// Addr is the bound listen address once started.
func (ws *WebSocketChannel) Addr() string {
	if ws.ln == nil {
		return ws.addr
	}
	return ws.ln.Addr().String()
}

func (ws *WebSocketChannel) Stop() error {
	ws.closeAllClients()
	if ws.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ws.server.Shutdown(shutdownCtx)
}

// Handler upgrades requests; clients pick their chat with ?chat_id=.
func (ws *WebSocketChannel) Handler() http.Handler {
	return http.HandlerFunc(ws.handleUpgrade)
}

func (ws *WebSocketChannel) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	client := &wsClient{conn: conn, chatID: chatID}
	clientID := fmt.Sprintf("%s-%p", chatID, conn)
	ws.mu.Lock()
	ws.clients[clientID] = client
	ws.mu.Unlock()

	ws.logger.Info("websocket client connected", "client_id", clientID, "chat_id", chatID)
	client.send(WSMessage{Type: "status", Content: "connected", ChatID: chatID})

	defer func() {
		ws.mu.Lock()
		delete(ws.clients, clientID)
		ws.mu.Unlock()
		conn.Close()
		ws.logger.Info("websocket client disconnected", "client_id", clientID)
	}()

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Debug("websocket read error", "err", err)
			}
			return
		}
	}
}

// Send pushes the full message to every client subscribed to chatID.
func (ws *WebSocketChannel) Send(_ context.Context, chatID string, msg domain.ChatMessage) error {
	data, err := json.Marshal(WSMessage{Type: "message", ChatID: chatID, Message: &msg})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	ws.mu.RLock()
	var targets []*wsClient
	for _, c := range ws.clients {
		if c.chatID == chatID {
			targets = append(targets, c)
		}
	}
	ws.mu.RUnlock()

	if len(targets) == 0 {
		return ErrNoSubscribers
	}
	var delivered int
	var lastErr error
	for _, c := range targets {
		if err := c.write(data); err != nil {
			lastErr = err
			ws.logger.Debug("websocket write failed", "chat_id", chatID, "err", err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("websocket send: %w", lastErr)
	}
	return nil
}

// Subscribers reports how many clients are connected to chatID.
func (ws *WebSocketChannel) Subscribers(chatID string) int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	n := 0
	for _, c := range ws.clients {
		if c.chatID == chatID {
			n++
		}
	}
	return n
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) send(msg WSMessage) {
	data, _ := json.Marshal(msg)
	c.write(data)
}

func (ws *WebSocketChannel) closeAllClients() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for id, client := range ws.clients {
		client.conn.Close()
		delete(ws.clients, id)
	}
}
