// Package backend is a development implementation of the payment backend:
// order creation, checkout signature verification and payment lookups.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"paychat/internal/domain"
	"paychat/internal/gateway"
	"paychat/internal/metrics"
)

// checkoutPage is the blank page the browser checkout injects its script into.
const checkoutPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>ChatSphere Pay</title></head>
<body style="font-family:sans-serif;display:flex;align-items:center;justify-content:center;height:100vh;margin:0">
<p>Opening secure checkout…</p>
</body></html>`

// Config wires the backend server.
type Config struct {
	Addr      string
	KeySecret string // verifies checkout signatures
	Currency  string
	Orders    OrderCreator
	Payments  PaymentFetcher
	// Metrics, when set, is served at MetricsPath.
	Metrics     *metrics.MetricsCollector
	MetricsPath string
	Logger      *slog.Logger
}

// Server serves the backend REST API under /api.
type Server struct {
	keySecret string
	currency  string
	orders    OrderCreator
	payments  PaymentFetcher
	logger    *slog.Logger
	router    *gin.Engine
	addr      string
	http      *http.Server

	ordersCreated *metrics.Counter
	verified      *metrics.Counter
	rejected      *metrics.Counter
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.KeySecret == "" {
		return nil, errors.New("backend: key secret is required")
	}
	if cfg.Orders == nil || cfg.Payments == nil {
		return nil, errors.New("backend: order and payment resources are required")
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		keySecret: cfg.KeySecret,
		currency:  cfg.Currency,
		orders:    cfg.Orders,
		payments:  cfg.Payments,
		logger:    cfg.Logger,
		addr:      cfg.Addr,
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/checkout", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(checkoutPage))
	})

	api := router.Group("/api/payment")
	{
		api.POST("/create-order", s.handleCreateOrder)
		api.POST("/verify", s.handleVerify)
		api.GET("/details/:id", s.handleDetails)
	}

	if cfg.Metrics != nil {
		router.GET(cfg.MetricsPath, gin.WrapF(cfg.Metrics.Handler()))
		s.ordersCreated = cfg.Metrics.Counter("backend_orders_created_total", "Orders minted by the backend", nil)
		s.verified = cfg.Metrics.Counter("backend_signatures_total", "Checkout signatures checked", metrics.Labels{"result": "valid"})
		s.rejected = cfg.Metrics.Counter("backend_signatures_total", "Checkout signatures checked", metrics.Labels{"result": "invalid"})
	}

	s.router = router
	return s, nil
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("backend listen: %w", err)
	}
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("backend listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
	}()
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("backend serve: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("backend request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

type createOrderRequest struct {
	Amount domain.Amount `json:"amount"`
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}
	if !req.Amount.IsPositive() || !req.Amount.FitsMinorUnits() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid amount"})
		return
	}

	minor := req.Amount.MinorUnits()
	order, err := s.orders.Create(map[string]interface{}{
		"amount":   minor,
		"currency": s.currency,
		"receipt":  "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
	}, nil)
	if err != nil {
		s.logger.Error("order creation failed", "amount", req.Amount.String(), "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": "Failed to create payment order"})
		return
	}

	out := domain.Order{
		ID:       stringField(order, "id"),
		Amount:   intField(order, "amount"),
		Currency: stringField(order, "currency"),
	}
	if out.Amount == 0 {
		out.Amount = minor
	}
	if out.Currency == "" {
		out.Currency = s.currency
	}
	if s.ordersCreated != nil {
		s.ordersCreated.Inc()
	}
	s.logger.Info("order created", "order_id", out.ID, "amount", out.Amount, "currency", out.Currency)
	c.JSON(http.StatusOK, gin.H{"success": true, "order": out})
}

func (s *Server) handleVerify(c *gin.Context) {
	var creds domain.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil || creds.OrderID == "" || creds.PaymentID == "" || creds.Signature == "" {
		c.JSON(http.StatusBadRequest, domain.Verification{Success: false, Message: "Missing payment credentials"})
		return
	}

	if !gateway.VerifySignature(s.keySecret, creds) {
		if s.rejected != nil {
			s.rejected.Inc()
		}
		s.logger.Warn("invalid checkout signature", "order_id", creds.OrderID, "payment_id", creds.PaymentID)
		c.JSON(http.StatusBadRequest, domain.Verification{Success: false, Message: "Invalid payment signature"})
		return
	}

	if local, ok := s.payments.(*Local); ok {
		local.Capture(creds.OrderID, creds.PaymentID)
	}
	if s.verified != nil {
		s.verified.Inc()
	}
	s.logger.Info("payment verified", "order_id", creds.OrderID, "payment_id", creds.PaymentID)
	c.JSON(http.StatusOK, domain.Verification{
		Success:   true,
		PaymentID: creds.PaymentID,
		OrderID:   creds.OrderID,
		Message:   "Payment verified successfully",
	})
}

func (s *Server) handleDetails(c *gin.Context) {
	id := c.Param("id")
	p, err := s.payments.Fetch(id, nil, nil)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ErrPaymentNotFound) {
			status = http.StatusNotFound
		}
		s.logger.Warn("payment lookup failed", "payment_id", id, "err", err)
		c.JSON(status, gin.H{"success": false, "message": "Payment not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "payment": gateway.PaymentDetails{
		ID:        stringField(p, "id"),
		OrderID:   stringField(p, "order_id"),
		Amount:    intField(p, "amount"),
		Currency:  stringField(p, "currency"),
		Status:    stringField(p, "status"),
		Method:    stringField(p, "method"),
		VPA:       stringField(p, "vpa"),
		Email:     stringField(p, "email"),
		Contact:   stringField(p, "contact"),
		CreatedAt: intField(p, "created_at"),
	}})
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// intField reads an integer that may have come from JSON (float64) or from
// Go code (int, int64).
func intField(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
