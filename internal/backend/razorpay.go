package backend

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

// OrderCreator mints gateway orders. *resources.Order from razorpay-go
// satisfies it.
type OrderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// PaymentFetcher looks up captured payments. *resources.Payment from
// razorpay-go satisfies it.
type PaymentFetcher interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// NewRazorpay returns the live gateway resources for the key pair.
func NewRazorpay(keyID, keySecret string) (OrderCreator, PaymentFetcher) {
	client := razorpay.NewClient(keyID, keySecret)
	return client.Order, client.Payment
}

// ErrPaymentNotFound is returned by Local for unknown payment ids.
var ErrPaymentNotFound = errors.New("payment not found")

// Local is an in-process stand-in for the gateway API used in development.
// Orders are kept in memory and a payment is captured once its signature is
// verified.
type Local struct {
	mu       sync.Mutex
	orders   map[string]map[string]interface{}
	payments map[string]map[string]interface{}
	now      func() time.Time
}

func NewLocal() *Local {
	return &Local{
		orders:   make(map[string]map[string]interface{}),
		payments: make(map[string]map[string]interface{}),
		now:      time.Now,
	}
}

func (l *Local) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order := map[string]interface{}{
		"id":         "order_" + randomHex(7),
		"entity":     "order",
		"amount":     data["amount"],
		"currency":   data["currency"],
		"receipt":    data["receipt"],
		"status":     "created",
		"created_at": l.now().Unix(),
	}
	l.orders[order["id"].(string)] = order
	return order, nil
}

func (l *Local) Fetch(paymentID string, _ map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[paymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return p, nil
}

// Capture records a verified payment against its order.
func (l *Local) Capture(orderID, paymentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order := l.orders[orderID]
	p := map[string]interface{}{
		"id":         paymentID,
		"entity":     "payment",
		"order_id":   orderID,
		"status":     "captured",
		"method":     "upi",
		"created_at": l.now().Unix(),
	}
	if order != nil {
		p["amount"] = order["amount"]
		p["currency"] = order["currency"]
		order["status"] = "paid"
	}
	l.payments[paymentID] = p
}

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}
