package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"paychat/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestBackend(t *testing.T, h http.Handler) *Backend {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	b, err := NewBackend(BackendConfig{BaseURL: srv.URL, RetryBackoff: time.Millisecond, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func mustAmount(t *testing.T, s string) domain.Amount {
	t.Helper()
	a, err := domain.ParseAmount(s)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestNewBackend_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "localhost:5001", "://nope"} {
		if _, err := NewBackend(BackendConfig{BaseURL: u}); err == nil {
			t.Errorf("expected error for %q", u)
		}
	}
}

func TestBackend_CreateOrder(t *testing.T) {
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/payment/create-order" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]json.Number
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["amount"] != "499.99" {
			t.Errorf("amount = %q", body["amount"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"order":{"id":"order_1","amount":49999,"currency":"INR"}}`))
	}))

	order, err := b.CreateOrder(context.Background(), mustAmount(t, "499.99"))
	if err != nil {
		t.Fatal(err)
	}
	if order.ID != "order_1" || order.Amount != 49999 || order.Currency != "INR" {
		t.Errorf("order = %+v", order)
	}
}

func TestBackend_CreateOrderFailureCarriesMessage(t *testing.T) {
	var calls int32
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"message":"Gateway keys missing"}`))
	}))

	_, err := b.CreateOrder(context.Background(), mustAmount(t, "10"))
	var gwErr *Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if gwErr.Kind != KindOrder || gwErr.Message != "Gateway keys missing" {
		t.Errorf("error = %+v", gwErr)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("order creation must not be retried, got %d calls", n)
	}
}

func TestBackend_CreateOrderUnsuccessful(t *testing.T) {
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false}`))
	}))
	_, err := b.CreateOrder(context.Background(), mustAmount(t, "10"))
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Kind != KindOrder || gwErr.Message == "" {
		t.Fatalf("got %v", err)
	}
}

func TestBackend_SessionCookieCarried(t *testing.T) {
	var sawCookie bool
	mux := http.NewServeMux()
	mux.HandleFunc("/payment/create-order", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		w.Write([]byte(`{"success":true,"order":{"id":"order_1","amount":100,"currency":"INR"}}`))
	})
	mux.HandleFunc("/payment/verify", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil && c.Value == "abc" {
			sawCookie = true
		}
		w.Write([]byte(`{"success":true}`))
	})
	b := newTestBackend(t, mux)

	if _, err := b.CreateOrder(context.Background(), mustAmount(t, "1")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Verify(context.Background(), domain.Credentials{OrderID: "order_1", PaymentID: "pay_1", Signature: "s"}); err != nil {
		t.Fatal(err)
	}
	if !sawCookie {
		t.Error("session cookie was not sent on verify")
	}
}

func TestBackend_Verify(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantOK    bool
		wantErr   bool
		wantPayID string
	}{
		{"success echoes credentials", 200, `{"success":true}`, true, false, "pay_1"},
		{"success with ids", 200, `{"success":true,"payment_id":"pay_srv"}`, true, false, "pay_srv"},
		{"rejected signature", 400, `{"success":false,"message":"Invalid signature"}`, false, false, ""},
		{"server error", 502, `bad gateway`, false, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var creds domain.Credentials
				json.NewDecoder(r.Body).Decode(&creds)
				if creds.PaymentID != "pay_1" || creds.Signature != "sig" {
					t.Errorf("creds = %+v", creds)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			v, err := b.Verify(context.Background(), domain.Credentials{OrderID: "order_1", PaymentID: "pay_1", Signature: "sig"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if err != nil {
				var gwErr *Error
				if !errors.As(err, &gwErr) || gwErr.Kind != KindVerify {
					t.Errorf("expected verify error, got %v", err)
				}
				return
			}
			if v.Success != tt.wantOK {
				t.Errorf("success = %v", v.Success)
			}
			if tt.wantPayID != "" && v.PaymentID != tt.wantPayID {
				t.Errorf("payment id = %q", v.PaymentID)
			}
		})
	}
}

func TestBackend_PaymentDetailsRetriesTransientErrors(t *testing.T) {
	var calls int32
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/payment/details/pay_1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"success":true,"payment":{"id":"pay_1","order_id":"order_1","amount":50000,"currency":"INR","status":"captured","method":"upi","vpa":"alice@upi"}}`))
	}))

	p, err := b.PaymentDetails(context.Background(), "pay_1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Amount != 50000 || p.Status != "captured" || p.VPA != "alice@upi" {
		t.Errorf("details = %+v", p)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestBackend_PaymentDetailsNotFound(t *testing.T) {
	b := newTestBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"message":"not found"}`))
	}))
	if _, err := b.PaymentDetails(context.Background(), "pay_x"); err == nil {
		t.Error("expected error")
	}
}
