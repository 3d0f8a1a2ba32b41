package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"paychat/internal/domain"

	"github.com/razorpay/razorpay-go/utils"
)

func TestParseCheckoutPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		status  domain.CheckoutStatus
		wantErr bool
	}{
		{"completed", `{"status":"completed","order_id":"order_1","razorpay_order_id":"order_1","razorpay_payment_id":"pay_1","razorpay_signature":"sig"}`, domain.CheckoutCompleted, false},
		{"dismissed", `{"status":"dismissed","order_id":"order_1"}`, domain.CheckoutDismissed, false},
		{"failed", `{"status":"failed","order_id":"order_1","reason":"card declined"}`, domain.CheckoutFailed, false},
		{"completed without signature", `{"status":"completed","razorpay_payment_id":"pay_1"}`, "", true},
		{"unknown status", `{"status":"weird"}`, "", true},
		{"garbage", `not json`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, outcome, err := parseCheckoutPayload(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if outcome.Status != tt.status {
				t.Errorf("status = %q, want %q", outcome.Status, tt.status)
			}
		})
	}

	orderID, outcome, _ := parseCheckoutPayload(`{"status":"completed","order_id":"order_1","razorpay_payment_id":"pay_1","razorpay_signature":"sig"}`)
	if orderID != "order_1" || outcome.Credentials.OrderID != "order_1" {
		t.Errorf("order id should default from the checkout: %q %+v", orderID, outcome.Credentials)
	}

	_, failed, _ := parseCheckoutPayload(`{"status":"failed","reason":"card declined"}`)
	if failed.Reason != "card declined" {
		t.Errorf("reason = %q", failed.Reason)
	}
}

func TestCheckoutOptions(t *testing.T) {
	cfg := CheckoutConfig{KeyID: "rzp_test_1", MerchantName: DefaultMerchantName, ThemeColor: DefaultThemeColor}
	opts := checkoutOptions(cfg, domain.Order{ID: "order_1", Amount: 50000}, domain.CheckoutRequest{
		Description: "Payment to Alice",
		Prefill:     domain.Identity{FullName: "Bob", Email: "bob@example.com"},
		Notes:       map[string]string{"recipient_name": "Alice", "recipient_upi": "alice@upi"},
	})

	if opts["key"] != "rzp_test_1" || opts["amount"] != int64(50000) || opts["currency"] != "INR" {
		t.Errorf("unexpected options: %v", opts)
	}
	if opts["name"] != "ChatSphere Pay" || opts["description"] != "Payment to Alice" || opts["order_id"] != "order_1" {
		t.Errorf("unexpected options: %v", opts)
	}
	if opts["prefill"].(map[string]string)["name"] != "Bob" {
		t.Errorf("prefill = %v", opts["prefill"])
	}
	if opts["notes"].(map[string]string)["recipient_upi"] != "alice@upi" {
		t.Errorf("notes = %v", opts["notes"])
	}
	if opts["theme"].(map[string]string)["color"] != "#10B981" {
		t.Errorf("theme = %v", opts["theme"])
	}
}

func TestOpenScript(t *testing.T) {
	script, err := openScript(map[string]any{"order_id": "order_1", "description": `quote " inside`})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"order_id":"order_1"`, `window.paychatCheckout(`, `ondismiss`, `payment.failed`, `rzp.open()`, `quote \" inside`} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q", want)
		}
	}
}

func TestLoaderScript(t *testing.T) {
	s := loaderScript(DefaultScriptURL)
	if !strings.Contains(s, `"https://checkout.razorpay.com/v1/checkout.js"`) {
		t.Errorf("loader does not reference the script url:\n%s", s)
	}
	if !strings.Contains(s, "onerror") {
		t.Error("loader must resolve on error")
	}
}

func TestSignature(t *testing.T) {
	sig := Sign("secret", "order_1", "pay_1")
	if len(sig) != 64 {
		t.Fatalf("signature length = %d", len(sig))
	}
	good := domain.Credentials{OrderID: "order_1", PaymentID: "pay_1", Signature: sig}
	if !VerifySignature("secret", good) {
		t.Error("valid signature rejected")
	}
	bad := good
	bad.PaymentID = "pay_2"
	if VerifySignature("secret", bad) {
		t.Error("signature for another payment accepted")
	}
	if VerifySignature("other", good) {
		t.Error("signature under another secret accepted")
	}

	params := map[string]interface{}{"razorpay_order_id": "order_1", "razorpay_payment_id": "pay_1"}
	if !utils.VerifyPaymentSignature(params, sig, "secret") {
		t.Error("razorpay-go rejects the signature")
	}
}

func TestSimulatedCheckout(t *testing.T) {
	sc := &SimulatedCheckout{KeySecret: "secret"}
	out, err := sc.Open(context.Background(), domain.Order{ID: "order_1"}, domain.CheckoutRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.CheckoutCompleted || !strings.HasPrefix(out.Credentials.PaymentID, "pay_") {
		t.Fatalf("outcome = %+v", out)
	}
	if !VerifySignature("secret", out.Credentials) {
		t.Error("simulated credentials do not verify")
	}

	sc.Outcome = domain.CheckoutDismissed
	if out, _ := sc.Open(context.Background(), domain.Order{ID: "order_1"}, domain.CheckoutRequest{}); out.Status != domain.CheckoutDismissed {
		t.Errorf("status = %s", out.Status)
	}
}

type failingCheckout struct{ err error }

func (f failingCheckout) EnsureScriptLoaded(context.Context) bool { return false }
func (f failingCheckout) Open(context.Context, domain.Order, domain.CheckoutRequest) (domain.CheckoutOutcome, error) {
	return domain.CheckoutOutcome{}, f.err
}

func TestAdapter_WrapsCheckoutErrors(t *testing.T) {
	a := NewAdapter(nil, failingCheckout{err: errors.New("tab crashed")})
	if a.EnsureScriptLoaded(context.Background()) {
		t.Error("expected script load failure to pass through")
	}
	_, err := a.OpenCheckout(context.Background(), domain.Order{ID: "o"}, domain.CheckoutRequest{})
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Kind != KindCheckout {
		t.Fatalf("got %v", err)
	}
	if !strings.Contains(err.Error(), "tab crashed") {
		t.Errorf("cause lost: %v", err)
	}
}

func TestCheckoutOptions_JSONEncodable(t *testing.T) {
	opts := checkoutOptions(CheckoutConfig{}, domain.Order{ID: "order_1", Amount: 1, Currency: "USD"}, domain.CheckoutRequest{})
	data, err := json.Marshal(opts)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"currency":"USD"`) {
		t.Errorf("currency not kept: %s", data)
	}
}
