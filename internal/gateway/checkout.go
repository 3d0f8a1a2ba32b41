package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"paychat/internal/browser"
	"paychat/internal/domain"
)

const (
	DefaultScriptURL    = "https://checkout.razorpay.com/v1/checkout.js"
	DefaultMerchantName = "ChatSphere Pay"
	DefaultThemeColor   = "#10B981"
	DefaultCurrency     = "INR"

	bindingName = "paychatCheckout"
)

// CheckoutConfig configures the browser-hosted checkout.
type CheckoutConfig struct {
	PageURL      string // page the checkout script is injected into
	ScriptURL    string
	KeyID        string
	MerchantName string
	ThemeColor   string
	Bridge       *browser.Bridge
	Logger       *slog.Logger
}

// BrowserCheckout opens the gateway's hosted checkout in a Chrome session and
// reports how it resolved.
type BrowserCheckout struct {
	cfg    CheckoutConfig
	logger *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	loaded   bool
	results  chan string
	openLock sync.Mutex
}

func NewBrowserCheckout(cfg CheckoutConfig) *BrowserCheckout {
	if cfg.ScriptURL == "" {
		cfg.ScriptURL = DefaultScriptURL
	}
	if cfg.MerchantName == "" {
		cfg.MerchantName = DefaultMerchantName
	}
	if cfg.ThemeColor == "" {
		cfg.ThemeColor = DefaultThemeColor
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Bridge == nil {
		cfg.Bridge = browser.NewBridge(browser.BridgeConfig{Logger: cfg.Logger})
	}
	return &BrowserCheckout{cfg: cfg, logger: cfg.Logger, results: make(chan string, 8)}
}

// session returns the browser tab, starting Chrome on first use.
func (c *BrowserCheckout) session() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return c.ctx, nil
	}

	ctx, cancel := c.cfg.Bridge.NewContext(context.Background())
	chromedp.ListenTarget(ctx, func(ev any) {
		called, ok := ev.(*runtime.EventBindingCalled)
		if !ok || called.Name != bindingName {
			return
		}
		select {
		case c.results <- called.Payload:
		default:
			c.logger.Warn("checkout result dropped", "payload", called.Payload)
		}
	})

	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return runtime.AddBinding(bindingName).Do(ctx)
		}),
		chromedp.Navigate(c.cfg.PageURL),
		chromedp.WaitReady("body"),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open checkout page: %w", err)
	}
	c.ctx, c.cancel = ctx, cancel
	return ctx, nil
}

// EnsureScriptLoaded injects the checkout script once per browser session.
func (c *BrowserCheckout) EnsureScriptLoaded(ctx context.Context) bool {
	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()
	if loaded {
		return true
	}

	tab, err := c.session()
	if err != nil {
		c.logger.Error("checkout browser unavailable", "err", err)
		return false
	}

	var ok bool
	err = runWithCaller(ctx, tab, chromedp.Evaluate(loaderScript(c.cfg.ScriptURL), &ok,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams { return p.WithAwaitPromise(true) },
	))
	if err != nil || !ok {
		c.logger.Error("checkout script failed to load", "url", c.cfg.ScriptURL, "err", err)
		return false
	}

	c.mu.Lock()
	c.loaded = true
	c.mu.Unlock()
	return true
}

// Open shows the checkout for an order and blocks until it resolves or ctx
// ends. Only one checkout is open at a time.
func (c *BrowserCheckout) Open(ctx context.Context, order domain.Order, req domain.CheckoutRequest) (domain.CheckoutOutcome, error) {
	c.openLock.Lock()
	defer c.openLock.Unlock()

	tab, err := c.session()
	if err != nil {
		return domain.CheckoutOutcome{}, err
	}
	script, err := openScript(checkoutOptions(c.cfg, order, req))
	if err != nil {
		return domain.CheckoutOutcome{}, err
	}

	// Stale results from an earlier checkout are discarded.
	for drained := false; !drained; {
		select {
		case <-c.results:
		default:
			drained = true
		}
	}

	var opened bool
	if err := runWithCaller(ctx, tab, chromedp.Evaluate(script, &opened)); err != nil {
		return domain.CheckoutOutcome{}, fmt.Errorf("open checkout: %w", err)
	}
	c.logger.Info("checkout opened", "order_id", order.ID)

	for {
		select {
		case <-ctx.Done():
			return domain.CheckoutOutcome{}, ctx.Err()
		case payload := <-c.results:
			orderID, outcome, err := parseCheckoutPayload(payload)
			if err != nil {
				return domain.CheckoutOutcome{}, err
			}
			if orderID != "" && orderID != order.ID {
				c.logger.Warn("ignoring result for another order", "order_id", orderID)
				continue
			}
			return outcome, nil
		}
	}
}

// Close shuts the browser down.
func (c *BrowserCheckout) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.ctx, c.cancel, c.loaded = nil, nil, false
	}
	return nil
}

// runWithCaller runs actions in the browser tab but gives up when the
// caller's ctx ends, without tearing the tab down.
func runWithCaller(caller, tab context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(tab)
	defer cancel()
	stop := context.AfterFunc(caller, cancel)
	defer stop()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && caller.Err() != nil {
		return caller.Err()
	}
	return err
}

// loaderScript resolves true once the checkout constructor exists.
func loaderScript(src string) string {
	quoted, _ := json.Marshal(src)
	return fmt.Sprintf(`new Promise(function (resolve) {
  if (window.Razorpay) { resolve(true); return; }
  var s = document.createElement("script");
  s.src = %s;
  s.onload = function () { resolve(!!window.Razorpay); };
  s.onerror = function () { resolve(false); };
  document.body.appendChild(s);
})`, quoted)
}

// checkoutOptions builds the options passed to the checkout constructor.
// Callbacks are attached by openScript.
func checkoutOptions(cfg CheckoutConfig, order domain.Order, req domain.CheckoutRequest) map[string]any {
	currency := order.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	notes := map[string]string{}
	for k, v := range req.Notes {
		notes[k] = v
	}
	return map[string]any{
		"key":         cfg.KeyID,
		"amount":      order.Amount,
		"currency":    currency,
		"name":        cfg.MerchantName,
		"description": req.Description,
		"order_id":    order.ID,
		"prefill": map[string]string{
			"name":  req.Prefill.FullName,
			"email": req.Prefill.Email,
		},
		"notes": notes,
		"theme": map[string]string{"color": cfg.ThemeColor},
	}
}

func openScript(opts map[string]any) (string, error) {
	data, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("encode checkout options: %w", err)
	}
	return fmt.Sprintf(`(function () {
  var opts = %s;
  var send = function (o) { o.order_id = opts.order_id; window.%s(JSON.stringify(o)); };
  opts.handler = function (r) {
    send({status: "completed", razorpay_order_id: r.razorpay_order_id,
          razorpay_payment_id: r.razorpay_payment_id, razorpay_signature: r.razorpay_signature});
  };
  opts.modal = {ondismiss: function () { send({status: "dismissed"}); }};
  var rzp = new window.Razorpay(opts);
  rzp.on("payment.failed", function (r) {
    send({status: "failed", reason: (r && r.error && r.error.description) || "payment failed"});
  });
  rzp.open();
  return true;
})()`, data, bindingName), nil
}

type checkoutPayload struct {
	Status    domain.CheckoutStatus `json:"status"`
	OrderID   string                `json:"order_id"`
	Reason    string                `json:"reason"`
	RzOrderID string                `json:"razorpay_order_id"`
	PaymentID string                `json:"razorpay_payment_id"`
	Signature string                `json:"razorpay_signature"`
}

var errIncompleteCredentials = errors.New("checkout completed without credentials")

func parseCheckoutPayload(payload string) (string, domain.CheckoutOutcome, error) {
	var p checkoutPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return "", domain.CheckoutOutcome{}, fmt.Errorf("decode checkout result: %w", err)
	}
	switch p.Status {
	case domain.CheckoutCompleted:
		creds := domain.Credentials{OrderID: p.RzOrderID, PaymentID: p.PaymentID, Signature: p.Signature}
		if creds.OrderID == "" {
			creds.OrderID = p.OrderID
		}
		if creds.PaymentID == "" || creds.Signature == "" {
			return p.OrderID, domain.CheckoutOutcome{}, errIncompleteCredentials
		}
		return p.OrderID, domain.CheckoutOutcome{Status: domain.CheckoutCompleted, Credentials: creds}, nil
	case domain.CheckoutDismissed:
		return p.OrderID, domain.CheckoutOutcome{Status: domain.CheckoutDismissed}, nil
	case domain.CheckoutFailed:
		return p.OrderID, domain.CheckoutOutcome{Status: domain.CheckoutFailed, Reason: p.Reason}, nil
	default:
		return p.OrderID, domain.CheckoutOutcome{}, fmt.Errorf("unknown checkout status %q", p.Status)
	}
}
