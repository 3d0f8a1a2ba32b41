package metrics

import (
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"paychat/internal/bus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestCollector_SeriesSharedByLabels(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("payments_failed_total", "Payment flows that failed", Labels{"stage": "order"})
	b := c.Counter("payments_failed_total", "Payment flows that failed", Labels{"stage": "order"})
	a.Inc()
	b.Add(2)
	if a.Value() != 3 {
		t.Errorf("value = %d, want 3", a.Value())
	}
	if c.Counter("payments_failed_total", "", Labels{"stage": "verify"}).Value() != 0 {
		t.Error("different labels should be a different series")
	}
}

func TestLabels_String(t *testing.T) {
	tests := []struct {
		labels Labels
		want   string
	}{
		{nil, ""},
		{Labels{"stage": "verify"}, `stage="verify"`},
		{Labels{"stage": "notification", "chat": "room-1"}, `chat="room-1",stage="notification"`},
		{Labels{"reason": "say \"hi\"\n"}, `reason="say \"hi\"\n"`},
	}
	for _, tt := range tests {
		if got := tt.labels.String(); got != tt.want {
			t.Errorf("%v.String() = %s, want %s", tt.labels, got, tt.want)
		}
	}
}

func TestCollector_CheckoutHistogram(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("checkout_duration_seconds", "Time from checkout open to verification", nil, []float64{5, 1})
	h.Observe(0.5)
	h.Observe(3)
	h.Observe(100)

	out := c.Render()
	for _, want := range []string{
		"# TYPE paychat_checkout_duration_seconds histogram",
		`paychat_checkout_duration_seconds_bucket{le="1"} 1`,
		`paychat_checkout_duration_seconds_bucket{le="5"} 2`,
		`paychat_checkout_duration_seconds_bucket{le="+Inf"} 3`,
		"paychat_checkout_duration_seconds_count 3",
		"paychat_checkout_duration_seconds_sum 103.5",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCollector_RenderGroupsFamilies(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("messages_sent_total", "Payment chat messages delivered", Labels{"stage": "notification"}).Inc()
	c.Counter("messages_sent_total", "Payment chat messages delivered", Labels{"stage": "confirmation"}).Inc()
	c.Gauge("payments_in_flight", "Submissions waiting on the gateway", nil).Inc()

	out := c.Render()
	if n := strings.Count(out, "# HELP paychat_messages_sent_total"); n != 1 {
		t.Errorf("HELP written %d times", n)
	}
	confirmation := strings.Index(out, `paychat_messages_sent_total{stage="confirmation"} 1`)
	notification := strings.Index(out, `paychat_messages_sent_total{stage="notification"} 1`)
	if confirmation < 0 || notification < 0 || confirmation > notification {
		t.Errorf("series missing or unsorted:\n%s", out)
	}
	if strings.Index(out, "paychat_messages_sent_total") > strings.Index(out, "paychat_payments_in_flight") {
		t.Error("families not sorted by name")
	}
	if !strings.Contains(out, "# TYPE paychat_payments_in_flight gauge\npaychat_payments_in_flight 1") {
		t.Errorf("gauge not rendered:\n%s", out)
	}
}

func TestCollector_TypeConflictPanics(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("payments_in_flight", "", nil)
	defer func() {
		if recover() == nil {
			t.Error("expected panic when a counter name is reused as a gauge")
		}
	}()
	c.Gauge("payments_in_flight", "", nil)
}

func TestHandler_ContentType(t *testing.T) {
	c := NewMetricsCollector()
	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "paychat_uptime_seconds") {
		t.Error("missing uptime gauge")
	}
}

func TestPaymentMetrics_Attach(t *testing.T) {
	c := NewMetricsCollector()
	m := NewPaymentMetrics(c)
	eb := bus.NewEventBus(testLogger())
	detach := m.Attach(eb)

	eb.Emit(bus.Event{Type: bus.EventPaymentSubmitted})
	eb.Emit(bus.Event{Type: bus.EventPaymentVerified, Payload: map[string]any{"checkout_ms": int64(2500)}})
	eb.Emit(bus.Event{Type: bus.EventPaymentSubmitted})
	eb.Emit(bus.Event{Type: bus.EventPaymentFailed, Payload: map[string]any{"stage": "verify"}})
	eb.Emit(bus.Event{Type: bus.EventMessageSent, Payload: map[string]any{"stage": "confirmation"}})
	eb.Emit(bus.Event{Type: bus.EventMessageSent, Payload: map[string]any{"stage": "notification"}})
	eb.Emit(bus.Event{Type: bus.EventNotificationCancelled})

	if m.Submitted.Value() != 2 || m.Verified.Value() != 1 {
		t.Errorf("submitted=%d verified=%d", m.Submitted.Value(), m.Verified.Value())
	}
	if m.InFlight.Value() != 0 {
		t.Errorf("in flight = %d, want 0", m.InFlight.Value())
	}
	if m.Failed("verify").Value() != 1 {
		t.Error("verify failure not counted")
	}
	if m.MessagesSent("confirmation").Value() != 1 || m.MessagesSent("notification").Value() != 1 {
		t.Error("sent messages not counted per stage")
	}
	if m.Cancelled.Value() != 1 {
		t.Error("cancellation not counted")
	}
	if !strings.Contains(c.Render(), `paychat_checkout_duration_seconds_bucket{le="5"} 1`) {
		t.Errorf("checkout latency not observed:\n%s", c.Render())
	}

	detach()
	eb.Emit(bus.Event{Type: bus.EventPaymentSubmitted})
	if m.Submitted.Value() != 2 {
		t.Error("detached metrics still counting")
	}
}
