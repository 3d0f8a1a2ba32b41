package metrics

import (
	"paychat/internal/bus"
)

var checkoutBuckets = []float64{1, 5, 15, 30, 60, 120, 300}

// PaymentMetrics turns payment lifecycle events into metrics.
type PaymentMetrics struct {
	c *MetricsCollector

	Submitted  *Counter
	Verified   *Counter
	Dismissed  *Counter
	InFlight   *Gauge
	Checkout   *Histogram
	Cancelled  *Counter
	NotifyFail *Counter
}

// NewPaymentMetrics registers the payment series on c.
func NewPaymentMetrics(c *MetricsCollector) *PaymentMetrics {
	return &PaymentMetrics{
		c:          c,
		Submitted:  c.Counter("payments_submitted_total", "Payment intents accepted for checkout", nil),
		Verified:   c.Counter("payments_verified_total", "Payments verified by the backend", nil),
		Dismissed:  c.Counter("payments_dismissed_total", "Checkouts dismissed by the payer", nil),
		InFlight:   c.Gauge("payments_in_flight", "Submissions waiting on the gateway", nil),
		Checkout:   c.Histogram("checkout_duration_seconds", "Time from checkout open to verification", nil, checkoutBuckets),
		Cancelled:  c.Counter("notifications_cancelled_total", "Deferred notifications cancelled before sending", nil),
		NotifyFail: c.Counter("notifications_failed_total", "Deferred notifications that failed to send", nil),
	}
}

// Failed returns the failure counter for a flow stage (script, order,
// checkout, verify).
func (m *PaymentMetrics) Failed(stage string) *Counter {
	return m.c.Counter("payments_failed_total", "Payment flows that failed", Labels{"stage": stage})
}

// MessagesSent returns the sent-message counter for a dispatch stage.
func (m *PaymentMetrics) MessagesSent(stage string) *Counter {
	return m.c.Counter("messages_sent_total", "Payment chat messages delivered", Labels{"stage": stage})
}

// Attach subscribes to the bus. The returned function unsubscribes.
func (m *PaymentMetrics) Attach(eb *bus.EventBus) func() {
	ids := map[string]string{
		bus.EventPaymentSubmitted: eb.On(bus.EventPaymentSubmitted, func(bus.Event) {
			m.Submitted.Inc()
			m.InFlight.Inc()
		}),
		bus.EventPaymentVerified: eb.On(bus.EventPaymentVerified, func(e bus.Event) {
			m.Verified.Inc()
			m.InFlight.Dec()
			if ms, ok := e.Payload["checkout_ms"].(int64); ok {
				m.Checkout.Observe(float64(ms) / 1000)
			}
		}),
		bus.EventPaymentFailed: eb.On(bus.EventPaymentFailed, func(e bus.Event) {
			stage, _ := e.Payload["stage"].(string)
			m.Failed(stage).Inc()
			m.InFlight.Dec()
		}),
		bus.EventPaymentDismissed: eb.On(bus.EventPaymentDismissed, func(bus.Event) {
			m.Dismissed.Inc()
			m.InFlight.Dec()
		}),
		bus.EventMessageSent: eb.On(bus.EventMessageSent, func(e bus.Event) {
			stage, _ := e.Payload["stage"].(string)
			m.MessagesSent(stage).Inc()
		}),
		bus.EventNotificationFailed: eb.On(bus.EventNotificationFailed, func(bus.Event) {
			m.NotifyFail.Inc()
		}),
		bus.EventNotificationCancelled: eb.On(bus.EventNotificationCancelled, func(bus.Event) {
			m.Cancelled.Inc()
		}),
	}
	return func() {
		for eventType, id := range ids {
			eb.Off(eventType, id)
		}
	}
}
