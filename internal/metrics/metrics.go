// Package metrics turns relay bus events into Prometheus instruments.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"relaybot/internal/eventbus"
	"relaybot/internal/relay"
)

type Metrics struct {
	Ticks           prometheus.Counter
	TicksCoalesced  prometheus.Counter
	ManualChecks    prometheus.Counter
	Registrations   prometheus.Counter
	Fetched         prometheus.Counter
	FetchFailures   prometheus.Counter
	FetchLatency    prometheus.Histogram
	Suppressed      prometheus.Counter
	Delivered       *prometheus.CounterVec
	DeliveryFailed  *prometheus.CounterVec
	DeliveryLatency prometheus.Histogram
}

// New registers all instruments with reg. A private registry keeps tests
// isolated; pass nil to skip process/Go collectors.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_ticks_total",
			Help: "Poll ticks handled by the relay loop.",
		}),
		TicksCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_ticks_coalesced_total",
			Help: "Ticks dropped because one was already pending.",
		}),
		ManualChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_manual_checks_total",
			Help: "Manual checks requested from chat.",
		}),
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_target_registrations_total",
			Help: "Delivery chat registrations (/start).",
		}),
		Fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_fetched_records_total",
			Help: "Records returned by the source.",
		}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_fetch_failures_total",
			Help: "Fetches that failed (network, status, decode, database).",
		}),
		FetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_fetch_seconds",
			Help:    "Source fetch latency.",
			Buckets: prometheus.DefBuckets,
		}),
		Suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_suppressed_total",
			Help: "Records dropped as already delivered.",
		}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_delivered_total",
			Help: "Notifications delivered to chat.",
		}, []string{"kind"}),
		DeliveryFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_delivery_failures_total",
			Help: "Notifications whose delivery failed.",
		}, []string{"kind"}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_delivery_seconds",
			Help:    "Per-message send latency, including pacing.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	} else {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	reg.MustRegister(
		m.Ticks, m.TicksCoalesced, m.ManualChecks, m.Registrations,
		m.Fetched, m.FetchFailures, m.FetchLatency, m.Suppressed,
		m.Delivered, m.DeliveryFailed, m.DeliveryLatency,
	)
	return m
}

// Observe applies one bus event. Unknown types are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	d, _ := e.Data.(relay.EventData)
	switch e.Type {
	case relay.EventTick:
		m.Ticks.Inc()
	case relay.EventTickCoalesced:
		m.TicksCoalesced.Inc()
	case relay.EventManualCheck:
		m.ManualChecks.Inc()
	case relay.EventTargetRegistered:
		m.Registrations.Inc()
	case relay.EventFetched:
		m.Fetched.Add(float64(d.Count))
		m.FetchLatency.Observe(d.Took.Seconds())
	case relay.EventFetchFailed:
		m.FetchFailures.Inc()
		m.FetchLatency.Observe(d.Took.Seconds())
	case relay.EventSuppressed:
		m.Suppressed.Add(float64(d.Count))
	case relay.EventDelivered:
		m.Delivered.WithLabelValues(d.Kind).Inc()
		m.DeliveryLatency.Observe(d.Took.Seconds())
	case relay.EventDeliveryFailed:
		m.DeliveryFailed.WithLabelValues(d.Kind).Inc()
	}
}

// Run feeds bus events into the instruments until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
