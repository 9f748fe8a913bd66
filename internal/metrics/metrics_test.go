package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"relaybot/internal/eventbus"
	"relaybot/internal/relay"
)

func TestObserve(t *testing.T) {
	t.Parallel()
	m := New(nil)
	m.Observe(eventbus.Event{Type: relay.EventTick})
	m.Observe(eventbus.Event{Type: relay.EventFetched, Data: relay.EventData{Count: 3, Took: time.Millisecond}})
	m.Observe(eventbus.Event{Type: relay.EventSuppressed, Data: relay.EventData{Count: 2}})
	m.Observe(eventbus.Event{Type: relay.EventDelivered, Data: relay.EventData{Kind: "order"}})
	m.Observe(eventbus.Event{Type: relay.EventDeliveryFailed, Data: relay.EventData{Kind: "consultation"}})
	m.Observe(eventbus.Event{Type: "unrelated"})

	if got := testutil.ToFloat64(m.Ticks); got != 1 {
		t.Fatalf("ticks = %v", got)
	}
	if got := testutil.ToFloat64(m.Fetched); got != 3 {
		t.Fatalf("fetched = %v", got)
	}
	if got := testutil.ToFloat64(m.Suppressed); got != 2 {
		t.Fatalf("suppressed = %v", got)
	}
	if got := testutil.ToFloat64(m.Delivered.WithLabelValues("order")); got != 1 {
		t.Fatalf("delivered = %v", got)
	}
	if got := testutil.ToFloat64(m.DeliveryFailed.WithLabelValues("consultation")); got != 1 {
		t.Fatalf("failed = %v", got)
	}
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(m.Registrations) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never observed")
		}
		// Publish until the subscriber is attached.
		bus.Publish(eventbus.Event{Type: relay.EventTargetRegistered})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) == 0 {
		t.Fatal("registry is empty")
	}
}
