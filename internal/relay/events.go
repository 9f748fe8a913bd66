package relay

import (
	"time"

	"relaybot/internal/eventbus"
)

// Event types published on the bus. Data is always an EventData.
const (
	EventTick             = "relay.tick"
	EventTickCoalesced    = "relay.tick_coalesced"
	EventFetched          = "relay.fetched"
	EventFetchFailed      = "relay.fetch_failed"
	EventSuppressed       = "relay.suppressed"
	EventDelivered        = "relay.delivered"
	EventDeliveryFailed   = "relay.delivery_failed"
	EventTargetRegistered = "relay.target_registered"
	EventManualCheck      = "relay.manual_check"
)

type EventData struct {
	RunID string
	Kind  string // notification kind, when applicable
	Count int
	Took  time.Duration
	Err   error
}

func (l *Loop) publish(typ string, d EventData) {
	l.bus.Publish(eventbus.Event{Type: typ, Data: d})
}
