// Package notice turns loosely typed notification records into canonical
// Notifications and renders them as chat messages.
//
// Nothing in this package returns an error for bad input: every field
// degrades to a sentinel independently, so one malformed record never stops
// a batch.
package notice

import "time"

const (
	// Sentinel marks a field the record did not carry (or carried in an
	// unusable shape).
	Sentinel = "—"
	// UnknownTime is displayed when the creation timestamp is missing or unparsable.
	UnknownTime = "Неизвестно"

	// TypePurchase is the explicit discriminator value for orders.
	TypePurchase = "purchase"
)

type Kind int

const (
	KindConsultation Kind = iota
	KindOrder
)

func (k Kind) String() string {
	if k == KindOrder {
		return "order"
	}
	return "consultation"
}

// Item is one order line. Empty strings mean "not provided".
type Item struct {
	Name     string
	Quantity string
	Price    string
}

// Notification is the canonical, read-only form of a record.
type Notification struct {
	ID string
	// FallbackID is set when ID was derived from the record content.
	FallbackID bool

	Name        string
	Phone       string
	Email       string
	Address     string
	Comments    string
	Description string
	TotalPrice  string

	Items []Item
	// ItemsUnavailable is set when items were present but could not be decoded.
	ItemsUnavailable bool

	// Legacy description-marker order data; see ParseLegacyDescription.
	LegacyOrder bool
	LegacyItems string

	CreatedAt time.Time
	CreatedOK bool

	Type   string
	IsRead bool

	// Fields of the database-backed schema.
	Title          string
	AdditionalInfo string

	Kind Kind
}

// Has reports whether v is a real value rather than the sentinel.
func Has(v string) bool { return v != "" && v != Sentinel }

// CreatedLabel renders the creation time in its display zone, or UnknownTime.
func (n Notification) CreatedLabel() string {
	if !n.CreatedOK {
		return UnknownTime
	}
	return n.CreatedAt.Format("02.01.2006 15:04")
}
