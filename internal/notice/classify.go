package notice

// Classify decides the message layout. Upstream schemas changed over time
// (description markers, then explicit fields, then a type discriminator) and
// old records keep arriving, so the signals are tried in this fixed order:
//
//  1. type == "purchase"
//  2. items present (decodable or not)
//  3. a total price
//  4. the legacy description marker
//
// Anything else is a consultation request.
func Classify(n Notification) Kind {
	switch {
	case n.Type == TypePurchase:
		return KindOrder
	case len(n.Items) > 0 || n.ItemsUnavailable:
		return KindOrder
	case Has(n.TotalPrice):
		return KindOrder
	case n.LegacyOrder:
		return KindOrder
	default:
		return KindConsultation
	}
}
