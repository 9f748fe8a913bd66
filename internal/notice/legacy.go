package notice

import "strings"

// Compatibility shim for the oldest order schema, where the site packed the
// whole order into the free-text description:
//
//	###### НОВЫЙ ЗАКАЗ ######
//	====== ДАННЫЕ КЛИЕНТА ======
//	...
//	====== ЗАКАЗАННЫЕ ТОВАРЫ ======
//	1. Widget x2 ...
//
// Structured fields always win; this only runs when they are absent.
const (
	legacyOrderMarker  = "###### НОВЫЙ ЗАКАЗ ######"
	legacySectionSep   = "======"
	legacyItemsHeading = "ЗАКАЗАННЫЕ ТОВАРЫ"
)

// ParseLegacyDescription reports whether desc is a legacy order description
// and returns the text of its ordered-items section ("" if there is none).
func ParseLegacyDescription(desc string) (isOrder bool, itemsText string) {
	if !strings.Contains(desc, legacyOrderMarker) {
		return false, ""
	}
	sections := strings.Split(desc, legacySectionSep)
	for i, section := range sections {
		if !strings.Contains(section, legacyItemsHeading) {
			continue
		}
		text := strings.TrimSpace(strings.Replace(section, legacyItemsHeading, "", 1))
		// "====== HEADING ======" puts the body in the following section.
		if text == "" && i+1 < len(sections) {
			text = strings.TrimSpace(sections[i+1])
		}
		return true, text
	}
	return true, ""
}
