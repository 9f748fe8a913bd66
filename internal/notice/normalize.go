package notice

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Raw is a record as received from a source: no guaranteed shape.
type Raw map[string]any

// DisplayZone is the default zone for rendered timestamps (UTC+3).
var DisplayZone = time.FixedZone("UTC+3", 3*60*60)

var fallbackNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("relaybot:notice"))

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Normalize builds a Notification from raw. It never fails; loc selects the
// display zone for CreatedAt (nil means DisplayZone).
func Normalize(raw Raw, loc *time.Location) Notification {
	if loc == nil {
		loc = DisplayZone
	}
	n := Notification{
		Name:           text(raw, "name"),
		Phone:          text(raw, "phone"),
		Email:          text(raw, "email"),
		Address:        text(raw, "address"),
		Comments:       text(raw, "comments", "comment"),
		Description:    text(raw, "description", "content"),
		TotalPrice:     price(raw, "totalPrice", "total_price", "total"),
		Title:          text(raw, "title"),
		AdditionalInfo: text(raw, "additional_info", "additionalInfo"),
		IsRead:         truthy(lookup(raw, "isRead", "is_read")),
	}

	if id, ok := scalar(lookup(raw, "id")); ok {
		n.ID = id
	} else {
		n.ID = FallbackID(raw)
		n.FallbackID = true
	}
	if t, ok := scalar(lookup(raw, "type")); ok {
		n.Type = strings.ToLower(t)
	}

	n.Items, n.ItemsUnavailable = items(lookup(raw, "items"))
	if len(n.Items) == 0 && !n.ItemsUnavailable && Has(n.Description) {
		n.LegacyOrder, n.LegacyItems = ParseLegacyDescription(n.Description)
	}

	if t, ok := parseTime(lookup(raw, "createdAt", "created_at", "timestamp")); ok {
		n.CreatedAt = t.In(loc)
		n.CreatedOK = true
	}

	n.Kind = Classify(n)
	return n
}

// FallbackID derives a stable identifier from the record content. The JSON
// encoder sorts map keys, so equal records always get equal ids.
func FallbackID(raw Raw) string {
	b, err := json.Marshal(raw)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", map[string]any(raw)))
	}
	return "raw-" + uuid.NewSHA1(fallbackNamespace, b).String()
}

func lookup(raw Raw, keys ...string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func text(raw Raw, keys ...string) string {
	if s, ok := scalar(lookup(raw, keys...)); ok {
		return s
	}
	return Sentinel
}

// scalar renders strings, numbers and bools; anything else is not a value.
func scalar(v any) (string, bool) {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	case json.Number:
		s = x.String()
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", false
		}
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		s = strconv.Itoa(x)
	case int32:
		s = strconv.FormatInt(int64(x), 10)
	case int64:
		s = strconv.FormatInt(x, 10)
	case uint64:
		s = strconv.FormatUint(x, 10)
	case bool:
		s = strconv.FormatBool(x)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// price treats zero as absent, as the order form sends 0 for "no total".
// NaN and infinities are absent too.
func price(raw Raw, keys ...string) string {
	s, ok := scalar(lookup(raw, keys...))
	if !ok {
		return Sentinel
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && (f == 0 || math.IsNaN(f) || math.IsInf(f, 0)) {
		return Sentinel
	}
	return s
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case int64:
		return x != 0
	case int:
		return x != 0
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return err == nil && b
	}
	return false
}

// items accepts a decoded JSON array or a string holding one. The second
// result reports items that were present but undecodable.
func items(v any) ([]Item, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case []byte:
		return items(string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, false
		}
		var decoded []any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, true
		}
		return items(decoded)
	case []map[string]any:
		out := make([]any, 0, len(x))
		for _, m := range x {
			out = append(out, m)
		}
		return items(out)
	case []any:
		out := make([]Item, 0, len(x))
		for _, e := range x {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			it := Item{}
			it.Name, _ = scalar(m["name"])
			it.Quantity, _ = scalar(m["quantity"])
			it.Price, _ = scalar(m["price"])
			out = append(out, it)
		}
		if len(out) == 0 && len(x) > 0 {
			return nil, true
		}
		return out, false
	default:
		return nil, true
	}
}

func parseTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case []byte:
		return parseTime(string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		if strings.HasSuffix(s, "Z") {
			s = strings.TrimSuffix(s, "Z") + "+00:00"
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
