package notice

import (
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"relaybot/pkg/tgui"
)

const (
	DefaultCommentLimit = 200

	ParseModeHTML = "HTML"
)

// Formatter renders Notifications as chat messages. The zero value renders
// plain text with the default comment limit.
type Formatter struct {
	// ParseMode is "" (plain) or "HTML"; values are escaped in HTML mode.
	ParseMode string
	// CommentLimit caps free-text fields, in runes. <=0 means DefaultCommentLimit.
	CommentLimit int
}

// Format is pure: equal input always yields equal output.
func (f Formatter) Format(n Notification) string {
	switch {
	case n.Kind == KindOrder:
		return f.order(n)
	case isBulletin(n):
		return f.bulletin(n)
	default:
		return f.consultation(n)
	}
}

// isBulletin matches records of the database-backed schema: a title and
// none of the contact fields a site form would send.
func isBulletin(n Notification) bool {
	return Has(n.Title) && !Has(n.Name) && !Has(n.Phone) && !Has(n.Email)
}

func (f Formatter) html() bool { return strings.EqualFold(f.ParseMode, ParseModeHTML) }

func (f Formatter) esc(s string) string {
	if f.html() {
		return tgui.Esc(s).String()
	}
	return s
}

func (f Formatter) bold(s string) string {
	if f.html() {
		return tgui.B(s).String()
	}
	return s
}

func (f Formatter) long(s string) string {
	limit := f.CommentLimit
	if limit <= 0 {
		limit = DefaultCommentLimit
	}
	return f.esc(tgui.TruncRunes(s, limit))
}

func (f Formatter) order(n Notification) string {
	var b strings.Builder
	b.WriteString(f.bold("🛒 НОВЫЙ ЗАКАЗ"))
	b.WriteString("\n")
	b.WriteString("ID: " + f.esc(n.ID) + "\n")

	var client []string
	for _, kv := range [][2]string{
		{"Имя", n.Name},
		{"Телефон", n.Phone},
		{"Email", n.Email},
		{"Адрес доставки", n.Address},
	} {
		if Has(kv[1]) {
			client = append(client, "• "+kv[0]+": "+f.esc(kv[1]))
		}
	}
	if len(client) > 0 {
		b.WriteString("\n👤 Данные клиента:\n")
		b.WriteString(strings.Join(client, "\n"))
		b.WriteString("\n")
	}

	switch {
	case len(n.Items) > 0:
		b.WriteString("\n📋 Заказанные товары:\n")
		for i, it := range n.Items {
			b.WriteString("\n📦 Товар " + strconv.Itoa(i+1) + ": " + f.esc(orSentinel(it.Name)) + "\n")
			if it.Quantity != "" {
				b.WriteString("   Количество: " + f.esc(it.Quantity) + " шт.\n")
			}
			if it.Price != "" {
				b.WriteString("   Цена: " + f.esc(it.Price) + " ₽\n")
			}
			if sum, ok := lineTotal(it); ok {
				b.WriteString("   Сумма: " + money(sum) + " ₽\n")
			}
		}
	case n.LegacyItems != "":
		b.WriteString("\n📋 Заказанные товары:\n")
		b.WriteString(f.esc(n.LegacyItems))
		b.WriteString("\n")
	case n.ItemsUnavailable || n.LegacyOrder:
		b.WriteString("\n📋 Заказанные товары:\nИнформация о товарах недоступна\n")
	}

	if Has(n.TotalPrice) {
		b.WriteString("\n💰 Общая сумма: " + f.esc(totalLabel(n.TotalPrice)) + " ₽\n")
	}
	if Has(n.Comments) {
		b.WriteString("\n📝 Комментарии: " + f.long(n.Comments) + "\n")
	}
	b.WriteString("\n⏰ Время заказа: " + n.CreatedLabel())
	return b.String()
}

func (f Formatter) consultation(n Notification) string {
	var b strings.Builder
	b.WriteString(f.bold("📌 Новое уведомление"))
	b.WriteString("\n\n")
	b.WriteString("ID: " + f.esc(n.ID) + "\n")
	b.WriteString("Имя: " + f.esc(n.Name) + "\n")
	b.WriteString("Телефон: " + f.esc(n.Phone) + "\n")
	if Has(n.Email) {
		b.WriteString("Email: " + f.esc(n.Email) + "\n")
	}
	if Has(n.Description) {
		b.WriteString("Описание: " + f.long(n.Description) + "\n")
	}
	if Has(n.Comments) {
		b.WriteString("Комментарии: " + f.long(n.Comments) + "\n")
	}
	read := "Нет"
	if n.IsRead {
		read = "Да"
	}
	b.WriteString("Прочитано: " + read + "\n")
	b.WriteString("Дата создания: " + n.CreatedLabel())
	return b.String()
}

func (f Formatter) bulletin(n Notification) string {
	var b strings.Builder
	b.WriteString("📢 " + f.bold(n.Title) + "\n")
	if Has(n.Description) {
		b.WriteString("\n" + f.long(n.Description) + "\n")
	}
	b.WriteString("\n🕒 " + n.CreatedLabel())
	if Has(n.AdditionalInfo) {
		b.WriteString("\nℹ️ " + f.long(n.AdditionalInfo))
	}
	return b.String()
}

func orSentinel(s string) string {
	if s == "" {
		return Sentinel
	}
	return s
}

// finite parses s as a number, rejecting NaN and infinities.
func finite(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func lineTotal(it Item) (float64, bool) {
	p, ok := finite(it.Price)
	if !ok {
		return 0, false
	}
	q, ok := finite(it.Quantity)
	if !ok {
		return 0, false
	}
	sum := p * q
	if math.IsInf(sum, 0) {
		return 0, false
	}
	return sum, true
}

// totalLabel groups digits of numeric totals; other strings pass through.
func totalLabel(s string) string {
	v, ok := finite(s)
	if !ok {
		return s
	}
	return money(v)
}

// money renders v with space-separated thousands ("12 500", "1 234.5").
func money(v float64) string {
	var s string
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		s = humanize.Comma(int64(v))
	} else {
		s = humanize.CommafWithDigits(v, 2)
	}
	return strings.ReplaceAll(s, ",", " ")
}
