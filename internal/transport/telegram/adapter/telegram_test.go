package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTextShortPassesThrough(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("a", 30)
	s := strings.Join([]string{line, line, line, line}, "\n")

	chunks := splitText(s, 70, "")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 70 {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d keeps boundary newline: %q", i, c)
		}
	}
	if strings.Join(chunks, "\n") != s {
		t.Fatal("chunks do not reassemble into the original text")
	}
}

func TestSplitTextCountsRunes(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("ж", 25)
	chunks := splitText(s, 10, "")
	if len(chunks) != 3 {
		t.Fatalf("len = %d, want 3", len(chunks))
	}
	for _, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("invalid utf8 chunk %q", c)
		}
	}
}

func TestSplitTextAvoidsOpenHTMLTag(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("x", 8) + "<b>bold</b>"
	chunks := splitText(s, 10, "HTML")
	if chunks[0] != strings.Repeat("x", 8) {
		t.Fatalf("first chunk = %q", chunks[0])
	}
}

func TestReplyKeyboardRows(t *testing.T) {
	t.Parallel()
	m := replyKeyboard([][]string{{"/start", "Уведомления"}})
	if !m.ResizeKeyboard {
		t.Fatal("expected resize keyboard")
	}
	if len(m.ReplyKeyboard) != 1 || len(m.ReplyKeyboard[0]) != 2 {
		t.Fatalf("unexpected layout: %+v", m.ReplyKeyboard)
	}
	if m.ReplyKeyboard[0][1].Text != "Уведомления" {
		t.Fatalf("label = %q", m.ReplyKeyboard[0][1].Text)
	}
}
