package tgui

import "testing"

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "hello", n: 10, want: "hello"},
		{in: "hello", n: 5, want: "hello"},
		{in: "hello", n: 3, want: "hel…"},
		{in: "привет", n: 2, want: "пр…"},
		{in: "x", n: 0, want: ""},
	}
	for _, tt := range tests {
		if got := TruncRunes(tt.in, tt.n); got != tt.want {
			t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestHTMLHelpers(t *testing.T) {
	t.Parallel()
	if got := B("a<b>").String(); got != "<b>a&lt;b&gt;</b>" {
		t.Fatalf("B = %q", got)
	}
	if got := Code("5").String(); got != "<code>5</code>" {
		t.Fatalf("Code = %q", got)
	}
}
