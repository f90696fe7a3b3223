package notify

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncatePreview(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short ascii untouched", "hello", 140, "hello"},
		{"exact length untouched", strings.Repeat("a", 5), 5, strings.Repeat("a", 5)},
		{"long ascii cut", strings.Repeat("a", 6), 5, strings.Repeat("a", 5) + "…"},
		{"multibyte counted as runes", "héllo wörld", 5, "héllo…"},
		{"emoji not split", "🙂🙂🙂🙂", 2, "🙂🙂…"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := truncatePreview(tc.in, tc.max)
			if got != tc.want {
				t.Fatalf("truncatePreview(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("truncatePreview produced invalid UTF-8: %q", got)
			}
		})
	}
}

func TestTruncatePreview_LongMultibyteStaysValid(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("ü", 200)
	got := truncatePreview(in, 140)
	if !utf8.ValidString(got) {
		t.Fatalf("invalid UTF-8 after truncation: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 141 {
		t.Fatalf("expected 140 runes plus ellipsis, got %d", n)
	}
}
