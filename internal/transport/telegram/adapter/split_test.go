package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        string
		limit     int
		parseMode string
		want      []string
	}{
		{"short", "hello", 10, "", []string{"hello"}},
		{"empty", "", 10, "", []string{""}},
		{"hard cut", "abcdefghij", 4, "", []string{"abcd", "efgh", "ij"}},
		{"newline preferred", "aaaa\nbbbbbb", 8, "", []string{"aaaa", "bbbbbb"}},
		{"html tag kept whole", "abcd<b>x</b>", 6, "HTML", []string{"abcd", "<b>x", "</b>"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitTelegramText(tt.in, tt.limit, tt.parseMode)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("split = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitTelegramTextRespectsLimit(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("héllo wörld\n", 1000)
	for _, c := range splitTelegramText(in, telegramTextLimit, "") {
		if n := utf8.RuneCountInString(c); n > telegramTextLimit {
			t.Fatalf("chunk has %d runes", n)
		}
	}
}
