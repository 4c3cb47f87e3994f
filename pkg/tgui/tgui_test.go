package tgui

import (
	"errors"
	"strings"
	"testing"
)

func TestData(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		group   string
		action  string
		payload string
		want    string
		wantErr error
	}{
		{name: "no payload", group: "alarm", action: "cancel", want: "alarm:cancel"},
		{name: "payload", group: " alarm ", action: "cancel", payload: "wake_07_30", want: "alarm:cancel:wake_07_30"},
		{name: "payload is not trimmed", group: "a", action: "b", payload: " x", want: "a:b: x"},
		{name: "too long", group: "alarm", action: "cancel", payload: strings.Repeat("x", 60), wantErr: ErrCallbackDataTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Data(tt.group, tt.action, tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("Data = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTMLHelpers(t *testing.T) {
	t.Parallel()
	if got := Code("a<b"); got != "<code>a&lt;b</code>" {
		t.Fatalf("Code = %q", got)
	}
	if got := B("x&y"); got != "<b>x&amp;y</b>" {
		t.Fatalf("B = %q", got)
	}
	if got := JoinH(" ", B("a"), "", Code("b")); got != "<b>a</b> <code>b</code>" {
		t.Fatalf("JoinH = %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"héllo", 2, "hé…"},
		{"hello", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncRunes(tt.in, tt.n); got != tt.want {
			t.Errorf("TruncRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
