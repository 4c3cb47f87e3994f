package app

import (
	"errors"
	"fmt"
	"testing"

	"brightsched/internal/alarm"
)

func TestParseClock(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{in: "07:30", h: 7, m: 30},
		{in: "7:05", h: 7, m: 5},
		{in: " 23:59 ", h: 23, m: 59},
		{in: "0:00", h: 0, m: 0},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "12:5", wantErr: true},
		{in: "1230", wantErr: true},
		{in: "ab:cd", wantErr: true},
	}
	for _, tt := range tests {
		h, m, err := parseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseClock(%q) err = %v", tt.in, err)
		}
		if err == nil && (h != tt.h || m != tt.m) {
			t.Fatalf("parseClock(%q) = %d:%d, want %d:%d", tt.in, h, m, tt.h, tt.m)
		}
	}
}

func TestParseBrightness(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "0.5", want: 0.5},
		{in: "1", want: 1},
		{in: "0", want: 0},
		{in: "40%", want: 0.4},
		{in: "100%", want: 1},
		{in: "1.5", wantErr: true},
		{in: "-0.1", wantErr: true},
		{in: "101%", wantErr: true},
		{in: "bright", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseBrightness(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseBrightness(%q) err = %v", tt.in, err)
		}
		if err == nil && got != tt.want {
			t.Fatalf("parseBrightness(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseSetArgs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		args    []string
		want    setArgs
		wantErr bool
	}{
		{
			name: "minimal",
			args: []string{"wake", "7:30", "80%"},
			want: setArgs{label: "wake", hour: 7, minute: 30, brightness: 0.8, enabled: true},
		},
		{
			name: "auto and off",
			args: []string{"night", "22:00", "0.1", "auto", "off"},
			want: setArgs{label: "night", hour: 22, brightness: 0.1, auto: true},
		},
		{name: "too few", args: []string{"wake", "7:30"}, wantErr: true},
		{name: "too many", args: []string{"a", "1:00", "1", "auto", "on", "x"}, wantErr: true},
		{name: "bad option", args: []string{"a", "1:00", "1", "loud"}, wantErr: true},
		{name: "bad time", args: []string{"a", "noon", "1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseSetArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if err == nil && got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFormatPercent(t *testing.T) {
	t.Parallel()
	tests := map[float64]string{0: "0%", 0.5: "50%", 1: "100%", 0.123: "12.3%", 0.07: "7%"}
	for in, want := range tests {
		if got := formatPercent(in); got != want {
			t.Errorf("formatPercent(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestAutoState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		on   bool
		err  error
		want string
	}{
		{on: true, want: "on"},
		{want: "off"},
		{err: fmt.Errorf("wrap: %w", alarm.ErrAutoUnavailable), want: "not configured"},
		{err: errors.New("bus <down>"), want: "❌ bus &lt;down&gt;"},
	}
	for _, tt := range tests {
		if got := autoState(tt.on, tt.err); got != tt.want {
			t.Errorf("autoState(%v, %v) = %q, want %q", tt.on, tt.err, got, tt.want)
		}
	}
}
