package main

import (
	"log/slog"
	"testing"

	"github.com/weftui/weft/internal/overlay"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseBoolDefault(t *testing.T) {
	tests := []struct {
		in   string
		def  bool
		want bool
	}{
		{"true", false, true},
		{"off", true, false},
		{"", true, true},
		{"", false, false},
		{"garbage", true, true},
	}
	for _, tt := range tests {
		if got := parseBoolDefault(tt.in, tt.def); got != tt.want {
			t.Errorf("parseBoolDefault(%q, %v) = %v, want %v", tt.in, tt.def, got, tt.want)
		}
	}
}

func TestFanoutHandlerReachesAllMembers(t *testing.T) {
	a := overlay.NewDevLog(10)
	b := overlay.NewDevLog(10)
	logger := slog.New(fanoutHandler{a, b})
	logger.Info("hello", "k", "v")

	for i, d := range []*overlay.DevLog{a, b} {
		entries := d.Entries()
		if len(entries) != 1 || entries[0].Message != "hello" {
			t.Fatalf("member %d entries = %+v", i, entries)
		}
	}
}
