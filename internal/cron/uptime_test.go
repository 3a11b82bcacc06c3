package cron

import (
	"testing"
	"time"
)

func TestParseUptime(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{input: "2 hours 30 minutes", want: 9000 * time.Second},
		{input: "3 hours 50 minutes", want: 13800 * time.Second},
		{input: "up 1 day, 2 hours, 5 minutes", want: 26*time.Hour + 5*time.Minute},
		{input: "up 2 weeks, 1 day", want: 15 * 24 * time.Hour},
		{input: "1 minute", want: time.Minute},
		{input: "4h 15m", want: 4*time.Hour + 15*time.Minute},
		{input: "3 hours 50 minutes 1 second", want: 13801 * time.Second},
		{input: "10 minutes and 3 fortnights", want: 10 * time.Minute},
		{input: "UP 3 HOURS", want: 3 * time.Hour},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseUptime(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestParseUptimeNothingRecognized(t *testing.T) {
	for _, input := range []string{"", "up", "soon", "5 fortnights"} {
		if _, err := ParseUptime(input); err == nil {
			t.Errorf("expected an error for %q", input)
		}
	}
}
