package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"0", 0},
		{"90s", 90 * time.Second},
		{"1h30m", 90 * time.Minute},
		{"250ms", 250 * time.Millisecond},
		{"30d", 30 * Day},
		{"2w", 14 * Day},
		{"1mo", 30 * Day},
		{"1y", 365 * Day},
		{"1.5d", 36 * time.Hour},
		{"1d 12h", 36 * time.Hour},
		{"  7d ", Week},
		{"-2h", -2 * time.Hour},
		{"1m1ms", time.Minute + time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_MatchesStdlibForGoDurations(t *testing.T) {
	for _, in := range []string{"1h2m3s", "1.25s", "500us", "15m", "72h"} {
		want, err := time.ParseDuration(in)
		require.NoError(t, err)
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParse_Errors(t *testing.T) {
	for _, in := range []string{"", "   ", "d", "10", "5x", "1..2h", "h5", "-", "100000000y"} {
		_, err := Parse(in)
		assert.Error(t, err, "%q", in)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{500 * time.Microsecond, "0s"},
		{1500 * time.Millisecond, "1s500ms"},
		{90 * time.Second, "1m30s"},
		{30 * Day, "30d"},
		{Day + 2*time.Hour + 3*time.Minute, "1d2h3m"},
		{-90 * time.Minute, "-1h30m"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.in))
		})
	}
}

func TestFormat_ParsesBack(t *testing.T) {
	for _, d := range []time.Duration{time.Second, 45 * time.Minute, 30 * Day, 400 * Day, 36*time.Hour + 250*time.Millisecond} {
		got, err := Parse(Format(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
}
