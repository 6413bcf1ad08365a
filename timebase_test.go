package framesync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRescale(t *testing.T) {
	ms := Timebase{Num: 1, Den: 1000}
	fps30 := Timebase{Num: 1, Den: 30}

	testCases := []struct {
		name     string
		ts       int64
		from     Timebase
		to       Timebase
		expected int64
	}{
		{name: "identity", ts: 12345, from: ClockRate90k, to: ClockRate90k, expected: 12345},
		{name: "frames-to-90k", ts: 1, from: fps30, to: ClockRate90k, expected: 3000},
		{name: "90k-to-ms", ts: 90_000, from: ClockRate90k, to: ms, expected: 1000},
		{name: "round-down", ts: 3000, from: ClockRate90k, to: ms, expected: 33},
		{name: "round-half-up", ts: 45, from: ClockRate90k, to: ms, expected: 1},
		{name: "negative", ts: -90_000, from: ClockRate90k, to: ms, expected: -1000},
		{name: "negative-round", ts: -45, from: ClockRate90k, to: ms, expected: -1},
		{name: "large", ts: 1 << 40, from: ClockRate90k, to: ClockRate90k, expected: 1 << 40},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Rescale(tc.ts, tc.from, tc.to))
		})
	}
}

func TestTimebaseDuration(t *testing.T) {
	assert.Equal(t, time.Second, ClockRate90k.Duration(90_000))
	assert.Equal(t, 40*time.Millisecond, ClockRate90k.Duration(3600))
	assert.Equal(t, int64(3600), ClockRate90k.Ticks(40*time.Millisecond))
}

func TestParseTimebase(t *testing.T) {
	tb, err := ParseTimebase("1/90000")
	require.NoError(t, err)
	assert.Equal(t, ClockRate90k, tb)
	assert.Equal(t, "1/90000", tb.String())

	for _, s := range []string{"", "90000", "1/0", "-1/30", "a/b"} {
		_, err := ParseTimebase(s)
		assert.Error(t, err, s)
	}
}
