package portal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Max: 60 * time.Second, Factor: 2}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{7, 60 * time.Second},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, b.Delay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestBackoffDelayDeterministic(t *testing.T) {
	b := Backoff{Base: 500 * time.Millisecond, Max: 10 * time.Second, Factor: 3}
	first := b.Delay(4)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, b.Delay(4))
	}
}

func TestBackoffDelayGuards(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute, Factor: 2}
	require.Equal(t, time.Second, b.Delay(0))
	require.Equal(t, time.Second, b.Delay(-3))

	// Factor below 1 must never shrink the delay under base.
	shrink := Backoff{Base: time.Second, Max: time.Minute, Factor: 0.5}
	require.Equal(t, time.Second, shrink.Delay(5))

	// Huge attempt counts clamp to max instead of overflowing.
	require.Equal(t, time.Minute, b.Delay(1000))
}
