package validator

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeviationFlagging(t *testing.T) {
	tests := []struct {
		name         string
		thresholdPPM uint32
		prev         int64
		answer       int64
		flagged      bool
	}{
		{"within threshold", 100_000, 1000, 1050, false},  // 5% move, 10% threshold
		{"at threshold", 100_000, 1000, 1100, false},      // exactly 10%
		{"over threshold", 100_000, 1000, 1200, true},     // 20% move
		{"downward deviation", 100_000, 1000, 800, true},  // -20% move
		{"zero previous answer", 100_000, 0, 5000, false}, // no basis
		{"zero threshold flags any move", 0, 1000, 1001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := NewFlags()
			dv := NewDeviationFlagging(flags, "TEST / USD", tt.thresholdPPM)

			err := dv.Validate(context.Background(), 1, big.NewInt(tt.prev), 2, big.NewInt(tt.answer))
			require.NoError(t, err)
			require.Equal(t, tt.flagged, flags.IsRaised("TEST / USD"))
		})
	}
}

func TestFlagsRaiseHook(t *testing.T) {
	flags := NewFlags()
	var notified []string
	flags.WithRaiseHook(func(subject string) { notified = append(notified, subject) })

	flags.Raise("a")
	flags.Raise("a") // duplicate raise must not re-fire the hook
	flags.Raise("b")
	require.Equal(t, []string{"a", "b"}, notified)

	// A lowered flag raised again notifies again.
	flags.Lower("a")
	flags.Raise("a")
	require.Equal(t, []string{"a", "b", "a"}, notified)

	// The validator path reaches the hook too.
	dv := NewDeviationFlagging(flags, "TEST / USD", 100_000)
	require.NoError(t, dv.Validate(context.Background(), 1, big.NewInt(1000), 2, big.NewInt(2000)))
	require.Equal(t, []string{"a", "b", "a", "TEST / USD"}, notified)
}

func TestFlagsRegistry(t *testing.T) {
	flags := NewFlags()
	require.False(t, flags.IsRaised("a"))

	flags.Raise("a")
	flags.Raise("a") // idempotent
	flags.Raise("b")
	require.True(t, flags.IsRaised("a"))
	require.ElementsMatch(t, []string{"a", "b"}, flags.Raised())

	flags.Lower("a")
	require.False(t, flags.IsRaised("a"))
	require.Equal(t, []string{"b"}, flags.Raised())
}
