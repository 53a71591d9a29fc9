package aggregate

import (
	"math/big"
	"testing"
)

func ints(vs ...int64) []*big.Int {
	out := make([]*big.Int, len(vs))
	for i, v := range vs {
		out[i] = big.NewInt(v)
	}
	return out
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name     string
		values   []*big.Int
		expected *big.Int
	}{
		{
			name:     "single value",
			values:   ints(42),
			expected: big.NewInt(42),
		},
		{
			name:     "odd count",
			values:   ints(10, 30, 20),
			expected: big.NewInt(20),
		},
		{
			name:     "even count averages middle pair",
			values:   ints(10, 20),
			expected: big.NewInt(15),
		},
		{
			name:     "even count truncates toward zero",
			values:   ints(10, 21),
			expected: big.NewInt(15), // (10+21)/2 = 15.5
		},
		{
			name:     "negative values truncate toward zero",
			values:   ints(-10, -21),
			expected: big.NewInt(-15),
		},
		{
			name:     "unsorted input",
			values:   ints(30, 10, 20, 50, 40),
			expected: big.NewInt(30),
		},
		{
			name:     "empty input",
			values:   nil,
			expected: big.NewInt(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Median(tt.values)
			if got.Cmp(tt.expected) != 0 {
				t.Errorf("Median got = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMedianDoesNotReorderInput(t *testing.T) {
	values := ints(30, 10, 20)
	Median(values)
	want := []int64{30, 10, 20}
	for i, v := range values {
		if v.Int64() != want[i] {
			t.Fatalf("input reordered at %d: got %v, want %v", i, v, want[i])
		}
	}
}

func TestMinMaxSpread(t *testing.T) {
	values := ints(20, -5, 40, 7)

	if got := Min(values); got.Cmp(big.NewInt(-5)) != 0 {
		t.Errorf("Min got = %v, want -5", got)
	}
	if got := Max(values); got.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("Max got = %v, want 40", got)
	}
	if got := Spread(values); got.Cmp(big.NewInt(45)) != 0 {
		t.Errorf("Spread got = %v, want 45", got)
	}

	if Min(nil) != nil {
		t.Error("Min of empty set should be nil")
	}
	if Max(nil) != nil {
		t.Error("Max of empty set should be nil")
	}
	if got := Spread(nil); got.Sign() != 0 {
		t.Errorf("Spread of empty set got = %v, want 0", got)
	}
}
