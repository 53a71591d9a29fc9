// Package aggregate provides the answer-computation math for submission sets.
package aggregate

import (
	"math/big"
	"sort"
)

// Median computes the median of the given submissions. The input is
// the arrival-ordered raw submission list of a round; it is copied
// before sorting so the round's record keeps arrival order. An
// even-length list averages the two middle elements with integer
// division truncating toward zero.
func Median(values []*big.Int) *big.Int {
	if len(values) == 0 {
		return new(big.Int)
	}

	sorted := make([]*big.Int, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})

	n := len(sorted)
	if n%2 == 1 {
		return new(big.Int).Set(sorted[n/2])
	}

	sum := new(big.Int).Add(sorted[n/2-1], sorted[n/2])
	return sum.Quo(sum, big.NewInt(2))
}

// Min returns the smallest submission, or nil for an empty set.
func Min(values []*big.Int) *big.Int {
	var min *big.Int
	for _, v := range values {
		if min == nil || v.Cmp(min) < 0 {
			min = v
		}
	}
	if min == nil {
		return nil
	}
	return new(big.Int).Set(min)
}

// Max returns the largest submission, or nil for an empty set.
func Max(values []*big.Int) *big.Int {
	var max *big.Int
	for _, v := range values {
		if max == nil || v.Cmp(max) > 0 {
			max = v
		}
	}
	if max == nil {
		return nil
	}
	return new(big.Int).Set(max)
}

// Spread returns max-min of the submission set, the dispersion signal
// the status surface reports for the in-flight round.
func Spread(values []*big.Int) *big.Int {
	if len(values) == 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(Max(values), Min(values))
}
