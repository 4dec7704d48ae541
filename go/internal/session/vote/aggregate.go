package vote

import (
	"math"
	"strconv"
)

// Consensus classifies how closely the numeric votes of a round agree.
type Consensus string

const (
	ConsensusNoVotes Consensus = "no-votes"
	ConsensusPerfect Consensus = "perfect"
	ConsensusClose   Consensus = "close"
	ConsensusSpread  Consensus = "spread"
)

// numeric keeps only the estimates that take part in averaging.
func numeric(values []Value) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if p, ok := v.Numeric(); ok {
			out = append(out, p)
		}
	}
	return out
}

// Average returns the mean of the numeric votes rounded to one decimal place.
// Sentinel cards are ignored; ok is false when no numeric vote was cast.
func Average(values []Value) (avg float64, ok bool) {
	nums := numeric(values)
	if len(nums) == 0 {
		return 0, false
	}

	var sum float64
	for _, n := range nums {
		sum += n
	}
	return math.Round(sum/float64(len(nums))*10) / 10, true
}

// FormatAverage renders an average with exactly one decimal, e.g. "4.4".
func FormatAverage(avg float64) string {
	return strconv.FormatFloat(avg, 'f', 1, 64)
}

// Classify returns the consensus classification over the numeric votes.
func Classify(values []Value) Consensus {
	nums := numeric(values)
	if len(nums) == 0 {
		return ConsensusNoVotes
	}

	lo, hi := nums[0], nums[0]
	for _, n := range nums[1:] {
		lo = math.Min(lo, n)
		hi = math.Max(hi, n)
	}

	switch {
	case lo == hi:
		return ConsensusPerfect
	case hi-lo <= 1:
		return ConsensusClose
	default:
		return ConsensusSpread
	}
}

// Mode returns the most frequently cast value, sentinels included. Ties go
// to the value that appears first in values.
func Mode(values []Value) (Value, bool) {
	if len(values) == 0 {
		return Value{}, false
	}

	counts := make(map[Value]int, len(values))
	var order []Value
	for _, v := range values {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}

	best := order[0]
	for _, v := range order[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best, true
}
