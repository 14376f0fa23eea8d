package pattern

import (
	"math"

	"stockscout/internal/model"
)

// tail returns at most the last n bars.
func tail(bars []model.Bar, n int) []model.Bar {
	if n <= 0 || len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}

func closes(bars []model.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func maxHigh(bars []model.Bar) float64 {
	var max float64
	for _, b := range bars {
		if b.High > max {
			max = b.High
		}
	}
	return max
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// growthEvents counts discrete trough-to-peak rallies of at least
// thresholdPct percent. Events do not overlap: after a rally qualifies,
// the trough tracker resets to the qualifying close so the same move is
// never counted twice.
func growthEvents(cs []float64, thresholdPct float64) int {
	if len(cs) == 0 || thresholdPct <= 0 {
		return 0
	}
	factor := 1 + thresholdPct/100
	events := 0
	trough := cs[0]
	for _, c := range cs {
		if c <= 0 {
			continue
		}
		if trough <= 0 || c < trough {
			trough = c
			continue
		}
		if c >= trough*factor {
			events++
			trough = c
		}
	}
	return events
}
