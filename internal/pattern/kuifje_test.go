package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockscout/internal/model"
)

// seriesFromCloses builds a daily series where High tracks Close, one
// bar per weekday starting far enough back for any lookback.
func seriesFromCloses(ticker string, cs []float64) *model.EnrichedSeries {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, len(cs))
	for i, c := range cs {
		bars[i] = model.Bar{
			Time:   start.AddDate(0, 0, i),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: 50000,
		}
	}
	return &model.EnrichedSeries{Ticker: ticker, Bars: bars, FetchedAt: start}
}

// kuifjeCloses has an all-time high of 100, a final close of 10 (a 90%
// decline) and exactly three non-overlapping rallies of 200% or more.
var kuifjeCloses = []float64{
	100, 50, 10, // peak, then collapse to the first trough
	15, 30, // rally 1: 10 -> 30
	20, 8, // new trough
	24,     // rally 2: 8 -> 24
	10, 6,  // new trough
	18,     // rally 3: 6 -> 18
	12, 10, // drift to the final 90%-off close
}

func TestKuifje_MatchOnDeepDeclineWithRecoveries(t *testing.T) {
	k := NewKuifje(KuifjeConfig{})
	res := k.Classify(seriesFromCloses("TEST", kuifjeCloses))

	assert.True(t, res.Match)
	assert.InDelta(t, 90.0, res.DeclinePct, 0.01)
	assert.Equal(t, 3, res.GrowthEvents)
	assert.Equal(t, model.ScannerKuifje, res.Scanner)
	assert.GreaterOrEqual(t, res.Score, 0.0)
	assert.LessOrEqual(t, res.Score, 10.0)
}

func TestKuifje_Deterministic(t *testing.T) {
	k := NewKuifje(KuifjeConfig{})
	s := seriesFromCloses("TEST", kuifjeCloses)
	first := k.Classify(s)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, k.Classify(s))
	}
}

func TestKuifje_NoMatchShallowDecline(t *testing.T) {
	// Same recovery history but the price only fell 50%.
	cs := append(append([]float64{}, kuifjeCloses...), 50)
	k := NewKuifje(KuifjeConfig{})
	res := k.Classify(seriesFromCloses("TEST", cs))

	assert.False(t, res.Match)
	assert.InDelta(t, 50.0, res.DeclinePct, 0.01)
}

func TestKuifje_NoMatchTooFewEvents(t *testing.T) {
	// One big collapse, no rallies on the way down.
	cs := []float64{100, 80, 60, 40, 25, 18, 14, 12, 11, 10}
	k := NewKuifje(KuifjeConfig{})
	res := k.Classify(seriesFromCloses("TEST", cs))

	assert.False(t, res.Match)
	assert.Equal(t, 0, res.GrowthEvents)
	assert.InDelta(t, 90.0, res.DeclinePct, 0.01)
}

func TestKuifje_ScoreMonotonicInEvents(t *testing.T) {
	k := NewKuifje(KuifjeConfig{})
	three := k.Classify(seriesFromCloses("A", kuifjeCloses))

	// Insert a fourth rally before the final drift.
	cs := append([]float64{}, kuifjeCloses[:len(kuifjeCloses)-2]...)
	cs = append(cs, 5, 15, 12, 10) // rally 4: 5 -> 15, same 90% final decline
	four := k.Classify(seriesFromCloses("A", cs))

	require.Equal(t, 4, four.GrowthEvents)
	assert.Greater(t, four.Score, three.Score)
}

func TestKuifje_EmptySeries(t *testing.T) {
	k := NewKuifje(KuifjeConfig{})
	res := k.Classify(&model.EnrichedSeries{Ticker: "EMPTY"})

	assert.False(t, res.Match)
	assert.Zero(t, res.Score)
}

func TestGrowthEvents_NonOverlapping(t *testing.T) {
	// A single 10 -> 89 run is one event, not several: the trough
	// resets to the qualifying close.
	assert.Equal(t, 1, growthEvents([]float64{10, 25, 89}, 200))
	// A second event needs a fresh 3x rally from the reset trough.
	assert.Equal(t, 2, growthEvents([]float64{10, 25, 89, 270}, 200))
	assert.Equal(t, 0, growthEvents([]float64{10, 12, 15, 20}, 200))
	assert.Equal(t, 0, growthEvents(nil, 200))
}
