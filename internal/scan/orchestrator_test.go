package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockscout/internal/discovery"
	"stockscout/internal/model"
	"stockscout/internal/pattern"
	"stockscout/internal/ratelimit"
)

// fakeQuotes implements quote.SeriesFetcher from a fixed map.
type fakeQuotes struct {
	series map[string]*model.EnrichedSeries
	err    error
}

func (f *fakeQuotes) FetchSeries(_ context.Context, symbol, _, _ string) (*model.EnrichedSeries, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.series[symbol]
	if !ok {
		return nil, errors.New("no data for " + symbol)
	}
	return s, nil
}

func testGovernor() *ratelimit.Governor {
	return ratelimit.NewGovernor(map[ratelimit.Provider]ratelimit.Quota{
		ratelimit.Primary:   {Calls: 100, Window: time.Hour},
		ratelimit.Secondary: {Calls: 100, Window: time.Hour},
	})
}

// declineSeries builds a three-year-ish series with a 90% all-time-high
// decline and four rallies of 200% or more.
func declineSeries(ticker string) *model.EnrichedSeries {
	cs := []float64{
		100, 50, 10,
		15, 30, // rally 1
		20, 8,
		24, // rally 2
		10, 6,
		18, // rally 3
		12, 5,
		15, // rally 4
		12, 10,
	}
	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, len(cs))
	for i, c := range cs {
		bars[i] = model.Bar{Time: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 10000}
	}
	return &model.EnrichedSeries{Ticker: ticker, Bars: bars}
}

func newTestOrchestrator(d discovery.Discoverer, q *fakeQuotes, reg Registry) *Orchestrator {
	return NewOrchestrator(d, q, reg, pattern.NewKuifje(pattern.KuifjeConfig{}), testGovernor(), Options{
		Markets:  []string{"us"},
		Deadline: time.Minute,
	})
}

func TestRun_ZeroCandidatesCompletes(t *testing.T) {
	reg := NewMemoryRegistry(10 * time.Minute)
	disc := &discovery.MockDiscoverer{}
	o := newTestOrchestrator(disc, &fakeQuotes{}, reg)

	run, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Zero(t, run.CandidatesFound)
	assert.Zero(t, run.Enriched)
	assert.Zero(t, run.Matched)
	assert.Zero(t, run.Inserted)
	assert.Empty(t, run.Errors)
	require.NotNil(t, run.FinishedAt)

	persisted, err := reg.LatestRun(context.Background(), model.ScannerKuifje)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, persisted.Status)
}

func TestRun_AllEnrichmentFailuresArePartial(t *testing.T) {
	reg := NewMemoryRegistry(10 * time.Minute)
	disc := &discovery.MockDiscoverer{
		Candidates: map[string][]model.Candidate{
			"us": {
				{Ticker: "AAA", Market: "us"},
				{Ticker: "BBB", Market: "us"},
			},
		},
	}
	q := &fakeQuotes{err: errors.New("provider down")}
	o := newTestOrchestrator(disc, q, reg)

	run, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunPartial, run.Status, "enrichment failures must not fail the run")
	assert.Equal(t, 2, run.CandidatesFound)
	assert.Zero(t, run.Enriched)
	assert.NotEmpty(t, run.Errors)
}

func TestRun_DiscoveryFailureIsAbsorbed(t *testing.T) {
	reg := NewMemoryRegistry(10 * time.Minute)
	disc := &discovery.MockDiscoverer{
		Candidates: map[string][]model.Candidate{
			"us": {{Ticker: "TEST", Market: "us"}},
		},
		Err: map[string]error{"de": errors.New("screener 500")},
	}
	q := &fakeQuotes{series: map[string]*model.EnrichedSeries{"TEST": declineSeries("TEST")}}
	o := NewOrchestrator(disc, q, reg, pattern.NewKuifje(pattern.KuifjeConfig{}), testGovernor(), Options{
		Markets:  []string{"de", "us"},
		Deadline: time.Minute,
	})

	run, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunPartial, run.Status)
	assert.Equal(t, 1, run.CandidatesFound, "the healthy market still contributes")
	assert.Equal(t, 1, run.Enriched)
	require.Len(t, run.Errors, 1)
	assert.Contains(t, run.Errors[0], "discovery de")
}

func TestRun_EndToEndSingleMatch(t *testing.T) {
	reg := NewMemoryRegistry(10 * time.Minute)
	disc := &discovery.MockDiscoverer{
		Candidates: map[string][]model.Candidate{
			"us": {{Ticker: "TEST", Market: "us", Price: 10, Volume: 50000}},
		},
	}
	q := &fakeQuotes{series: map[string]*model.EnrichedSeries{"TEST": declineSeries("TEST")}}
	o := newTestOrchestrator(disc, q, reg)

	run, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunCompleted, run.Status)
	assert.Equal(t, 1, run.CandidatesFound)
	assert.Equal(t, 1, run.Enriched)
	assert.Equal(t, 1, run.Matched)
	assert.Equal(t, 1, run.Inserted)

	matches, err := reg.Matches(context.Background(), model.ScannerKuifje, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "TEST", matches[0].Ticker)
	assert.InDelta(t, 90.0, matches[0].DeclinePct, 0.01)
	assert.Equal(t, 4, matches[0].GrowthEvents)
	assert.GreaterOrEqual(t, matches[0].Score, 0.0)
	assert.LessOrEqual(t, matches[0].Score, 10.0)
}

func TestRun_DedupesNormalizedSymbols(t *testing.T) {
	reg := NewMemoryRegistry(10 * time.Minute)
	disc := &discovery.MockDiscoverer{
		Candidates: map[string][]model.Candidate{
			// Both normalize to TEST.L.
			"uk": {
				{Ticker: "TEST.LON", Market: "uk"},
				{Ticker: "TEST.L", Market: "uk"},
			},
		},
	}
	q := &fakeQuotes{series: map[string]*model.EnrichedSeries{"TEST.L": declineSeries("TEST.L")}}
	o := NewOrchestrator(disc, q, reg, pattern.NewKuifje(pattern.KuifjeConfig{}), testGovernor(), Options{
		Markets:  []string{"uk"},
		Deadline: time.Minute,
	})

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.CandidatesFound)
	assert.Equal(t, 1, run.Enriched)
}

func TestRun_RejectsOverlap(t *testing.T) {
	reg := NewMemoryRegistry(10 * time.Minute)
	disc := &discovery.MockDiscoverer{}
	o := newTestOrchestrator(disc, &fakeQuotes{}, reg)

	// A live running record for the same scanner blocks a new start.
	live := &model.ScanRun{
		Scanner:   model.ScannerKuifje,
		Status:    model.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := reg.CreateRun(context.Background(), live)
	require.NoError(t, err)

	_, err = o.Begin(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestRun_IndependentScannersMayOverlap(t *testing.T) {
	reg := NewMemoryRegistry(10 * time.Minute)
	disc := &discovery.MockDiscoverer{}

	// A live Zonnebloem run must not block Kuifje.
	live := &model.ScanRun{
		Scanner:   model.ScannerZonnebloem,
		Status:    model.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := reg.CreateRun(context.Background(), live)
	require.NoError(t, err)

	o := newTestOrchestrator(disc, &fakeQuotes{}, reg)
	run, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, run.Status)
}

func TestRun_MatchedTwiceInsertedOnce(t *testing.T) {
	reg := NewMemoryRegistry(10 * time.Minute)
	disc := &discovery.MockDiscoverer{
		Candidates: map[string][]model.Candidate{
			"us": {{Ticker: "TEST", Market: "us"}},
		},
	}
	q := &fakeQuotes{series: map[string]*model.EnrichedSeries{"TEST": declineSeries("TEST")}}

	first, err := newTestOrchestrator(disc, q, reg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	second, err := newTestOrchestrator(disc, q, reg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Matched)
	assert.Zero(t, second.Inserted, "a re-detected ticker is not newly inserted")
}
