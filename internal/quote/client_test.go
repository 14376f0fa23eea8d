package quote

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockscout/internal/model"
	"stockscout/internal/ratelimit"
)

// stubFetcher implements SeriesFetcher with a canned response.
type stubFetcher struct {
	series *model.EnrichedSeries
	err    error
	calls  atomic.Int32
	gov    *ratelimit.Governor
	prov   ratelimit.Provider
}

func (s *stubFetcher) FetchSeries(ctx context.Context, symbol, rng, interval string) (*model.EnrichedSeries, error) {
	s.calls.Add(1)
	if s.gov != nil {
		if !s.gov.TryConsume(s.prov) {
			return nil, ErrRateLimited
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.series, nil
}

func someSeries(ticker string) *model.EnrichedSeries {
	return &model.EnrichedSeries{
		Ticker: ticker,
		Bars:   []model.Bar{{Time: time.Now(), Close: 10}},
		Quote:  10,
	}
}

func TestClient_PrimaryPreferred(t *testing.T) {
	gov := newGov(10, 10)
	primary := &stubFetcher{series: someSeries("AAA"), gov: gov, prov: ratelimit.Primary}
	secondary := &stubFetcher{series: someSeries("AAA")}
	c := NewClient(primary, secondary, gov)

	series, err := c.FetchSeries(context.Background(), "AAA", "5y", "1d")
	require.NoError(t, err)
	assert.Equal(t, "AAA", series.Ticker)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(0), secondary.calls.Load())
}

func TestClient_FallbackOnPrimaryError(t *testing.T) {
	gov := newGov(10, 10)
	primary := &stubFetcher{err: ErrProviderUnavailable, gov: gov, prov: ratelimit.Primary}
	secondary := &stubFetcher{series: someSeries("BBB"), gov: gov, prov: ratelimit.Secondary}
	c := NewClient(primary, secondary, gov)

	series, err := c.FetchSeries(context.Background(), "BBB", "5y", "1d")
	require.NoError(t, err)
	assert.Equal(t, "BBB", series.Ticker)
	assert.Equal(t, int32(1), secondary.calls.Load())
}

func TestClient_FallbackOnZeroPrimaryBudget(t *testing.T) {
	gov := newGov(0, 10)
	primary := &stubFetcher{series: someSeries("CCC")}
	secondary := &stubFetcher{series: someSeries("CCC"), gov: gov, prov: ratelimit.Secondary}
	c := NewClient(primary, secondary, gov)

	series, err := c.FetchSeries(context.Background(), "CCC", "5y", "1d")
	require.NoError(t, err)
	assert.Equal(t, "CCC", series.Ticker)
	assert.Equal(t, int32(0), primary.calls.Load(), "primary must be skipped entirely")
	assert.Equal(t, int32(1), secondary.calls.Load())
}

func TestClient_BothProvidersFail(t *testing.T) {
	gov := newGov(10, 10)
	primary := &stubFetcher{err: ErrProviderUnavailable, gov: gov, prov: ratelimit.Primary}
	secondary := &stubFetcher{err: errors.New("secondary down"), gov: gov, prov: ratelimit.Secondary}
	c := NewClient(primary, secondary, gov)

	_, err := c.FetchSeries(context.Background(), "DDD", "5y", "1d")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestClient_NoSecondaryConfigured(t *testing.T) {
	gov := newGov(10, 10)
	primary := &stubFetcher{err: ErrProviderUnavailable, gov: gov, prov: ratelimit.Primary}
	c := NewClient(primary, nil, gov)

	_, err := c.FetchSeries(context.Background(), "EEE", "5y", "1d")
	require.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestClient_CachesSuccessfulResponses(t *testing.T) {
	gov := newGov(10, 10)
	primary := &stubFetcher{series: someSeries("FFF"), gov: gov, prov: ratelimit.Primary}
	c := NewClient(primary, nil, gov)

	_, err := c.FetchSeries(context.Background(), "FFF", "5y", "1d")
	require.NoError(t, err)
	_, err = c.FetchSeries(context.Background(), "FFF", "5y", "1d")
	require.NoError(t, err)
	assert.Equal(t, int32(1), primary.calls.Load(), "second call must be served from cache")

	// Different range is a different cache entry.
	_, err = c.FetchSeries(context.Background(), "FFF", "3mo", "1d")
	require.NoError(t, err)
	assert.Equal(t, int32(2), primary.calls.Load())
}

func TestCacheTTL_Ranges(t *testing.T) {
	assert.Equal(t, 5*time.Minute, cacheTTL("5d"))
	assert.Equal(t, 30*time.Minute, cacheTTL("3mo"))
	assert.Equal(t, time.Hour, cacheTTL("5y"))
}
