// Package quote fetches historical price series through a
// primary/secondary provider chain under governor-enforced budgets.
package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"stockscout/internal/model"
	"stockscout/internal/ratelimit"
)

// SeriesFetcher is the enrichment contract the orchestrator depends on.
type SeriesFetcher interface {
	FetchSeries(ctx context.Context, symbol, rng, interval string) (*model.EnrichedSeries, error)
}

// Client is the provider-fallback facade: primary first, secondary when
// the primary is exhausted or failing. Responses are kept in an
// advisory cache whose TTL depends on the requested range, so repeated
// scans within a trading day reuse daily data instead of spending
// budget.
type Client struct {
	primary   SeriesFetcher
	secondary SeriesFetcher
	gov       *ratelimit.Governor
	cache     *gocache.Cache
}

// NewClient assembles the facade. secondary may be nil when no
// secondary provider is configured.
func NewClient(primary, secondary SeriesFetcher, gov *ratelimit.Governor) *Client {
	return &Client{
		primary:   primary,
		secondary: secondary,
		gov:       gov,
		cache:     gocache.New(time.Hour, 10*time.Minute),
	}
}

// FetchSeries resolves one symbol's history through the fallback chain.
func (c *Client) FetchSeries(ctx context.Context, symbol, rng, interval string) (*model.EnrichedSeries, error) {
	key := symbol + "|" + rng + "|" + interval
	if v, found := c.cache.Get(key); found {
		return v.(*model.EnrichedSeries), nil
	}

	var primaryErr error
	if c.gov.Remaining(ratelimit.Primary) > 0 {
		series, err := c.primary.FetchSeries(ctx, symbol, rng, interval)
		if err == nil {
			c.cache.Set(key, series, cacheTTL(rng))
			return series, nil
		}
		primaryErr = err
	} else {
		primaryErr = fmt.Errorf("%w: primary budget exhausted", ErrRateLimited)
	}

	if c.secondary == nil || c.gov.Remaining(ratelimit.Secondary) <= 0 {
		return nil, primaryErr
	}

	log.Debug().Str("symbol", symbol).Err(primaryErr).Msg("falling back to secondary provider")
	series, err := c.secondary.FetchSeries(ctx, symbol, rng, interval)
	if err != nil {
		return nil, errors.Join(primaryErr, err)
	}
	c.cache.Set(key, series, cacheTTL(rng))
	return series, nil
}

// cacheTTL picks the advisory freshness window for a range: short
// intraday-style ranges go stale in minutes, multi-year history is good
// for an hour or more.
func cacheTTL(rng string) time.Duration {
	switch rng {
	case "1d", "5d":
		return 5 * time.Minute
	case "1mo", "3mo", "6mo":
		return 30 * time.Minute
	default:
		return time.Hour
	}
}
