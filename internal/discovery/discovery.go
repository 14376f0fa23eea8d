// Package discovery queries per-market screener endpoints for raw scan
// candidates.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"stockscout/internal/model"
)

// Discoverer produces the coarse candidate list for one market. A
// failed market is the caller's problem to absorb; implementations just
// return the error.
type Discoverer interface {
	Discover(ctx context.Context, market string) ([]model.Candidate, error)
}

// Filter is the coarse screening criteria sent to the screener
// endpoint.
type Filter struct {
	PriceMin  float64
	PriceMax  float64
	VolumeMin float64
	Exchanges []string
}

// HTTPDiscoverer calls a screener endpoint once per market.
type HTTPDiscoverer struct {
	client *resty.Client
	filter Filter
}

// NewHTTPDiscoverer creates a discoverer against the screener base URL.
func NewHTTPDiscoverer(baseURL string, filter Filter) *HTTPDiscoverer {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")
	return &HTTPDiscoverer{client: client, filter: filter}
}

type screenerRow struct {
	Symbol   string  `json:"symbol"`
	Exchange string  `json:"exchange"`
	Price    float64 `json:"price"`
	Volume   float64 `json:"volume"`
}

// Discover fetches one market's candidate list.
func (d *HTTPDiscoverer) Discover(ctx context.Context, market string) ([]model.Candidate, error) {
	params := map[string]string{
		"market":     market,
		"price_min":  strconv.FormatFloat(d.filter.PriceMin, 'f', -1, 64),
		"price_max":  strconv.FormatFloat(d.filter.PriceMax, 'f', -1, 64),
		"volume_min": strconv.FormatFloat(d.filter.VolumeMin, 'f', -1, 64),
	}

	var rows []screenerRow
	resp, err := d.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&rows).
		Get("/screener")
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", market, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("discover %s: status %d", market, resp.StatusCode())
	}

	allowed := make(map[string]bool, len(d.filter.Exchanges))
	for _, ex := range d.filter.Exchanges {
		allowed[ex] = true
	}

	candidates := make([]model.Candidate, 0, len(rows))
	for _, row := range rows {
		if row.Symbol == "" {
			continue
		}
		if len(allowed) > 0 && !allowed[row.Exchange] {
			continue
		}
		candidates = append(candidates, model.Candidate{
			Ticker:   row.Symbol,
			Exchange: row.Exchange,
			Market:   market,
			Price:    row.Price,
			Volume:   row.Volume,
		})
	}
	log.Debug().Str("market", market).Int("candidates", len(candidates)).Msg("discovery complete")
	return candidates, nil
}

// MockDiscoverer returns fixed candidates for development and tests.
type MockDiscoverer struct {
	Candidates map[string][]model.Candidate
	Err        map[string]error
}

func (m *MockDiscoverer) Discover(_ context.Context, market string) ([]model.Candidate, error) {
	if err, ok := m.Err[market]; ok {
		return nil, err
	}
	return m.Candidates[market], nil
}
