package quote

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"stockscout/internal/model"
	"stockscout/internal/ratelimit"
)

// AlphaVantageClient is the secondary provider, used when the primary
// is exhausted or failing. The free tier allows a handful of calls per
// minute and per day, so every request goes through the governor's
// secondary budget.
type AlphaVantageClient struct {
	client *resty.Client
	apiKey string
	gov    *ratelimit.Governor
}

// NewAlphaVantageClient creates the secondary provider client.
func NewAlphaVantageClient(baseURL, apiKey string, gov *ratelimit.Governor) *AlphaVantageClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")
	return &AlphaVantageClient{client: client, apiKey: apiKey, gov: gov}
}

// avResponse covers the daily time-series payload. Quota exhaustion
// arrives as a 200 with a "Note" or "Information" body.
type avResponse struct {
	Series       map[string]avBar `json:"Time Series (Daily)"`
	Note         string           `json:"Note"`
	Information  string           `json:"Information"`
	ErrorMessage string           `json:"Error Message"`
}

type avBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// FetchSeries fetches daily history for one symbol and trims it to the
// requested range. The interval parameter is accepted for interface
// parity; the secondary only serves daily bars.
func (a *AlphaVantageClient) FetchSeries(ctx context.Context, symbol, rng, interval string) (*model.EnrichedSeries, error) {
	if !a.gov.TryConsume(ratelimit.Secondary) {
		return nil, fmt.Errorf("%w: secondary budget exhausted", ErrRateLimited)
	}

	outputSize := "compact"
	if rangeDays(rng) > 100 {
		outputSize = "full"
	}

	var payload avResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"function":   "TIME_SERIES_DAILY",
			"symbol":     symbol,
			"outputsize": outputSize,
			"apikey":     a.apiKey,
		}).
		SetResult(&payload).
		Get("/query")
	if err != nil {
		return nil, fmt.Errorf("%w: secondary fetch %s: %v", ErrProviderUnavailable, symbol, err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("%w: secondary status %d for %s", ErrProviderUnavailable, resp.StatusCode(), symbol)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: secondary status %d for %s", ErrMalformedResponse, resp.StatusCode(), symbol)
	}
	if payload.Note != "" || payload.Information != "" {
		return nil, fmt.Errorf("%w: secondary quota note for %s", ErrRateLimited, symbol)
	}
	if payload.ErrorMessage != "" {
		return nil, fmt.Errorf("%w: secondary error for %s: %s", ErrMalformedResponse, symbol, payload.ErrorMessage)
	}
	if len(payload.Series) == 0 {
		return nil, fmt.Errorf("%w: secondary returned no series for %s", ErrMalformedResponse, symbol)
	}

	bars := make([]model.Bar, 0, len(payload.Series))
	for day, b := range payload.Series {
		ts, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		bars = append(bars, model.Bar{
			Time:   ts.UTC(),
			Open:   parseFloat(b.Open),
			High:   parseFloat(b.High),
			Low:    parseFloat(b.Low),
			Close:  parseFloat(b.Close),
			Volume: parseFloat(b.Volume),
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: secondary series unparseable for %s", ErrMalformedResponse, symbol)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })

	if max := rangeDays(rng); len(bars) > max {
		bars = bars[len(bars)-max:]
	}

	log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("secondary series fetched")
	return &model.EnrichedSeries{
		Ticker:    symbol,
		Bars:      bars,
		Quote:     bars[len(bars)-1].Close,
		Currency:  "USD",
		FetchedAt: time.Now().UTC(),
	}, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// rangeDays converts a provider range token to an approximate count of
// trading days, used to trim secondary responses and size lookbacks.
func rangeDays(rng string) int {
	switch rng {
	case "1d":
		return 1
	case "5d":
		return 5
	case "1mo":
		return 21
	case "3mo":
		return 63
	case "6mo":
		return 126
	case "1y":
		return 252
	case "2y":
		return 504
	case "5y":
		return 1260
	case "10y":
		return 2520
	default:
		return 252
	}
}
