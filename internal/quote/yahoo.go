package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"stockscout/internal/model"
	"stockscout/internal/ratelimit"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// YahooClient fetches historical chart data from the primary provider.
//
// Auth policy: the chart endpoint often answers unauthenticated, so the
// first attempt carries no credentials. A 401/403 triggers one retry
// with a cached-or-fresh crumb; a second 401/403 invalidates the cached
// pair and retries exactly once more with a forced refresh. Every HTTP
// attempt, successful or not, consumes one unit of primary budget.
type YahooClient struct {
	client *resty.Client
	tokens *TokenCache
	gov    *ratelimit.Governor
}

// NewYahooClient creates the primary provider client. baseURL points at
// the chart API root (".../v8/finance/chart").
func NewYahooClient(baseURL string, tokens *TokenCache, gov *ratelimit.Governor) *YahooClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeaders(map[string]string{
			"Accept":     "application/json",
			"User-Agent": browserUserAgent,
		})
	return &YahooClient{client: client, tokens: tokens, gov: gov}
}

// yahooChart is the chart API response shape. OHLC arrays use
// interface{} because the provider emits JSON nulls for holidays.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []interface{} `json:"open"`
					High   []interface{} `json:"high"`
					Low    []interface{} `json:"low"`
					Close  []interface{} `json:"close"`
					Volume []interface{} `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func toFloat(v interface{}) float64 {
	if v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

// FetchSeries fetches the full OHLC history for one symbol.
func (y *YahooClient) FetchSeries(ctx context.Context, symbol, rng, interval string) (*model.EnrichedSeries, error) {
	// Attempt 1: unauthenticated, the cheapest path.
	resp, err := y.do(ctx, symbol, rng, interval, "", "")
	if err != nil {
		return nil, err
	}

	if authRejected(resp.StatusCode()) {
		// Attempt 2: cached or freshly acquired token.
		crumb, cookie, terr := y.tokens.Token(ctx)
		if terr != nil {
			return nil, terr
		}
		resp, err = y.do(ctx, symbol, rng, interval, crumb, cookie)
		if err != nil {
			return nil, err
		}

		if authRejected(resp.StatusCode()) {
			// Attempt 3: the cached pair is dead regardless of age.
			y.tokens.Invalidate()
			crumb, cookie, terr = y.tokens.Token(ctx)
			if terr != nil {
				return nil, terr
			}
			resp, err = y.do(ctx, symbol, rng, interval, crumb, cookie)
			if err != nil {
				return nil, err
			}
			if authRejected(resp.StatusCode()) {
				return nil, fmt.Errorf("%w: %s still rejected after forced token refresh", ErrAuth, symbol)
			}
		}
	}

	if !resp.IsSuccess() {
		return nil, classifyStatus(resp.StatusCode(), symbol)
	}
	return parseChart(resp.Body(), symbol)
}

func (y *YahooClient) do(ctx context.Context, symbol, rng, interval, crumb, cookie string) (*resty.Response, error) {
	if !y.gov.TryConsume(ratelimit.Primary) {
		return nil, fmt.Errorf("%w: primary budget exhausted", ErrRateLimited)
	}
	req := y.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"range":    rng,
			"interval": interval,
		})
	if crumb != "" {
		req.SetQueryParam("crumb", crumb)
		req.SetHeader("Cookie", cookie)
	}
	resp, err := req.Get("/" + url.PathEscape(symbol))
	if err != nil {
		return nil, fmt.Errorf("%w: primary fetch %s: %v", ErrProviderUnavailable, symbol, err)
	}
	return resp, nil
}

func authRejected(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func classifyStatus(status int, symbol string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: primary returned 429 for %s", ErrRateLimited, symbol)
	case status >= 500:
		return fmt.Errorf("%w: primary status %d for %s", ErrProviderUnavailable, status, symbol)
	default:
		return fmt.Errorf("%w: primary status %d for %s", ErrMalformedResponse, status, symbol)
	}
}

func parseChart(body []byte, symbol string) (*model.EnrichedSeries, error) {
	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("%w: decode chart for %s: %v", ErrMalformedResponse, symbol, err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("%w: chart api error for %s: %s", ErrMalformedResponse, symbol, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		return nil, fmt.Errorf("%w: no data for %s", ErrMalformedResponse, symbol)
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: no quote block for %s", ErrMalformedResponse, symbol)
	}
	quote := result.Indicators.Quote[0]
	at := func(arr []interface{}, i int) float64 {
		if i < len(arr) {
			return toFloat(arr[i])
		}
		return 0
	}
	bars := make([]model.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o := at(quote.Open, i)
		h := at(quote.High, i)
		l := at(quote.Low, i)
		c := at(quote.Close, i)
		if o == 0 && h == 0 && l == 0 && c == 0 {
			continue // null bars on holidays
		}
		v := at(quote.Volume, i)
		bars = append(bars, model.Bar{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: v,
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: only null bars for %s", ErrMalformedResponse, symbol)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })

	log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("primary series fetched")
	return &model.EnrichedSeries{
		Ticker:    symbol,
		Bars:      bars,
		Quote:     result.Meta.RegularMarketPrice,
		Currency:  result.Meta.Currency,
		FetchedAt: time.Now().UTC(),
	}, nil
}
