package quote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockscout/internal/ratelimit"
)

const chartBody = `{"chart":{"result":[{
	"meta":{"currency":"USD","regularMarketPrice":12.5},
	"timestamp":[1700000000,1700086400,1700172800],
	"indicators":{"quote":[{
		"open":[10.0,null,12.0],
		"high":[10.5,null,12.8],
		"low":[9.8,null,11.9],
		"close":[10.2,null,12.5],
		"volume":[100000,null,120000]
	}]}}],"error":null}}`

func newGov(primary, secondary int) *ratelimit.Governor {
	return ratelimit.NewGovernor(map[ratelimit.Provider]ratelimit.Quota{
		ratelimit.Primary:   {Calls: primary, Window: time.Hour},
		ratelimit.Secondary: {Calls: secondary, Window: time.Hour},
	})
}

// chartServer answers the chart endpoint, optionally rejecting
// requests that carry no crumb.
func chartServer(t *testing.T, rejectWithoutCrumb bool) (*httptest.Server, *TokenCache, *atomic.Int32) {
	t.Helper()
	var chartCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/consent", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "A3", Value: "c"})
	})
	mux.HandleFunc("/crumb", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("crumb-1"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		chartCalls.Add(1)
		if rejectWithoutCrumb && r.URL.Query().Get("crumb") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, chartBody)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	tokens := NewTokenCache(srv.URL+"/consent", srv.URL+"/crumb", 30*time.Minute)
	return srv, tokens, &chartCalls
}

func TestYahoo_UnauthenticatedSuccess(t *testing.T) {
	srv, tokens, chartCalls := chartServer(t, false)
	gov := newGov(10, 10)
	y := NewYahooClient(srv.URL, tokens, gov)

	series, err := y.FetchSeries(context.Background(), "TEST", "5y", "1d")
	require.NoError(t, err)
	assert.Equal(t, "TEST", series.Ticker)
	assert.Len(t, series.Bars, 2, "null holiday bar must be skipped")
	assert.Equal(t, 12.5, series.Quote)
	assert.Equal(t, "USD", series.Currency)
	assert.Equal(t, int32(1), chartCalls.Load())
	assert.Equal(t, 1, gov.Consumed(ratelimit.Primary))
}

func TestYahoo_RetriesWithTokenOn401(t *testing.T) {
	srv, tokens, chartCalls := chartServer(t, true)
	gov := newGov(10, 10)
	y := NewYahooClient(srv.URL, tokens, gov)

	series, err := y.FetchSeries(context.Background(), "TEST", "5y", "1d")
	require.NoError(t, err)
	assert.Len(t, series.Bars, 2)
	assert.Equal(t, int32(2), chartCalls.Load(), "one unauthenticated attempt, one with crumb")
	assert.Equal(t, 2, gov.Consumed(ratelimit.Primary), "both attempts consume budget")
}

func TestYahoo_ForcedRefreshOnSecond403(t *testing.T) {
	var crumbCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/consent", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "A3", Value: "c"})
	})
	mux.HandleFunc("/crumb", func(w http.ResponseWriter, r *http.Request) {
		n := crumbCalls.Add(1)
		fmt.Fprintf(w, "crumb-%d", n)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Only the second crumb is accepted; the first one is "stale".
		if r.URL.Query().Get("crumb") != "crumb-2" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, chartBody)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens := NewTokenCache(srv.URL+"/consent", srv.URL+"/crumb", 30*time.Minute)
	// Pre-seed the stale crumb so the forced-refresh path is exercised.
	_, _, err := tokens.Token(context.Background())
	require.NoError(t, err)

	gov := newGov(10, 10)
	y := NewYahooClient(srv.URL, tokens, gov)

	series, err := y.FetchSeries(context.Background(), "TEST", "5y", "1d")
	require.NoError(t, err)
	assert.Len(t, series.Bars, 2)
	assert.Equal(t, int32(2), crumbCalls.Load(), "exactly one forced refresh")
	assert.Equal(t, 3, gov.Consumed(ratelimit.Primary))
}

func TestYahoo_AuthExhaustionTerminal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/consent", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "A3", Value: "c"})
	})
	mux.HandleFunc("/crumb", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("crumb-never-works"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens := NewTokenCache(srv.URL+"/consent", srv.URL+"/crumb", 30*time.Minute)
	gov := newGov(10, 10)
	y := NewYahooClient(srv.URL, tokens, gov)

	_, err := y.FetchSeries(context.Background(), "TEST", "5y", "1d")
	require.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, 3, gov.Consumed(ratelimit.Primary), "exactly three attempts")
}

func TestYahoo_BudgetExhausted(t *testing.T) {
	srv, tokens, _ := chartServer(t, false)
	gov := newGov(0, 10)
	y := NewYahooClient(srv.URL, tokens, gov)

	_, err := y.FetchSeries(context.Background(), "TEST", "5y", "1d")
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestYahoo_ServerErrorClassified(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens := NewTokenCache(srv.URL+"/consent", srv.URL+"/crumb", 30*time.Minute)
	y := NewYahooClient(srv.URL, tokens, newGov(10, 10))

	_, err := y.FetchSeries(context.Background(), "TEST", "5y", "1d")
	require.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestYahoo_MalformedBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tokens := NewTokenCache(srv.URL+"/consent", srv.URL+"/crumb", 30*time.Minute)
	y := NewYahooClient(srv.URL, tokens, newGov(10, 10))

	_, err := y.FetchSeries(context.Background(), "TEST", "5y", "1d")
	require.ErrorIs(t, err, ErrMalformedResponse)
}
