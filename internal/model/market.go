package model

import "time"

// Bar represents a single daily OHLC candlestick.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Candidate is a ticker that passed a market's coarse discovery filter.
// It lives only for the duration of one scan run.
type Candidate struct {
	Ticker   string
	Exchange string
	Market   string
	Price    float64
	Volume   float64
}

// EnrichedSeries holds the full price history for one candidate.
// Immutable once produced by the quote client.
type EnrichedSeries struct {
	Ticker    string
	Bars      []Bar
	Quote     float64
	Currency  string
	FetchedAt time.Time
}

// LastClose returns the most recent closing price, preferring the
// real-time quote when present.
func (s *EnrichedSeries) LastClose() float64 {
	if s.Quote > 0 {
		return s.Quote
	}
	if len(s.Bars) == 0 {
		return 0
	}
	return s.Bars[len(s.Bars)-1].Close
}
