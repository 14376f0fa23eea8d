package pattern

import "stockscout/internal/model"

// ZonnebloemConfig tunes the stable-base-with-spike detector.
type ZonnebloemConfig struct {
	BaseWindowDays int     `yaml:"base_window_days"`
	SpikeMultiple  float64 `yaml:"spike_multiple"`
	MaxBaseCV      float64 `yaml:"max_base_cv"`
	LookbackDays   int     `yaml:"lookback_days"`
}

// DefaultZonnebloemConfig returns the production thresholds: a base of
// sixty trading days whose closes vary less than 15%, with at least one
// high of three times the base level inside the lookback.
func DefaultZonnebloemConfig() ZonnebloemConfig {
	return ZonnebloemConfig{
		BaseWindowDays: 60,
		SpikeMultiple:  3,
		MaxBaseCV:      0.15,
		LookbackDays:   90,
	}
}

// Zonnebloem flags stocks that trade flat for a long base and then
// print an outsized spike above it.
type Zonnebloem struct {
	cfg ZonnebloemConfig
}

// NewZonnebloem creates the detector; zero-value config fields fall
// back to defaults.
func NewZonnebloem(cfg ZonnebloemConfig) *Zonnebloem {
	def := DefaultZonnebloemConfig()
	if cfg.BaseWindowDays == 0 {
		cfg.BaseWindowDays = def.BaseWindowDays
	}
	if cfg.SpikeMultiple == 0 {
		cfg.SpikeMultiple = def.SpikeMultiple
	}
	if cfg.MaxBaseCV == 0 {
		cfg.MaxBaseCV = def.MaxBaseCV
	}
	if cfg.LookbackDays == 0 {
		cfg.LookbackDays = def.LookbackDays
	}
	return &Zonnebloem{cfg: cfg}
}

func (z *Zonnebloem) ID() model.ScannerID { return model.ScannerZonnebloem }

// minBaseBars guards against scoring a "stable base" off a handful of
// bars for freshly listed tickers.
const minBaseBars = 10

// Classify measures base stability as the coefficient of variation of
// the base window's closes and searches the whole lookback for a high
// exceeding the base mean by the spike multiple.
func (z *Zonnebloem) Classify(s *model.EnrichedSeries) model.ScoreResult {
	result := model.ScoreResult{Ticker: s.Ticker, Scanner: model.ScannerZonnebloem}

	bars := tail(s.Bars, z.cfg.LookbackDays)
	if len(bars) < minBaseBars {
		return result
	}

	baseBars := bars
	if len(baseBars) > z.cfg.BaseWindowDays {
		baseBars = baseBars[:z.cfg.BaseWindowDays]
	}
	baseCloses := closes(baseBars)
	baseMean := mean(baseCloses)
	if baseMean <= 0 {
		return result
	}

	cv := stddev(baseCloses) / baseMean
	spikeMag := maxHigh(bars) / baseMean

	result.BaseStability = cv
	result.SpikeMagnitude = spikeMag
	result.Match = cv <= z.cfg.MaxBaseCV && spikeMag >= z.cfg.SpikeMultiple

	// Stability contributes up to 5 points (tighter base scores
	// higher), spike magnitude up to 5 relative to the threshold.
	var stability float64
	if z.cfg.MaxBaseCV > 0 {
		stability = (1 - cv/z.cfg.MaxBaseCV) * 5
	}
	spike := spikeMag / z.cfg.SpikeMultiple * 2.5
	if spike > 5 {
		spike = 5
	}
	result.Score = clampScore(stability + spike)
	return result
}
