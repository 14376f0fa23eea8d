package pattern

import "stockscout/internal/model"

// KuifjeConfig tunes the deep-decline-then-recovery detector.
type KuifjeConfig struct {
	MinDeclinePct      float64 `yaml:"min_decline_pct"`
	MaxDeclinePct      float64 `yaml:"max_decline_pct"`
	GrowthThresholdPct float64 `yaml:"growth_threshold_pct"`
	MinGrowthEvents    int     `yaml:"min_growth_events"`
	LookbackDays       int     `yaml:"lookback_days"`
}

// DefaultKuifjeConfig returns the production thresholds: price down
// 85-100% from its three-year high, with at least three historical
// rallies of 200% or more.
func DefaultKuifjeConfig() KuifjeConfig {
	return KuifjeConfig{
		MinDeclinePct:      85,
		MaxDeclinePct:      100,
		GrowthThresholdPct: 200,
		MinGrowthEvents:    3,
		LookbackDays:       756,
	}
}

// Kuifje flags stocks that collapsed from their all-time high but have
// a history of violent recoveries.
type Kuifje struct {
	cfg KuifjeConfig
}

// NewKuifje creates the detector; zero-value config fields fall back to
// defaults.
func NewKuifje(cfg KuifjeConfig) *Kuifje {
	def := DefaultKuifjeConfig()
	if cfg.MinDeclinePct == 0 {
		cfg.MinDeclinePct = def.MinDeclinePct
	}
	if cfg.MaxDeclinePct == 0 {
		cfg.MaxDeclinePct = def.MaxDeclinePct
	}
	if cfg.GrowthThresholdPct == 0 {
		cfg.GrowthThresholdPct = def.GrowthThresholdPct
	}
	if cfg.MinGrowthEvents == 0 {
		cfg.MinGrowthEvents = def.MinGrowthEvents
	}
	if cfg.LookbackDays == 0 {
		cfg.LookbackDays = def.LookbackDays
	}
	return &Kuifje{cfg: cfg}
}

func (k *Kuifje) ID() model.ScannerID { return model.ScannerKuifje }

// Classify computes the all-time-high decline over the lookback window
// and counts qualifying growth events. The score grows with decline
// depth and event count, clamped to the bounded scale.
func (k *Kuifje) Classify(s *model.EnrichedSeries) model.ScoreResult {
	result := model.ScoreResult{Ticker: s.Ticker, Scanner: model.ScannerKuifje}

	bars := tail(s.Bars, k.cfg.LookbackDays)
	if len(bars) == 0 {
		return result
	}
	ath := maxHigh(bars)
	current := s.LastClose()
	if ath <= 0 || current <= 0 {
		return result
	}

	decline := (ath - current) / ath * 100
	events := growthEvents(closes(bars), k.cfg.GrowthThresholdPct)

	result.DeclinePct = decline
	result.GrowthEvents = events
	result.Match = decline >= k.cfg.MinDeclinePct &&
		decline <= k.cfg.MaxDeclinePct &&
		events >= k.cfg.MinGrowthEvents

	// Depth contributes up to 6 points across the configured band,
	// recovery history up to 4.
	span := k.cfg.MaxDeclinePct - k.cfg.MinDeclinePct
	var depth float64
	if span > 0 && decline >= k.cfg.MinDeclinePct {
		depth = (decline - k.cfg.MinDeclinePct) / span * 6
	}
	eventPts := float64(events) * 0.5
	if eventPts > 4 {
		eventPts = 4
	}
	result.Score = clampScore(depth + eventPts)
	return result
}
