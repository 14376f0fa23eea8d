package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stockscout/internal/pattern"
)

// Duration wraps time.Duration so YAML values like "30m" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Config holds all application configuration.
type Config struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Primary struct {
		ChartURL   string   `yaml:"chart_url"`
		ConsentURL string   `yaml:"consent_url"`
		CrumbURL   string   `yaml:"crumb_url"`
		TokenTTL   Duration `yaml:"token_ttl"`
		Budget     int      `yaml:"budget"`
		Window     Duration `yaml:"window"`
	} `yaml:"primary"`
	Secondary struct {
		BaseURL   string   `yaml:"base_url"`
		APIKey    string   `yaml:"api_key"`
		Budget    int      `yaml:"budget"`
		Window    Duration `yaml:"window"`
		PerMinute int      `yaml:"per_minute"`
	} `yaml:"secondary"`
	Discovery struct {
		BaseURL   string   `yaml:"base_url"`
		PriceMin  float64  `yaml:"price_min"`
		PriceMax  float64  `yaml:"price_max"`
		VolumeMin float64  `yaml:"volume_min"`
		Exchanges []string `yaml:"exchanges"`
	} `yaml:"discovery"`
	Scan struct {
		Markets    []string `yaml:"markets"`
		Deadline   Duration `yaml:"deadline"`
		StaleAfter Duration `yaml:"stale_after"`
		MaxWorkers int      `yaml:"max_workers"`
		MaxErrors  int      `yaml:"max_errors"`
	} `yaml:"scan"`
	Kuifje struct {
		Cron                  string `yaml:"cron"`
		Range                 string `yaml:"range"`
		pattern.KuifjeConfig `yaml:",inline"`
	} `yaml:"kuifje"`
	Zonnebloem struct {
		Cron                      string `yaml:"cron"`
		Range                     string `yaml:"range"`
		pattern.ZonnebloemConfig `yaml:",inline"`
	} `yaml:"zonnebloem"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error; env and
// defaults alone can carry a deployment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("SCREENER_BASE_URL"); v != "" {
		cfg.Discovery.BaseURL = v
	}
	if v := os.Getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		cfg.Secondary.APIKey = v
	}
	if v := os.Getenv("SCAN_MARKETS"); v != "" {
		cfg.Scan.Markets = splitList(v)
	}
	if v := os.Getenv("SCAN_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scan.Deadline = Duration(d)
		}
	}
	if v := os.Getenv("SCAN_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scan.StaleAfter = Duration(d)
		}
	}
	if v := os.Getenv("PRIMARY_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Primary.Budget = n
		}
	}
	if v := os.Getenv("SECONDARY_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Secondary.Budget = n
		}
	}
	if v := os.Getenv("CRON_KUIFJE"); v != "" {
		cfg.Kuifje.Cron = v
	}
	if v := os.Getenv("CRON_ZONNEBLOEM"); v != "" {
		cfg.Zonnebloem.Cron = v
	}

	// Defaults
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/stockscout.db"
	}
	if cfg.Primary.ChartURL == "" {
		cfg.Primary.ChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"
	}
	if cfg.Primary.ConsentURL == "" {
		cfg.Primary.ConsentURL = "https://fc.yahoo.com"
	}
	if cfg.Primary.CrumbURL == "" {
		cfg.Primary.CrumbURL = "https://query1.finance.yahoo.com/v1/test/getcrumb"
	}
	if cfg.Primary.TokenTTL == 0 {
		cfg.Primary.TokenTTL = Duration(30 * time.Minute)
	}
	if cfg.Primary.Budget == 0 {
		cfg.Primary.Budget = 500
	}
	if cfg.Primary.Window == 0 {
		cfg.Primary.Window = Duration(time.Hour)
	}
	if cfg.Secondary.BaseURL == "" {
		cfg.Secondary.BaseURL = "https://www.alphavantage.co"
	}
	if cfg.Secondary.Budget == 0 {
		cfg.Secondary.Budget = 25
	}
	if cfg.Secondary.Window == 0 {
		cfg.Secondary.Window = Duration(24 * time.Hour)
	}
	if cfg.Secondary.PerMinute == 0 {
		cfg.Secondary.PerMinute = 5
	}
	if cfg.Discovery.PriceMax == 0 {
		cfg.Discovery.PriceMax = 25
	}
	if cfg.Discovery.VolumeMin == 0 {
		cfg.Discovery.VolumeMin = 10000
	}
	if len(cfg.Scan.Markets) == 0 {
		cfg.Scan.Markets = []string{"us"}
	}
	if cfg.Scan.Deadline == 0 {
		cfg.Scan.Deadline = Duration(4*time.Minute + 30*time.Second)
	}
	if cfg.Scan.StaleAfter == 0 {
		cfg.Scan.StaleAfter = Duration(10 * time.Minute)
	}
	if cfg.Scan.MaxWorkers == 0 {
		cfg.Scan.MaxWorkers = 8
	}
	if cfg.Scan.MaxErrors == 0 {
		cfg.Scan.MaxErrors = 25
	}
	if cfg.Kuifje.Cron == "" {
		cfg.Kuifje.Cron = "0 0 7 * * 1-5"
	}
	if cfg.Kuifje.Range == "" {
		cfg.Kuifje.Range = "5y"
	}
	if cfg.Zonnebloem.Cron == "" {
		cfg.Zonnebloem.Cron = "0 30 7 * * 1-5"
	}
	if cfg.Zonnebloem.Range == "" {
		cfg.Zonnebloem.Range = "6mo"
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if len(c.Scan.Markets) == 0 {
		return fmt.Errorf("scan.markets must not be empty")
	}
	if c.Scan.Deadline <= 0 {
		return fmt.Errorf("scan.deadline must be positive")
	}
	if c.Scan.StaleAfter <= c.Scan.Deadline {
		return fmt.Errorf("scan.stale_after (%s) must exceed scan.deadline (%s)",
			c.Scan.StaleAfter, c.Scan.Deadline)
	}
	if c.Primary.Budget <= 0 {
		return fmt.Errorf("primary.budget must be positive")
	}
	if c.Discovery.PriceMax <= c.Discovery.PriceMin {
		return fmt.Errorf("discovery.price_max must exceed discovery.price_min")
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
