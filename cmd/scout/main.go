package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stockscout/internal/config"
	"stockscout/internal/discovery"
	"stockscout/internal/model"
	"stockscout/internal/pattern"
	"stockscout/internal/quote"
	"stockscout/internal/ratelimit"
	"stockscout/internal/scan"
	"stockscout/internal/scheduler"
	"stockscout/internal/server"
)

func main() {
	_ = godotenv.Load()
	setupLogging()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfgPath).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	registry := openRegistry(cfg)
	defer registry.Close()

	gov := ratelimit.NewGovernor(map[ratelimit.Provider]ratelimit.Quota{
		ratelimit.Primary: {
			Calls:  cfg.Primary.Budget,
			Window: cfg.Primary.Window.Std(),
		},
		ratelimit.Secondary: {
			Calls:     cfg.Secondary.Budget,
			Window:    cfg.Secondary.Window.Std(),
			PerMinute: cfg.Secondary.PerMinute,
		},
	})

	tokens := quote.NewTokenCache(cfg.Primary.ConsentURL, cfg.Primary.CrumbURL, cfg.Primary.TokenTTL.Std())
	primary := quote.NewYahooClient(cfg.Primary.ChartURL, tokens, gov)

	var secondary quote.SeriesFetcher
	if cfg.Secondary.APIKey != "" {
		secondary = quote.NewAlphaVantageClient(cfg.Secondary.BaseURL, cfg.Secondary.APIKey, gov)
	} else {
		log.Warn().Msg("no secondary api key, running without fallback provider")
	}
	quotes := quote.NewClient(primary, secondary, gov)

	var disc discovery.Discoverer
	if cfg.Discovery.BaseURL != "" {
		disc = discovery.NewHTTPDiscoverer(cfg.Discovery.BaseURL, discovery.Filter{
			PriceMin:  cfg.Discovery.PriceMin,
			PriceMax:  cfg.Discovery.PriceMax,
			VolumeMin: cfg.Discovery.VolumeMin,
			Exchanges: cfg.Discovery.Exchanges,
		})
	} else {
		log.Warn().Msg("no screener url configured, discovery returns nothing")
		disc = &discovery.MockDiscoverer{}
	}

	orchestrators := map[model.ScannerID]*scan.Orchestrator{
		model.ScannerKuifje: scan.NewOrchestrator(disc, quotes, registry,
			pattern.NewKuifje(cfg.Kuifje.KuifjeConfig), gov, scan.Options{
				Markets:    cfg.Scan.Markets,
				Range:      cfg.Kuifje.Range,
				Deadline:   cfg.Scan.Deadline.Std(),
				MaxWorkers: cfg.Scan.MaxWorkers,
				MaxErrors:  cfg.Scan.MaxErrors,
			}),
		model.ScannerZonnebloem: scan.NewOrchestrator(disc, quotes, registry,
			pattern.NewZonnebloem(cfg.Zonnebloem.ZonnebloemConfig), gov, scan.Options{
				Markets:    cfg.Scan.Markets,
				Range:      cfg.Zonnebloem.Range,
				Deadline:   cfg.Scan.Deadline.Std(),
				MaxWorkers: cfg.Scan.MaxWorkers,
				MaxErrors:  cfg.Scan.MaxErrors,
			}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.NewScheduler(ctx, orchestrators)
	if err := sched.Register(map[model.ScannerID]string{
		model.ScannerKuifje:     cfg.Kuifje.Cron,
		model.ScannerZonnebloem: cfg.Zonnebloem.Cron,
	}); err != nil {
		log.Fatal().Err(err).Msg("register schedules")
	}
	sched.Start()
	defer sched.Stop()

	api := server.New(registry, orchestrators, gov)
	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("api server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api shutdown")
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	if os.Getenv("LOG_PRETTY") != "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// openRegistry opens the SQLite registry, falling back to memory when
// the database cannot be opened so a broken volume mount does not take
// the whole service down.
func openRegistry(cfg *config.Config) scan.Registry {
	reg, err := scan.NewSQLiteRegistry(cfg.Database.SQLitePath, cfg.Scan.StaleAfter.Std())
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Database.SQLitePath).
			Msg("sqlite unavailable, falling back to in-memory registry")
		return scan.NewMemoryRegistry(cfg.Scan.StaleAfter.Std())
	}
	return reg
}
