package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"campusevents/internal/config"
	"campusevents/internal/conflict"
	"campusevents/internal/feed"
	"campusevents/internal/ingest"
	appLog "campusevents/internal/log"
	"campusevents/internal/model"
	"campusevents/internal/normalize"
	"campusevents/internal/recommend"
	"campusevents/internal/store"
	"campusevents/internal/validate"
	"campusevents/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	daemon     bool
	purgePast  bool
}

// pipeline bundles the wired components for one deployment.
type pipeline struct {
	cfg         *config.Config
	store       *store.Store
	fetcher     *feed.Fetcher
	coordinator *ingest.Coordinator
	detector    *conflict.Detector
	generator   *recommend.Generator
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("campusevents starting",
		"db_path", conf.DBPath,
		"feeds", len(conf.Feeds),
		"refresh", conf.RefreshCron,
		"daemon", flags.daemon,
	)

	st, err := store.Open(conf.DBPath)
	if err != nil {
		appLog.Error("failed to open store", err, "db_path", conf.DBPath)
		os.Exit(1)
	}
	defer st.Close()

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	p := buildPipeline(conf, st)

	if flags.purgePast {
		today := truncateToDay(time.Now())
		n, err := st.PurgePastEvents(ctx, today)
		if err != nil {
			appLog.Error("purge failed", err)
			os.Exit(1)
		}
		appLog.Info("past events purged", "removed", n)
		return
	}

	if !flags.daemon {
		if err := p.runCycle(ctx); err != nil {
			appLog.Error("cycle failed", err)
			os.Exit(1)
		}
		return
	}

	runDaemon(ctx, p)
}

func buildPipeline(conf *config.Config, st *store.Store) *pipeline {
	defaultDuration := time.Duration(conf.DefaultDurationMinutes) * time.Minute

	normalizer := normalize.New(conf.BuildingPrefixes, conf.BuildingKeywords)
	minDate := truncateToDay(time.Now()).AddDate(0, 0, -conf.RetentionDays)
	validator := validate.New(conf.TitleMaxLen, minDate)
	detector := conflict.NewDetector(conf.CongestionThreshold, conf.FuzzyThreshold, defaultDuration)
	recommender := recommend.NewRecommender(conf.GridStartHour, conf.GridEndHour, defaultDuration, conf.MaxSuggestions)

	return &pipeline{
		cfg:         conf,
		store:       st,
		fetcher:     feed.NewFetcher(conf.CacheDir, conf.FetchAttempts, time.Duration(conf.FetchBackoffSeconds)*time.Second),
		coordinator: ingest.NewCoordinator(st, normalizer, validator, conf.FuzzyThreshold),
		detector:    detector,
		generator:   recommend.NewGenerator(recommender, st),
	}
}

// runCycle performs one full ingest -> detect -> recommend pass.
func (p *pipeline) runCycle(ctx context.Context) error {
	batch, err := p.fetchBatch(ctx)
	if err != nil {
		return err
	}

	if len(batch) > 0 {
		report, err := p.coordinator.Ingest(ctx, batch)
		if err != nil {
			return err
		}
		for _, f := range report.Failures {
			appLog.Warn("record rejected", "title", f.Title, "reason", f.Reason)
		}
		for _, s := range report.Skips {
			appLog.Info("near-duplicate skipped", "title", s.Title, "matched_key", s.MatchedKey)
		}
	}

	// Detection and recommendation run independently of ingestion: a
	// failure here never affects already-committed events.
	events, err := p.store.ListAll(ctx)
	if err != nil {
		return err
	}
	conflicts := p.detector.Detect(events)
	appLog.Info("conflicts detected", "count", len(conflicts))

	_, err = p.generator.Generate(ctx, events, conflicts)
	return err
}

// fetchBatch pulls raw records from every configured feed. Individual feed
// failures are logged; the cycle proceeds with whatever fetched cleanly,
// and fails only when every feed is unreachable.
func (p *pipeline) fetchBatch(ctx context.Context) ([]model.RawRecord, error) {
	if len(p.cfg.Feeds) == 0 {
		appLog.Warn("no feeds configured; skipping ingestion")
		return nil, nil
	}

	sources := make([]feed.Source, 0, len(p.cfg.Feeds))
	for _, fc := range p.cfg.Feeds {
		sources = append(sources, feed.Source{ID: fc.ID, URL: fc.URL})
	}

	window := feed.Window{
		Start: truncateToDay(time.Now()),
		End:   truncateToDay(time.Now()).AddDate(0, 0, p.cfg.HorizonDays),
	}

	results, errs := p.fetcher.FetchAll(ctx, sources)
	if len(results) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	var batch []model.RawRecord
	for _, res := range results {
		records, err := feed.Records(res.Source, res.Body, window)
		if err != nil {
			appLog.Error("feed conversion failed", err, "id", res.Source.ID)
			continue
		}
		batch = append(batch, records...)
	}
	return batch, nil
}

// runDaemon schedules periodic cycles and serves the status API until the
// context is cancelled.
func runDaemon(ctx context.Context, p *pipeline) {
	c := cron.New()
	_, err := c.AddFunc(p.cfg.RefreshCron, func() {
		if err := p.runCycle(ctx); err != nil {
			appLog.Error("scheduled cycle failed", err)
		}
	})
	if err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", p.cfg.RefreshCron)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	// Run one cycle immediately so the API has data before the first tick.
	if err := p.runCycle(ctx); err != nil {
		appLog.Error("initial cycle failed", err)
	}

	server := &http.Server{
		Addr:    p.cfg.Listen,
		Handler: web.NewServer(p.cfg, p.store, p.detector).Handler(),
	}
	go func() {
		appLog.Info("status API listening", "listen", p.cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("http server failed", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http shutdown failed", err)
	}
	appLog.Info("campusevents exiting")
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/campusevents/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.daemon, "daemon", false, "Run scheduled cycles and serve the status API")
	flag.BoolVar(&cfg.purgePast, "purge-past", false, "Delete events dated before today and exit")

	flag.Parse()

	return cfg
}
