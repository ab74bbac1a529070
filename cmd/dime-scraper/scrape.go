package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/dime-scraper/pkg/client"
	"github.com/Sternrassler/dime-scraper/pkg/config"
	"github.com/Sternrassler/dime-scraper/pkg/metrics"
	"github.com/Sternrassler/dime-scraper/pkg/output"
	"github.com/Sternrassler/dime-scraper/pkg/pagination"
	"github.com/Sternrassler/dime-scraper/pkg/scraper"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type scrapeFlags struct {
	statuses       []string
	outputDir      string
	recordsPerFile int
	perPage        int
	maxRetries     int
	retryDelay     string
	pageDelay      string
	target         int
	metricsAddr    string
	redisAddr      string
	cache          bool
}

func newScrapeCmd(a *app) *cobra.Command {
	f := &scrapeFlags{}

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Fetch all projects and save them as chunked JSON files",
		Example: `  dime-scraper scrape
  dime-scraper scrape --status Completed --target 10000
  dime-scraper scrape --status Completed --status "For Procurement" --output data`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.apply(cmd, &a.cfg); err != nil {
				return err
			}
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runScrape(cmd.Context(), a, f.metricsAddr)
		},
	}

	fl := cmd.Flags()
	fl.StringArrayVar(&f.statuses, "status", nil, "Status filter; repeat for several (default: all projects)")
	fl.StringVar(&f.outputDir, "output", "", "Output directory")
	fl.IntVar(&f.recordsPerFile, "records-per-file", 0, "Records per output file")
	fl.IntVar(&f.perPage, "per-page", 0, "Records requested per page")
	fl.IntVar(&f.maxRetries, "max-retries", 0, "Attempts per page before giving up")
	fl.StringVar(&f.retryDelay, "retry-delay", "", "Pause between attempts (e.g. 5s or 5)")
	fl.StringVar(&f.pageDelay, "page-delay", "", "Pause between pages (e.g. 1s or 1)")
	fl.IntVar(&f.target, "target", 0, "Expected record count per status; logged when not reached")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	fl.StringVar(&f.redisAddr, "redis-addr", "", "Redis address for shared throttle state")
	fl.BoolVar(&f.cache, "cache", false, "Cache responses in Redis and revalidate with conditional requests")

	return cmd
}

// apply copies explicitly set flags over the loaded configuration.
func (f *scrapeFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed

	if changed("status") {
		cfg.Scrape.Statuses = f.statuses
	}
	if changed("output") {
		cfg.Output.Dir = f.outputDir
	}
	if changed("records-per-file") {
		cfg.Output.RecordsPerFile = f.recordsPerFile
	}
	if changed("per-page") {
		cfg.Scrape.PerPage = f.perPage
	}
	if changed("max-retries") {
		cfg.Scrape.MaxRetries = f.maxRetries
	}
	if changed("target") {
		cfg.Scrape.Target = f.target
	}
	if changed("redis-addr") {
		cfg.Redis.Addr = f.redisAddr
	}
	if changed("cache") {
		cfg.Redis.CacheResponses = f.cache
	}
	if changed("retry-delay") {
		d, err := config.ParseDuration(f.retryDelay)
		if err != nil {
			return fmt.Errorf("--retry-delay: %w", err)
		}
		cfg.Scrape.RetryDelay = d
	}
	if changed("page-delay") {
		d, err := config.ParseDuration(f.pageDelay)
		if err != nil {
			return fmt.Errorf("--page-delay: %w", err)
		}
		cfg.Scrape.PageDelay = d
	}
	return nil
}

func runScrape(ctx context.Context, a *app, metricsAddr string) error {
	cfg := a.cfg
	runID := uuid.NewString()
	logger := a.logger.With().Str("run_id", runID).Logger()

	clientCfg := cfg.ClientConfig()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
		clientCfg.Redis = rdb
	}

	dime, err := client.New(clientCfg, logger)
	if err != nil {
		return err
	}

	writer, err := output.NewWriter(cfg.WriterConfig(dime.BaseURL(), runID), logger)
	if err != nil {
		return err
	}

	paginator := pagination.NewPaginator(dime, cfg.PaginationConfig(), logger)
	s := scraper.New(paginator, writer, cfg.ScraperConfig(), logger)

	if metricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, metricsAddr, logger); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	logger.Info().
		Str("endpoint", dime.Endpoint()).
		Strs("statuses", cfg.Scrape.Statuses).
		Int("per_page", cfg.Scrape.PerPage).
		Str("output_dir", cfg.Output.Dir).
		Msg("Starting DIME scraper")

	reports, runErr := s.Run(ctx, cfg.Scrape.Statuses)

	total := 0
	for _, r := range reports {
		total += r.Projects
		logger.Info().
			Str("status", client.StatusLabel(r.Status)).
			Int("projects", r.Projects).
			Int("pages", r.Pages).
			Str("stop", string(r.Stop)).
			Int("files", len(r.Files)).
			Msg("Status summary")
	}
	logger.Info().Int("total", total).Msg("Scraping completed")

	return runErr
}
