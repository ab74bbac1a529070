// Package scraper runs one pagination pass per status filter and hands
// each accumulated result to the chunk writer.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/dime-scraper/internal/timeutil"
	"github.com/Sternrassler/dime-scraper/pkg/client"
	"github.com/Sternrassler/dime-scraper/pkg/output"
	"github.com/Sternrassler/dime-scraper/pkg/pagination"
	"github.com/rs/zerolog"
)

// Collector is satisfied by *pagination.Paginator.
type Collector interface {
	Collect(ctx context.Context, status string) pagination.Result
}

// ChunkWriter is satisfied by *output.Writer.
type ChunkWriter interface {
	Write(records []client.Project, prefix string) ([]string, error)
}

// Config holds orchestration settings.
type Config struct {
	// StatusDelay is the pause between two status runs.
	StatusDelay time.Duration

	// Target is the record count a run is expected to reach; 0 disables
	// the check. Missing the target is logged, never an error.
	Target int
}

// DefaultConfig returns the default orchestration settings.
func DefaultConfig() Config {
	return Config{
		StatusDelay: 2 * time.Second,
	}
}

// Report summarizes one status run.
type Report struct {
	Status        string
	Projects      int
	Pages         int
	Stop          pagination.StopReason
	Files         []string
	TargetReached bool
	Err           error
}

// Scraper runs status filters sequentially.
type Scraper struct {
	collector Collector
	writer    ChunkWriter
	config    Config
	logger    zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a new scraper.
func New(collector Collector, writer ChunkWriter, cfg Config, logger zerolog.Logger) *Scraper {
	return &Scraper{
		collector: collector,
		writer:    writer,
		config:    cfg,
		logger:    logger.With().Str("component", "scraper").Logger(),
		sleep:     timeutil.Sleep,
	}
}

// Run scrapes every status in order; an empty list means a single
// unfiltered run. Write failures are logged and the remaining statuses are
// still processed; all write failures are returned joined. Records of a
// cancelled collection are discarded.
func (s *Scraper) Run(ctx context.Context, statuses []string) ([]Report, error) {
	if len(statuses) == 0 {
		statuses = []string{""}
	}

	reports := make([]Report, 0, len(statuses))
	var errs []error

	for i, status := range statuses {
		if i > 0 {
			if err := s.sleep(ctx, s.config.StatusDelay); err != nil {
				return reports, err
			}
		}

		report := s.runStatus(ctx, status)
		reports = append(reports, report)

		if report.Stop == pagination.StopCancelled {
			return reports, ctx.Err()
		}
		if report.Err != nil {
			errs = append(errs, report.Err)
		}
	}

	return reports, errors.Join(errs...)
}

func (s *Scraper) runStatus(ctx context.Context, status string) Report {
	label := client.StatusLabel(status)
	logger := s.logger.With().Str("status", label).Logger()
	logger.Info().Msg("Starting scrape")

	result := s.collector.Collect(ctx, status)
	report := Report{
		Status:   status,
		Projects: len(result.Projects),
		Pages:    result.Pages,
		Stop:     result.Stop,
	}

	if result.Stop == pagination.StopCancelled {
		logger.Warn().
			Int("collected", report.Projects).
			Msg("Scrape cancelled - discarding partial results")
		return report
	}

	if !result.Complete() {
		logger.Warn().
			Err(result.Err).
			Str("stop", string(result.Stop)).
			Int("collected", report.Projects).
			Msg("Pagination ended early - output is partial")
	}

	s.checkTarget(logger, &report)

	if report.Projects == 0 {
		logger.Warn().Msg("No projects found")
		return report
	}

	files, err := s.writer.Write(result.Projects, output.PrefixForStatus(status))
	report.Files = files
	if err != nil {
		report.Err = fmt.Errorf("write %s projects: %w", label, err)
		logger.Error().Err(err).Int("files_written", len(files)).Msg("Failed to save projects")
		return report
	}

	logger.Info().
		Int("projects", report.Projects).
		Int("files", len(files)).
		Dur("duration", result.Duration).
		Msg("Successfully scraped projects")
	return report
}

func (s *Scraper) checkTarget(logger zerolog.Logger, report *Report) {
	if s.config.Target <= 0 {
		return
	}
	report.TargetReached = report.Projects >= s.config.Target
	if report.TargetReached {
		logger.Info().
			Int("projects", report.Projects).
			Int("target", s.config.Target).
			Msg("Target reached")
		return
	}
	logger.Warn().
		Int("projects", report.Projects).
		Int("target", s.config.Target).
		Msg("Fewer projects available than target")
}
