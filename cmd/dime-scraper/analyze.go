package main

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/dime-scraper/pkg/analyze"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [dir]",
		Short: "Summarize previously scraped JSON files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Output.Dir
			if len(args) > 0 {
				dir = args[0]
			}

			summary, err := analyze.Analyze(dir)
			if errors.Is(err, analyze.ErrNoDirectory) {
				return fmt.Errorf("%w (run the scraper first: dime-scraper scrape)", err)
			}
			if err != nil {
				return err
			}
			if len(summary.FileErrors) > 0 {
				a.logger.Warn().Int("skipped", len(summary.FileErrors)).Msg("Some files could not be read")
			}
			return summary.Render(cmd.OutOrStdout())
		},
	}
}
