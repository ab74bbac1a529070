package main

import (
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/dime-scraper/pkg/client"
	"github.com/spf13/cobra"
)

func newProbeCmd(a *app) *cobra.Command {
	var (
		status  string
		perPage int
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Fetch one small page to check the API is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			dime, err := client.New(a.cfg.ClientConfig(), a.logger)
			if err != nil {
				return err
			}

			a.logger.Info().Str("endpoint", dime.Endpoint()).Msg("Testing API endpoint")

			resp, err := dime.FetchPage(cmd.Context(), client.PageRequest{
				Status:        status,
				Page:          1,
				PerPage:       perPage,
				SortBy:        a.cfg.Scrape.SortBy,
				SortDirection: a.cfg.Scrape.SortDirection,
			})
			if err != nil {
				a.logger.Error().Err(err).Msg("API test failed")
				return err
			}

			event := a.logger.Info().Int("projects", len(resp.Data))
			if len(resp.Data) > 0 {
				var sample struct {
					ProjectName string `json:"projectName"`
				}
				if err := json.Unmarshal(resp.Data[0], &sample); err == nil && sample.ProjectName != "" {
					event = event.Str("sample_project", sample.ProjectName)
				}
			}
			if m := resp.Meta; m.Present() {
				if m.Total != nil {
					event = event.Int("total", *m.Total)
				}
				if m.CurrentPage != nil {
					event = event.Int("current_page", *m.CurrentPage)
				}
				if m.LastPage != nil {
					event = event.Int("last_page", *m.LastPage)
				}
			}
			event.Msg("API test successful")
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Status filter")
	cmd.Flags().IntVar(&perPage, "per-page", 10, "Records to request")

	return cmd
}
