package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
)

func newScrapeCmd() *cobra.Command {
	var req crawler.JobRequest
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Run one job synchronously and print the ranked result set as JSON",
		Example: `  adcrawler scrape --term "curso de ingles" --term "aprender ingles" --region BR --limit 10
  adcrawler scrape --label emagrecimento --term "emagrecer rapido"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runID, rs, err := a.Orchestrator().RunSync(cmd.Context(), req)
			if err != nil {
				if runID != "" {
					return fmt.Errorf("run %s: %w", runID, err)
				}
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rs)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&req.Label, "label", "", "label for the result set (defaults to the first term)")
	flags.StringArrayVar(&req.Terms, "term", nil, "search term; repeat for several")
	flags.StringSliceVar(&req.Regions, "region", nil, "region code(s), e.g. BR (defaults to extraction.default_region)")
	flags.IntVar(&req.ResultLimit, "limit", 0, "maximum records to return (defaults to scoring.default_limit)")
	_ = cmd.MarkFlagRequired("term")
	return cmd
}
