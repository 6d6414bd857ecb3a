package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/logging"
)

func newDiscoverCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Collect product links from every listing page into the stage artifact.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runID, err := s.resolveRunID(true)
			if err != nil {
				return err
			}
			logging.ForRun(s.app.Logger(), runID).Info("link discovery requested")
			links, err := s.app.Runner().DiscoverLinks(cmd.Context(), runID, s.app.Config().Crawler.ListingURL)
			if links != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "run_id=%s links=%d\n", runID, links.Len())
			}
			return err
		},
	}
	cmd.Flags().StringVar(&s.opts.listingURL, "listing-url", "", "listing page to start from (overrides crawler.listing_url)")
	return cmd
}

func newExtractCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Fetch every staged link and write the final and unprocessed artifacts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runID, err := s.resolveRunID(false)
			if err != nil {
				return err
			}
			logging.ForRun(s.app.Logger(), runID).Info("product extraction requested")
			summary, err := s.app.Runner().ExtractAll(cmd.Context(), runID)
			fmt.Fprintf(cmd.OutOrStdout(), "run_id=%s final=%d unprocessed=%d\n", runID, summary.Final, summary.Unprocessed)
			return err
		},
	}
	cmd.Flags().BoolVar(&s.opts.resume, "resume", false, "keep products already extracted for this run (overrides crawler.resume)")
	return cmd
}

func newNormalizeCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize",
		Short: "Clean the final artifact into the delimited table.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runID, err := s.resolveRunID(false)
			if err != nil {
				return err
			}
			logging.ForRun(s.app.Logger(), runID).Info("normalization requested")
			table, err := s.app.Runner().Normalize(cmd.Context(), runID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run_id=%s rows=%d\n", runID, table.Len())
			return nil
		},
	}
}

func newRunCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover, extract and normalize in sequence.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runID, err := s.resolveRunID(true)
			if err != nil {
				return err
			}
			logger := logging.ForRun(s.app.Logger(), runID)
			report, err := s.app.Runner().Run(cmd.Context(), runID, s.app.Config().Crawler.ListingURL)
			fmt.Fprintf(cmd.OutOrStdout(), "run_id=%s links=%d final=%d unprocessed=%d rows=%d\n",
				runID, report.Links, report.Extract.Final, report.Extract.Unprocessed, report.Rows)
			if err != nil {
				return err
			}
			logger.Info("run finished", zap.Int("rows", report.Rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&s.opts.listingURL, "listing-url", "", "listing page to start from (overrides crawler.listing_url)")
	cmd.Flags().BoolVar(&s.opts.resume, "resume", false, "keep products already extracted for this run (overrides crawler.resume)")
	return cmd
}

func newServeCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve metrics, run artifacts and run submission over HTTP.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.app.Serve(cmd.Context())
		},
	}
}
