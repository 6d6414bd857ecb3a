// Package cmd implements the harvester command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/app"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/logging"
	"github.com/JakeFAU/catalog-harvester/internal/normalize"
	"github.com/JakeFAU/catalog-harvester/internal/pipeline"
)

// Runner is the set of entry operations the commands drive.
type Runner interface {
	NewRunID() (string, error)
	DiscoverLinks(ctx context.Context, runID, listingURL string) (*crawler.LinkSet, error)
	ExtractAll(ctx context.Context, runID string) (crawler.ExtractSummary, error)
	Normalize(ctx context.Context, runID string) (normalize.Table, error)
	Run(ctx context.Context, runID, listingURL string) (pipeline.Report, error)
}

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Runner() Runner
	Serve(ctx context.Context) error
}

type harvesterApp struct {
	*app.App
}

func (a harvesterApp) Runner() Runner {
	return a.Pipeline()
}

// Replaced in tests.
var (
	loadConfig = config.Load
	newLogger  = logging.New
	newApp     = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return harvesterApp{a}, nil
	}
)

type rootOptions struct {
	cfgFile    string
	runID      string
	listingURL string
	resume     bool
}

// session carries the App built for one invocation.
type session struct {
	opts rootOptions
	app  App
}

func (s *session) close() {
	if s.app != nil {
		s.app.Close()
		s.app = nil
	}
}

func newRootCmd() (*cobra.Command, *session) {
	s := &session{}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests product data from a retail catalogue listing.",
		Long: `harvester walks a paginated catalogue listing, collects every product link,
extracts product fields from each product page and writes a normalized table.
Each step persists its artifacts so the next step can run separately.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(s.opts.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			s.applyOverrides(cmd, &cfg)
			logger, err := newLogger(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			s.app = a
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&s.opts.cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&s.opts.runID, "run-id", "", "run identifier (overrides run.id)")

	cmd.AddCommand(
		newDiscoverCmd(s),
		newExtractCmd(s),
		newNormalizeCmd(s),
		newRunCmd(s),
		newServeCmd(s),
	)
	return cmd, s
}

func (s *session) applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("run-id") {
		cfg.Run.ID = s.opts.runID
	}
	if flags.Lookup("listing-url") != nil && flags.Changed("listing-url") {
		cfg.Crawler.ListingURL = s.opts.listingURL
	}
	if flags.Lookup("resume") != nil && flags.Changed("resume") {
		cfg.Crawler.Resume = s.opts.resume
	}
}

// resolveRunID returns the configured run ID, minting one when allowed.
func (s *session) resolveRunID(generate bool) (string, error) {
	if id := s.app.Config().Run.ID; id != "" {
		return id, nil
	}
	if !generate {
		return "", errors.New("a run id is required: pass --run-id or set run.id")
	}
	id, err := s.app.Runner().NewRunID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

func execute(ctx context.Context, args []string, out io.Writer) error {
	root, s := newRootCmd()
	defer s.close()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	if err := root.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("harvester: %w", err)
	}
	return nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// operation, which persists its progress before returning.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
