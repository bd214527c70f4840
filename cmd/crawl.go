package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/app"
	"github.com/JakeFAU/storefront-crawler/internal/config"
	"github.com/JakeFAU/storefront-crawler/internal/logging"
	"github.com/JakeFAU/storefront-crawler/internal/server"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one catalog crawl",
		Long: `Resolves the sitemap of every start URL, traverses the product sitemaps
and writes one record per product variant to the configured sink. Interrupting
the command persists the discovered sitemap set before exiting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, v, *cfgFile != "")
		},
	}
	flags := cmd.Flags()
	flags.StringSlice("start-url", nil, "storefront URL to crawl (repeatable)")
	flags.Int("max-requests", 0, "cap on product requests (0 = unlimited)")
	flags.Bool("fetch-html", false, "fetch product pages before their JSON endpoint")
	flags.Bool("debug", false, "enable debug logging")
	flags.Int("port", 0, "serve status and metrics on this port (0 = disabled)")
	bindings := map[string]string{
		"startUrls":           "start-url",
		"maxRequestsPerCrawl": "max-requests",
		"fetchHtml":           "fetch-html",
		"debugLog":            "debug",
		"server.port":         "port",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
	return cmd
}

func runCrawl(cmd *cobra.Command, v *viper.Viper, readFile bool) error {
	cfg, err := config.FromViper(v, readFile)
	if err != nil {
		return err
	}

	opts := logging.Options{Development: cfg.Logging.Development, Debug: cfg.DebugLog}
	if len(cfg.Logging.DropMessages) > 0 {
		opts.Drop = logging.DropMessagesContaining(cfg.Logging.DropMessages...)
	}
	logger, err := logging.New(opts)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	services, err := app.New(ctx, cfg, runID, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer services.Close()

	runner, err := app.NewRunner(cfg, app.Deps{
		Store:  services.State(),
		Sink:   services.Sink(),
		Logger: logger,
		RunID:  runID,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Server.Port > 0 {
		srvCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()
		srv := server.New(runner.Status, cancel, logger.Named("server"))
		go func() {
			if err := srv.Serve(srvCtx, fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
				logger.Error("http server error", zap.Error(err))
			}
		}()
	}

	stats, err := runner.Run(runCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(stats); encErr != nil {
		return fmt.Errorf("write summary: %w", encErr)
	}
	logger.Info("crawl command finished", zap.Bool("aborted", stats.Aborted))
	return nil
}
