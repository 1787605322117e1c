package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/aragog/config"
	"github.com/aluiziolira/aragog/models"
	"github.com/aluiziolira/aragog/pipeline"
	"github.com/aluiziolira/aragog/publisher"
	"github.com/aluiziolira/aragog/scraper"
	"github.com/aluiziolira/aragog/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	configFile  string
	shopName    string
	limit       int
	verbose     bool
	metricsAddr string
	dryRun      string
)

var rootCmd = &cobra.Command{
	Use:   "aragog",
	Short: "Crawl board game shops and forward their offers to the collector.",
	Long: `aragog walks the catalog of each selected shop, normalizes every listing
into an offer and POSTs it, together with its trace context, to the backend.

Shops: ` + strings.Join(scraper.ShopNames(), ", ") + `, or all.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd)
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "Configuration file (default: ./configuration.yaml or ./configs/configuration.yaml)")
	flags.StringVarP(&shopName, "shop", "s", "all", "Shop to crawl")
	flags.IntVarP(&limit, "limit", "l", 70, "Approximate number of items to crawl per shop")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	flags.StringVar(&dryRun, "dry-run", "", "Write messages to this JSON lines file instead of POSTing them")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func run(cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, _, closer, err := telemetry.NewLogger(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	shops, err := scraper.SelectShops(cfg.Crawl.Shop)
	if err != nil {
		return err
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	metrics := scraper.NewMetrics()
	if cfg.Metrics.Addr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		logger.Info("metrics server enabled", slog.String("addr", cfg.Metrics.Addr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	pub, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	logger.Info("starting crawl",
		slog.String("shop", cfg.Crawl.Shop),
		slog.Int("limit", cfg.Crawl.Limit),
		slog.String("backend", backendEndpoint(cfg).URL()),
		slog.Bool("dry_run", cfg.DryRun.Output != ""),
	)

	runner := pipeline.NewRunner(ctx, logger)
	runner.Start(len(shops))
	if verbose {
		runner.StartMetricsReporting(10 * time.Second)
	}

	injector := telemetry.NewInjector(nil)
	tracer := tel.Tracer("github.com/aluiziolira/aragog")
	startTime := time.Now()

	for _, shop := range shops {
		crawler := scraper.NewCrawler(shop, cfg.Crawl, pub, injector,
			scraper.WithLogger(logger),
			scraper.WithMetrics(metrics),
			scraper.WithTracer(tracer),
		)
		if err := runner.Submit(pipeline.Job{
			Shop: shop.Name,
			Crawl: func(ctx context.Context) (*models.CrawlResult, error) {
				return crawler.Crawl(ctx, crawler.Shop().StartURL, cfg.Crawl.Limit)
			},
		}); err != nil {
			logger.Error("submit crawl", slog.String("shop", shop.Name), slog.Any("error", err))
		}
	}

	outcomes, crawlErr := runner.Close()
	printSummary(outcomes, time.Since(startTime), runner.GetMetrics())
	return crawlErr
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("shop") {
		cfg.Crawl.Shop = shopName
	}
	if flags.Changed("limit") {
		cfg.Crawl.Limit = limit
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
	if flags.Changed("dry-run") {
		cfg.DryRun.Output = dryRun
	}
}

func backendEndpoint(cfg *config.Config) publisher.Endpoint {
	return publisher.Endpoint{ServerAddress: cfg.Backend.URL, PostEndpoint: cfg.Backend.Endpoint}
}

func newPublisher(cfg *config.Config, logger *slog.Logger) (scraper.Publisher, func(), error) {
	if cfg.DryRun.Output != "" {
		sink, err := publisher.NewJSONLinesSink(cfg.DryRun.Output)
		if err != nil {
			return nil, nil, fmt.Errorf("create dry run output: %w", err)
		}
		closeSink := func() {
			if err := sink.Close(); err != nil {
				logger.Error("close dry run output", slog.Any("error", err))
			}
		}
		return sink, closeSink, nil
	}

	pub := publisher.NewHTTPPublisher(
		backendEndpoint(cfg),
		cfg.Backend.Timeout,
		publisher.WithLogger(logger),
		publisher.WithAmbiguousStatuses(cfg.Backend.AmbiguousStatuses...),
		publisher.WithTimeoutStatuses(cfg.Backend.TimeoutStatuses...),
	)
	return pub, func() {}, nil
}

func printSummary(outcomes []pipeline.Outcome, duration time.Duration, metrics map[string]interface{}) {
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Shop < outcomes[j].Shop })

	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Crawl complete")

	for _, o := range outcomes {
		state := "aborted"
		if o.Result != nil {
			state = o.Result.State.String()
		}
		fmt.Printf("  %-16s %s\n", o.Shop, state)
		if o.Result != nil {
			printResult(o.Result)
		}
		if o.Err != nil {
			fmt.Printf("    error:       %v\n", o.Err)
		}
	}

	if published, ok := metrics["published"].(int64); ok {
		fmt.Printf("  Published:     %d\n", published)
	}
	if byOutcome, ok := metrics["publish_outcomes"].(map[string]int); ok && len(byOutcome) > 0 {
		fmt.Printf("  Outcomes:      %v\n", byOutcome)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Println(separator)
}

func printResult(r *models.CrawlResult) {
	fmt.Printf("    crawl id:    %s\n", r.ID)
	fmt.Printf("    pages:       %d\n", r.PageCount)
	fmt.Printf("    entries:     %d (extracted %d, filtered %d, dropped %d)\n",
		r.EntryCount, r.ExtractedCount, r.FilteredCount, r.DroppedCount)
	fmt.Printf("    published:   %d\n", r.PublishedCount)
	fmt.Printf("    retries:     %d\n", r.RetryCount)
	if len(r.DroppedByField) > 0 {
		fmt.Printf("    missing:     %v\n", r.DroppedByField)
	}
}
