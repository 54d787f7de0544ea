package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-tululu-books/config"
	"github.com/aluiziolira/go-tululu-books/downloader"
	"github.com/aluiziolira/go-tululu-books/models"
	"github.com/aluiziolira/go-tululu-books/retry"
	"github.com/aluiziolira/go-tululu-books/scraper"
	"github.com/aluiziolira/go-tululu-books/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type options struct {
	configPath     string
	startID        int
	endID          int
	dest           string
	logFile        string
	catalogFormat  string
	progress       bool
	metricsAddr    string
	pushgatewayURL string
	verbose        bool
	maxFailures    int
	timeout        time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "tululu",
		Short:        "Download books and their covers from tululu.org",
		Long:         "Downloads the text, cover image and metadata of every book in an id range from tululu.org.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags(), opts)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	bindFlags(cmd.Flags(), opts)
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// bindFlags registers the command line flags, defaulting to DefaultConfig.
func bindFlags(flags *pflag.FlagSet, opts *options) {
	defaults := config.DefaultConfig()
	flags.SetNormalizeFunc(underscoreToDash)
	flags.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	flags.IntVarP(&opts.startID, "start-id", "s", defaults.StartID, "First book id to download")
	flags.IntVarP(&opts.endID, "end-id", "e", defaults.EndID, "Last book id to download")
	flags.StringVarP(&opts.dest, "dest", "d", defaults.DestDir, "Destination directory for books and images")
	flags.StringVar(&opts.logFile, "log-file", defaults.LogFile, "Log file, truncated on every run")
	flags.StringVar(&opts.catalogFormat, "catalog-format", defaults.CatalogFormat, "Metadata catalog format: csv, json, dual, or none")
	flags.BoolVar(&opts.progress, "progress", defaults.Progress, "Show a progress bar instead of per-book details")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.StringVar(&opts.pushgatewayURL, "pushgateway-url", defaults.PushgatewayURL, "Push metrics to this Pushgateway when the run ends")
	flags.BoolVarP(&opts.verbose, "verbose", "v", defaults.Verbose, "Enable debug logging")
	flags.IntVar(&opts.maxFailures, "max-failures", defaults.MaxConsecutiveFailures, "Abort after this many consecutive connection failures (0 = never)")
	flags.DurationVar(&opts.timeout, "timeout", defaults.Timeout, "Per-request timeout")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tululu %s\n", version)
		},
	}
}

// underscoreToDash keeps --start_id and --end_id working.
func underscoreToDash(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// loadConfig layers defaults, the config file, the environment and the
// flags the user actually set, in that order.
func loadConfig(flags *pflag.FlagSet, opts *options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		if err := cfg.LoadFile(opts.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if flags.Changed("start-id") {
		cfg.StartID = opts.startID
	}
	if flags.Changed("end-id") {
		cfg.EndID = opts.endID
	}
	if flags.Changed("dest") {
		cfg.DestDir = opts.dest
	}
	if flags.Changed("log-file") {
		cfg.LogFile = opts.logFile
	}
	if flags.Changed("catalog-format") {
		cfg.CatalogFormat = strings.ToLower(opts.catalogFormat)
	}
	if flags.Changed("progress") {
		cfg.Progress = opts.progress
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}
	if flags.Changed("pushgateway-url") {
		cfg.PushgatewayURL = opts.pushgatewayURL
	}
	if flags.Changed("verbose") {
		cfg.Verbose = opts.verbose
	}
	if flags.Changed("max-failures") {
		cfg.MaxConsecutiveFailures = opts.maxFailures
	}
	if flags.Changed("timeout") {
		cfg.Timeout = opts.timeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	runID := uuid.NewString()
	logger, closeLog, err := newLogger(cfg.LogFile, cfg.Verbose)
	if err != nil {
		return err
	}
	defer closeLog()
	logger = logger.With("run_id", runID)

	logger.Info("starting download",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("start_id", cfg.StartID),
		slog.Int("end_id", cfg.EndID),
		slog.String("dest", cfg.DestDir),
	)

	metrics := scraper.NewMetrics()
	fetcher, err := scraper.NewFetcher(cfg, metrics)
	if err != nil {
		logger.Error("initialising fetcher", slog.Any("error", err))
		return err
	}
	policy, err := retry.NewPolicy(cfg.RetryDelays...)
	if err != nil {
		logger.Error("invalid retry policy", slog.Any("error", err))
		return err
	}

	d := downloader.NewDownloader(cfg, fetcher, storage.NewPersister(cfg.DestDir), logger, metrics)
	runner := downloader.NewRunner(cfg, d, policy, logger, metrics)
	if cfg.Progress {
		runner.WithReporter(downloader.NewProgressReporter(stderr))
	} else {
		runner.WithReporter(downloader.NewConsoleReporter(stdout))
	}

	var catalog *storage.Catalog
	catalogPath := ""
	if cfg.CatalogFormat != "none" {
		catalogPath = filepath.Join(cfg.DestDir, cfg.CatalogFile)
		catalog, err = createCatalog(cfg, catalogPath)
		if err != nil {
			logger.Error("creating catalog", slog.Any("error", err))
			return err
		}
		runner.WithCatalog(catalog)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		logger.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	result, runErr := runner.Run(ctx)

	var (
		catalogStats map[string]interface{}
		cataloged    int
	)
	if catalog != nil {
		if result.Downloaded > 0 {
			if err := catalog.Validate(); err != nil {
				logger.Warn("catalog holds no records after a run with downloads",
					slog.Int("downloaded", result.Downloaded),
					slog.Any("error", err),
				)
			}
		}
		cataloged = catalog.Len()
		if err := catalog.Close(); err != nil {
			logger.Error("close catalog", slog.Any("error", err))
			runErr = errors.Join(runErr, err)
		}
		catalogStats = catalog.GetMetrics()
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if cfg.PushgatewayURL != "" {
		pusher := push.New(cfg.PushgatewayURL, "tululu").
			Gatherer(metrics.Registry).
			Grouping("run_id", runID)
		if err := pusher.Push(); err != nil {
			logger.Error("pushgateway push failed", slog.Any("error", err))
		}
	}

	printSummary(stdout, result, catalogPath, cataloged, catalogStats)

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func createCatalog(cfg *config.Config, path string) (*storage.Catalog, error) {
	writer, err := storage.NewOutputWriter(cfg.CatalogFormat, path)
	if err != nil {
		return nil, err
	}
	catalog, err := storage.NewCatalog(writer, cfg.HistoryCapacity(), 0)
	if err != nil {
		return nil, errors.Join(err, writer.Close())
	}
	return catalog, nil
}

func printSummary(w io.Writer, result *models.RunResult, catalogPath string, cataloged int, catalogStats map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, "Download complete")
	fmt.Fprintf(w, "  Book ids:      %d-%d\n", result.StartID, result.EndID)
	fmt.Fprintf(w, "  Downloaded:    %d\n", result.Downloaded)
	fmt.Fprintf(w, "  Not found:     %d\n", result.NotFound)
	fmt.Fprintf(w, "  Failed:        %d\n", result.Failed)
	fmt.Fprintf(w, "  Restarts:      %d\n", result.Restarts)
	fmt.Fprintf(w, "  Attempts:      %d\n", result.Attempts)
	fmt.Fprintf(w, "  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	if catalogPath != "" {
		fmt.Fprintf(w, "  Catalog:       %s (%d books)\n", catalogPath, cataloged)
		if skipped, ok := catalogStats["skipped_records"].(map[string]int); ok && len(skipped) > 0 {
			fmt.Fprintf(w, "  Skipped:       %v\n", skipped)
		}
	}
	fmt.Fprintln(w, separator)
}

// newLogger opens the log file, truncating any previous run's log.
func newLogger(path string, verbose bool) (*slog.Logger, func(), error) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	handler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(handler), func() { _ = file.Close() }, nil
}
