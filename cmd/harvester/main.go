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
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aluiziolira/wiki-animals-harvester/config"
	"github.com/aluiziolira/wiki-animals-harvester/export"
	"github.com/aluiziolira/wiki-animals-harvester/fetch"
	"github.com/aluiziolira/wiki-animals-harvester/models"
	"github.com/aluiziolira/wiki-animals-harvester/parser"
	"github.com/aluiziolira/wiki-animals-harvester/pipeline"
	"github.com/aluiziolira/wiki-animals-harvester/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "harvester",
		Short:         "Harvest collateral adjectives and animal images from Wikipedia",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	defaults := config.DefaultConfig()
	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")
	flags.String("listing-url", defaults.ListingURL, "Listing page to enumerate")
	flags.IntP("concurrency", "c", defaults.Concurrency, "Workers per stage and queue capacity")
	flags.Duration("timeout", defaults.Timeout, "Per-request timeout")
	flags.Int("cache-size", defaults.CacheSize, "Response bodies kept in memory (0 disables)")
	flags.StringP("output", "o", defaults.OutputFile, "Output file path")
	flags.String("format", defaults.OutputFormat, "Output format: csv, json, or dual")
	flags.String("storage", defaults.Storage.Backend, "Image storage: local, memory, s3, or gcs")
	flags.String("image-dir", defaults.Storage.BaseDir, "Directory for the local storage backend")
	flags.String("bucket", "", "Bucket for the s3 and gcs storage backends")
	flags.String("prefix", "", "Object key prefix for the s3 and gcs storage backends")
	flags.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	flags.String("log-file", "", "Also write logs to this rotating file")
	flags.Bool("progress", false, "Show an image download progress bar")
	flags.BoolP("verbose", "v", false, "Enable verbose logging")

	for key, flag := range map[string]string{
		"listing_url":      "listing-url",
		"concurrency":      "concurrency",
		"timeout":          "timeout",
		"cache_size":       "cache-size",
		"output_file":      "output",
		"output_format":    "format",
		"storage.backend":  "storage",
		"storage.base_dir": "image-dir",
		"storage.bucket":   "bucket",
		"storage.prefix":   "prefix",
		"metrics_addr":     "metrics-addr",
		"log.file":         "log-file",
		"progress":         "progress",
		"verbose":          "verbose",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}

	return cmd
}

func run(parent context.Context, cfg *config.Config) error {
	logger, closeLog := newLogger(cfg.Verbose, cfg.Log)
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("starting harvest",
		slog.String("listing_url", cfg.ListingURL),
		slog.Int("concurrency", cfg.Concurrency),
		slog.String("storage", cfg.Storage.Backend),
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := pipeline.NewMetrics()
	fetcher, err := fetch.New(fetch.Config{
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.Timeout,
		MaxBodyBytes: cfg.MaxBodyBytes,
		CacheSize:    cfg.CacheSize,
	}, fetch.WithMetrics(metrics))
	if err != nil {
		slog.Error("initialising fetcher", slog.Any("error", err))
		return err
	}

	sink, closeSink, err := newSink(ctx, cfg.Storage)
	if err != nil {
		slog.Error("initialising storage", slog.Any("error", err))
		return err
	}
	defer func() {
		if err := closeSink(); err != nil {
			slog.Error("close storage", slog.Any("error", err))
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	opts := pipeline.Options{
		ListingURL:  cfg.ListingURL,
		Concurrency: cfg.Concurrency,
		Logger:      logger,
		Metrics:     metrics,
	}
	var bar *progressbar.ProgressBar
	if cfg.Progress && isTerminal(os.Stderr) {
		bar = newProgressBar()
		opts.OnImageDone = func(models.ImageTask, error) {
			_ = bar.Add(1)
		}
	}

	harvester, err := pipeline.NewHarvester(fetcher, parser.WikiListingParser{}, parser.WikiDetailParser{}, sink, opts)
	if err != nil {
		slog.Error("initialising harvester", slog.Any("error", err))
		return err
	}

	result, err := harvester.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		slog.Error("harvest failed", slog.Any("error", err))
		return err
	}

	if err := writeOutput(cfg.OutputFormat, cfg.OutputFile, result.Groups); err != nil {
		slog.Error("export failed", slog.Any("error", err))
		return err
	}

	printSummary(os.Stdout, result, cfg.OutputFile)
	return nil
}

// writeOutput creates the output file only once there is a result to put in
// it, so a failed run leaves any previous output alone.
func writeOutput(format, filename string, groups *models.AggregationMap) error {
	writer, err := export.New(format, filename)
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}
	if err := writer.Write(groups); err != nil {
		writer.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("validate output: %w", err)
	}
	return nil
}

// newSink builds the configured storage backend. The returned func releases
// any client the backend holds.
func newSink(ctx context.Context, cfg config.StorageConfig) (storage.Sink, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "local":
		sink, err := storage.NewLocalSink(cfg.BaseDir)
		return sink, noop, err
	case "memory":
		return storage.NewMemorySink(), noop, nil
	case "s3":
		sink, err := storage.NewS3Sink(ctx, cfg.Bucket, cfg.Prefix)
		return sink, noop, err
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("create gcs client: %w", err)
		}
		sink, err := storage.NewGCSSink(client, cfg.Bucket, cfg.Prefix)
		if err != nil {
			client.Close()
			return nil, noop, err
		}
		return sink, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

func printSummary(w io.Writer, result *models.HarvestResult, outputFile string) {
	separator := "--------------------------------------------------"
	duration := result.EndTime.Sub(result.StartTime)
	stats := result.Stats

	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Harvest complete")
	fmt.Fprintf(w, "  Run ID:          %s\n", result.RunID)
	fmt.Fprintf(w, "  Records:         %d (%d dropped)\n", stats.RecordsSeen, stats.RecordsDropped)
	fmt.Fprintf(w, "  Labels:          %d\n", result.Groups.Len())
	fmt.Fprintf(w, "  Pages queued:    %d (%d failed)\n", stats.PagesQueued, stats.PagesFailed)
	fmt.Fprintf(w, "  Images saved:    %d of %d (%d failed)\n", stats.ImagesSaved, stats.ImagesQueued, stats.ImagesFailed)
	fmt.Fprintf(w, "  Bytes saved:     %d\n", stats.BytesSaved)
	fmt.Fprintf(w, "  Duration:        %v\n", duration)
	fmt.Fprintf(w, "  Output file:     %s\n", outputFile)
	fmt.Fprintln(w, separator)
}

func newProgressBar() *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("images"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
	)
}

// newLogger writes to stdout, plus a rotating file when cfg.File is set.
func newLogger(verbose bool, cfg config.LogConfig) (*slog.Logger, func()) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
	opts := &slog.HandlerOptions{Level: level}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(os.Stdout, file)
		closeFn = func() { _ = file.Close() }
	}

	var handler slog.Handler
	if cfg.File == "" && isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler), closeFn
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
