// telemetryd ingests sensor telemetry from JSON lines into a time store and
// a partitioned Parquet lake, dead-lettering everything it rejects.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/xtxerr/telemetry/internal/config"
	"github.com/xtxerr/telemetry/internal/deadletter"
	"github.com/xtxerr/telemetry/internal/ingestion"
	"github.com/xtxerr/telemetry/internal/logging"
	"github.com/xtxerr/telemetry/internal/metrics"
	"github.com/xtxerr/telemetry/internal/parser"
	"github.com/xtxerr/telemetry/internal/quality"
	"github.com/xtxerr/telemetry/internal/server"
	"github.com/xtxerr/telemetry/internal/storage/dualsink"
	"github.com/xtxerr/telemetry/internal/storage/parquet"
	"github.com/xtxerr/telemetry/internal/storage/query"
	"github.com/xtxerr/telemetry/internal/storage/retention"
	"github.com/xtxerr/telemetry/internal/storage/timestore"
)

// Version is set at build time via ldflags
var Version = "dev"

type options struct {
	cfgPath    string
	envPath    string
	input      string
	maxBatches int
	batchSize  int
	listen     string
	logLevel   string
}

func main() {
	var opts options

	// CLI flags
	flag.StringVar(&opts.cfgPath, "config", "config.yaml", "config file path")
	flag.StringVar(&opts.envPath, "env", ".env", "dotenv file path")
	flag.StringVar(&opts.input, "input", "-", "JSON-lines input file, - for stdin")
	flag.IntVar(&opts.maxBatches, "max-batches", -1, "stop after this many batches (overrides config, 0 = unbounded)")
	flag.IntVar(&opts.batchSize, "batch-size", 0, "records per batch (overrides config)")
	flag.StringVar(&opts.listen, "listen", "", "admin API listen address (enables the admin API)")
	flag.StringVar(&opts.logLevel, "log-level", "", "log level (overrides config)")
	flag.Parse()

	if err := run(opts); err != nil {
		logging.Error("telemetryd failed", "error", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	// Config file is optional when left at its default name.
	cfgPath := opts.cfgPath
	if cfgPath == "config.yaml" {
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			cfgPath = ""
		}
	}

	cfg, err := config.LoadFromEnv(cfgPath, opts.envPath)
	if err != nil {
		return err
	}

	// CLI overrides
	if opts.maxBatches >= 0 {
		cfg.Pipeline.MaxBatches = opts.maxBatches
	}
	if opts.batchSize > 0 {
		cfg.Pipeline.BatchSize = opts.batchSize
	}
	if opts.listen != "" {
		cfg.Server.Enabled = true
		cfg.Server.Listen = opts.listen
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	initLogging(cfg.Log)
	log := logging.Component("main")
	log.Info("telemetryd starting",
		"version", Version,
		"time_store", cfg.TimeStore.Driver,
		"lake", cfg.Lake.Path,
		"dead_letter", cfg.DeadLetter.Path,
		"batch_size", cfg.Pipeline.BatchSize,
		"max_batches", cfg.Pipeline.MaxBatches)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// =========================================================================
	// Sinks
	// =========================================================================

	store, err := timestore.Open(ctx, cfg.TimeStore)
	if err != nil {
		return fmt.Errorf("open time store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("close time store", "error", err)
		}
	}()

	compression, err := parquet.ParseCompressionType(cfg.Lake.Compression)
	if err != nil {
		return err
	}
	lakeOpts := parquet.DefaultOptions()
	lakeOpts.Compression = compression
	lake := parquet.NewLake(cfg.Lake.Path, lakeOpts)

	if cfg.Lake.Retention > 0 {
		if _, err := retention.New(lake, cfg.Lake.Retention).RunCleanup(); err != nil {
			log.Warn("lake retention", "error", err)
		}
	}

	dlOpts := deadletter.DefaultOptions()
	if cfg.DeadLetter.SyncMode != "" {
		dlOpts.SyncMode = cfg.DeadLetter.SyncMode
	}
	dl, err := deadletter.Open(cfg.DeadLetter.Path, dlOpts)
	if err != nil {
		return fmt.Errorf("open dead letter: %w", err)
	}
	defer func() {
		if err := dl.Close(); err != nil {
			log.Warn("close dead letter", "error", err)
		}
	}()

	sinks := dualsink.New(store, lake)

	// =========================================================================
	// Metrics and Orchestrator
	// =========================================================================

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	validator := quality.New(cfg.Quality)
	orch := ingestion.New(
		parser.New(),
		validator,
		dl,
		sinks,
		ingestion.Config{MaxBatches: cfg.Pipeline.MaxBatches},
		ingestion.WithQualityLog(store),
		ingestion.WithReporter(m),
	)

	src, err := openInput(opts.input, cfg.Pipeline.BatchSize)
	if err != nil {
		return err
	}
	defer src.Close()

	// =========================================================================
	// Admin API
	// =========================================================================

	g, gctx := errgroup.WithContext(ctx)

	var srv *server.Server
	if cfg.Server.Enabled {
		lakeQuery, err := query.New(cfg.Lake.Path, query.Options{MemoryLimit: cfg.Lake.QueryMemoryLimit})
		if err != nil {
			return fmt.Errorf("open lake query: %w", err)
		}
		defer lakeQuery.Close()

		srv = server.New(&server.Config{
			Listen:      cfg.Server.Listen,
			TLSCertFile: cfg.Server.TLSCertFile,
			TLSKeyFile:  cfg.Server.TLSKeyFile,
			Store:       store,
			Counters:    orch,
			DeadLetters: dl,
			Lake:        lake,
			LakeQuery:   lakeQuery,
			Sinks:       sinks,
			Rules:       validator,
			Gatherer:    reg,
		})
		g.Go(srv.Run)
	}

	// =========================================================================
	// Run
	// =========================================================================

	report, runErr := orch.Run(gctx, src)

	if srv != nil {
		if runErr == nil && ctx.Err() == nil {
			log.Info("run complete, admin API serving until signal", "address", srv.Addr())
			<-gctx.Done()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("admin API shutdown", "error", err)
		}
		cancel()
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("admin API: %w", err)
	}
	if runErr != nil {
		return runErr
	}

	log.Info("telemetryd stopped", "stopped", report.Stopped, "run_id", report.RunID)
	return nil
}

// initLogging picks text output on a terminal and JSON otherwise unless the
// format is set explicitly.
func initLogging(cfg config.LogConfig) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}

	var jsonFormat bool
	switch strings.ToLower(cfg.Format) {
	case "json":
		jsonFormat = true
	case "text":
		jsonFormat = false
	default:
		jsonFormat = !term.IsTerminal(int(os.Stdout.Fd()))
	}

	logging.Init(level, jsonFormat)
}

type inputSource interface {
	ingestion.BatchSource
	io.Closer
}

func openInput(path string, batchSize int) (inputSource, error) {
	if path == "-" || path == "" {
		return ingestion.NewReaderSource(os.Stdin, "stdin", batchSize), nil
	}
	return ingestion.OpenFile(path, batchSize)
}
