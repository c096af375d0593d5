package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gitlab.com/slon/rwlatch/latch"
	"gitlab.com/slon/rwlatch/latchmon"
)

var (
	flagConfigPath  string
	flagMetricsAddr string
	flagReaders     int
	flagWriters     int
	flagDuration    time.Duration
	flagReadHold    time.Duration
	flagWriteHold   time.Duration
	flagMaxReaders  uint32
)

var rootCmd = &cobra.Command{
	Use:   "latchbench",
	Short: "Drive reader/writer workloads against a single latch",
	Long: `latchbench contends a configurable number of reader and writer
goroutines on one latch, checks mutual exclusion at runtime and reports
throughput. With --metrics-addr it also serves live latch metrics in
Prometheus format.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	def := defaultConfig()
	flags.StringVarP(&flagConfigPath, "config", "c", "", "YAML scenario file")
	flags.StringVar(&flagMetricsAddr, "metrics-addr", "", "address to serve /metrics on (disabled when empty)")
	flags.IntVar(&flagReaders, "readers", def.Readers, "number of reader goroutines")
	flags.IntVar(&flagWriters, "writers", def.Writers, "number of writer goroutines")
	flags.DurationVar(&flagDuration, "duration", time.Duration(def.Duration), "benchmark duration")
	flags.DurationVar(&flagReadHold, "read-hold", time.Duration(def.ReadHold), "time a reader holds the latch")
	flags.DurationVar(&flagWriteHold, "write-hold", time.Duration(def.WriteHold), "time a writer holds the latch")
	flags.Uint32Var(&flagMaxReaders, "max-readers", def.MaxReaders, "reader capacity bound, 0 for unlimited")
}

// resolveConfig: defaults < файл сценария < явно выставленные флаги.
func resolveConfig(cmd *cobra.Command) (Config, error) {
	cfg := defaultConfig()
	if flagConfigPath != "" {
		fileCfg, err := loadConfig(flagConfigPath)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}

	flags := cmd.Flags()
	if flags.Changed("readers") {
		cfg.Readers = flagReaders
	}
	if flags.Changed("writers") {
		cfg.Writers = flagWriters
	}
	if flags.Changed("duration") {
		cfg.Duration = Duration(flagDuration)
	}
	if flags.Changed("read-hold") {
		cfg.ReadHold = Duration(flagReadHold)
	}
	if flags.Changed("write-hold") {
		cfg.WriteHold = Duration(flagWriteHold)
	}
	if flags.Changed("max-readers") {
		cfg.MaxReaders = flagMaxReaders
	}
	return cfg, cfg.validate()
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	runID := uuid.Must(uuid.NewV4()).String()
	logger = logger.With(zap.String("run_id", runID))

	registry := prometheus.NewRegistry()
	metrics := latchmon.NewMetrics(registry)
	mon := latchmon.New(latch.NewLimited(cfg.MaxReaders), metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flagMetricsAddr != "" {
		srv := startMetricsServer(flagMetricsAddr, registry, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("starting benchmark",
		zap.Int("readers", cfg.Readers),
		zap.Int("writers", cfg.Writers),
		zap.Duration("duration", time.Duration(cfg.Duration)),
		zap.Uint32("max_readers", cfg.MaxReaders),
	)

	result, err := runBench(ctx, cfg, mon)
	if err != nil {
		logger.Error("invariant violated", zap.Error(err))
		return err
	}

	perSecond := result.elapsed.Seconds()
	logger.Info("benchmark finished",
		zap.Int64("read_acquisitions", result.readAcquisitions),
		zap.Int64("write_acquisitions", result.writeAcquisitions),
		zap.Duration("elapsed", result.elapsed),
		zap.Float64("reads_per_second", float64(result.readAcquisitions)/perSecond),
		zap.Float64("writes_per_second", float64(result.writeAcquisitions)/perSecond),
	)
	return nil
}

func startMetricsServer(addr string, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
