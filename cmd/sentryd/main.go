package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sentryd/pkg/anomaly"
	"sentryd/pkg/bus"
	"sentryd/pkg/collectors"
	"sentryd/pkg/config"
	"sentryd/pkg/kernel"
	"sentryd/pkg/log"
	"sentryd/pkg/metrics"
	"sentryd/pkg/processor"
	"sentryd/pkg/telemetry"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "sentryd",
	Short:   "sentryd - host observability and anomaly detection daemon",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("sentryd version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (defaults if omitted)")
	rootCmd.PersistentFlags().String("metrics-addr", "127.0.0.1:9090", "Metrics/health HTTP listen address")
	rootCmd.PersistentFlags().Bool("enable-tracing", false, "Enable OpenTelemetry span export")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sentryd daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		tracingEnabled, _ := cmd.Flags().GetBool("enable-tracing")

		logger := log.WithComponent("main")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		metrics.SetVersion(Version)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tp, err := telemetry.NewProvider(ctx, telemetry.Config{
			Enabled:        tracingEnabled,
			ServiceName:    "sentryd",
			ServiceVersion: Version,
		})
		if err != nil {
			return fmt.Errorf("starting telemetry: %w", err)
		}

		// Event Bus: leaf dependency, every other component publishes to
		// or subscribes from it.
		b := bus.New(cfg.Bus.BufferSize)
		metrics.RegisterComponent("bus", true, "running")
		logger.Info().Int("buffer_size", cfg.Bus.BufferSize).Msg("event bus started")

		// Ring-Buffer Reader: optional, only when syscall tracing is on.
		var reader *kernel.Reader
		if cfg.EBPF.EnableSyscallTrace {
			src, err := kernel.AttachPinned(cfg.EBPF.PinPath)
			if err != nil {
				return fmt.Errorf("attaching kernel probe: %w", err)
			}
			reader = kernel.NewReader(src, b, kernel.Config{
				MinLatencyNs: cfg.EBPF.MinLatencyNs,
				SourceLabel:  "kernel::ringbuf",
			})
			go reader.Run(ctx)
			metrics.RegisterComponent("kernel_reader", true, "attached")
			logger.Info().Str("pin_path", cfg.EBPF.PinPath).Msg("kernel ring-buffer reader attached")
		} else {
			logger.Info().Msg("syscall tracing disabled, kernel reader not started")
		}

		// User-space collectors: CPU and memory pollers publish onto the
		// same bus the kernel reader would, so the processor never knows
		// which source a metric came from.
		cpuPoller := collectors.NewCPUPoller(b, cfg.Collectors.IntervalFor("cpu", collectors.DefaultInterval), collectors.DefaultStatPath)
		go cpuPoller.Run(ctx)
		memPoller := collectors.NewMemoryPoller(b, cfg.Collectors.IntervalFor("memory", collectors.DefaultInterval), collectors.DefaultMeminfoPath)
		go memPoller.Run(ctx)
		logger.Info().Msg("resource collectors started")

		// Stream Processor.
		proc, err := processor.NewProcessor(b, cfg.ToProcessorConfig("stream-processor", cfg.Bus.BufferSize))
		if err != nil {
			return fmt.Errorf("starting processor: %w", err)
		}
		go proc.Run(ctx)
		metrics.RegisterComponent("processor", true, "running")
		logger.Info().Msg("stream processor started")

		// Anomaly Detection Pipeline.
		pipeline := anomaly.NewPipeline(proc, b, cfg.AnomalyConfig())
		go pipeline.Run(ctx)
		metrics.RegisterComponent("anomaly_pipeline", true, "running")
		logger.Info().Msg("anomaly detection pipeline started")

		// Metrics polling + HTTP exposition.
		metricsCollector := metrics.NewCollector(b, proc, pipeline, reader)
		metricsCollector.Start()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		httpServer := &http.Server{Addr: metricsAddr, Handler: mux}

		errCh := make(chan error, 1)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
		logger.Info().Str("addr", metricsAddr).Msg("metrics/health endpoints listening")

		select {
		case <-ctx.Done():
			logger.Info().Msg("shutdown signal received")
		case err := <-errCh:
			logger.Error().Err(err).Msg("component error, shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics server did not shut down cleanly")
		}

		cpuPoller.Stop()
		memPoller.Stop()
		if reader != nil {
			if err := reader.Stop(); err != nil {
				logger.Warn().Err(err).Msg("kernel reader stop reported error")
			}
		}

		drainBusQueues(b, 2*time.Second)

		proc.Stop()
		pipeline.Stop()
		metricsCollector.Stop()
		b.Shutdown()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown reported error")
		}

		logger.Info().Msg("shutdown complete")
		return nil
	},
}

// drainBusQueues waits for every subscriber queue to empty before the
// subscribers themselves are stopped, up to a grace period (spec.md §5:
// "wait for bus queues to drain up to a grace period"). It gives up and
// returns once the deadline passes, leaving whatever records remain to be
// dropped when the subscriber is torn down.
func drainBusQueues(b *bus.Bus, grace time.Duration) {
	deadline := time.Now().Add(grace)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		depth := 0
		for _, d := range b.Metrics().PerSubscriberDepth {
			depth += d
		}
		if depth == 0 || time.Now().After(deadline) {
			return
		}
		<-ticker.C
	}
}
