package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zoobzio/partialz"
)

func main() {
	var (
		configPath     string
		scheduledDelay time.Duration
		serviceName    string
		metricsAddr    string
		demoSpans      int
		logLevel       string
	)

	flag.StringVar(&configPath, "config", "", "Path to YAML config file (optional)")
	flag.DurationVar(&scheduledDelay, "scheduled-delay", 0, "Heartbeat period, overrides config (default 5s)")
	flag.StringVar(&serviceName, "service-name", "", "service.name resource attribute, overrides config")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Address to expose Prometheus metrics, e.g. :10001 (empty disables)")
	flag.IntVar(&demoSpans, "demo-spans", 3, "Number of long-running demo spans to open")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	flag.Parse()

	// Setup logger
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)
	logger = level.NewFilter(logger, levelOption(logLevel))

	cfg := partialz.DefaultConfig()
	if configPath != "" {
		loaded, err := partialz.LoadConfig(configPath)
		if err != nil {
			level.Error(logger).Log("msg", "failed to load config", "path", configPath, "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if scheduledDelay != 0 {
		cfg.ScheduledDelay = scheduledDelay
	}
	if serviceName != "" {
		cfg.ServiceName = serviceName
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	// Setup metrics
	reg := prometheus.NewRegistry()
	metrics := partialz.NewMetrics(reg)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			level.Info(logger).Log("msg", "starting metrics server", "addr", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				level.Error(logger).Log("msg", "metrics server failed", "err", err)
				os.Exit(1)
			}
		}()
	}

	// Heartbeats go to stdout so they can be shipped separately from diagnostics.
	sink := partialz.NewLogSink(log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout)))

	proc, err := partialz.NewProcessor(cfg, sink,
		partialz.WithLogger(log.With(logger, "component", "heartbeat")),
		partialz.WithMetrics(metrics),
	)
	if err != nil {
		level.Error(logger).Log("msg", "failed to create processor", "err", err)
		os.Exit(1)
	}

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := proc.Start(ctx); err != nil {
		level.Error(logger).Log("msg", "failed to start processor", "err", err)
		os.Exit(1)
	}

	tracer := partialz.New()
	tracer.AddHook(proc)
	tracer.SetPanicHook(func(hookID uint64, r interface{}) {
		level.Error(logger).Log("msg", "span hook panicked", "hook", hookID, "panic", fmt.Sprint(r))
	})

	level.Info(logger).Log(
		"msg", "starting partialz demo",
		"scheduled_delay", cfg.ScheduledDelay,
		"service_name", cfg.ServiceName,
		"demo_spans", demoSpans,
	)

	runDemo(ctx, tracer, demoSpans)

	proc.Shutdown()
	<-proc.Done()
	tracer.Close()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			level.Error(logger).Log("msg", "metrics server shutdown failed", "err", err)
		}
	}

	level.Info(logger).Log("msg", "shutdown complete")
}

// runDemo opens n long-running spans, each with one child, and keeps them open
// until ctx is done. The spans end once the Start context is cancelled, which
// has already stopped the heartbeat loop, so no heartbeat follows their end.
func runDemo(ctx context.Context, tracer *partialz.Tracer, n int) {
	spans := make([]*partialz.ActiveSpan, 0, 2*n)
	for i := 0; i < n; i++ {
		jobCtx, job := tracer.StartSpan(ctx, fmt.Sprintf("demo-job-%d", i))
		job.SetAttribute("job.index", fmt.Sprintf("%d", i))
		_, step := tracer.StartSpan(jobCtx, "demo-step")
		step.SetAttribute("step", "waiting")
		spans = append(spans, job, step)
	}

	<-ctx.Done()

	for i := len(spans) - 1; i >= 0; i-- {
		spans[i].Finish()
	}
}

func levelOption(s string) level.Option {
	switch s {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}
