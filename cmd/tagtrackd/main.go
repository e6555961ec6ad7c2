package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/signalsfoundry/tagtrack/internal/config"
	"github.com/signalsfoundry/tagtrack/internal/ingest"
	"github.com/signalsfoundry/tagtrack/internal/logging"
	"github.com/signalsfoundry/tagtrack/internal/observability"
	"github.com/signalsfoundry/tagtrack/internal/runtime"
)

func main() {
	configPath := pflag.StringP("config", "c", "tagtrackd.yaml", "path to the daemon configuration file")
	logLevel := pflag.String("log-level", "", "log level (debug, info, warn, error); overrides TAGTRACK_LOG_LEVEL")
	logFormat := pflag.String("log-format", "", "log format (text, json); overrides TAGTRACK_LOG_FORMAT")
	pflag.Parse()

	log := logging.NewFromEnv()
	if *logLevel != "" || *logFormat != "" {
		log = logging.New(logging.Config{Level: *logLevel, Format: *logFormat})
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Error(context.Background(), "failed to load configuration",
			logging.String("path", *configPath), logging.Err(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "tagtrackd exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires the runtime and blocks on the MQTT subscriber until ctx is
// cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger) error {
	shutdownTracing, err := observability.StartTracing(ctx, cfg.Tracing, os.Stdout, log)
	if err != nil {
		return err
	}
	defer observability.StopTracing(shutdownTracing, log)

	rt, err := runtime.New(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		lis, err := net.Listen("tcp", cfg.Metrics.Addr)
		if err != nil {
			return err
		}
		metricsSrv = serveMetrics(lis, rt.Collector, log)
	}

	log.Info(ctx, "starting tagtrackd",
		logging.String("broker", cfg.MQTT.Broker),
		logging.Int("topics", len(cfg.MQTT.Topics)))
	err = ingest.NewSubscriber(cfg.MQTT, rt.Service, log).Run(ctx)

	log.Info(context.Background(), "shutting down tagtrackd")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return err
}

func serveMetrics(lis net.Listener, collector *observability.IngestCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", lis.Addr().String()))
	return srv
}
