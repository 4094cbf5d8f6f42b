// Package app assembles a running shard: config, logging, the hub and its
// tick loop, and the HTTP and QUIC listeners.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"gridlock/server"
	servernet "gridlock/server/internal/net"
	"gridlock/server/internal/net/quicdg"
	"gridlock/server/internal/observability"
	"gridlock/server/internal/telemetry"
	"gridlock/server/logging"
	loggingSinks "gridlock/server/logging/sinks"
)

// Config carries the process-level options the CLI resolves before start.
type Config struct {
	ConfigPath    string
	Logger        telemetry.Logger
	Logging       logging.Config
	Observability observability.Config
}

// Run starts the shard and blocks until ctx is cancelled or a listener
// fails.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	shardCfg, err := server.LoadConfig(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if raw := os.Getenv("KEYFRAME_INTERVAL_TICKS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			shardCfg.KeyframeInterval = value
		} else {
			telemetryLogger.Printf("invalid KEYFRAME_INTERVAL_TICKS=%q", raw)
		}
	}

	router, err := buildRouter(cfg.Logging)
	if err != nil {
		return fmt.Errorf("construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	counters := telemetry.NewCounters()
	hub := server.NewHub(shardCfg, router, counters, telemetryLogger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go hub.RunSimulation(ctx)

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		Observability: cfg.Observability,
	})

	httpSrv := &http.Server{Addr: shardCfg.ListenAddr, Handler: handler}
	errs := make(chan error, 2)

	go func() {
		telemetryLogger.Printf("http listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()

	if shardCfg.QUICAddr != "" {
		tlsConf, err := quicdg.LoadTLSConfig(shardCfg.TLSCert, shardCfg.TLSKey)
		if err != nil {
			return fmt.Errorf("quic tls: %w", err)
		}
		listener, err := quicdg.Listen(shardCfg.QUICAddr, tlsConf, hub, log.Default())
		if err != nil {
			return fmt.Errorf("quic listen: %w", err)
		}
		defer listener.Close()
		telemetryLogger.Printf("quic listening on %s", listener.Addr())
		go listener.Serve(ctx)
	}

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// buildRouter wires the sinks the logging config enables. The console sink
// is always available; the JSON sink joins when a file path is configured.
func buildRouter(cfg logging.Config) (*logging.Router, error) {
	if len(cfg.EnabledSinks) == 0 {
		cfg = logging.DefaultConfig()
	}

	var sinks []logging.NamedSink
	if cfg.HasSink(logging.SinkConsole) {
		sinks = append(sinks, logging.NamedSink{
			Name: logging.SinkConsole,
			Sink: loggingSinks.NewConsoleSink(os.Stdout, cfg.Console),
		})
	}
	if cfg.HasSink(logging.SinkJSON) && cfg.JSON.FilePath != "" {
		file, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open json log %s: %w", cfg.JSON.FilePath, err)
		}
		sinks = append(sinks, logging.NamedSink{
			Name: logging.SinkJSON,
			Sink: loggingSinks.NewJSON(file, cfg.JSON.FlushInterval),
		})
	}

	return logging.NewRouter(logging.ClockFunc(time.Now), cfg, sinks)
}
