// Wristlink Daemon
//
// Runs one end of the primary/wearable link: the syncbus dispatcher over the
// gRPC link transport, with settings storage, metrics, and optional tracing.
//
// Usage:
//
//	go run ./cmd/wristlinkd                          # listen mode on :7410
//	go run ./cmd/wristlinkd -config wristlink.toml   # config file
//	WRISTLINK_MODE=dial WRISTLINK_PEER_ADDR=host:7410 go run ./cmd/wristlinkd
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/caddiehq/wristlink/companion/config"
	"github.com/caddiehq/wristlink/companion/haptics"
	"github.com/caddiehq/wristlink/companion/observability"
	"github.com/caddiehq/wristlink/companion/scoring"
	"github.com/caddiehq/wristlink/companion/settings"
	"github.com/caddiehq/wristlink/companion/transport"
	"github.com/caddiehq/wristlink/syncbus"
)

// logPlayer logs haptic patterns where real hardware would vibrate.
type logPlayer struct {
	logger zerolog.Logger
}

func (p *logPlayer) Play(pattern haptics.Pattern) error {
	p.logger.Info().Str("pattern", string(pattern)).Msg("haptic")
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.InitLogger(cfg.ServiceName, cfg.LogLevel)
	logger.Info().Str("mode", cfg.Mode).Msg("wristlinkd starting")

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracer(cfg.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			logger.Fatal().Err(err).Msg("tracing init failed")
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	// Metrics endpoint
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint up")

	// Device-local preferences
	store, err := settings.Open(cfg.SettingsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("settings open failed")
	}
	defer store.Close()

	// Link stack: transport -> dispatcher -> domain
	link := transport.NewLink(cfg.OutboxLimit, logger)
	dispatcher := syncbus.NewDispatcher(link, cfg.RequestTimeout(), logger)
	link.SetDelegate(dispatcher)
	dispatcher.AddMiddleware(syncbus.NewLoggingMiddleware(logger))
	dispatcher.AddMiddleware(observability.NewMetricsMiddleware(dispatcher.PendingCount))

	client := scoring.NewClient(dispatcher, logger)
	if err := client.RegisterHandlers(scoring.Handlers{
		OnScoreUpdate: func(u scoring.ScoreUpdate) {
			logger.Info().Str("round", u.RoundID).Int("hole", u.Hole).Int("strokes", u.Strokes).Msg("score update")
		},
		OnCourseData: func(c scoring.CourseData) {
			logger.Info().Str("course", c.CourseID).Int("holes", len(c.Holes)).Msg("course data")
		},
		OnRoundUpdate: func(s scoring.RoundSnapshot) {
			logger.Info().Str("round", s.RoundID).Int("hole", s.CurrentHole).Msg("round update")
		},
	}); err != nil {
		logger.Fatal().Err(err).Msg("handler registration failed")
	}

	var feedback *haptics.Feedback
	if store.GetBool(context.Background(), settings.KeyHapticsEnabled, true) {
		feedback = haptics.NewFeedback(dispatcher, &logPlayer{logger: logger}, logger)
	}

	link.Activate()

	var server *transport.Server
	var dialer *transport.Dialer
	switch cfg.Mode {
	case config.ModeListen:
		server = transport.NewServer(link, logger)
		if _, err := server.Start(cfg.Addr); err != nil {
			logger.Fatal().Err(err).Msg("link server start failed")
		}
	case config.ModeDial:
		dialer = transport.NewDialer(link, cfg.PeerAddr, logger)
		if err := dialer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("link dial failed")
		}
	}

	logger.Info().Msg("wristlinkd ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	// Teardown order: stop accepting traffic, cancel in-flight requests,
	// then release everything else.
	link.Deactivate()
	if server != nil {
		server.GracefulStop()
	}
	if dialer != nil {
		_ = dialer.Close()
	}
	if feedback != nil {
		feedback.Stop(dispatcher)
	}
	dispatcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(ctx)

	logger.Info().Msg("wristlinkd stopped")
}
