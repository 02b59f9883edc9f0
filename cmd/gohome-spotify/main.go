package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-spotify/internal/accessory"
	"github.com/joshp123/gohome-spotify/internal/clock"
	"github.com/joshp123/gohome-spotify/internal/config"
	"github.com/joshp123/gohome-spotify/internal/core"
	"github.com/joshp123/gohome-spotify/internal/events"
	"github.com/joshp123/gohome-spotify/internal/fader"
	"github.com/joshp123/gohome-spotify/internal/host"
	"github.com/joshp123/gohome-spotify/internal/host/hap"
	"github.com/joshp123/gohome-spotify/internal/logging"
	"github.com/joshp123/gohome-spotify/internal/oauth"
	"github.com/joshp123/gohome-spotify/internal/reconcile"
	"github.com/joshp123/gohome-spotify/internal/remote"
	"github.com/joshp123/gohome-spotify/internal/server"
	"github.com/joshp123/gohome-spotify/plugins/spotify"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "authorize":
			authorizeMain(os.Args[2:])
			return
		case "restore-token":
			restoreTokenMain(os.Args[2:])
			return
		case "serve":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}

	configPath := flag.String("config", "", "Path to config.yaml")
	dashboardsDir := flag.String("dashboards-dir", "", "Write embedded dashboards to this directory and exit")
	flag.Parse()

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fatal("config", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fatal("logging", err)
	}

	if *dashboardsDir != "" {
		plugin, err := spotify.NewPlugin(cfg, config.NewFileTokenStore(path), zerolog.Nop())
		if err != nil {
			fatal("plugin", err)
		}
		if err := core.WriteDashboards(*dashboardsDir, []core.Plugin{plugin}); err != nil {
			fatal("dashboards", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, path, logger); err != nil {
		logger.Error().Err(err).Msg("gohome-spotify stopped")
		os.Exit(1)
	}
}

func loadConfig(flagValue string) (*config.Config, string, error) {
	path := config.ResolvePath(flagValue)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func serve(ctx context.Context, cfg *config.Config, path string, logger zerolog.Logger) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var tokenOpts []oauth.Option
	if cfg.OAuthMirror.Enabled {
		mirror, err := oauth.NewS3Store(cfg.OAuthMirror)
		if err != nil {
			return fmt.Errorf("oauth mirror: %w", err)
		}
		tokenOpts = append(tokenOpts, oauth.WithMirror(mirror))
	}

	plugin, err := spotify.NewPlugin(cfg, config.NewFileTokenStore(path), logger, tokenOpts...)
	if err != nil {
		return fmt.Errorf("plugin: %w", err)
	}
	client := plugin.Client()
	volumeFader := fader.New(client, clock.Real{}, logger)
	defer volumeFader.Stop()

	var inner host.Host
	if cfg.HAP.Enabled {
		hapHost := hap.New(cfg.HAP, logger)
		defer hapHost.Close()
		inner = hapHost
	} else {
		inner = host.NewMemory()
	}

	db, err := host.OpenCache(filepath.Join(cfg.Core.StateDir, "accessories.db"))
	if err != nil {
		return err
	}
	defer db.Close()
	accessoryHost := host.NewCached(inner, db)

	stream := server.NewStream(logger)
	defer stream.Close()
	sinks := events.Multi{stream}
	if cfg.MQTT.Enabled {
		mqttPublisher, err := events.ConnectMQTT(cfg.MQTT, logger)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer mqttPublisher.Close()
		sinks = append(sinks, mqttPublisher)
	}
	if cfg.InfluxDB.Enabled {
		influxPublisher, err := events.ConnectInflux(ctx, cfg.InfluxDB, logger)
		if err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
		defer influxPublisher.Close()
		sinks = append(sinks, influxPublisher)
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	deps := accessory.Deps{
		Client:      client,
		Fader:       volumeFader,
		Notifier:    accessoryHost,
		Events:      sinks,
		Kind:        cfg.AccessoryKind,
		FadeSeconds: cfg.FadeSeconds,
		Logger:      logger,
	}
	rec, err := reconcile.New(reconcile.Config{
		PluginID: plugin.ID(),
		Platform: spotify.Platform,
		DeviceID: cfg.DeviceID,
		Interval: cfg.RefreshRate(),
	}, client, accessoryHost, func(device remote.Device) *accessory.Accessory {
		return accessory.New(device, deps)
	},
		reconcile.WithEvents(sinks),
		reconcile.WithCanceller(volumeFader),
		reconcile.WithLogger(logger),
		reconcile.WithHealth(func(status core.HealthStatus, message string) {
			plugin.SetHealth(status, message)
			grpcServer.SetServing(status == core.HealthHealthy)
		}),
	)
	if err != nil {
		return err
	}

	plugins := []core.Plugin{plugin}
	registry, err := core.NewRegistry(plugins)
	if err != nil {
		return err
	}

	shared := append(fader.MetricsCollectors(), reconcile.MetricsCollectors()...)
	shared = append(shared, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gohome_spotify_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))
	metricsRegistry := core.MetricsRegistry(plugins, shared...)

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, server.NewRouter(server.Options{
		Plugins:     registry,
		Metrics:     metricsRegistry,
		Dashboards:  core.DashboardsMap(registry.Plugins()),
		Accessories: rec,
		Fades:       volumeFader,
		Stream:      stream,
		Logger:      logger,
	}))

	if err := accessoryHost.Restore(ctx, rec.RestoreCached); err != nil {
		logger.Warn().Err(err).Msg("restore cached accessories failed")
	}

	errCh := make(chan error, 3)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		if err := rec.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("reconcile: %w", err)
		}
	}()

	logger.Info().
		Str("http_addr", cfg.Core.HTTPAddr).
		Str("grpc_addr", cfg.Core.GRPCAddr).
		Bool("hap", cfg.HAP.Enabled).
		Bool("mqtt", cfg.MQTT.Enabled).
		Bool("influxdb", cfg.InfluxDB.Enabled).
		Dur("refresh_rate", cfg.RefreshRate()).
		Dur("fade", cfg.FadeDuration()).
		Msg("gohome-spotify started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	grpcServer.Stop()
	logger.Info().Msg("gohome-spotify stopped")
	return runErr
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
