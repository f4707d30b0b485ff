package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/narvanalabs/tower-controller/internal/api"
	"github.com/narvanalabs/tower-controller/internal/archive"
	"github.com/narvanalabs/tower-controller/internal/auth"
	"github.com/narvanalabs/tower-controller/internal/control"
	"github.com/narvanalabs/tower-controller/internal/controller"
	"github.com/narvanalabs/tower-controller/internal/events"
	grpcserver "github.com/narvanalabs/tower-controller/internal/grpc"
	"github.com/narvanalabs/tower-controller/internal/metrics"
	"github.com/narvanalabs/tower-controller/internal/models"
	"github.com/narvanalabs/tower-controller/internal/notify"
	"github.com/narvanalabs/tower-controller/internal/registry"
	"github.com/narvanalabs/tower-controller/internal/retry"
	"github.com/narvanalabs/tower-controller/internal/shutdown"
	"github.com/narvanalabs/tower-controller/internal/transport"
	"github.com/narvanalabs/tower-controller/internal/well"
	"github.com/narvanalabs/tower-controller/pkg/config"
	"github.com/narvanalabs/tower-controller/pkg/logger"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the controller, the HTTP API and the gRPC health service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if cmd.Flags().Changed("transport") {
				cfg.Transport.Kind, _ = cmd.Flags().GetString("transport")
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			code, err := serve(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	cmd.Flags().String("transport", "", "Radio link override: mqtt or loopback")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) (int, error) {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return 1, err
	}
	log := logger.New(level, cfg.Log.Format != "text")
	slog.SetDefault(log.Logger)

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.Server.ShutdownTimeout),
		shutdown.WithLogger(log.WithComponent("shutdown").Logger),
	)

	link := openTransport(cfg.Transport, log)

	store, err := archive.Open(archive.Config{
		Kind:      cfg.Archive.Kind,
		Path:      cfg.Archive.Path,
		DSN:       cfg.Archive.DSN,
		Retention: cfg.Archive.Retention,
	}, log.WithComponent("archive").Logger)
	if err != nil {
		link.Close()
		return 1, fmt.Errorf("opening archive: %w", err)
	}

	writerCfg := archive.DefaultWriterConfig()
	writerCfg.Retention = cfg.Archive.Retention
	writer := archive.NewWriter(store, writerCfg, log.WithComponent("archive").Logger)

	broker := events.NewBroker(log.WithComponent("events").Logger)

	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	grpcCfg := grpcserver.DefaultConfig()
	grpcCfg.Port = cfg.Server.GRPCPort
	grpcSrv := grpcserver.NewServer(grpcCfg, []string{
		controller.HealthService,
		controller.HealthRadio,
		controller.HealthWellWater,
	}, log.WithComponent("grpc").Logger)

	ctrl, err := controller.New(controller.Options{
		Config:    controllerConfig(cfg),
		Transport: link,
		Well: well.Config{
			Kind: cfg.Well.Source,
			Chip: cfg.Well.Chip,
			Line: cfg.Well.Line,
		},
		Broker:  broker,
		Metrics: collector,
		Archive: writer,
		Health:  grpcSrv,
		Logger:  log.WithComponent("controller").Logger,
	})
	if err != nil {
		store.Close()
		link.Close()
		return 1, fmt.Errorf("creating controller: %w", err)
	}

	var notifier *notify.Notifier
	if cfg.Notify.TelegramToken != "" {
		notifier, err = notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, log.WithComponent("notify").Logger)
		if err != nil {
			log.Warn("telegram alerts disabled", "error", err)
			notifier = nil
		}
	}

	var authSvc *auth.Service
	if cfg.Auth.JWTSecret != "" {
		authSvc = auth.NewService(&auth.Config{
			JWTSecret:   []byte(cfg.Auth.JWTSecret),
			TokenExpiry: cfg.Auth.JWTExpiry,
		}, log.WithComponent("auth").Logger)
	} else {
		log.Warn("JWT_SECRET not set, write endpoints are unauthenticated")
	}

	api.Version = binVersion
	apiSrv := api.NewServer(api.Config{
		Host:           cfg.Server.APIHost,
		Port:           cfg.Server.APIPort,
		RequestTimeout: cfg.Server.RequestTimeout,
		StreamInterval: cfg.Server.StreamInterval,
		DiskPath:       api.DefaultConfig().DiskPath,
	}, api.Deps{
		Controller: ctrl,
		Broker:     broker,
		Archive:    store,
		Metrics:    collector.Handler(),
		Auth:       authSvc,
	}, log.WithComponent("api").Logger)

	// Stopped in reverse: HTTP first, the archive database last.
	coordinator.Register(shutdown.NewCloserComponent("archive", store))
	coordinator.Register(shutdown.NewCloserComponent("transport", link))
	coordinator.Register(shutdown.NewCloserComponent("events", broker))
	if notifier != nil {
		notifier.Start(ctx, broker)
		coordinator.Register(shutdown.NewWorkerComponent("notifier", notifier))
	}
	writer.Start(ctx)
	coordinator.Register(shutdown.NewWorkerComponent("archive-writer", writer))
	ctrl.Start(ctx)
	coordinator.Register(shutdown.NewWorkerComponent("controller", ctrl))

	serveErr := make(chan error, 2)
	go func() {
		if err := grpcSrv.Start(ctx); err != nil {
			serveErr <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	coordinator.Register(shutdown.NewGRPCServerComponent("grpc", grpcSrv))

	go func() {
		if err := apiSrv.Start(ctx); err != nil {
			serveErr <- fmt.Errorf("api server: %w", err)
		}
	}()
	coordinator.Register(shutdown.NewServerComponent("api", apiSrv))

	notifySystemd(ctx, ctrl, log)

	waitCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	go func() {
		select {
		case err := <-serveErr:
			log.Error("listener failed", "error", err)
			stop(err)
		case <-ctrl.Done():
			stop(errors.New("control loop exited"))
		case <-waitCtx.Done():
		}
	}()

	coordinator.WaitForSignal(waitCtx)
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Debug("sd_notify stopping failed", "error", err)
	}
	return coordinator.ExitCode(), nil
}

// openTransport connects the configured radio link. A link that cannot be
// brought up yields a faulted transport so the controller starts degraded.
func openTransport(cfg config.TransportConfig, log *logger.Logger) transport.Transport {
	switch cfg.Kind {
	case "loopback":
		link, _ := transport.NewLoopbackPair(64)
		log.Warn("using loopback transport, no towers will be reached")
		return link
	default:
		mcfg := transport.DefaultMQTTConfig()
		mcfg.Broker = cfg.Broker
		mcfg.ClientID = cfg.ClientID
		mcfg.Username = cfg.Username
		mcfg.Password = cfg.Password
		mcfg.UplinkTopic = cfg.UplinkTopic
		mcfg.DownlinkTopic = cfg.DownlinkTopic
		mcfg.QoS = byte(cfg.QoS)

		link, err := transport.NewMQTT(mcfg, log.WithComponent("transport").Logger)
		if err != nil {
			log.Error("radio link unavailable, starting degraded", "broker", cfg.Broker, "error", err)
			return transport.NewFaulted(err)
		}
		return link
	}
}

func controllerConfig(cfg *config.Config) controller.Config {
	cc := controller.DefaultConfig()
	c := cfg.Control
	cc.LoopInterval = c.LoopInterval
	cc.AutoInterval = c.AutoInterval
	cc.OfflineTimeout = c.OfflineTimeout
	cc.HistorySchedule = c.HistorySchedule
	cc.SendTimeout = cfg.Transport.SendTimeout
	cc.Thresholds = control.Thresholds{Start: uint8(c.StartLevel), Stop: uint8(c.StopLevel)}
	cc.Registry = registry.Config{
		Capacity:        c.Capacity,
		HistoryCapacity: c.HistoryCapacity,
		Alarms: registry.AlarmLevels{
			LowWater: uint8(c.LowWaterAlarm),
			Overflow: uint8(c.OverflowAlarm),
		},
	}

	strategy := retry.DefaultRetryStrategy()
	strategy.MaxAttempts = cfg.Transport.RetryAttempts
	strategy.BackoffDuration = cfg.Transport.RetryBackoff
	cc.Retry = strategy

	// Validate has already rejected anything ParseMode would.
	if mode, err := config.ParseMode(c.Mode); err == nil {
		cc.InitialMode = models.Mode(mode)
	}
	cc.AnnounceMode = c.AnnounceMode
	return cc
}

// notifySystemd reports readiness and, when the unit has WatchdogSec set,
// pets the watchdog for as long as the control loop answers Ping.
func notifySystemd(ctx context.Context, ctrl *controller.Controller, log *logger.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warn("sd_notify ready failed", "error", err)
		return
	}
	if !sent {
		return
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ctrl.Ping(ctx); err != nil {
					log.Warn("skipping watchdog notification", "error", err)
					continue
				}
				daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}
