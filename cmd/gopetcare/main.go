package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/joshp123/gopetcare/internal/config"
	"github.com/joshp123/gopetcare/internal/logging"
	"github.com/joshp123/gopetcare/internal/mqtt"
	"github.com/joshp123/gopetcare/internal/server"
	"github.com/joshp123/gopetcare/petkit"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New(logging.ErrorLevel).Fatalw("error reading config", "err", err)
	}
	log := logging.New(cfg.LogLevel)

	client, err := buildClient(cfg, log)
	if err != nil {
		log.Fatalw("failed to build petkit client", "err", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(petkit.MetricsCollectors()...)
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gopetcare_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	var publisher *mqtt.Publisher
	if cfg.MQTT.Host != "" {
		publisher, err = mqtt.New(cfg.MQTT)
		if err != nil {
			log.Fatalw("failed to connect to mqtt broker", "err", err)
		}
		defer publisher.Close()
	}

	httpServer := server.New(cfg.HTTPAddr, registry)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("http serve", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go refreshLoop(ctx, cfg.RefreshInterval, client, publisher, log)

	waitForShutdown(cancel, httpServer, log)
}

func buildClient(cfg *config.Config, log *zap.SugaredLogger) (*petkit.Client, error) {
	bootstrap, err := petkit.LoadBootstrap(cfg.PetKit.BootstrapFile)
	if err != nil {
		return nil, err
	}
	return petkit.NewClient(petkit.Config{
		Username:  bootstrap.Username,
		Password:  bootstrap.Password,
		Timezone:  cfg.PetKit.Timezone,
		RelayType: cfg.PetKit.RelayType,
	}, log), nil
}

// refreshLoop periodically pulls full account state and, when a broker is
// configured, publishes it. A failed cycle is logged and retried at the
// next tick.
func refreshLoop(ctx context.Context, interval time.Duration, client *petkit.Client, publisher *mqtt.Publisher, log *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snapshot, err := client.Refresh(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorw("refresh failed", "err", err)
		} else {
			log.Infow("refreshed account state",
				"fountains", len(snapshot.Fountains),
				"litter_boxes", len(snapshot.LitterBoxes),
				"feeders", len(snapshot.Feeders),
				"purifiers", len(snapshot.Purifiers))
			if publisher != nil {
				if err := publisher.PublishSnapshot(snapshot); err != nil {
					log.Errorw("mqtt publish failed", "err", err)
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func waitForShutdown(cancel context.CancelFunc, srv *server.HTTPServer, log *zap.SugaredLogger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down")
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
