// Package main implements apphostd, the reference daemon: it loads the
// configuration file, starts the declared application instances with a
// journal router each, and serves the admin API.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/apphost-dev/apphost/host"
	"github.com/apphost-dev/apphost/internal/admin"
	"github.com/apphost-dev/apphost/internal/config"
	"github.com/apphost-dev/apphost/internal/journal"
	"github.com/apphost-dev/apphost/internal/metrics"
	"github.com/apphost-dev/apphost/internal/supervise"
	"github.com/apphost-dev/apphost/pkg/logger"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "config/apphost.yaml", "Path to configuration file")
	listen := flag.String("listen", "", "Admin API listen address (overrides config)")
	flag.Parse()

	// Optional .env for local development.
	_ = godotenv.Load()

	log := logger.NewDefault("apphostd")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Error("load configuration")
		os.Exit(1)
	}

	source, err := config.NewSource(cfg)
	if err != nil {
		log.WithError(err).Error("build override source")
		os.Exit(1)
	}

	sup, err := supervise.New(supervise.Options{
		Logger:      log.WithField("component", "supervise"),
		HealthSweep: cfg.HealthSweep,
	})
	if err != nil {
		log.WithError(err).Error("build supervisor")
		os.Exit(1)
	}
	defer sup.Close()

	collector := metrics.NewCollector("apphost")
	h := host.New(host.Options{
		Logger:                log,
		Source:                source,
		Supervisor:            sup,
		Metrics:               collector,
		MaxConcurrentDispatch: cfg.Dispatch.MaxConcurrent,
		DispatchQueue:         cfg.Dispatch.Queue,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	decoders := make(map[string]admin.CommandDecoder, len(cfg.Applications))
	var handles []host.Handle
	for name, app := range cfg.Applications {
		def, err := cfg.Definition(name, journal.NewTable(sup, log.WithField("application", name)))
		if err != nil {
			log.WithError(err).Error("build definition")
			os.Exit(1)
		}
		decoders[name] = journal.Decode

		for _, inst := range app.Instances {
			handle, err := h.Start(ctx, def, host.StartOptions{Name: inst.Name})
			if err != nil {
				log.WithError(err).WithField("identity", inst.Name).Error("start instance")
				stopAll(h, handles)
				os.Exit(1)
			}
			handles = append(handles, handle)
		}
	}
	log.WithField("instances", len(handles)).Info("all declared instances started")

	addr := cfg.Listen
	if *listen != "" {
		addr = *listen
	}
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:    addr,
		Handler: admin.New(h, log.WithField("component", "admin"), decoders, collector).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("admin API listening")
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("admin API failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	stopAll(h, handles)
	log.Info("stopped")
}

func stopAll(h *host.Host, handles []host.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	for i := len(handles) - 1; i >= 0; i-- {
		_ = h.Stop(ctx, handles[i], shutdownGrace)
	}
}
