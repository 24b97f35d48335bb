package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/Ladtech/sitehub/internal/config"
	"github.com/Ladtech/sitehub/internal/core"
	fwd "github.com/Ladtech/sitehub/internal/forward"
	"github.com/Ladtech/sitehub/internal/metrics"
	"github.com/Ladtech/sitehub/internal/ratelimit"
	"github.com/Ladtech/sitehub/internal/reload"
	"github.com/Ladtech/sitehub/internal/router"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	configPath := flag.String("config", "./cmd/sitehub/config.yaml", "path to YAML config")
	envFile := flag.String("env", ".env", "optional file of environment overrides")
	metricsAddr := flag.String("metrics", ":9100", "address serving /metrics, empty to disable")
	watch := flag.Bool("watch", true, "reload the config when its file changes")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Fatal("env file")
	}

	accessLog := log.New()
	accessLog.SetOutput(os.Stdout)
	accessLog.SetFormatter(&log.JSONFormatter{})

	m := metrics.NewRegistry()
	transports := fwd.NewDefaultRegistry()
	defer transports.CloseIdle()

	var startup *config.Config
	holder := &router.Holder{}
	rl := reload.New(*configPath, holder, core.Deps{
		Transports:   transports,
		Metrics:      m,
		Limiter:      ratelimit.NewLimiter(),
		AccessLogger: accessLog,
		Logger:       log.StandardLogger(),
	}, reload.Options{Apply: func(c *config.Config) {
		if lvl, err := log.ParseLevel(c.LogLevel); err == nil {
			log.SetLevel(lvl)
		}
		if startup == nil {
			startup = c
		}
	}})
	if err := rl.Reload(); err != nil {
		log.WithError(err).Fatal("config")
	}

	srv := &http.Server{
		Addr:              startup.Listen,
		Handler:           holder,
		ReadTimeout:       startup.Timeouts.Read,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      startup.Timeouts.Write,
		IdleTimeout:       60 * time.Second,
	}
	log.WithFields(log.Fields{
		"version": version,
		"listen":  startup.Listen,
		"proxies": len(startup.Proxies),
	}).Info("sitehub listening")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	var metricsSrv *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics listener")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *watch {
		go func() {
			if err := rl.Watch(ctx); err != nil {
				log.WithError(err).Warn("config watcher stopped, hot reload disabled")
			}
		}()
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}
