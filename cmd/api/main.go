package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"yescholars.org/internal/config"
	"yescholars.org/internal/httpapi"
	"yescholars.org/internal/lifecycle"
	"yescholars.org/internal/notify"
	"yescholars.org/internal/obs"
	"yescholars.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("YES_CONFIG"), "path to config file")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		store lifecycle.Store
		probe httpapi.ReadyProbe
		pgs   *pg.Store
	)
	if cfg.Database.DSN != "" {
		pgs, err = pg.Open(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		pgs.DB().SetMaxOpenConns(cfg.Database.MaxOpenConns)
		pgs.DB().SetMaxIdleConns(cfg.Database.MaxIdleConns)
		pgs.DB().SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		pgs.DB().SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)
		store = pgs
		probe = httpapi.ReadyProbe{DB: pgs.DB()}
	} else {
		log.Println("no database configured, using in-memory store")
		store = lifecycle.NewMemory()
	}

	var notifier notify.Notifier = notify.Discard{}
	var dispatcher *notify.Dispatcher
	if cfg.Notify.Enabled {
		dispatcher = notify.NewDispatcher(notify.LogSender{}, cfg.Notify.QueueSize, cfg.Notify.SendTimeout)
		notifier = dispatcher
	}

	svc := lifecycle.NewService(store, notifier)

	// Counter drift repair, scheduled off-peak.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Jobs.ReconcileSchedule, func() {
		if err := svc.Reconcile(context.Background()); err != nil {
			log.Printf("reconcile: %v", err)
		}
	}); err != nil {
		log.Fatalf("reconcile schedule: %v", err)
	}
	scheduler.Start()

	api := httpapi.New(svc, probe, version, httpapi.Options{
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	log.Printf("Starting yes-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	<-scheduler.Stop().Done()
	if dispatcher != nil {
		dispatcher.Close()
	}
	if pgs != nil {
		_ = pgs.Close()
	}
	log.Println("Stopped")
}
