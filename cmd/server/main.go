package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pokerjest/torrentlink/internal/api"
	"github.com/pokerjest/torrentlink/internal/config"
	"github.com/pokerjest/torrentlink/internal/db"
	"github.com/pokerjest/torrentlink/internal/downloader"
	"github.com/pokerjest/torrentlink/internal/event"
	"github.com/pokerjest/torrentlink/internal/scheduler"
	"github.com/pokerjest/torrentlink/internal/service"
	"github.com/pokerjest/torrentlink/internal/settings"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. Load Config
	if err := config.LoadConfig("."); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.AppConfig

	if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("Unknown log level %q, using info", cfg.Log.Level)
	}

	// 2. Setup Gin Mode
	gin.SetMode(cfg.Server.Mode)

	absPath, _ := filepath.Abs(cfg.Database.Path)
	log.Infof("Initializing database at: %s", absPath)

	gdb, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close(gdb)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 组装流水线
	bus := event.NewInMemoryBus()

	store := settings.NewStore(settings.NewGormKV(gdb), bus)
	defer store.Close()
	if !store.Initialize(ctx) {
		log.Warn("Settings could not be initialized, running on defaults")
	}

	notifier := service.NewNotifier(bus, store, cfg.Badge.ClearDelay)
	defer notifier.Stop()
	notifier.WatchSettings(ctx)

	facility := downloader.NewHTTPFacility(gdb, bus, cfg.Download.Dir, cfg.Resolver)
	defer facility.Close()

	validator := service.NewValidator(facility, notifier, bus, cfg.Validation.MinSize)
	orchestrator := service.NewOrchestrator(store, facility, notifier, validator, cfg.Resolver.BaseURL, cfg.Validation.Delay)

	monitor := service.NewMonitor(bus, notifier)
	monitor.Start()
	defer monitor.Stop()

	// Start Scheduler
	sch := scheduler.NewManager(facility, cfg.Download.SweepInterval)
	sch.Start(ctx)
	defer sch.Stop()

	r := gin.Default()
	api.InitRoutes(r, &api.Handler{
		Settings:     store,
		Orchestrator: orchestrator,
		Notifier:     notifier,
		Facility:     facility,
		Bus:          bus,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
		// 退出时 SSE 长连接跟着 ctx 一起结束
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Server starting on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Errorf("Server stopped: %v", err)
	}
}
