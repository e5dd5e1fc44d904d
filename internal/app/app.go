package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/yungbote/sparring-backend/internal/data/repos/practice"
	"github.com/yungbote/sparring-backend/internal/http"
	"github.com/yungbote/sparring-backend/internal/observability"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
	"github.com/yungbote/sparring-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Clients  Clients
	Store    practice.Store
	Services Services
	SSEHub   *realtime.SSEHub

	ctx           context.Context
	cancel        context.CancelFunc
	shutdownTrace func(context.Context) error
	started       bool
}

func New() (*App, error) {
	cfg := LoadConfig()
	log, err := logger.NewWithLevel(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log.Info("Configuration loaded", "db_driver", cfg.DB.Driver, "redis", cfg.RedisAddr != "", "archive", cfg.ArchiveBucket != "")

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{Log: log, Cfg: cfg, ctx: ctx, cancel: cancel}

	a.shutdownTrace = observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})
	observability.Init(log)

	a.Clients, err = wireClients(log, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store, a.DB, err = wireStore(log, cfg, a.Clients)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.SSEHub = realtime.NewSSEHub(log)
	a.Services, err = wireServices(ctx, log, cfg, a.Clients, a.Store, a.SSEHub)
	if err != nil {
		a.Close()
		return nil, err
	}
	handlers := wireHandlers(log, a.Services, a.SSEHub, a.DB, a.Clients)
	a.Router = wireRouter(log, cfg, handlers)
	return a, nil
}

// Start launches the background loops: the prep worker pool, the realtime
// bus forwarder and the redis metrics collector.
func (a *App) Start() error {
	if a == nil || a.started {
		return nil
	}
	a.started = true

	if a.Services.Worker != nil {
		a.Services.Worker.Start(a.ctx)
	}
	if a.Services.Bus != nil {
		if err := a.Services.Bus.StartForwarder(a.ctx, a.SSEHub.Broadcast); err != nil {
			return fmt.Errorf("start realtime forwarder: %w", err)
		}
	}
	if a.Clients.Redis != nil {
		observability.Current().StartRedisCollector(a.ctx, a.Log, a.Clients.Redis)
	}
	return nil
}

// Run serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	srv := &http.Server{Engine: a.Router}
	a.Log.Info("Server listening", "port", a.Cfg.Port)
	return srv.Run(ctx, ":"+a.Cfg.Port, a.Cfg.ShutdownGrace)
}

// Close cancels in-flight prep runs, ends live sessions and waits for the
// worker pool before releasing clients.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Worker != nil && a.started {
		a.Services.Worker.Wait()
	}
	if a.Services.Bus != nil {
		_ = a.Services.Bus.Close()
	}
	a.Clients.Close()
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.shutdownTrace != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.shutdownTrace(ctx)
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
