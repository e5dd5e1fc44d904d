package app

import (
	"context"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/sparring-backend/internal/http"
	httpH "github.com/yungbote/sparring-backend/internal/http/handlers"
	"github.com/yungbote/sparring-backend/internal/observability"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
	"github.com/yungbote/sparring-backend/internal/realtime"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Scenario *httpH.ScenarioHandler
	Session  *httpH.SessionHandler
	Prep     *httpH.PrepHandler
	Live     *httpH.LiveHandler
	Analysis *httpH.AnalysisHandler
	Realtime *httpH.RealtimeHandler
}

type dbPinger struct{ db *gorm.DB }

func (p dbPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type redisPinger struct{ rdb *goredis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

func wireHandlers(log *logger.Logger, svcs Services, hub *realtime.SSEHub, gdb *gorm.DB, clients Clients) Handlers {
	log.Info("Wiring handlers...")
	checks := map[string]httpH.Pinger{}
	if gdb != nil {
		checks["database"] = dbPinger{db: gdb}
	}
	if clients.Redis != nil {
		checks["redis"] = redisPinger{rdb: clients.Redis}
	}
	return Handlers{
		Health:   httpH.NewHealthHandler(checks),
		Scenario: httpH.NewScenarioHandler(svcs.Scenarios),
		Session:  httpH.NewSessionHandler(svcs.Session),
		Prep:     httpH.NewPrepHandler(log, svcs.Prep),
		Live:     httpH.NewLiveHandler(log, svcs.Live, hub),
		Analysis: httpH.NewAnalysisHandler(svcs.Analysis),
		Realtime: httpH.NewRealtimeHandler(log, hub),
	}
}

func wireRouter(log *logger.Logger, cfg Config, handlers Handlers) *gin.Engine {
	serviceName := ""
	if observability.OtelEnabled() {
		serviceName = cfg.ServiceName
	}
	return http.NewRouter(http.RouterConfig{
		Log:             log,
		Metrics:         observability.Current(),
		ServiceName:     serviceName,
		CORSOrigins:     cfg.CORSOrigins,
		HealthHandler:   handlers.Health,
		ScenarioHandler: handlers.Scenario,
		SessionHandler:  handlers.Session,
		PrepHandler:     handlers.Prep,
		LiveHandler:     handlers.Live,
		AnalysisHandler: handlers.Analysis,
		RealtimeHandler: handlers.Realtime,
	})
}
