package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/sparring-backend/internal/http/handlers"
	httpMW "github.com/yungbote/sparring-backend/internal/http/middleware"
	"github.com/yungbote/sparring-backend/internal/observability"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	HealthHandler   *httpH.HealthHandler
	ScenarioHandler *httpH.ScenarioHandler
	SessionHandler  *httpH.SessionHandler
	PrepHandler     *httpH.PrepHandler
	LiveHandler     *httpH.LiveHandler
	AnalysisHandler *httpH.AnalysisHandler
	RealtimeHandler *httpH.RealtimeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	{
		// Scenarios
		if cfg.ScenarioHandler != nil {
			api.GET("/scenarios", cfg.ScenarioHandler.ListScenarios)
			api.GET("/scenarios/:id", cfg.ScenarioHandler.GetScenario)
		}

		// Sessions
		if cfg.SessionHandler != nil {
			api.POST("/sessions", cfg.SessionHandler.CreateSession)
			api.GET("/sessions/:id", cfg.SessionHandler.GetSession)
			api.GET("/sessions/:id/transcript", cfg.SessionHandler.GetTranscript)
		}

		// Prep
		if cfg.PrepHandler != nil {
			api.POST("/sessions/:id/prep", cfg.PrepHandler.StartPrep)
			api.GET("/sessions/:id/prep", cfg.PrepHandler.GetPrep)
			api.DELETE("/sessions/:id/prep", cfg.PrepHandler.CancelPrep)
			api.GET("/sessions/:id/prep/events", cfg.PrepHandler.PrepEvents)
		}

		// Live
		if cfg.LiveHandler != nil {
			api.GET("/sessions/:id/assistant", cfg.LiveHandler.GetAssistant)
			api.GET("/sessions/:id/live", cfg.LiveHandler.Connect)
		}

		// Analysis
		if cfg.AnalysisHandler != nil {
			api.POST("/sessions/:id/analysis", cfg.AnalysisHandler.RunAnalysis)
			api.GET("/sessions/:id/analysis", cfg.AnalysisHandler.GetAnalysis)
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			api.GET("/realtime/stream", cfg.RealtimeHandler.SSEStream)
		}
	}

	return r
}
