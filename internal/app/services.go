package app

import (
	"context"
	"fmt"

	"github.com/yungbote/sparring-backend/internal/data/repos/practice"
	"github.com/yungbote/sparring-backend/internal/domain/ports"
	"github.com/yungbote/sparring-backend/internal/jobs/orchestrator"
	"github.com/yungbote/sparring-backend/internal/jobs/progress"
	"github.com/yungbote/sparring-backend/internal/jobs/worker"
	modanalysis "github.com/yungbote/sparring-backend/internal/modules/analysis"
	"github.com/yungbote/sparring-backend/internal/modules/prep/research"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
	"github.com/yungbote/sparring-backend/internal/realtime"
	"github.com/yungbote/sparring-backend/internal/realtime/bus"
	"github.com/yungbote/sparring-backend/internal/scenarios"
	"github.com/yungbote/sparring-backend/internal/services"
)

type Services struct {
	Scenarios *scenarios.Registry
	Bus       bus.Bus
	Worker    *worker.Worker

	Session  services.SessionService
	Prep     services.PrepService
	Live     services.LiveService
	Analysis services.AnalysisService
}

// wireServices builds every service on top of base; cancelling base stops
// prep runs and ends live sessions.
func wireServices(base context.Context, log *logger.Logger, cfg Config, clients Clients, store practice.Store, hub *realtime.SSEHub) (Services, error) {
	log.Info("Wiring services...")

	reg, err := scenarios.Load(log)
	if err != nil {
		return Services{}, fmt.Errorf("load scenarios: %w", err)
	}
	log.Info("Scenario catalog loaded", "scenarios", reg.IDs())

	var (
		emit   services.Emitter = &services.HubEmitter{Hub: hub}
		sseBus bus.Bus
	)
	if clients.Redis != nil {
		sseBus, err = bus.NewRedisBus(log, clients.Redis, cfg.RedisChannel)
		if err != nil {
			return Services{}, fmt.Errorf("init realtime bus: %w", err)
		}
		emit = &services.BusEmitter{Bus: sseBus, Log: log}
	}

	var gen ports.Generator = clients.OpenAI

	var researcher ports.Researcher
	if cfg.ResearchEnabled {
		r, err := research.NewResearcher(log, gen, cfg.Research)
		if err != nil {
			return Services{}, fmt.Errorf("init researcher: %w", err)
		}
		researcher = r
	}

	reporter, err := progress.NewReporter(log, cfg.ProgressRetain, &services.ProgressSink{Emitter: emit})
	if err != nil {
		return Services{}, err
	}
	engine, err := orchestrator.NewEngine(log, gen, researcher, store, reporter, cfg.Prep)
	if err != nil {
		return Services{}, fmt.Errorf("init orchestrator: %w", err)
	}
	classifier, err := modanalysis.NewClassifier(log, gen, cfg.ClassifierMemoSize)
	if err != nil {
		return Services{}, fmt.Errorf("init classifier: %w", err)
	}
	w := worker.NewWorker(log, cfg.WorkerConcurrency, cfg.WorkerQueueSize)
	gate := services.NewEntitlementGate(log, clients.Redis)

	return Services{
		Scenarios: reg,
		Bus:       sseBus,
		Worker:    w,
		Session:   services.NewSessionService(log, store, reg),
		Prep:      services.NewPrepService(base, log, store, reg, gate, engine, w, reporter),
		Live:      services.NewLiveService(base, log, store, reg, emit, services.NewLiveClaims(log, clients.Redis, cfg.LiveClaimTTL)),
		Analysis: services.NewAnalysisService(log, store, reg, classifier, gen, emit, services.AnalysisConfig{
			Concurrency: cfg.AnalysisConcurrency,
			Narrative:   cfg.AnalysisNarrative,
		}),
	}, nil
}
