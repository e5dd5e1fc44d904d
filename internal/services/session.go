package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/data/repos/practice"
	"github.com/yungbote/sparring-backend/internal/domain/live"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	"github.com/yungbote/sparring-backend/internal/domain/session"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

// Scenarios is the read side of the scenario registry.
type Scenarios interface {
	Get(id string) (*scenario.Definition, error)
	List() []*scenario.Definition
}

type CreateSessionRequest struct {
	ScenarioID string            `json:"scenario_id"`
	Inputs     map[string]string `json:"inputs"`
	Sources    []string          `json:"sources"`
}

type SessionService interface {
	Create(ctx context.Context, req CreateSessionRequest) (*session.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	Transcript(ctx context.Context, id uuid.UUID) ([]live.Exchange, error)
}

type sessionService struct {
	log       *logger.Logger
	store     practice.Store
	scenarios Scenarios
	now       func() time.Time
}

func NewSessionService(baseLog *logger.Logger, store practice.Store, scenarios Scenarios) SessionService {
	return &sessionService{
		log:       baseLog.With("service", "SessionService"),
		store:     store,
		scenarios: scenarios,
		now:       time.Now,
	}
}

func (s *sessionService) Create(ctx context.Context, req CreateSessionRequest) (*session.Session, error) {
	def, err := s.scenarios.Get(req.ScenarioID)
	if err != nil {
		return nil, err
	}
	inputs, err := NormalizeInputs(def, req.Inputs)
	if err != nil {
		return nil, err
	}
	sources, err := NormalizeSources(req.Sources)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess := &session.Session{
		ID:         uuid.New(),
		ScenarioID: def.ID,
		Inputs:     inputs,
		Sources:    sources,
		Status:     session.StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("session created", "session_id", sess.ID, "scenario", def.ID, "sources", len(sources))
	return sess, nil
}

func (s *sessionService) Get(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	return s.store.GetSession(ctx, id)
}

func (s *sessionService) Transcript(ctx context.Context, id uuid.UUID) ([]live.Exchange, error) {
	if _, err := s.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return s.store.LoadTranscript(ctx, id)
}
