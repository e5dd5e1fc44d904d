package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/data/repos/practice"
	"github.com/yungbote/sparring-backend/internal/domain/ports"
	"github.com/yungbote/sparring-backend/internal/domain/prep"
	"github.com/yungbote/sparring-backend/internal/domain/session"
	"github.com/yungbote/sparring-backend/internal/jobs/orchestrator"
	"github.com/yungbote/sparring-backend/internal/jobs/progress"
	"github.com/yungbote/sparring-backend/internal/jobs/worker"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/platform/apierr"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

const (
	jobTypePrep    = "prep_pipeline"
	persistTimeout = 10 * time.Second
)

// PrepView is everything the prep page needs about one session.
type PrepView struct {
	Run       *prep.PipelineRun  `json:"run"`
	Progress  *progress.Snapshot `json:"progress,omitempty"`
	Artifacts *prep.ArtifactSet  `json:"artifacts,omitempty"`
}

type PrepService interface {
	// Start creates the session's only PipelineRun and queues it.
	Start(ctx context.Context, sessionID uuid.UUID) (*prep.PipelineRun, error)
	Cancel(ctx context.Context, sessionID uuid.UUID) error
	Get(ctx context.Context, sessionID uuid.UUID) (*PrepView, error)
	Subscribe(ctx context.Context, sessionID uuid.UUID) (*progress.Subscription, error)
}

// Runner executes one prep job; *orchestrator.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, job orchestrator.Job) *prep.PipelineRun
	Abort(ctx context.Context, job orchestrator.Job, cause error) *prep.PipelineRun
}

// Submitter queues background work; *worker.Worker satisfies it.
type Submitter interface {
	Submit(job worker.Job) error
}

// Progress is the read side of the progress reporter.
type Progress interface {
	Open(run *prep.PipelineRun)
	Snapshot(runID uuid.UUID) (progress.Snapshot, error)
	Subscribe(runID uuid.UUID) (*progress.Subscription, error)
}

type activeRun struct {
	runID  uuid.UUID
	cancel context.CancelFunc
}

type prepService struct {
	log       *logger.Logger
	base      context.Context
	store     practice.Store
	scenarios Scenarios
	gate      ports.EntitlementGate
	runner    Runner
	queue     Submitter
	progress  Progress

	mu     sync.Mutex
	active map[uuid.UUID]*activeRun
}

// NewPrepService runs every pipeline under base; cancelling base cancels
// all in-flight runs.
func NewPrepService(
	base context.Context,
	baseLog *logger.Logger,
	store practice.Store,
	scenarios Scenarios,
	gate ports.EntitlementGate,
	runner Runner,
	queue Submitter,
	prog Progress,
) PrepService {
	if gate == nil {
		gate = AllowAll{}
	}
	return &prepService{
		log:       baseLog.With("service", "PrepService"),
		base:      base,
		store:     store,
		scenarios: scenarios,
		gate:      gate,
		runner:    runner,
		queue:     queue,
		progress:  prog,
		active:    map[uuid.UUID]*activeRun{},
	}
}

func (s *prepService) Start(ctx context.Context, sessionID uuid.UUID) (*prep.PipelineRun, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusCreated {
		return nil, fmt.Errorf("session is %s: %w", sess.Status, pkgerrors.ErrConflict)
	}
	ok, err := s.gate.Authorized(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("prep for session %s: %w", sessionID, pkgerrors.ErrNotEntitled)
	}
	def, err := s.scenarios.Get(sess.ScenarioID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.active[sessionID]; running {
		return nil, fmt.Errorf("prep already running: %w", pkgerrors.ErrConflict)
	}
	if _, err := s.store.LoadRun(ctx, sessionID); err == nil {
		return nil, fmt.Errorf("prep already ran for this session: %w", pkgerrors.ErrConflict)
	} else if !errors.Is(err, pkgerrors.ErrNotFound) {
		return nil, err
	}

	run := orchestrator.NewRun(sessionID, def)
	if err := s.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	s.progress.Open(run)
	snapshot := run.Clone()

	if err := s.store.UpdateSessionStatus(ctx, sessionID, session.StatusPreparing, ""); err != nil {
		return nil, fmt.Errorf("update session status: %w", err)
	}

	job := orchestrator.Job{Run: run, Scenario: def, Inputs: sess.Inputs, Sources: sess.Sources}
	runCtx, cancel := context.WithCancel(s.base)
	s.active[sessionID] = &activeRun{runID: run.ID, cancel: cancel}

	err = s.queue.Submit(worker.Job{
		ID:   run.ID,
		Type: jobTypePrep,
		Run: func(poolCtx context.Context) error {
			stop := context.AfterFunc(poolCtx, cancel)
			defer stop()
			return s.execute(runCtx, cancel, job)
		},
	})
	if err != nil {
		delete(s.active, sessionID)
		cancel()
		s.settle(s.runner.Abort(context.WithoutCancel(ctx), job, fmt.Errorf("enqueue: %w", err)))
		return nil, apierr.New(http.StatusServiceUnavailable, "prep_queue_unavailable", err)
	}
	s.log.Info("prep queued", "session_id", sessionID, "run_id", run.ID, "scenario", def.ID)
	return snapshot, nil
}

// execute runs job on the worker goroutine. A panic fails the run instead
// of leaving it pending forever.
func (s *prepService) execute(ctx context.Context, cancel context.CancelFunc, job orchestrator.Job) (err error) {
	sessionID := job.Run.SessionID
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("prep run panic", "session_id", sessionID, "run_id", job.Run.ID, "panic", r)
			s.runner.Abort(context.WithoutCancel(ctx), job, fmt.Errorf("internal error"))
			err = fmt.Errorf("prep run panic: %v", r)
		}
		cancel()
		s.mu.Lock()
		delete(s.active, sessionID)
		s.mu.Unlock()
		s.settle(job.Run)
	}()

	run := s.runner.Run(ctx, job)
	if run.Phase == prep.PhaseFailed {
		return fmt.Errorf("prep failed: %s", run.Error)
	}
	return nil
}

// settle moves a preparing session to ready after a complete run. A failed
// run returns it to created; live practice works without prep.
func (s *prepService) settle(run *prep.PipelineRun) {
	status := session.StatusCreated
	if run.Phase == prep.PhaseComplete {
		status = session.StatusReady
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.base), persistTimeout)
	defer cancel()
	sess, err := s.store.GetSession(ctx, run.SessionID)
	if err != nil || sess.Status != session.StatusPreparing {
		return
	}
	if err := s.store.UpdateSessionStatus(ctx, run.SessionID, status, ""); err != nil {
		s.log.Warn("session status update failed", "session_id", run.SessionID, "error", err)
	}
}

func (s *prepService) Cancel(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	a, running := s.active[sessionID]
	s.mu.Unlock()
	if running {
		a.cancel()
		s.log.Info("prep cancel requested", "session_id", sessionID, "run_id", a.runID)
		return nil
	}
	run, err := s.store.LoadRun(ctx, sessionID)
	if err != nil {
		return err
	}
	if run.Phase.Terminal() {
		return fmt.Errorf("run is %s: %w", run.Phase, pkgerrors.ErrTerminal)
	}
	return fmt.Errorf("run %s is not running on this instance: %w", run.ID, pkgerrors.ErrConflict)
}

func (s *prepService) Get(ctx context.Context, sessionID uuid.UUID) (*PrepView, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	run, err := s.store.LoadRun(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	view := &PrepView{Run: run}
	if snap, err := s.progress.Snapshot(run.ID); err == nil {
		view.Progress = &snap
	}
	set, err := s.store.LoadArtifacts(ctx, sessionID)
	switch {
	case err == nil:
		view.Artifacts = &set
	case !errors.Is(err, pkgerrors.ErrNotFound):
		return nil, err
	}
	return view, nil
}

func (s *prepService) Subscribe(ctx context.Context, sessionID uuid.UUID) (*progress.Subscription, error) {
	s.mu.Lock()
	a, running := s.active[sessionID]
	s.mu.Unlock()
	if running {
		return s.progress.Subscribe(a.runID)
	}
	run, err := s.store.LoadRun(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sub, err := s.progress.Subscribe(run.ID)
	if errors.Is(err, pkgerrors.ErrNotFound) {
		// The in-memory log is gone (evicted or another instance ran it);
		// serve the stored run as a closed stream.
		s.progress.Open(run)
		return s.progress.Subscribe(run.ID)
	}
	return sub, err
}
