package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/sparring-backend/internal/domain/ports"
	"github.com/yungbote/sparring-backend/internal/domain/prep"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	"github.com/yungbote/sparring-backend/internal/jobs/progress"
	"github.com/yungbote/sparring-backend/internal/modules/prep/brief"
	"github.com/yungbote/sparring-backend/internal/modules/prep/prompts"
	"github.com/yungbote/sparring-backend/internal/observability"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

// Store persists prep output. SaveArtifacts is called at most once per run,
// and only from the persisting phase.
type Store interface {
	SaveRun(ctx context.Context, run *prep.PipelineRun) error
	SaveArtifacts(ctx context.Context, sessionID uuid.UUID, set prep.ArtifactSet) error
}

type Reporter interface {
	Open(run *prep.PipelineRun)
	Publish(ev progress.Event) (progress.Event, error)
}

type Config struct {
	Retry           RetryPolicy
	CallTimeout     time.Duration
	ResearchTimeout time.Duration
	PersistTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Retry:           DefaultRetryPolicy(),
		CallTimeout:     90 * time.Second,
		ResearchTimeout: 3 * time.Minute,
		PersistTimeout:  30 * time.Second,
	}
}

// Job is one prep request.
type Job struct {
	Run      *prep.PipelineRun
	Scenario *scenario.Definition
	Inputs   map[string]string
	Sources  []string
}

// Engine runs the prep pipeline:
// researching -> extracting -> generating -> persisting -> complete.
// The run struct is mutated only by the goroutine inside Run; task
// goroutines report back over a channel.
type Engine struct {
	log      *logger.Logger
	gen      ports.Generator
	research ports.Researcher
	store    Store
	reporter Reporter
	cfg      Config

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewEngine(log *logger.Logger, gen ports.Generator, research ports.Researcher, store Store, reporter Reporter, cfg Config) (*Engine, error) {
	if gen == nil {
		return nil, fmt.Errorf("orchestrator: generator required")
	}
	if store == nil {
		return nil, fmt.Errorf("orchestrator: store required")
	}
	if reporter == nil {
		return nil, fmt.Errorf("orchestrator: reporter required")
	}
	def := DefaultConfig()
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.ResearchTimeout <= 0 {
		cfg.ResearchTimeout = def.ResearchTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	return &Engine{
		log:      log.With("component", "PipelineOrchestrator"),
		gen:      gen,
		research: research,
		store:    store,
		reporter: reporter,
		cfg:      cfg,
		sleep:    sleepCtx,
		now:      time.Now,
	}, nil
}

// Run drives job.Run to a terminal phase and returns it. The returned run
// is the same pointer as job.Run.
func (e *Engine) Run(ctx context.Context, job Job) *prep.PipelineRun {
	run := job.Run
	def := job.Scenario
	started := e.now()

	ctx, span := observability.Tracer("prep").Start(ctx, "prep.run")
	span.SetAttributes(
		attribute.String("scenario", def.ID),
		attribute.String("run_id", run.ID.String()),
	)
	defer span.End()

	log := e.log.With("run_id", run.ID, "session_id", run.SessionID, "scenario", def.ID)
	e.reporter.Open(run)

	var findings ports.Findings
	if def.Pipeline.Research && e.research != nil {
		e.setPhase(run, prep.PhaseResearching, "")
		f, err := e.runResearch(ctx, def, job)
		if err != nil {
			if ctx.Err() != nil {
				return e.fail(ctx, run, def, "", fmt.Errorf("research: %w", ctx.Err()), started)
			}
			log.Warn("research failed (continuing without findings)", "error", err)
			run.ResearchError = err.Error()
		} else {
			findings = f
		}
	}

	e.setPhase(run, prep.PhaseExtracting, "")
	b := brief.Synthesize(def, job.Inputs, brief.ExtractResearch(findings))
	if ctx.Err() != nil {
		return e.fail(ctx, run, def, "", ctx.Err(), started)
	}

	e.setPhase(run, prep.PhaseGenerating, "")
	artifacts, failedTask, err := e.generate(ctx, run, def, b, job.Inputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.fail(ctx, run, def, failedTask, err, started)
	}

	e.setPhase(run, prep.PhasePersisting, "")
	set := prep.ArtifactSet{
		PageShape: def.Pipeline.PageShape,
		Brief:     b,
		Artifacts: artifacts,
	}
	pctx, cancel := context.WithTimeout(ctx, e.cfg.PersistTimeout)
	err = e.store.SaveArtifacts(pctx, run.SessionID, set)
	cancel()
	if err != nil {
		return e.fail(ctx, run, def, "", fmt.Errorf("persist artifacts: %w", err), started)
	}

	e.finish(run, prep.PhaseComplete, "")
	e.saveRun(ctx, run)
	observability.Current().ObservePrepRun(def.ID, string(run.Phase), e.now().Sub(started))
	log.Info("prep complete", "artifacts", len(artifacts), "research_error", run.ResearchError)
	return run
}

// Abort fails a run whose Run call did not return normally, such as after a
// recovered panic. A run already in a terminal phase is left untouched.
func (e *Engine) Abort(ctx context.Context, job Job, cause error) *prep.PipelineRun {
	if job.Run.Phase.Terminal() {
		return job.Run
	}
	e.reporter.Open(job.Run)
	return e.fail(ctx, job.Run, job.Scenario, "", cause, e.now())
}

func (e *Engine) runResearch(ctx context.Context, def *scenario.Definition, job Job) (ports.Findings, error) {
	query, err := prompts.Compose(def.ID+".research", def.Pipeline.ResearchQuery,
		prompts.ValuesFor(def, nil, job.Inputs, prompts.ResearchRuntime(def)))
	if err != nil {
		return ports.Findings{}, err
	}
	q := ports.ResearchQuery{Query: query.Text, Sources: job.Sources}
	attempt := 0
	for {
		attempt++
		f, err := e.researchOnce(ctx, q)
		if err == nil || ctx.Err() != nil || !shouldRetry(e.cfg.Retry, attempt, err) {
			return f, err
		}
		e.log.Warn("research retrying", "run_id", job.Run.ID, "attempt", attempt, "error", err)
		if serr := e.sleep(ctx, computeBackoff(e.cfg.Retry, attempt)); serr != nil {
			return ports.Findings{}, err
		}
	}
}

// researchOnce bounds one research attempt by the research timeout.
func (e *Engine) researchOnce(ctx context.Context, q ports.ResearchQuery) (ports.Findings, error) {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.ResearchTimeout)
	defer cancel()
	return e.research.Research(rctx, q)
}

type updateKind int

const (
	updStarted updateKind = iota
	updRetrying
	updSucceeded
	updFailed
)

type taskUpdate struct {
	kind     updateKind
	category string
	attempt  int
	err      error
	artifact prep.Artifact
}

// errTaskAborted marks tasks cancelled because a required sibling failed.
var errTaskAborted = errors.New("aborted")

func (e *Engine) generate(ctx context.Context, run *prep.PipelineRun, def *scenario.Definition, b *prep.StrategicBrief, inputs map[string]string) (map[string]prep.Artifact, string, error) {
	g, gctx := errgroup.WithContext(ctx)
	updates := make(chan taskUpdate)

	for i := range def.Pipeline.Tasks {
		task := def.Pipeline.Tasks[i]
		g.Go(func() error {
			return e.runTask(gctx, def, task, b, inputs, updates)
		})
	}

	var groupErr error
	go func() {
		groupErr = g.Wait()
		close(updates)
	}()

	artifacts := map[string]prep.Artifact{}
	total := len(def.Pipeline.Tasks)
	done := 0
	var requiredFailure string
	var requiredErr error
	for u := range updates {
		t := run.Task(u.category)
		if t == nil {
			continue
		}
		switch u.kind {
		case updStarted:
			t.Status = prep.TaskRunning
			t.Attempts = u.attempt
			e.publish(run, progress.Event{Kind: progress.EventTaskStarted, Task: u.category, Attempt: u.attempt})
		case updRetrying:
			t.Attempts = u.attempt
			t.Error = u.err.Error()
			e.publish(run, progress.Event{Kind: progress.EventTaskRetrying, Task: u.category, Attempt: u.attempt, Error: t.Error})
		case updSucceeded:
			done++
			t.Status = prep.TaskSucceeded
			t.Attempts = u.attempt
			t.Error = ""
			artifacts[u.category] = u.artifact
			run.Progress = generatingProgress(done, total)
			e.publish(run, progress.Event{Kind: progress.EventTaskSucceeded, Task: u.category, Attempt: u.attempt})
		case updFailed:
			done++
			t.Status = prep.TaskFailed
			if u.attempt > 0 {
				t.Attempts = u.attempt
			}
			t.Error = u.err.Error()
			if t.Required && requiredFailure == "" && !errors.Is(u.err, errTaskAborted) {
				requiredFailure = u.category
				requiredErr = u.err
			}
			run.Progress = generatingProgress(done, total)
			e.publish(run, progress.Event{Kind: progress.EventTaskFailed, Task: u.category, Attempt: t.Attempts, Error: t.Error})
		}
	}

	if requiredFailure != "" {
		return nil, requiredFailure, fmt.Errorf("required task %s failed: %w", requiredFailure, requiredErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if groupErr != nil {
		return nil, "", groupErr
	}
	return artifacts, "", nil
}

// runTask reports its own lifecycle on updates. It returns an error only
// for required-task failures, which cancels the remaining tasks.
func (e *Engine) runTask(ctx context.Context, def *scenario.Definition, task scenario.TaskConfig, b *prep.StrategicBrief, inputs map[string]string, updates chan<- taskUpdate) error {
	send := func(u taskUpdate) {
		u.category = task.Category
		updates <- u
	}
	fail := func(attempt int, err error) error {
		send(taskUpdate{kind: updFailed, attempt: attempt, err: err})
		observability.Current().ObservePrepTask(def.ID, task.Category, string(prep.TaskFailed), 0)
		if task.Required {
			return err
		}
		return nil
	}

	if ctx.Err() != nil {
		return fail(0, errTaskAborted)
	}

	vals := prompts.ValuesFor(def, b, inputs, prompts.TaskRuntime(def, task))
	system, err := prompts.Compose(def.ID+"."+task.Category+".system", task.System, vals)
	if err != nil {
		return fail(0, err)
	}
	prompt, err := prompts.Compose(def.ID+"."+task.Category, task.Prompt, vals)
	if err != nil {
		return fail(0, err)
	}
	req := ports.GenerateRequest{
		Op:          "prep." + task.Category,
		System:      system.Text,
		Prompt:      prompt.Text,
		Temperature: task.Temperature,
		Shape: ports.OutputShape{
			Kind:       task.Output,
			SchemaName: task.Category,
			Schema:     task.Schema,
		},
	}

	attempt := 0
	for {
		attempt++
		send(taskUpdate{kind: updStarted, attempt: attempt})
		start := e.now()
		art, callErr := e.attempt(ctx, task, req)
		if callErr == nil {
			send(taskUpdate{kind: updSucceeded, attempt: attempt, artifact: art})
			observability.Current().ObservePrepTask(def.ID, task.Category, string(prep.TaskSucceeded), e.now().Sub(start))
			return nil
		}
		if ctx.Err() != nil {
			return fail(attempt, errTaskAborted)
		}
		if !shouldRetry(e.cfg.Retry, attempt, callErr) {
			return fail(attempt, callErr)
		}
		send(taskUpdate{kind: updRetrying, attempt: attempt, err: callErr})
		if err := e.sleep(ctx, computeBackoff(e.cfg.Retry, attempt)); err != nil {
			return fail(attempt, errTaskAborted)
		}
	}
}

func (e *Engine) attempt(ctx context.Context, task scenario.TaskConfig, req ports.GenerateRequest) (prep.Artifact, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	res, err := e.gen.Generate(cctx, req)
	if err != nil {
		return prep.Artifact{}, err
	}
	art := prep.Artifact{
		Category: task.Category,
		Title:    task.Title,
		Output:   task.Output,
	}
	if task.Output == scenario.OutputJSON {
		raw := res.JSON
		if len(raw) == 0 {
			raw = json.RawMessage(strings.TrimSpace(res.Text))
		}
		if !json.Valid(raw) {
			return prep.Artifact{}, invalidOutput(task.Category)
		}
		art.Data = raw
		return art, nil
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return prep.Artifact{}, invalidOutput(task.Category)
	}
	art.Text = text
	return art, nil
}

// Unusable output is retried like a transient failure.
func invalidOutput(category string) error {
	return pkgerrors.Transient("prep."+category, errUnusableOutput)
}

var errUnusableOutput = errors.New("unusable output")

func (e *Engine) setPhase(run *prep.PipelineRun, phase prep.Phase, errMsg string) {
	run.Phase = phase
	if p, ok := phaseProgress[phase]; ok && p > run.Progress {
		run.Progress = p
	}
	run.UpdatedAt = e.now().UTC()
	ev := progress.Event{Kind: progress.EventPhaseChanged, Error: errMsg}
	if phase == prep.PhaseFailed {
		ev.Task = run.FailedTask
	}
	e.publish(run, ev)
}

func (e *Engine) finish(run *prep.PipelineRun, phase prep.Phase, errMsg string) {
	now := e.now().UTC()
	run.FinishedAt = &now
	run.Error = errMsg
	e.setPhase(run, phase, errMsg)
}

func (e *Engine) fail(ctx context.Context, run *prep.PipelineRun, def *scenario.Definition, failedTask string, err error, started time.Time) *prep.PipelineRun {
	// Tasks that never got to report are failed with the run.
	for i := range run.Tasks {
		t := &run.Tasks[i]
		if t.Status.Terminal() {
			continue
		}
		t.Status = prep.TaskFailed
		t.Error = errTaskAborted.Error()
		e.publish(run, progress.Event{Kind: progress.EventTaskFailed, Task: t.Category, Attempt: t.Attempts, Error: t.Error})
	}
	run.FailedTask = failedTask
	msg := err.Error()
	if failedTask == "" && errors.Is(err, context.Canceled) {
		msg = "canceled"
	}
	e.finish(run, prep.PhaseFailed, msg)
	e.saveRun(context.WithoutCancel(ctx), run)
	observability.Current().ObservePrepRun(def.ID, string(run.Phase), e.now().Sub(started))
	e.log.Warn("prep failed", "run_id", run.ID, "scenario", def.ID, "failed_task", failedTask, "error", err)
	return run
}

func (e *Engine) saveRun(ctx context.Context, run *prep.PipelineRun) {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.PersistTimeout)
	defer cancel()
	if err := e.store.SaveRun(sctx, run); err != nil {
		e.log.Warn("save run failed", "run_id", run.ID, "error", err)
	}
}

func (e *Engine) publish(run *prep.PipelineRun, ev progress.Event) {
	ev.RunID = run.ID
	ev.SessionID = run.SessionID
	ev.Phase = run.Phase
	ev.Progress = run.Progress
	if _, err := e.reporter.Publish(ev); err != nil {
		e.log.Warn("progress publish failed", "run_id", run.ID, "kind", ev.Kind, "error", err)
	}
}
