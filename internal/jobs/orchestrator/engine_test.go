package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/domain/ports"
	"github.com/yungbote/sparring-backend/internal/domain/prep"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	"github.com/yungbote/sparring-backend/internal/jobs/progress"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
	"github.com/yungbote/sparring-backend/internal/scenarios"
	"github.com/yungbote/sparring-backend/internal/testutil"
)

type memStore struct {
	mu        sync.Mutex
	runs      []prep.PipelineRun
	artifacts map[uuid.UUID]prep.ArtifactSet
	saves     int
}

func (s *memStore) SaveRun(_ context.Context, run *prep.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run.Clone())
	return nil
}

func (s *memStore) SaveArtifacts(_ context.Context, sessionID uuid.UUID, set prep.ArtifactSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifacts == nil {
		s.artifacts = map[uuid.UUID]prep.ArtifactSet{}
	}
	s.artifacts[sessionID] = set
	s.saves++
	return nil
}

type recordSink struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordSink) Emit(ev progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type fakeResearcher struct {
	findings ports.Findings
	err      error
}

func (f fakeResearcher) Research(context.Context, ports.ResearchQuery) (ports.Findings, error) {
	return f.findings, f.err
}

type harness struct {
	engine *Engine
	gen    *testutil.FakeGenerator
	store  *memStore
	sink   *recordSink
	def    *scenario.Definition
}

func newHarness(t *testing.T, scenarioID string, research ports.Researcher) *harness {
	t.Helper()
	t.Setenv(scenarios.CatalogDirEnv, "")
	reg, err := scenarios.Load(nil)
	if err != nil {
		t.Fatalf("load scenarios: %v", err)
	}
	def, err := reg.Get(scenarioID)
	if err != nil {
		t.Fatalf("get scenario: %v", err)
	}
	sink := &recordSink{}
	rep, err := progress.NewReporter(logger.Nop(), 0, sink)
	if err != nil {
		t.Fatalf("reporter: %v", err)
	}
	gen := testutil.NewFakeGenerator()
	store := &memStore{}
	eng, err := NewEngine(logger.Nop(), gen, research, store, rep, Config{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	eng.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return &harness{engine: eng, gen: gen, store: store, sink: sink, def: def}
}

func (h *harness) run(ctx context.Context, inputs map[string]string) *prep.PipelineRun {
	run := NewRun(uuid.New(), h.def)
	return h.engine.Run(ctx, Job{Run: run, Scenario: h.def, Inputs: inputs})
}

var debateInputs = map[string]string{
	"topic":    "Universal basic income should be adopted",
	"position": "pro",
}

func TestRunCompletesAndPersistsOnce(t *testing.T) {
	h := newHarness(t, "debate", nil)
	run := h.run(context.Background(), debateInputs)

	if run.Phase != prep.PhaseComplete {
		t.Fatalf("phase: got %s (%s)", run.Phase, run.Error)
	}
	if run.Progress != 100 {
		t.Fatalf("progress: got %d", run.Progress)
	}
	if h.store.saves != 1 {
		t.Fatalf("SaveArtifacts calls: got %d", h.store.saves)
	}
	set := h.store.artifacts[run.SessionID]
	if len(set.Artifacts) != len(h.def.Pipeline.Tasks) {
		t.Fatalf("artifacts: got %d want %d", len(set.Artifacts), len(h.def.Pipeline.Tasks))
	}
	if set.Brief == nil || set.Brief.Empty() {
		t.Fatalf("expected brief in artifact set")
	}

	var lastSeq int64
	lastProgress := 0
	for _, ev := range h.sink.events {
		if ev.Seq != lastSeq+1 {
			t.Fatalf("seq gap: %d after %d", ev.Seq, lastSeq)
		}
		if ev.Progress < lastProgress {
			t.Fatalf("progress went backwards: %d after %d", ev.Progress, lastProgress)
		}
		lastSeq, lastProgress = ev.Seq, ev.Progress
	}
	last := h.sink.events[len(h.sink.events)-1]
	if !last.Terminal() || last.Phase != prep.PhaseComplete {
		t.Fatalf("last event: %+v", last)
	}
}

func TestRequiredFailureFailsRunWithoutPersisting(t *testing.T) {
	h := newHarness(t, "debate", nil)
	h.gen.Script("prep.argument_frames", testutil.Step{Err: pkgerrors.Fatal("generate", errors.New("rejected"))})

	run := h.run(context.Background(), debateInputs)

	if run.Phase != prep.PhaseFailed {
		t.Fatalf("phase: got %s", run.Phase)
	}
	if run.FailedTask != "argument_frames" {
		t.Fatalf("failed task: got %q", run.FailedTask)
	}
	if h.store.saves != 0 {
		t.Fatalf("artifacts must not be saved on failure, got %d saves", h.store.saves)
	}
	if got := h.gen.Calls("prep.argument_frames"); got != 1 {
		t.Fatalf("fatal errors are not retried, got %d calls", got)
	}
	for _, task := range run.Tasks {
		if !task.Status.Terminal() {
			t.Fatalf("task %s left %s", task.Category, task.Status)
		}
	}
	if len(h.store.runs) == 0 || h.store.runs[len(h.store.runs)-1].Phase != prep.PhaseFailed {
		t.Fatalf("expected failed run to be saved")
	}
}

func TestOptionalFailureIsOmitted(t *testing.T) {
	h := newHarness(t, "debate", nil)
	h.gen.Script("prep.counterpart_predictions", testutil.Step{Err: pkgerrors.Fatal("generate", errors.New("policy"))})

	run := h.run(context.Background(), debateInputs)

	if run.Phase != prep.PhaseComplete {
		t.Fatalf("phase: got %s (%s)", run.Phase, run.Error)
	}
	set := h.store.artifacts[run.SessionID]
	if set.Has("counterpart_predictions") {
		t.Fatalf("failed optional category must be absent")
	}
	if !set.Has("openings") {
		t.Fatalf("openings missing")
	}
	if task := run.Task("counterpart_predictions"); task.Status != prep.TaskFailed {
		t.Fatalf("task status: got %s", task.Status)
	}

	failed := 0
	for _, ev := range h.sink.events {
		switch {
		case ev.Kind == progress.EventTaskFailed:
			failed++
			if ev.Task != "counterpart_predictions" {
				t.Fatalf("unexpected task failure event: %+v", ev)
			}
		case ev.Error != "":
			t.Fatalf("error surfaced outside the task failure: %+v", ev)
		}
	}
	if failed != 1 {
		t.Fatalf("task_failed events: got %d want 1", failed)
	}
	last := h.sink.events[len(h.sink.events)-1]
	if last.Kind != progress.EventPhaseChanged || last.Phase != prep.PhaseComplete || last.Error != "" {
		t.Fatalf("terminal event: %+v", last)
	}
}

func TestTransientErrorsAreRetried(t *testing.T) {
	h := newHarness(t, "debate", nil)
	h.gen.Script("prep.openings",
		testutil.Step{Err: pkgerrors.Transient("generate", errors.New("429"))},
		testutil.Step{Text: "Good evening."},
	)
	h.gen.Script("prep.argument_frames",
		testutil.Step{JSON: `{"frames": [`},
		testutil.Step{JSON: `{"frames": []}`},
	)

	run := h.run(context.Background(), debateInputs)

	if run.Phase != prep.PhaseComplete {
		t.Fatalf("phase: got %s (%s)", run.Phase, run.Error)
	}
	if got := run.Task("openings").Attempts; got != 2 {
		t.Fatalf("openings attempts: got %d", got)
	}
	if got := run.Task("argument_frames").Attempts; got != 2 {
		t.Fatalf("invalid json should retry, attempts %d", got)
	}
	retries := 0
	for _, ev := range h.sink.events {
		if ev.Kind == progress.EventTaskRetrying {
			retries++
		}
	}
	if retries != 2 {
		t.Fatalf("retry events: got %d", retries)
	}
	if got := h.store.artifacts[run.SessionID].Artifacts["openings"].Text; got != "Good evening." {
		t.Fatalf("openings text: %q", got)
	}
}

func TestRetriesStopAtMaxAttempts(t *testing.T) {
	h := newHarness(t, "debate", nil)
	h.gen.Script("prep.openings", testutil.Step{Err: pkgerrors.Transient("generate", errors.New("timeout"))})

	run := h.run(context.Background(), debateInputs)

	if run.Phase != prep.PhaseFailed || run.FailedTask != "openings" {
		t.Fatalf("got phase %s failed task %q", run.Phase, run.FailedTask)
	}
	if got := h.gen.Calls("prep.openings"); got != DefaultRetryPolicy().MaxAttempts {
		t.Fatalf("calls: got %d", got)
	}
}

func TestResearchFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, "debate", fakeResearcher{err: errors.New("search unavailable")})
	run := h.run(context.Background(), debateInputs)

	if run.Phase != prep.PhaseComplete {
		t.Fatalf("phase: got %s", run.Phase)
	}
	if run.ResearchError == "" {
		t.Fatalf("expected research error to be recorded")
	}
	sawResearching := false
	for _, ev := range h.sink.events {
		if ev.Kind == progress.EventPhaseChanged && ev.Phase == prep.PhaseResearching {
			sawResearching = true
		}
	}
	if !sawResearching {
		t.Fatalf("expected researching phase")
	}
}

type flakyResearcher struct {
	mu       sync.Mutex
	calls    int
	failures int
	findings ports.Findings
}

func (f *flakyResearcher) Research(context.Context, ports.ResearchQuery) (ports.Findings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return ports.Findings{}, pkgerrors.Transient("research", errors.New("429 rate limited"))
	}
	return f.findings, nil
}

func TestTransientResearchErrorsAreRetried(t *testing.T) {
	r := &flakyResearcher{failures: 1, findings: ports.Findings{
		Summary: "Pilot programs reported stable employment.",
		Sources: []string{"https://example.org/pilot"},
	}}
	h := newHarness(t, "debate", r)
	run := h.run(context.Background(), debateInputs)

	if run.Phase != prep.PhaseComplete {
		t.Fatalf("phase: got %s (%s)", run.Phase, run.Error)
	}
	if r.calls != 2 {
		t.Fatalf("research calls: got %d want 2", r.calls)
	}
	if run.ResearchError != "" {
		t.Fatalf("recovered research should leave no error, got %q", run.ResearchError)
	}
	set := h.store.artifacts[run.SessionID]
	if text, ok := set.Brief.Section(scenario.SectionResearch); !ok || text == "" {
		t.Fatalf("expected research findings section after retry")
	}
}

func TestExhaustedResearchRetriesAreNotFatal(t *testing.T) {
	r := &flakyResearcher{failures: 100}
	h := newHarness(t, "debate", r)
	run := h.run(context.Background(), debateInputs)

	if run.Phase != prep.PhaseComplete {
		t.Fatalf("phase: got %s (%s)", run.Phase, run.Error)
	}
	if r.calls != DefaultRetryPolicy().MaxAttempts {
		t.Fatalf("research calls: got %d want %d", r.calls, DefaultRetryPolicy().MaxAttempts)
	}
	if run.ResearchError == "" {
		t.Fatalf("expected research error to be recorded")
	}
}

func TestResearchFindingsReachBrief(t *testing.T) {
	h := newHarness(t, "debate", fakeResearcher{findings: ports.Findings{
		Summary: "Pilot programs reported stable employment.",
		Sources: []string{"https://example.org/pilot"},
	}})
	run := h.run(context.Background(), debateInputs)

	set := h.store.artifacts[run.SessionID]
	text, ok := set.Brief.Section(scenario.SectionResearch)
	if !ok || text == "" {
		t.Fatalf("expected research findings section")
	}
}

func TestCancelledContextFailsRun(t *testing.T) {
	h := newHarness(t, "investor_pitch", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := h.run(ctx, map[string]string{"company_name": "Acme", "one_liner": "Payroll for robots"})

	if run.Phase != prep.PhaseFailed {
		t.Fatalf("phase: got %s", run.Phase)
	}
	if run.Error != "canceled" {
		t.Fatalf("error: got %q", run.Error)
	}
	if h.store.saves != 0 {
		t.Fatalf("no artifacts on cancel")
	}
}

func TestComputeBackoffBounds(t *testing.T) {
	r := RetryPolicy{MinBackoff: time.Second, MaxBackoff: 4 * time.Second, JitterFrac: 0.2}
	for attempt := 1; attempt <= 6; attempt++ {
		d := computeBackoff(r, attempt)
		if d < 800*time.Millisecond || d > 4800*time.Millisecond {
			t.Fatalf("attempt %d: backoff %v out of range", attempt, d)
		}
	}
}
