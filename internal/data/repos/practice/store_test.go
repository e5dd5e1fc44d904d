package practice_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/data/repos/practice"
	"github.com/yungbote/sparring-backend/internal/domain/analysis"
	"github.com/yungbote/sparring-backend/internal/domain/live"
	"github.com/yungbote/sparring-backend/internal/domain/prep"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	"github.com/yungbote/sparring-backend/internal/domain/session"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/testutil"
)

func stores(t *testing.T) map[string]practice.Store {
	t.Helper()
	db := testutil.DB(t, practice.Models()...)
	return map[string]practice.Store{
		"gorm":   practice.NewGormStore(db, testutil.Logger(t)),
		"memory": practice.NewMemoryStore(),
	}
}

func newSession(t *testing.T, ctx context.Context, s practice.Store) *session.Session {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	sess := &session.Session{
		ID:         uuid.New(),
		ScenarioID: "debate",
		Inputs:     map[string]string{"topic": "UBI", "position": "pro"},
		Sources:    []string{"https://example.org/ubi"},
		Status:     session.StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func TestSessionLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := newSession(t, ctx, s)

			got, err := s.GetSession(ctx, sess.ID)
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}
			if got.Inputs["topic"] != "UBI" || len(got.Sources) != 1 || got.Status != session.StatusCreated {
				t.Fatalf("session: %+v", got)
			}
			if err := s.UpdateSessionStatus(ctx, sess.ID, session.StatusEnded, "time_limit"); err != nil {
				t.Fatalf("UpdateSessionStatus: %v", err)
			}
			got, _ = s.GetSession(ctx, sess.ID)
			if got.Status != session.StatusEnded || got.EndReason != "time_limit" {
				t.Fatalf("status not updated: %+v", got)
			}
			if _, err := s.GetSession(ctx, uuid.New()); !errors.Is(err, pkgerrors.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := s.UpdateSessionStatus(ctx, uuid.New(), session.StatusLive, ""); !errors.Is(err, pkgerrors.ErrNotFound) {
				t.Fatalf("expected ErrNotFound on update, got %v", err)
			}
		})
	}
}

func TestRunUpsertKeepsLatest(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := newSession(t, ctx, s)
			run := &prep.PipelineRun{
				ID:         uuid.New(),
				SessionID:  sess.ID,
				ScenarioID: "debate",
				Phase:      prep.PhaseGenerating,
				Progress:   30,
				Tasks:      []prep.GenerationTask{{Category: "argument_frames", Required: true, Status: prep.TaskRunning, Attempts: 1}},
				CreatedAt:  time.Now().UTC(),
				UpdatedAt:  time.Now().UTC(),
			}
			if err := s.SaveRun(ctx, run); err != nil {
				t.Fatalf("SaveRun: %v", err)
			}
			done := time.Now().UTC()
			run.Phase = prep.PhaseComplete
			run.Progress = 100
			run.Tasks[0].Status = prep.TaskSucceeded
			run.FinishedAt = &done
			if err := s.SaveRun(ctx, run); err != nil {
				t.Fatalf("SaveRun again: %v", err)
			}
			got, err := s.LoadRun(ctx, sess.ID)
			if err != nil {
				t.Fatalf("LoadRun: %v", err)
			}
			if got.Phase != prep.PhaseComplete || got.Progress != 100 || got.FinishedAt == nil {
				t.Fatalf("run: %+v", got)
			}
			if got.Task("argument_frames").Status != prep.TaskSucceeded {
				t.Fatalf("task status: %+v", got.Tasks)
			}
		})
	}
}

func TestArtifactsReplaceWholeSet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := newSession(t, ctx, s)
			first := prep.ArtifactSet{
				PageShape: "debate_prep",
				Brief:     prep.NewBrief(prep.BriefSection{Key: scenario.SectionAudience, Text: "Economists."}),
				Artifacts: map[string]prep.Artifact{
					"argument_frames":         {Category: "argument_frames", Output: scenario.OutputJSON, Data: json.RawMessage(`{"items":[1]}`)},
					"counterpart_predictions": {Category: "counterpart_predictions", Output: scenario.OutputText, Text: "They will cite cost."},
				},
			}
			if err := s.SaveArtifacts(ctx, sess.ID, first); err != nil {
				t.Fatalf("SaveArtifacts: %v", err)
			}
			second := prep.ArtifactSet{
				PageShape: "debate_prep",
				Artifacts: map[string]prep.Artifact{
					"argument_frames": {Category: "argument_frames", Output: scenario.OutputJSON, Data: json.RawMessage(`{"items":[2]}`)},
				},
			}
			if err := s.SaveArtifacts(ctx, sess.ID, second); err != nil {
				t.Fatalf("SaveArtifacts again: %v", err)
			}
			got, err := s.LoadArtifacts(ctx, sess.ID)
			if err != nil {
				t.Fatalf("LoadArtifacts: %v", err)
			}
			if got.Has("counterpart_predictions") {
				t.Fatalf("stale artifact survived: %v", got.Categories())
			}
			var data struct{ Items []int }
			if err := json.Unmarshal(got.Artifacts["argument_frames"].Data, &data); err != nil || len(data.Items) != 1 || data.Items[0] != 2 {
				t.Fatalf("artifact data: %s (%v)", got.Artifacts["argument_frames"].Data, err)
			}
			if _, err := s.LoadArtifacts(ctx, uuid.New()); !errors.Is(err, pkgerrors.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestAppendExchangeIsIdempotent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := newSession(t, ctx, s)
			at := time.Now().UTC()
			for _, seq := range []int{2, 1, 2, 3, 1} {
				ex := live.Exchange{
					Seq:         seq,
					Counterpart: live.Utterance{Speaker: live.Counterpart, Text: "claim"},
					User:        live.Utterance{Speaker: live.User, Text: "reply"},
					At:          at,
				}
				if err := s.AppendExchange(ctx, sess.ID, ex); err != nil {
					t.Fatalf("AppendExchange %d: %v", seq, err)
				}
			}
			got, err := s.LoadTranscript(ctx, sess.ID)
			if err != nil {
				t.Fatalf("LoadTranscript: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("expected 3 exchanges, got %d", len(got))
			}
			for i, ex := range got {
				if ex.Seq != i+1 {
					t.Fatalf("order: %+v", got)
				}
			}
			empty, err := s.LoadTranscript(ctx, uuid.New())
			if err != nil || len(empty) != 0 {
				t.Fatalf("unknown session transcript: %v %v", empty, err)
			}
		})
	}
}

func TestReportRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := newSession(t, ctx, s)
			rep := &analysis.Report{
				SessionID:       sess.ID,
				TaxonomyVersion: "debate-v1",
				Fingerprint:     "abc",
				Categories:      []analysis.CategoryScore{{Name: "offensive", Score: 66.7, Scale: 100, Observed: true, Detections: 2}},
				Overall:         66.7,
				Feedback:        "ok",
				CreatedAt:       time.Now().UTC().Truncate(time.Second),
			}
			if err := s.SaveReport(ctx, rep); err != nil {
				t.Fatalf("SaveReport: %v", err)
			}
			rep.Fingerprint = "def"
			if err := s.SaveReport(ctx, rep); err != nil {
				t.Fatalf("SaveReport again: %v", err)
			}
			got, err := s.LoadReport(ctx, sess.ID)
			if err != nil {
				t.Fatalf("LoadReport: %v", err)
			}
			if got.Fingerprint != "def" || got.Overall != 66.7 {
				t.Fatalf("report: %+v", got)
			}
			if c, ok := got.Category("offensive"); !ok || !c.Observed {
				t.Fatalf("category: %+v", c)
			}
		})
	}
}

type fakeArchive struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeArchive) PutJSON(_ context.Context, key string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return f.err
}

func TestArchiveMirrorsAndNeverFailsWrites(t *testing.T) {
	ctx := context.Background()
	arc := &fakeArchive{err: errors.New("bucket unavailable")}
	s := practice.WithArchive(practice.NewMemoryStore(), arc, testutil.Logger(t))
	sess := newSession(t, ctx, s)

	set := prep.ArtifactSet{Artifacts: map[string]prep.Artifact{"a": {Category: "a", Output: scenario.OutputText, Text: "x"}}}
	if err := s.SaveArtifacts(ctx, sess.ID, set); err != nil {
		t.Fatalf("archive failure must not fail the save: %v", err)
	}
	if err := s.SaveReport(ctx, &analysis.Report{SessionID: sess.ID}); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	want := []string{practice.ArchiveKey(sess.ID, "artifacts"), practice.ArchiveKey(sess.ID, "report")}
	if len(arc.keys) != 2 || arc.keys[0] != want[0] || arc.keys[1] != want[1] {
		t.Fatalf("archived keys: %v", arc.keys)
	}
	if _, err := s.LoadArtifacts(ctx, sess.ID); err != nil {
		t.Fatalf("primary store should hold the set: %v", err)
	}
}
