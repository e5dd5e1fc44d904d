package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/yungbote/sparring-backend/internal/data/repos/practice"
	domainanalysis "github.com/yungbote/sparring-backend/internal/domain/analysis"
	"github.com/yungbote/sparring-backend/internal/domain/live"
	"github.com/yungbote/sparring-backend/internal/domain/ports"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	"github.com/yungbote/sparring-backend/internal/domain/session"
	modanalysis "github.com/yungbote/sparring-backend/internal/modules/analysis"
	"github.com/yungbote/sparring-backend/internal/modules/prep/prompts"
	"github.com/yungbote/sparring-backend/internal/observability"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
	"github.com/yungbote/sparring-backend/internal/realtime"
)

const (
	defaultAnalysisConcurrency = 4
	opFeedbackNarrative        = "analysis.feedback"
)

type AnalysisService interface {
	// Analyze scores the session's transcript. A stored report for the same
	// transcript and taxonomy version is returned without new model calls.
	Analyze(ctx context.Context, sessionID uuid.UUID) (*domainanalysis.Report, error)
	Get(ctx context.Context, sessionID uuid.UUID) (*domainanalysis.Report, error)
}

// Classifier is satisfied by *modules/analysis.Classifier.
type Classifier interface {
	Classify(ctx context.Context, req modanalysis.Request) (domainanalysis.Classification, error)
}

type AnalysisConfig struct {
	Concurrency int
	// Narrative enables the model-written feedback paragraph.
	Narrative bool
}

type analysisService struct {
	log        *logger.Logger
	store      practice.Store
	scenarios  Scenarios
	classifier Classifier
	gen        ports.Generator
	emit       Emitter
	cfg        AnalysisConfig
	flight     singleflight.Group
	now        func() time.Time
}

func NewAnalysisService(
	baseLog *logger.Logger,
	store practice.Store,
	scenarios Scenarios,
	classifier Classifier,
	gen ports.Generator,
	emit Emitter,
	cfg AnalysisConfig,
) AnalysisService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultAnalysisConcurrency
	}
	return &analysisService{
		log:        baseLog.With("service", "AnalysisService"),
		store:      store,
		scenarios:  scenarios,
		classifier: classifier,
		gen:        gen,
		emit:       emitterOrNop(emit),
		cfg:        cfg,
		now:        time.Now,
	}
}

func (s *analysisService) Get(ctx context.Context, sessionID uuid.UUID) (*domainanalysis.Report, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.LoadReport(ctx, sessionID)
}

// Analyze collapses concurrent calls for one session into a single run.
func (s *analysisService) Analyze(ctx context.Context, sessionID uuid.UUID) (*domainanalysis.Report, error) {
	v, err, _ := s.flight.Do(sessionID.String(), func() (any, error) {
		return s.analyze(context.WithoutCancel(ctx), sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domainanalysis.Report), nil
}

func (s *analysisService) analyze(ctx context.Context, sessionID uuid.UUID) (*domainanalysis.Report, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusEnded && sess.Status != session.StatusAnalyzed {
		return nil, fmt.Errorf("session is %s; analysis needs an ended session: %w", sess.Status, pkgerrors.ErrConflict)
	}
	def, err := s.scenarios.Get(sess.ScenarioID)
	if err != nil {
		return nil, err
	}
	transcript, err := s.store.LoadTranscript(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	log := s.log.With("session_id", sessionID, "scenario", def.ID)

	fingerprint := modanalysis.TranscriptFingerprint(def.Analysis.TaxonomyVersion, transcript)
	if existing, err := s.store.LoadReport(ctx, sessionID); err == nil && existing.Fingerprint == fingerprint {
		observability.Current().IncAnalysis(def.ID, "reused")
		return existing, nil
	} else if err != nil && !errors.Is(err, pkgerrors.ErrNotFound) {
		return nil, err
	}

	ctx, span := observability.Tracer("analysis").Start(ctx, "analysis.session")
	defer span.End()

	classes, err := s.classifyAll(ctx, def, sess.Inputs, transcript)
	if err != nil {
		observability.Current().IncAnalysis(def.ID, "failed")
		span.RecordError(err)
		return nil, err
	}

	report := modanalysis.Aggregate(def.Analysis, sessionID, transcript, classes)
	report.CreatedAt = s.now().UTC()
	if s.cfg.Narrative && s.gen != nil && strings.TrimSpace(def.Analysis.Feedback) != "" {
		narrative, err := s.narrative(ctx, def, sess.Inputs, report)
		if err != nil {
			log.Warn("feedback narrative failed (report kept without it)", "error", err)
		} else {
			report.Narrative = narrative
		}
	}

	if err := s.store.SaveReport(ctx, &report); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}
	if err := s.store.UpdateSessionStatus(ctx, sessionID, session.StatusAnalyzed, sess.EndReason); err != nil {
		log.Warn("session status update failed", "error", err)
	}
	observability.Current().IncAnalysis(def.ID, "computed")
	observability.Current().SetLastOverall(def.ID, report.Overall)
	s.emit.Emit(ctx, realtime.SSEMessage{
		Channel: realtime.SessionChannel(sessionID),
		Event:   realtime.SSEEventAnalysisReady,
		Data:    map[string]any{"session_id": sessionID, "overall": report.Overall},
	})
	log.Info("analysis complete", "exchanges", len(transcript), "detections", len(report.Detections), "overall", report.Overall)
	return &report, nil
}

// classifyAll classifies every exchange with bounded concurrency. Results
// land in per-exchange slots so output order never depends on timing.
func (s *analysisService) classifyAll(ctx context.Context, def *scenario.Definition, inputs map[string]string, transcript []live.Exchange) ([]domainanalysis.Classification, error) {
	slots := make([]domainanalysis.Classification, len(transcript))
	window := def.Analysis.ContextWindow
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range transcript {
		i := i
		g.Go(func() error {
			lo := i - window
			if lo < 0 {
				lo = 0
			}
			c, err := s.classifier.Classify(gctx, modanalysis.Request{
				Scenario: def,
				Inputs:   inputs,
				Exchange: transcript[i],
				Prior:    transcript[lo:i],
			})
			if err != nil {
				return fmt.Errorf("classify exchange %d: %w", transcript[i].Seq, err)
			}
			slots[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slots, nil
}

func (s *analysisService) narrative(ctx context.Context, def *scenario.Definition, inputs map[string]string, r domainanalysis.Report) (string, error) {
	prompt, err := prompts.Compose(def.ID+".feedback", def.Analysis.Feedback,
		prompts.ValuesFor(def, nil, inputs, modanalysis.FeedbackRuntime(def, r)))
	if err != nil {
		return "", err
	}
	res, err := s.gen.Generate(ctx, ports.GenerateRequest{
		Op:          opFeedbackNarrative,
		System:      "You are a candid practice coach. Write plain prose, no headings, under 200 words.",
		Prompt:      prompt.Text,
		Shape:       ports.OutputShape{Kind: scenario.OutputText},
		Temperature: 0.4,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}
