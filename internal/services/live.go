package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/data/repos/practice"
	"github.com/yungbote/sparring-backend/internal/domain/live"
	"github.com/yungbote/sparring-backend/internal/domain/prep"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	"github.com/yungbote/sparring-backend/internal/domain/session"
	"github.com/yungbote/sparring-backend/internal/modules/prep/brief"
	"github.com/yungbote/sparring-backend/internal/modules/prep/prompts"
	modlive "github.com/yungbote/sparring-backend/internal/modules/live"
	"github.com/yungbote/sparring-backend/internal/observability"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
	"github.com/yungbote/sparring-backend/internal/realtime"
)

const maxPrepNoteChars = 1200

// AssistantConfig is the fully resolved counterpart for one session.
type AssistantConfig struct {
	SessionID        uuid.UUID                   `json:"session_id"`
	ScenarioID       string                      `json:"scenario_id"`
	Opening          string                      `json:"opening"`
	Prompt           string                      `json:"prompt"`
	Temperature      float64                     `json:"temperature"`
	Interruption     scenario.InterruptionPolicy `json:"interruption"`
	TimeLimitSeconds int                         `json:"time_limit_seconds"`
}

// Live event payloads sent on the session channel.
type (
	TurnEvent struct {
		SessionID uuid.UUID    `json:"session_id"`
		Speaker   live.Speaker `json:"speaker"`
	}
	ExchangeEvent struct {
		SessionID uuid.UUID     `json:"session_id"`
		Exchange  live.Exchange `json:"exchange"`
	}
	EndedEvent struct {
		SessionID uuid.UUID `json:"session_id"`
		Reason    string    `json:"reason"`
		Exchanges int       `json:"exchanges"`
	}
)

type LiveService interface {
	// Open returns the session's running turn runtime, starting it (with the
	// counterpart holding the floor) if needed.
	Open(ctx context.Context, sessionID uuid.UUID) (*modlive.Session, error)
	Lookup(sessionID uuid.UUID) (*modlive.Session, bool)
	Assistant(ctx context.Context, sessionID uuid.UUID) (*AssistantConfig, error)
}

type liveService struct {
	log       *logger.Logger
	base      context.Context
	store     practice.Store
	scenarios Scenarios
	emit      Emitter
	claims    LiveClaims

	mu     sync.Mutex
	active map[uuid.UUID]*modlive.Session
}

// NewLiveService runs every live session under base; cancelling base ends
// them with reason "shutdown". claims keeps one runtime per session across
// instances; nil claims only guard this process.
func NewLiveService(base context.Context, baseLog *logger.Logger, store practice.Store, scenarios Scenarios, emit Emitter, claims LiveClaims) LiveService {
	if claims == nil {
		claims = NewLocalClaims(0)
	}
	return &liveService{
		log:       baseLog.With("service", "LiveService"),
		base:      base,
		store:     store,
		scenarios: scenarios,
		emit:      emitterOrNop(emit),
		claims:    claims,
		active:    map[uuid.UUID]*modlive.Session{},
	}
}

func (s *liveService) Lookup(sessionID uuid.UUID) (*modlive.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.active[sessionID]
	return ls, ok
}

// Open claims the session before building a runtime. A session that was live
// elsewhere and lost its owner resumes from the stored transcript.
func (s *liveService) Open(ctx context.Context, sessionID uuid.UUID) (*modlive.Session, error) {
	if ls, ok := s.Lookup(sessionID); ok {
		return ls, nil
	}
	sess, err := s.openable(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	def, err := s.scenarios.Get(sess.ScenarioID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if ls, ok := s.active[sessionID]; ok {
		s.mu.Unlock()
		return ls, nil
	}
	ls, prior, err := s.claim(ctx, sessionID, def)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.active[sessionID] = ls
	s.mu.Unlock()

	go ls.Run(s.base)
	go s.keepClaim(ls)
	observability.Current().LiveSessionStarted()
	if err := s.store.UpdateSessionStatus(ctx, sessionID, session.StatusLive, ""); err != nil {
		s.log.Warn("session status update failed", "session_id", sessionID, "error", err)
	}
	if _, err := ls.Start(ctx, live.Counterpart); err != nil {
		return nil, err
	}
	if len(prior) > 0 {
		s.log.Info("live session resumed", "session_id", sessionID, "scenario", def.ID, "exchanges", len(prior))
	} else {
		s.log.Info("live session opened", "session_id", sessionID, "scenario", def.ID)
	}
	return ls, nil
}

func (s *liveService) openable(ctx context.Context, sessionID uuid.UUID) (*session.Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == session.StatusEnded || sess.Status == session.StatusAnalyzed {
		return nil, fmt.Errorf("session is %s: %w", sess.Status, pkgerrors.ErrTerminal)
	}
	return sess, nil
}

// claim takes ownership and builds a runtime seeded with the stored
// transcript. Callers hold s.mu.
func (s *liveService) claim(ctx context.Context, sessionID uuid.UUID, def *scenario.Definition) (*modlive.Session, []live.Exchange, error) {
	ok, err := s.claims.Claim(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("session %s is live on another instance: %w", sessionID, pkgerrors.ErrConflict)
	}
	fail := func(err error) (*modlive.Session, []live.Exchange, error) {
		s.claims.Release(context.WithoutCancel(ctx), sessionID)
		return nil, nil, err
	}
	// The previous owner may have ended the session before letting go.
	if _, err := s.openable(ctx, sessionID); err != nil {
		return fail(err)
	}
	prior, err := s.store.LoadTranscript(ctx, sessionID)
	if err != nil {
		return fail(fmt.Errorf("load transcript: %w", err))
	}
	ls := modlive.NewSession(s.log, sessionID, def.Assistant, &liveListener{svc: s}, nil)
	if err := ls.Resume(prior); err != nil {
		return fail(err)
	}
	return ls, prior, nil
}

// keepClaim refreshes the ownership claim until the runtime stops.
func (s *liveService) keepClaim(ls *modlive.Session) {
	t := time.NewTicker(s.claims.TTL() / 3)
	defer t.Stop()
	for {
		select {
		case <-ls.Done():
			return
		case <-t.C:
			if err := s.claims.Refresh(context.WithoutCancel(s.base), ls.ID); err != nil {
				s.log.Warn("live claim refresh failed", "session_id", ls.ID, "error", err)
			}
		}
	}
}

func (s *liveService) Assistant(ctx context.Context, sessionID uuid.UUID) (*AssistantConfig, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	def, err := s.scenarios.Get(sess.ScenarioID)
	if err != nil {
		return nil, err
	}
	var set *prep.ArtifactSet
	if loaded, err := s.store.LoadArtifacts(ctx, sessionID); err == nil {
		set = &loaded
	} else if !errors.Is(err, pkgerrors.ErrNotFound) {
		return nil, err
	}
	return ResolveAssistant(def, sess, set)
}

// ResolveAssistant composes the opening line and counterpart prompt. The
// prep brief is used when present; otherwise one is synthesized from the
// session inputs alone.
func ResolveAssistant(def *scenario.Definition, sess *session.Session, set *prep.ArtifactSet) (*AssistantConfig, error) {
	a := def.Assistant
	if len(a.Openings) == 0 {
		return nil, &pkgerrors.ConfigurationError{Scenario: def.ID, Problems: []string{"assistant has no openings"}}
	}
	pick := int(sess.ID[0]) % len(a.Openings)
	opening, err := prompts.Compose(def.ID+".opening", a.Openings[pick], prompts.ValuesFor(def, nil, sess.Inputs, nil))
	if err != nil {
		return nil, err
	}

	var b *prep.StrategicBrief
	if set != nil && !set.Brief.Empty() {
		b = set.Brief
	} else {
		b = brief.Synthesize(def, sess.Inputs, nil)
	}
	runtime := map[string]string{
		"scenario_name": def.Name,
		"prep_notes":    prepNotes(def, set),
		"opening":       opening.Text,
	}
	prompt, err := prompts.Compose(def.ID+".assistant", a.Prompt, prompts.ValuesFor(def, b, sess.Inputs, runtime))
	if err != nil {
		return nil, err
	}
	return &AssistantConfig{
		SessionID:        sess.ID,
		ScenarioID:       def.ID,
		Opening:          opening.Text,
		Prompt:           prompt.Text,
		Temperature:      a.Temperature,
		Interruption:     a.Interruption,
		TimeLimitSeconds: a.TimeLimitSeconds,
	}, nil
}

// prepNotes lists the text artifacts in task order, each cut to a short excerpt.
func prepNotes(def *scenario.Definition, set *prep.ArtifactSet) string {
	if set == nil {
		return "(no prep notes)"
	}
	var parts []string
	for _, t := range def.Pipeline.Tasks {
		art, ok := set.Artifacts[t.Category]
		if !ok || strings.TrimSpace(art.Text) == "" {
			continue
		}
		title := art.Title
		if title == "" {
			title = t.Category
		}
		parts = append(parts, fmt.Sprintf("%s: %s", title, excerpt(art.Text, maxPrepNoteChars)))
	}
	if len(parts) == 0 {
		return "(no prep notes)"
	}
	return strings.Join(parts, "\n")
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}

func (s *liveService) release(sessionID uuid.UUID) {
	s.mu.Lock()
	delete(s.active, sessionID)
	s.mu.Unlock()
}

// liveListener runs on the live session goroutine.
type liveListener struct {
	svc *liveService
}

func (l *liveListener) TurnGranted(sessionID uuid.UUID, speaker live.Speaker) {
	observability.Current().IncLiveTurn("granted_" + string(speaker))
	l.svc.emit.Emit(l.svc.base, realtime.SSEMessage{
		Channel: realtime.SessionChannel(sessionID),
		Event:   realtime.SSEEventLiveTurn,
		Data:    TurnEvent{SessionID: sessionID, Speaker: speaker},
	})
}

func (l *liveListener) ExchangeRecorded(sessionID uuid.UUID, ex live.Exchange) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(l.svc.base), persistTimeout)
	defer cancel()
	if err := l.svc.store.AppendExchange(ctx, sessionID, ex); err != nil {
		l.svc.log.Error("append exchange failed", "session_id", sessionID, "seq", ex.Seq, "error", err)
	}
	l.svc.emit.Emit(ctx, realtime.SSEMessage{
		Channel: realtime.SessionChannel(sessionID),
		Event:   realtime.SSEEventLiveExchange,
		Data:    ExchangeEvent{SessionID: sessionID, Exchange: ex},
	})
}

func (l *liveListener) Ended(sessionID uuid.UUID, reason string, transcript []live.Exchange) {
	l.svc.release(sessionID)
	observability.Current().LiveSessionEnded()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(l.svc.base), persistTimeout)
	defer cancel()
	if err := l.svc.store.UpdateSessionStatus(ctx, sessionID, session.StatusEnded, reason); err != nil {
		l.svc.log.Warn("session status update failed", "session_id", sessionID, "error", err)
	}
	l.svc.claims.Release(ctx, sessionID)
	l.svc.emit.Emit(ctx, realtime.SSEMessage{
		Channel: realtime.SessionChannel(sessionID),
		Event:   realtime.SSEEventLiveEnded,
		Data:    EndedEvent{SessionID: sessionID, Reason: reason, Exchanges: len(transcript)},
	})
	l.svc.log.Info("live session ended", "session_id", sessionID, "reason", reason, "exchanges", len(transcript))
}
