package practice

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/domain/analysis"
	"github.com/yungbote/sparring-backend/internal/domain/live"
	"github.com/yungbote/sparring-backend/internal/domain/prep"
	"github.com/yungbote/sparring-backend/internal/domain/session"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
)

// MemoryStore keeps everything in process. Values are copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]session.Session
	runs      map[uuid.UUID]*prep.PipelineRun
	artifacts map[uuid.UUID]prep.ArtifactSet
	exchanges map[uuid.UUID]map[int]live.Exchange
	reports   map[uuid.UUID][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  map[uuid.UUID]session.Session{},
		runs:      map[uuid.UUID]*prep.PipelineRun{},
		artifacts: map[uuid.UUID]prep.ArtifactSet{},
		exchanges: map[uuid.UUID]map[int]live.Exchange{},
		reports:   map[uuid.UUID][]byte{},
	}
}

func copySession(s session.Session) session.Session {
	inputs := make(map[string]string, len(s.Inputs))
	for k, v := range s.Inputs {
		inputs[k] = v
	}
	s.Inputs = inputs
	s.Sources = append([]string(nil), s.Sources...)
	return s
}

func copyArtifacts(set prep.ArtifactSet) prep.ArtifactSet {
	out := prep.ArtifactSet{PageShape: set.PageShape, Brief: set.Brief, Artifacts: make(map[string]prep.Artifact, len(set.Artifacts))}
	for k, a := range set.Artifacts {
		a.Data = append(json.RawMessage(nil), a.Data...)
		out.Artifacts[k] = a
	}
	return out
}

func (m *MemoryStore) CreateSession(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return nil
	}
	m.sessions[s.ID] = copySession(*s)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id uuid.UUID) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, pkgerrors.ErrNotFound)
	}
	out := copySession(s)
	return &out, nil
}

func (m *MemoryStore) UpdateSessionStatus(_ context.Context, id uuid.UUID, status session.Status, endReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, pkgerrors.ErrNotFound)
	}
	s.Status = status
	if endReason != "" {
		s.EndReason = endReason
	}
	s.UpdatedAt = time.Now().UTC()
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) SaveRun(_ context.Context, run *prep.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.SessionID] = run.Clone()
	return nil
}

func (m *MemoryStore) LoadRun(_ context.Context, sessionID uuid.UUID) (*prep.PipelineRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[sessionID]
	if !ok {
		return nil, fmt.Errorf("prep run for session %s: %w", sessionID, pkgerrors.ErrNotFound)
	}
	return run.Clone(), nil
}

func (m *MemoryStore) SaveArtifacts(_ context.Context, sessionID uuid.UUID, set prep.ArtifactSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[sessionID] = copyArtifacts(set)
	return nil
}

func (m *MemoryStore) LoadArtifacts(_ context.Context, sessionID uuid.UUID) (prep.ArtifactSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.artifacts[sessionID]
	if !ok {
		return prep.ArtifactSet{}, fmt.Errorf("artifacts for session %s: %w", sessionID, pkgerrors.ErrNotFound)
	}
	return copyArtifacts(set), nil
}

func (m *MemoryStore) AppendExchange(_ context.Context, sessionID uuid.UUID, ex live.Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySeq := m.exchanges[sessionID]
	if bySeq == nil {
		bySeq = map[int]live.Exchange{}
		m.exchanges[sessionID] = bySeq
	}
	if _, dup := bySeq[ex.Seq]; !dup {
		bySeq[ex.Seq] = ex
	}
	return nil
}

func (m *MemoryStore) LoadTranscript(_ context.Context, sessionID uuid.UUID) ([]live.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bySeq := m.exchanges[sessionID]
	out := make([]live.Exchange, 0, len(bySeq))
	for _, ex := range bySeq {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *MemoryStore) SaveReport(_ context.Context, r *analysis.Report) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.SessionID] = raw
	return nil
}

func (m *MemoryStore) LoadReport(_ context.Context, sessionID uuid.UUID) (*analysis.Report, error) {
	m.mu.RLock()
	raw, ok := m.reports[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("report for session %s: %w", sessionID, pkgerrors.ErrNotFound)
	}
	var r analysis.Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
