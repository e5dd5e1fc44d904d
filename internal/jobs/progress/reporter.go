package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yungbote/sparring-backend/internal/domain/prep"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

const defaultRetainedRuns = 1024

// Sink receives every event after it is appended, in log order. Emit is
// called from the producer and must not block for long.
type Sink interface {
	Emit(ev Event)
}

// Reporter holds one append-only event log per run. Each log has a single
// producer (the orchestrator) and any number of subscribers.
type Reporter struct {
	log     *logger.Logger
	streams *lru.Cache[uuid.UUID, *stream]
	sinks   []Sink
	now     func() time.Time
	mu      sync.Mutex
}

func NewReporter(log *logger.Logger, retain int, sinks ...Sink) (*Reporter, error) {
	if retain <= 0 {
		retain = defaultRetainedRuns
	}
	cache, err := lru.New[uuid.UUID, *stream](retain)
	if err != nil {
		return nil, fmt.Errorf("progress stream cache: %w", err)
	}
	return &Reporter{
		log:     log.With("component", "ProgressReporter"),
		streams: cache,
		sinks:   sinks,
		now:     time.Now,
	}, nil
}

// Open starts a log for run with the run's current state as its baseline.
// Opening an existing run is a no-op.
func (r *Reporter) Open(run *prep.PipelineRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams.Get(run.ID); ok {
		return
	}
	r.streams.Add(run.ID, newStream(snapshotOf(run)))
}

// Publish appends ev to its run's log, assigning Seq and time.
func (r *Reporter) Publish(ev Event) (Event, error) {
	s, ok := r.streams.Get(ev.RunID)
	if !ok {
		return Event{}, fmt.Errorf("progress stream %s: %w", ev.RunID, pkgerrors.ErrNotFound)
	}
	if ev.At.IsZero() {
		ev.At = r.now().UTC()
	}
	ev, err := s.append(ev)
	if err != nil {
		return Event{}, err
	}
	for _, sink := range r.sinks {
		sink.Emit(ev)
	}
	return ev, nil
}

// Snapshot returns the current state of a run.
func (r *Reporter) Snapshot(runID uuid.UUID) (Snapshot, error) {
	s, ok := r.streams.Get(runID)
	if !ok {
		return Snapshot{}, fmt.Errorf("progress stream %s: %w", runID, pkgerrors.ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone(), nil
}

// Subscribe returns a subscription whose snapshot and cursor are taken
// together, so Next continues exactly after the snapshot.
func (r *Reporter) Subscribe(runID uuid.UUID) (*Subscription, error) {
	s, ok := r.streams.Get(runID)
	if !ok {
		return nil, fmt.Errorf("progress stream %s: %w", runID, pkgerrors.ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Subscription{s: s, snapshot: s.state.clone(), cursor: len(s.events)}, nil
}

type stream struct {
	mu     sync.Mutex
	state  Snapshot
	events []Event
	notify chan struct{}
	closed bool
}

func newStream(base Snapshot) *stream {
	return &stream{state: base, notify: make(chan struct{})}
}

var errStreamClosed = errors.New("progress stream is closed")

func (s *stream) append(ev Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Event{}, errStreamClosed
	}
	ev.RunID = s.state.RunID
	ev.SessionID = s.state.SessionID
	ev.Seq = int64(len(s.events)) + 1
	if ev.Progress < s.state.Progress {
		ev.Progress = s.state.Progress
	}
	s.state.apply(ev)
	s.events = append(s.events, ev)
	if ev.Terminal() {
		s.closed = true
	}
	close(s.notify)
	s.notify = make(chan struct{})
	return ev, nil
}

// Subscription reads one run's log from a fixed starting point.
type Subscription struct {
	s        *stream
	snapshot Snapshot
	cursor   int
}

func (sub *Subscription) Snapshot() Snapshot { return sub.snapshot.clone() }

// Next blocks until the next event is available. It returns io.EOF once the
// terminal event has been delivered (or when the snapshot was already terminal).
func (sub *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		sub.s.mu.Lock()
		if sub.cursor < len(sub.s.events) {
			ev := sub.s.events[sub.cursor]
			sub.cursor++
			sub.s.mu.Unlock()
			return ev, nil
		}
		if sub.s.closed || sub.snapshot.Phase.Terminal() {
			sub.s.mu.Unlock()
			return Event{}, io.EOF
		}
		wait := sub.s.notify
		sub.s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-wait:
		}
	}
}
