package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/domain/live"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func policy(can bool, ms int) scenario.InterruptionPolicy {
	return scenario.InterruptionPolicy{CanInterrupt: can, ThresholdMS: ms}
}

func TestTurnsAlternateAndPairIntoExchanges(t *testing.T) {
	c := newClock()
	m := NewMachine(policy(true, 1000), c.Now)

	if _, err := m.Start(live.Counterpart); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Advance(2 * time.Second)
	out, err := m.CompleteTurn(live.Counterpart, "Taxes would have to double.")
	if err != nil {
		t.Fatalf("CompleteTurn: %v", err)
	}
	if out.Holder != live.User || out.Exchange != nil {
		t.Fatalf("after counterpart turn: %+v", out)
	}
	if _, err := m.CompleteTurn(live.Counterpart, "again"); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("out-of-turn speech should be rejected, got %v", err)
	}
	c.Advance(3 * time.Second)
	out, err = m.CompleteTurn(live.User, "Pilots show otherwise.")
	if err != nil {
		t.Fatalf("CompleteTurn user: %v", err)
	}
	if out.Exchange == nil || out.Exchange.Seq != 1 {
		t.Fatalf("expected exchange 1, got %+v", out.Exchange)
	}
	if out.Exchange.Counterpart.Text != "Taxes would have to double." || out.Exchange.User.Text != "Pilots show otherwise." {
		t.Fatalf("exchange texts: %+v", out.Exchange)
	}
	if out.Holder != live.Counterpart {
		t.Fatalf("floor should return to counterpart")
	}
}

func TestInterruptBeforeThresholdIsDenied(t *testing.T) {
	c := newClock()
	m := NewMachine(policy(true, 4000), c.Now)
	_, _ = m.Start(live.Counterpart)
	_, _ = m.CompleteTurn(live.Counterpart, "Opening claim.")

	c.Advance(1500 * time.Millisecond)
	out, err := m.Interrupt(live.Counterpart, "I will")
	if err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if !out.Denied || out.Holder != live.User {
		t.Fatalf("expected denial with user keeping the floor, got %+v", out)
	}
	if len(m.Transcript()) != 0 {
		t.Fatalf("denied interruption must not record anything")
	}
}

func TestInterruptAfterThresholdTruncates(t *testing.T) {
	c := newClock()
	m := NewMachine(policy(true, 4000), c.Now)
	_, _ = m.Start(live.Counterpart)
	_, _ = m.CompleteTurn(live.Counterpart, "Opening claim.")

	c.Advance(5 * time.Second)
	out, err := m.Interrupt(live.Counterpart, "Well, the thing about pilots is")
	if err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if out.Denied || out.Holder != live.Counterpart {
		t.Fatalf("expected counterpart to take the floor, got %+v", out)
	}
	if out.Exchange == nil || !out.Exchange.User.Truncated || out.Exchange.User.Text != "Well, the thing about pilots is" {
		t.Fatalf("expected truncated user utterance, got %+v", out.Exchange)
	}
}

func TestCounterpartCannotInterruptWhenDisallowed(t *testing.T) {
	c := newClock()
	m := NewMachine(policy(false, 0), c.Now)
	_, _ = m.Start(live.User)
	c.Advance(time.Minute)
	out, err := m.Interrupt(live.Counterpart, "")
	if err != nil {
		t.Fatalf("Interrupt: %v", err)
	}
	if !out.Denied {
		t.Fatalf("counterpart interruption should be denied")
	}

	// The user can still interrupt the counterpart.
	_, _ = m.CompleteTurn(live.User, "My point.")
	c.Advance(time.Second)
	out, err = m.Interrupt(live.User, "")
	if err != nil || out.Denied {
		t.Fatalf("user interruption: %+v %v", out, err)
	}
}

func TestOverlapLongerSpeakerYields(t *testing.T) {
	c := newClock()
	m := NewMachine(policy(true, 0), c.Now)
	_, _ = m.Start(live.Counterpart)
	c.Advance(10 * time.Second)
	_, _ = m.CompleteTurn(live.Counterpart, "Long opening.")
	c.Advance(2 * time.Second)

	// User holds the floor with 2s; counterpart has 10s and yields.
	out, err := m.ResolveOverlap("partial")
	if err != nil {
		t.Fatalf("ResolveOverlap: %v", err)
	}
	if out.Conflict == nil || out.Conflict.Yielded != string(live.Counterpart) {
		t.Fatalf("conflict: %+v", out.Conflict)
	}
	if out.Holder != live.User || out.Exchange != nil {
		t.Fatalf("user should keep the floor untouched, got %+v", out)
	}
}

func TestOverlapTieCounterpartYields(t *testing.T) {
	m := NewMachine(policy(true, 0), newClock().Now)
	out, err := m.ResolveOverlap("")
	if err != nil {
		t.Fatalf("ResolveOverlap: %v", err)
	}
	if out.Holder != live.User || out.Conflict.Yielded != string(live.Counterpart) {
		t.Fatalf("tie should go to the user, got %+v", out)
	}
}

func TestEndIsTerminalAndFlushes(t *testing.T) {
	c := newClock()
	m := NewMachine(policy(true, 0), c.Now)
	_, _ = m.Start(live.Counterpart)
	_, _ = m.CompleteTurn(live.Counterpart, "Closing remark.")

	out, err := m.End(EndReasonUser)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if out.Exchange == nil || out.Exchange.Counterpart.Text != "Closing remark." || !out.Exchange.User.Empty() {
		t.Fatalf("dangling counterpart utterance should flush, got %+v", out.Exchange)
	}
	if _, err := m.CompleteTurn(live.User, "late"); !errors.Is(err, pkgerrors.ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
	if _, err := m.End(EndReasonUser); !errors.Is(err, pkgerrors.ErrTerminal) {
		t.Fatalf("expected ErrTerminal on second End, got %v", err)
	}
}

type recorder struct {
	mu        sync.Mutex
	granted   []live.Speaker
	exchanges []live.Exchange
	ended     chan string
}

func (r *recorder) TurnGranted(_ uuid.UUID, s live.Speaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.granted = append(r.granted, s)
}

func (r *recorder) ExchangeRecorded(_ uuid.UUID, ex live.Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges = append(r.exchanges, ex)
}

func (r *recorder) Ended(_ uuid.UUID, reason string, _ []live.Exchange) { r.ended <- reason }

func TestSessionActorNotifiesListener(t *testing.T) {
	c := newClock()
	rec := &recorder{ended: make(chan string, 1)}
	profile := scenario.AssistantProfile{Interruption: policy(true, 0)}
	s := NewSession(logger.Nop(), uuid.New(), profile, rec, c.Now)
	ctx := context.Background()
	go s.Run(ctx)

	if _, err := s.Start(ctx, live.Counterpart); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.OnTurnComplete(ctx, live.Counterpart, "Hello."); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if _, err := s.OnTurnComplete(ctx, live.User, "Hi."); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if _, err := s.End(ctx, ""); err != nil {
		t.Fatalf("End: %v", err)
	}
	select {
	case reason := <-rec.ended:
		if reason != EndReasonUser {
			t.Fatalf("reason: %q", reason)
		}
	case <-time.After(time.Second):
		t.Fatalf("Ended not called")
	}
	<-s.Done()
	if _, err := s.OnTurnComplete(ctx, live.Counterpart, "more"); !errors.Is(err, pkgerrors.ErrTerminal) {
		t.Fatalf("expected ErrTerminal after end, got %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []live.Speaker{live.Counterpart, live.User, live.Counterpart}
	if len(rec.granted) != len(want) {
		t.Fatalf("granted: %v", rec.granted)
	}
	for i := range want {
		if rec.granted[i] != want[i] {
			t.Fatalf("granted[%d]: got %s want %s", i, rec.granted[i], want[i])
		}
	}
	if len(rec.exchanges) != 1 || rec.exchanges[0].Seq != 1 {
		t.Fatalf("exchanges: %+v", rec.exchanges)
	}
}

func TestSessionTimeLimitEnds(t *testing.T) {
	rec := &recorder{ended: make(chan string, 1)}
	profile := scenario.AssistantProfile{TimeLimitSeconds: 60}
	s := NewSession(logger.Nop(), uuid.New(), profile, rec, nil)
	fire := make(chan time.Time, 1)
	s.newTimer = func(time.Duration) (<-chan time.Time, func() bool) { return fire, func() bool { return true } }
	go s.Run(context.Background())

	fire <- time.Now()
	select {
	case reason := <-rec.ended:
		if reason != EndReasonTimeLimit {
			t.Fatalf("reason: %q", reason)
		}
	case <-time.After(time.Second):
		t.Fatalf("time limit did not end the session")
	}
}

func TestResumeContinuesSequence(t *testing.T) {
	c := newClock()
	start := c.Now()
	prior := []live.Exchange{
		{Seq: 1, Counterpart: live.Utterance{Speaker: live.Counterpart, Text: "a", StartedAt: start, EndedAt: start.Add(time.Second)},
			User: live.Utterance{Speaker: live.User, Text: "b", StartedAt: start.Add(time.Second), EndedAt: start.Add(6 * time.Second)}},
		{Seq: 2, User: live.Utterance{Speaker: live.User, Text: "c", StartedAt: start.Add(6 * time.Second), EndedAt: start.Add(11 * time.Second)}},
	}
	m := NewMachine(policy(true, 0), c.Now)
	if err := m.Resume(prior); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := m.Start(live.Counterpart); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.CompleteTurn(live.Counterpart, "d"); err != nil {
		t.Fatalf("counterpart turn: %v", err)
	}
	out, err := m.CompleteTurn(live.User, "e")
	if err != nil {
		t.Fatalf("user turn: %v", err)
	}
	if out.Exchange == nil || out.Exchange.Seq != 3 {
		t.Fatalf("expected seq 3 after resume: %+v", out.Exchange)
	}
	if got := m.Transcript(); len(got) != 3 || got[0].Seq != 1 {
		t.Fatalf("transcript after resume: %+v", got)
	}
	// The user spoke 10s before the resume against the counterpart's 1s, so
	// the user yields even though the counterpart holds the floor now.
	c.Advance(time.Second)
	res, err := m.ResolveOverlap("")
	if err != nil {
		t.Fatalf("ResolveOverlap: %v", err)
	}
	if res.Conflict == nil || res.Conflict.Yielded != string(live.User) {
		t.Fatalf("restored speaking time not used: %+v", res.Conflict)
	}

	if err := m.Resume(nil); !errors.Is(err, pkgerrors.ErrConflict) {
		t.Fatalf("resume after start: %v", err)
	}
	bad := NewMachine(policy(true, 0), c.Now)
	if err := bad.Resume([]live.Exchange{{Seq: 2}, {Seq: 2}}); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("out-of-order transcript: %v", err)
	}
}
