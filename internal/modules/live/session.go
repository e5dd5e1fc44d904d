package live

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/domain/live"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

const (
	EndReasonUser      = "user"
	EndReasonTimeLimit = "time_limit"
	EndReasonShutdown  = "shutdown"
)

// Listener receives session output. Calls are made from the session
// goroutine, one at a time, in transition order.
type Listener interface {
	TurnGranted(sessionID uuid.UUID, speaker live.Speaker)
	ExchangeRecorded(sessionID uuid.UUID, ex live.Exchange)
	Ended(sessionID uuid.UUID, reason string, transcript []live.Exchange)
}

type command struct {
	event   Event
	speaker live.Speaker
	text    string
	reply   chan result
}

type result struct {
	out Outcome
	err error
}

// Session owns one Machine on a dedicated goroutine. Every method is safe
// for concurrent use.
type Session struct {
	ID      uuid.UUID
	log     *logger.Logger
	machine *Machine
	profile scenario.AssistantProfile
	lis     Listener

	inbox chan command
	done  chan struct{}

	newTimer func(d time.Duration) (<-chan time.Time, func() bool)
}

func NewSession(log *logger.Logger, id uuid.UUID, profile scenario.AssistantProfile, lis Listener, now func() time.Time) *Session {
	return &Session{
		ID:      id,
		log:     log.With("component", "LiveSession", "session_id", id),
		machine: NewMachine(profile.Interruption, now),
		profile: profile,
		lis:     lis,
		inbox:   make(chan command),
		done:    make(chan struct{}),
		newTimer: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
	}
}

// Resume continues a transcript recorded by an earlier runtime. It must be
// called before Run.
func (s *Session) Resume(prior []live.Exchange) error {
	return s.machine.Resume(prior)
}

// Run processes commands until the session ends or ctx is cancelled. The
// time limit, if any, starts counting here.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)

	var limit <-chan time.Time
	if s.profile.TimeLimitSeconds > 0 {
		c, stop := s.newTimer(time.Duration(s.profile.TimeLimitSeconds) * time.Second)
		defer stop()
		limit = c
	}

	for {
		select {
		case <-ctx.Done():
			s.apply(command{event: EventEnd, text: EndReasonShutdown})
			return
		case <-limit:
			s.log.Info("live session hit time limit")
			s.apply(command{event: EventEnd, text: EndReasonTimeLimit})
			return
		case cmd := <-s.inbox:
			res := s.apply(cmd)
			cmd.reply <- res
			if s.machine.State() == StateEnded {
				return
			}
		}
	}
}

// Done is closed once the session goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Start(ctx context.Context, first live.Speaker) (Outcome, error) {
	return s.send(ctx, command{event: EventStart, speaker: first})
}

func (s *Session) OnTurnComplete(ctx context.Context, speaker live.Speaker, text string) (Outcome, error) {
	return s.send(ctx, command{event: EventTurnComplete, speaker: speaker, text: text})
}

func (s *Session) RequestInterrupt(ctx context.Context, by live.Speaker, partial string) (Outcome, error) {
	return s.send(ctx, command{event: EventInterrupt, speaker: by, text: partial})
}

func (s *Session) ResolveOverlap(ctx context.Context, partial string) (Outcome, error) {
	return s.send(ctx, command{event: EventOverlap, text: partial})
}

func (s *Session) End(ctx context.Context, reason string) (Outcome, error) {
	if reason == "" {
		reason = EndReasonUser
	}
	return s.send(ctx, command{event: EventEnd, text: reason})
}

func (s *Session) send(ctx context.Context, cmd command) (Outcome, error) {
	cmd.reply = make(chan result, 1)
	select {
	case s.inbox <- cmd:
	case <-s.done:
		return Outcome{}, fmt.Errorf("live session %s: %w", s.ID, pkgerrors.ErrTerminal)
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	res := <-cmd.reply
	return res.out, res.err
}

func (s *Session) apply(cmd command) result {
	before := s.machine.State().Holder()
	var (
		out Outcome
		err error
	)
	switch cmd.event {
	case EventStart:
		out, err = s.machine.Start(cmd.speaker)
	case EventTurnComplete:
		out, err = s.machine.CompleteTurn(cmd.speaker, cmd.text)
	case EventInterrupt:
		out, err = s.machine.Interrupt(cmd.speaker, cmd.text)
	case EventOverlap:
		out, err = s.machine.ResolveOverlap(cmd.text)
	case EventEnd:
		out, err = s.machine.End(cmd.text)
	default:
		err = fmt.Errorf("unknown event %q: %w", cmd.event, pkgerrors.ErrInvalidArgument)
	}
	if err != nil {
		return result{err: err}
	}
	if s.lis != nil {
		if out.Exchange != nil {
			s.lis.ExchangeRecorded(s.ID, *out.Exchange)
		}
		if out.Holder != "" && out.Holder != before {
			s.lis.TurnGranted(s.ID, out.Holder)
		}
		if out.State == StateEnded {
			s.lis.Ended(s.ID, s.machine.EndReason(), s.machine.Transcript())
		}
	}
	return result{out: out}
}
