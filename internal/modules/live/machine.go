package live

import (
	"fmt"
	"time"

	"github.com/yungbote/sparring-backend/internal/domain/live"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
)

type State string

const (
	StateIdle                State = "idle"
	StateCounterpartSpeaking State = "counterpart_speaking"
	StateUserSpeaking        State = "user_speaking"
	StateEnded               State = "ended"
)

type Event string

const (
	EventStart        Event = "start"
	EventTurnComplete Event = "turn_complete"
	EventInterrupt    Event = "interrupt"
	EventOverlap      Event = "overlap"
	EventEnd          Event = "end"
)

// transitions lists the events each state accepts. Ended accepts nothing.
var transitions = map[State]map[Event]bool{
	StateIdle: {
		EventStart:        true,
		EventTurnComplete: true,
		EventOverlap:      true,
		EventEnd:          true,
	},
	StateCounterpartSpeaking: {
		EventTurnComplete: true,
		EventInterrupt:    true,
		EventOverlap:      true,
		EventEnd:          true,
	},
	StateUserSpeaking: {
		EventTurnComplete: true,
		EventInterrupt:    true,
		EventOverlap:      true,
		EventEnd:          true,
	},
	StateEnded: {},
}

func speakingState(s live.Speaker) State {
	if s == live.User {
		return StateUserSpeaking
	}
	return StateCounterpartSpeaking
}

// Holder returns who has the floor, or "" when nobody does.
func (s State) Holder() live.Speaker {
	switch s {
	case StateCounterpartSpeaking:
		return live.Counterpart
	case StateUserSpeaking:
		return live.User
	default:
		return ""
	}
}

// Outcome is the result of one accepted event.
type Outcome struct {
	State  State        `json:"state"`
	Holder live.Speaker `json:"holder,omitempty"`
	// Denied is set when an interruption was refused; the holder keeps the floor.
	Denied   bool                            `json:"denied,omitempty"`
	Exchange *live.Exchange                  `json:"exchange,omitempty"`
	Conflict *pkgerrors.InterruptionConflict `json:"conflict,omitempty"`
}

// Machine is the turn-taking state machine for one live session. It is not
// safe for concurrent use; Session serializes access to it.
type Machine struct {
	policy scenario.InterruptionPolicy
	now    func() time.Time

	state      State
	floorSince time.Time
	spoken     map[live.Speaker]time.Duration

	pending   *live.Utterance
	seq       int
	exchanges []live.Exchange
	endReason string
}

func NewMachine(policy scenario.InterruptionPolicy, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{
		policy: policy,
		now:    now,
		state:  StateIdle,
		spoken: map[live.Speaker]time.Duration{},
	}
}

// Resume seeds an idle machine with exchanges recorded earlier so sequence
// numbers continue after the last one. Speaking time is restored from the
// utterance timestamps.
func (m *Machine) Resume(prior []live.Exchange) error {
	if m.state != StateIdle || m.seq != 0 {
		return fmt.Errorf("resume after start: %w", pkgerrors.ErrConflict)
	}
	for _, ex := range prior {
		if ex.Seq <= m.seq {
			return fmt.Errorf("transcript out of order at seq %d: %w", ex.Seq, pkgerrors.ErrInvalidArgument)
		}
		m.seq = ex.Seq
		m.exchanges = append(m.exchanges, ex)
		for _, u := range []live.Utterance{ex.Counterpart, ex.User} {
			if u.Speaker != "" && u.EndedAt.After(u.StartedAt) {
				m.spoken[u.Speaker] += u.EndedAt.Sub(u.StartedAt)
			}
		}
	}
	return nil
}

func (m *Machine) State() State { return m.state }

func (m *Machine) EndReason() string { return m.endReason }

// Transcript returns the exchanges recorded so far, in sequence order.
func (m *Machine) Transcript() []live.Exchange {
	return append([]live.Exchange(nil), m.exchanges...)
}

func (m *Machine) accept(ev Event) error {
	if m.state == StateEnded {
		return fmt.Errorf("live session %s: %w", ev, pkgerrors.ErrTerminal)
	}
	if !transitions[m.state][ev] {
		return fmt.Errorf("%s not allowed in state %s: %w", ev, m.state, pkgerrors.ErrInvalidArgument)
	}
	return nil
}

func (m *Machine) outcome() Outcome {
	return Outcome{State: m.state, Holder: m.state.Holder()}
}

func (m *Machine) grant(s live.Speaker) {
	m.state = speakingState(s)
	m.floorSince = m.now()
}

// Start gives the floor to first.
func (m *Machine) Start(first live.Speaker) (Outcome, error) {
	if err := m.accept(EventStart); err != nil {
		return Outcome{}, err
	}
	if !first.Valid() {
		return Outcome{}, fmt.Errorf("speaker %q: %w", first, pkgerrors.ErrInvalidArgument)
	}
	m.grant(first)
	return m.outcome(), nil
}

// CompleteTurn records the holder's finished utterance and passes the floor.
// From idle it implicitly starts with speaker.
func (m *Machine) CompleteTurn(speaker live.Speaker, text string) (Outcome, error) {
	if err := m.accept(EventTurnComplete); err != nil {
		return Outcome{}, err
	}
	if !speaker.Valid() {
		return Outcome{}, fmt.Errorf("speaker %q: %w", speaker, pkgerrors.ErrInvalidArgument)
	}
	if m.state == StateIdle {
		m.grant(speaker)
	}
	if holder := m.state.Holder(); holder != speaker {
		return Outcome{}, fmt.Errorf("%s spoke out of turn, %s holds the floor: %w", speaker, holder, pkgerrors.ErrInvalidArgument)
	}
	ex := m.record(speaker, text, false)
	m.grant(speaker.Other())
	out := m.outcome()
	out.Exchange = ex
	return out, nil
}

// Interrupt asks for the floor on behalf of by. It is granted when the holder
// has spoken continuously for at least the threshold and, for the
// counterpart, when the profile allows it to interrupt at all.
func (m *Machine) Interrupt(by live.Speaker, partial string) (Outcome, error) {
	if err := m.accept(EventInterrupt); err != nil {
		return Outcome{}, err
	}
	holder := m.state.Holder()
	if by != holder.Other() {
		return Outcome{}, fmt.Errorf("%s cannot interrupt itself: %w", by, pkgerrors.ErrInvalidArgument)
	}
	if !m.mayInterrupt(by) {
		out := m.outcome()
		out.Denied = true
		return out, nil
	}
	ex := m.record(holder, partial, true)
	m.grant(by)
	out := m.outcome()
	out.Exchange = ex
	return out, nil
}

func (m *Machine) mayInterrupt(by live.Speaker) bool {
	if by == live.Counterpart && !m.policy.CanInterrupt {
		return false
	}
	threshold := time.Duration(m.policy.ThresholdMS) * time.Millisecond
	return m.now().Sub(m.floorSince) >= threshold
}

// ResolveOverlap settles both parties claiming the floor at once. The party
// with more cumulative speaking time yields; on a tie the counterpart yields.
// partial is what the current holder had said when it was cut off.
func (m *Machine) ResolveOverlap(partial string) (Outcome, error) {
	if err := m.accept(EventOverlap); err != nil {
		return Outcome{}, err
	}
	holder := m.state.Holder()
	user := m.spokenIncludingCurrent(live.User)
	counterpart := m.spokenIncludingCurrent(live.Counterpart)
	yielded := live.Counterpart
	if user > counterpart {
		yielded = live.User
	}
	winner := yielded.Other()
	conflict := &pkgerrors.InterruptionConflict{Yielded: string(yielded), Holder: string(winner)}

	var ex *live.Exchange
	switch {
	case holder == "":
		m.grant(winner)
	case holder == yielded:
		ex = m.record(holder, partial, true)
		m.grant(winner)
	}
	out := m.outcome()
	out.Exchange = ex
	out.Conflict = conflict
	return out, nil
}

// End terminates the session, flushing a counterpart utterance still waiting
// for a reply.
func (m *Machine) End(reason string) (Outcome, error) {
	if err := m.accept(EventEnd); err != nil {
		return Outcome{}, err
	}
	var ex *live.Exchange
	if m.pending != nil {
		ex = m.closeExchange(*m.pending, live.Utterance{})
	}
	m.state = StateEnded
	m.endReason = reason
	out := m.outcome()
	out.Exchange = ex
	return out, nil
}

func (m *Machine) spokenIncludingCurrent(s live.Speaker) time.Duration {
	d := m.spoken[s]
	if m.state.Holder() == s {
		d += m.now().Sub(m.floorSince)
	}
	return d
}

// record closes the holder's utterance. A user utterance completes an
// exchange with the waiting counterpart utterance, if any.
func (m *Machine) record(s live.Speaker, text string, truncated bool) *live.Exchange {
	now := m.now()
	m.spoken[s] += now.Sub(m.floorSince)
	u := live.Utterance{
		Speaker:   s,
		Text:      text,
		Truncated: truncated,
		StartedAt: m.floorSince,
		EndedAt:   now,
	}
	if s == live.Counterpart {
		var flushed *live.Exchange
		if m.pending != nil {
			flushed = m.closeExchange(*m.pending, live.Utterance{})
		}
		m.pending = &u
		return flushed
	}
	var cp live.Utterance
	if m.pending != nil {
		cp = *m.pending
	}
	return m.closeExchange(cp, u)
}

func (m *Machine) closeExchange(cp, user live.Utterance) *live.Exchange {
	m.pending = nil
	m.seq++
	ex := live.Exchange{
		Seq:         m.seq,
		Counterpart: cp,
		User:        user,
		At:          m.now().UTC(),
	}
	m.exchanges = append(m.exchanges, ex)
	return &ex
}
