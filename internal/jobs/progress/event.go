package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/domain/prep"
)

type EventKind string

const (
	EventPhaseChanged  EventKind = "phase_changed"
	EventTaskStarted   EventKind = "task_started"
	EventTaskRetrying  EventKind = "task_retrying"
	EventTaskSucceeded EventKind = "task_succeeded"
	EventTaskFailed    EventKind = "task_failed"
)

// Event is one state transition of a PipelineRun. Seq starts at 1 and has
// no gaps within a run.
type Event struct {
	RunID     uuid.UUID  `json:"run_id"`
	SessionID uuid.UUID  `json:"session_id"`
	Seq       int64      `json:"seq"`
	Kind      EventKind  `json:"kind"`
	Phase     prep.Phase `json:"phase"`
	Task      string     `json:"task,omitempty"`
	Attempt   int        `json:"attempt,omitempty"`
	Error     string     `json:"error,omitempty"`
	Progress  int        `json:"progress"`
	At        time.Time  `json:"at"`
}

// Terminal reports whether no further events follow.
func (e Event) Terminal() bool {
	return e.Kind == EventPhaseChanged && e.Phase.Terminal()
}

// Snapshot is the state of a run as of event Seq.
type Snapshot struct {
	RunID      uuid.UUID             `json:"run_id"`
	SessionID  uuid.UUID             `json:"session_id"`
	Seq        int64                 `json:"seq"`
	Phase      prep.Phase            `json:"phase"`
	Progress   int                   `json:"progress"`
	Tasks      []prep.GenerationTask `json:"tasks"`
	FailedTask string                `json:"failed_task,omitempty"`
	Error      string                `json:"error,omitempty"`
}

func snapshotOf(run *prep.PipelineRun) Snapshot {
	return Snapshot{
		RunID:      run.ID,
		SessionID:  run.SessionID,
		Phase:      run.Phase,
		Progress:   run.Progress,
		Tasks:      append([]prep.GenerationTask(nil), run.Tasks...),
		FailedTask: run.FailedTask,
		Error:      run.Error,
	}
}

func (s *Snapshot) clone() Snapshot {
	out := *s
	out.Tasks = append([]prep.GenerationTask(nil), s.Tasks...)
	return out
}

func (s *Snapshot) apply(ev Event) {
	s.Seq = ev.Seq
	if ev.Progress > s.Progress {
		s.Progress = ev.Progress
	}
	switch ev.Kind {
	case EventPhaseChanged:
		s.Phase = ev.Phase
		if ev.Phase == prep.PhaseFailed {
			s.FailedTask = ev.Task
			s.Error = ev.Error
		}
		return
	}
	for i := range s.Tasks {
		if s.Tasks[i].Category != ev.Task {
			continue
		}
		t := &s.Tasks[i]
		if ev.Attempt > t.Attempts {
			t.Attempts = ev.Attempt
		}
		switch ev.Kind {
		case EventTaskStarted:
			t.Status = prep.TaskRunning
		case EventTaskRetrying:
			t.Status = prep.TaskRunning
			t.Error = ev.Error
		case EventTaskSucceeded:
			t.Status = prep.TaskSucceeded
			t.Error = ""
		case EventTaskFailed:
			t.Status = prep.TaskFailed
			t.Error = ev.Error
		}
	}
}
