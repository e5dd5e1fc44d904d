package live

import (
	"strings"
	"time"
)

type Speaker string

const (
	Counterpart Speaker = "counterpart"
	User        Speaker = "user"
)

func (s Speaker) Valid() bool { return s == Counterpart || s == User }

func (s Speaker) Other() Speaker {
	if s == User {
		return Counterpart
	}
	return User
}

type Utterance struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Truncated bool      `json:"truncated,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

func (u Utterance) Empty() bool { return strings.TrimSpace(u.Text) == "" }

// Exchange pairs a counterpart turn with the user's reply. Either side may be
// empty when the session opens with the user or ends mid-pair.
type Exchange struct {
	Seq         int       `json:"seq"`
	Counterpart Utterance `json:"counterpart"`
	User        Utterance `json:"user"`
	At          time.Time `json:"at"`
}

// Render is the speaker-tagged text handed to the classifier.
func (e Exchange) Render() string {
	var sb strings.Builder
	if !e.Counterpart.Empty() {
		sb.WriteString("COUNTERPART: ")
		sb.WriteString(e.Counterpart.Text)
		if e.Counterpart.Truncated {
			sb.WriteString(" [interrupted]")
		}
	}
	if !e.User.Empty() {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("USER: ")
		sb.WriteString(e.User.Text)
		if e.User.Truncated {
			sb.WriteString(" [interrupted]")
		}
	}
	return sb.String()
}
