package prep

import (
	"encoding/json"
	"strings"

	"github.com/yungbote/sparring-backend/internal/domain/scenario"
)

type BriefSection struct {
	Key   scenario.Section `json:"key"`
	Title string           `json:"title"`
	Text  string           `json:"text"`
}

// StrategicBrief is read-only once built. Replacing research yields a new
// brief rather than changing this one.
type StrategicBrief struct {
	sections []BriefSection
}

// NewBrief keeps non-empty sections in the given order.
func NewBrief(sections ...BriefSection) *StrategicBrief {
	b := &StrategicBrief{}
	for _, s := range sections {
		s.Text = strings.TrimSpace(s.Text)
		if s.Text == "" {
			continue
		}
		if s.Title == "" {
			s.Title = s.Key.Title()
		}
		b.sections = append(b.sections, s)
	}
	return b
}

func (b *StrategicBrief) Sections() []BriefSection {
	if b == nil {
		return nil
	}
	return append([]BriefSection(nil), b.sections...)
}

func (b *StrategicBrief) Section(key scenario.Section) (string, bool) {
	if b == nil {
		return "", false
	}
	for _, s := range b.sections {
		if s.Key == key {
			return s.Text, true
		}
	}
	return "", false
}

func (b *StrategicBrief) Empty() bool { return b == nil || len(b.sections) == 0 }

// WithResearch returns a copy whose research section is replaced.
func (b *StrategicBrief) WithResearch(text string) *StrategicBrief {
	var kept []BriefSection
	if b != nil {
		for _, s := range b.sections {
			if s.Key != scenario.SectionResearch {
				kept = append(kept, s)
			}
		}
	}
	kept = append(kept, BriefSection{Key: scenario.SectionResearch, Text: text})
	return NewBrief(kept...)
}

// Render produces the markdown block substituted for the brief placeholder.
func (b *StrategicBrief) Render() string {
	if b.Empty() {
		return ""
	}
	var sb strings.Builder
	for i, s := range b.sections {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## ")
		sb.WriteString(s.Title)
		sb.WriteString("\n")
		sb.WriteString(s.Text)
	}
	return sb.String()
}

func (b *StrategicBrief) MarshalJSON() ([]byte, error) {
	secs := b.Sections()
	if secs == nil {
		secs = []BriefSection{}
	}
	return json.Marshal(struct {
		Sections []BriefSection `json:"sections"`
	}{secs})
}

func (b *StrategicBrief) UnmarshalJSON(data []byte) error {
	var raw struct {
		Sections []BriefSection `json:"sections"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = *NewBrief(raw.Sections...)
	return nil
}

// ResearchArtifact is free text attributed to a source.
type ResearchArtifact struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}
