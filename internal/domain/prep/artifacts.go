package prep

import (
	"encoding/json"
	"sort"

	"github.com/yungbote/sparring-backend/internal/domain/scenario"
)

type Artifact struct {
	Category string              `json:"category"`
	Title    string              `json:"title,omitempty"`
	Output   scenario.OutputKind `json:"output"`
	Text     string              `json:"text,omitempty"`
	Data     json.RawMessage     `json:"data,omitempty"`
}

// ArtifactSet is everything a finished run hands to the live session.
// Categories whose optional tasks failed are simply absent.
type ArtifactSet struct {
	PageShape string              `json:"page_shape"`
	Brief     *StrategicBrief     `json:"brief,omitempty"`
	Artifacts map[string]Artifact `json:"artifacts"`
}

func (s ArtifactSet) Has(category string) bool {
	_, ok := s.Artifacts[category]
	return ok
}

func (s ArtifactSet) Categories() []string {
	out := make([]string, 0, len(s.Artifacts))
	for k := range s.Artifacts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
