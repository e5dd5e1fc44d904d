package prep

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/yungbote/sparring-backend/internal/domain/scenario"
)

func TestBriefWithResearchLeavesOriginal(t *testing.T) {
	b := NewBrief(
		BriefSection{Key: scenario.SectionAudience, Text: "Judges are economists."},
		BriefSection{Key: scenario.SectionDirectives, Text: "  "},
	)
	if len(b.Sections()) != 1 {
		t.Fatalf("blank section kept: %+v", b.Sections())
	}
	nb := b.WithResearch("Pilot in Finland.")
	if _, ok := b.Section(scenario.SectionResearch); ok {
		t.Fatalf("original brief changed")
	}
	if got, _ := nb.Section(scenario.SectionResearch); got != "Pilot in Finland." {
		t.Fatalf("research section: %q", got)
	}
	nb2 := nb.WithResearch("Stockton pilot.")
	if n := len(nb2.Sections()); n != 2 {
		t.Fatalf("research should replace, got %d sections", n)
	}
	if !strings.Contains(nb2.Render(), "## Research findings\nStockton pilot.") {
		t.Fatalf("render: %q", nb2.Render())
	}
}

func TestBriefJSON(t *testing.T) {
	b := NewBrief(BriefSection{Key: scenario.SectionAudience, Text: "x"})
	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back StrategicBrief
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Render() != b.Render() {
		t.Fatalf("render mismatch: %q vs %q", back.Render(), b.Render())
	}
}
