package prompts

import (
	"reflect"
	"strings"
	"testing"

	"github.com/yungbote/sparring-backend/internal/domain/prep"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
)

func TestPlaceholders(t *testing.T) {
	keys, err := Placeholders("Argue {{.position}} on {{.topic}}.{{if .opponent_name}} Opponent: {{.opponent_name}}.{{end}} {{.topic}}")
	if err != nil {
		t.Fatalf("Placeholders: %v", err)
	}
	want := []string{"position", "topic", "opponent_name"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys: got %v want %v", keys, want)
	}
}

func TestComposePrecedence(t *testing.T) {
	brief := prep.NewBrief(prep.BriefSection{Key: scenario.SectionAudience, Text: "Panel of economists."})
	vals := Values{
		Brief:     brief,
		Raw:       map[string]string{"topic": "Universal Basic Income", "audience_context": "raw loses", "tone": "n/a"},
		Constants: map[string]string{"tone": "measured", "topic": "constant loses"},
	}
	out, err := Compose("t", "{{.topic}} / {{.audience_context}} / {{.tone}}", vals)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if out.Text != "Universal Basic Income / Panel of economists. / measured" {
		t.Fatalf("text: %q", out.Text)
	}
}

func TestComposeUnresolvedFailsClosed(t *testing.T) {
	_, err := Compose("openings", "Open against {{.opponent_name}}", Values{Raw: map[string]string{"opponent_name": "  "}})
	if !pkgerrors.IsComposition(err) {
		t.Fatalf("expected composition error, got %v", err)
	}
	if !strings.Contains(err.Error(), "opponent_name") {
		t.Fatalf("error should name the key: %v", err)
	}
}

func TestComposeWholeBrief(t *testing.T) {
	brief := prep.NewBrief(prep.BriefSection{Key: scenario.SectionDirectives, Text: "Stay calm."})
	out, err := Compose("t", "Context:\n{{.brief}}", Values{Brief: brief})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if out.Text != "Context:\n## User directives\nStay calm." {
		t.Fatalf("text: %q", out.Text)
	}
	if _, err := Compose("t", "{{.brief}}", Values{}); !pkgerrors.IsComposition(err) {
		t.Fatalf("empty brief must not resolve, got %v", err)
	}
}
