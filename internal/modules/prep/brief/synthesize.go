package brief

import (
	"strings"

	"github.com/yungbote/sparring-backend/internal/domain/ports"
	"github.com/yungbote/sparring-backend/internal/domain/prep"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
)

const (
	maxResearchPoints = 12
	maxPointChars     = 400
)

// Synthesize builds the strategic brief from whatever inputs were supplied.
// Only present fields contribute a sentence; a section with none is dropped.
func Synthesize(def *scenario.Definition, raw map[string]string, research []prep.ResearchArtifact) *prep.StrategicBrief {
	var sections []prep.BriefSection
	for _, sec := range scenario.Sections {
		if sec == scenario.SectionResearch {
			continue
		}
		var sentences []string
		for _, f := range def.Inputs.Fields {
			if f.Section != sec || f.Kind == scenario.FieldHidden {
				continue
			}
			val, ok := raw[f.Name]
			if !ok || prep.Absent(val) {
				continue
			}
			sentences = append(sentences, sentence(f, collapse(val)))
		}
		if len(sentences) == 0 {
			continue
		}
		sections = append(sections, prep.BriefSection{Key: sec, Text: strings.Join(sentences, " ")})
	}
	if text := renderResearch(research); text != "" {
		sections = append(sections, prep.BriefSection{Key: scenario.SectionResearch, Text: text})
	}
	return prep.NewBrief(sections...)
}

func sentence(f scenario.InputField, val string) string {
	var s string
	if strings.TrimSpace(f.Phrase) != "" {
		s = strings.ReplaceAll(f.Phrase, "%s", val)
	} else {
		label := f.Label
		if label == "" {
			label = strings.ReplaceAll(f.Name, "_", " ")
		}
		s = label + ": " + val
	}
	s = strings.TrimSpace(s)
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	default:
		return s + "."
	}
}

func renderResearch(research []prep.ResearchArtifact) string {
	var lines []string
	for _, a := range research {
		text := collapse(a.Text)
		if prep.Absent(text) {
			continue
		}
		if src := strings.TrimSpace(a.Source); src != "" {
			text += " (source: " + src + ")"
		}
		lines = append(lines, "- "+text)
	}
	return strings.Join(lines, "\n")
}

// ExtractResearch normalizes raw research output into brief artifacts:
// summary first, then distinct points, capped in count and length.
func ExtractResearch(f ports.Findings) []prep.ResearchArtifact {
	source := strings.Join(f.Sources, ", ")
	var out []prep.ResearchArtifact
	seen := map[string]bool{}
	add := func(text string) {
		text = truncate(collapse(text), maxPointChars)
		key := strings.ToLower(text)
		if prep.Absent(text) || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, prep.ResearchArtifact{Source: source, Text: text})
	}
	add(f.Summary)
	for _, p := range f.Points {
		if len(out) > maxResearchPoints {
			break
		}
		add(p)
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}
