package scenarios

import (
	"fmt"
	"strings"

	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	"github.com/yungbote/sparring-backend/internal/modules/prep/prompts"
)

// scope says what a template may reference besides fields and constants.
type scope struct {
	brief   bool
	runtime []string
}

var (
	taskScope      = scope{brief: true, runtime: prompts.TaskRuntimeKeys}
	researchScope  = scope{runtime: prompts.ResearchRuntimeKeys}
	openingScope   = scope{}
	assistantScope = scope{brief: true, runtime: prompts.AssistantRuntimeKeys}
	analysisScope  = scope{runtime: prompts.AnalysisRuntimeKeys}
	feedbackScope  = scope{runtime: prompts.FeedbackRuntimeKeys}
)

// Validate returns every structural problem in def. An empty result means
// the definition is safe to serve.
func Validate(def *scenario.Definition) []string {
	v := &validator{def: def}
	v.identity()
	v.inputs()
	v.pipeline()
	v.assistant()
	v.analysis()
	return v.problems
}

type validator struct {
	def      *scenario.Definition
	problems []string
}

func (v *validator) addf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) identity() {
	if strings.TrimSpace(v.def.ID) == "" {
		v.addf("missing id")
	}
	if strings.TrimSpace(v.def.Name) == "" {
		v.addf("missing name")
	}
	if !v.def.Kind.Valid() {
		v.addf("unknown kind %q", v.def.Kind)
	}
}

func (v *validator) inputs() {
	seen := map[string]bool{}
	if len(v.def.Inputs.Fields) == 0 {
		v.addf("input schema has no fields")
	}
	for _, f := range v.def.Inputs.Fields {
		if f.Name == "" {
			v.addf("input field without name")
			continue
		}
		if seen[f.Name] {
			v.addf("duplicate input field %q", f.Name)
		}
		seen[f.Name] = true
		switch f.Kind {
		case scenario.FieldText:
		case scenario.FieldChoice:
			if len(f.Options) == 0 {
				v.addf("choice field %q has no options", f.Name)
			}
			if f.Default != "" && !contains(f.Options, f.Default) {
				v.addf("field %q default %q is not an option", f.Name, f.Default)
			}
		case scenario.FieldHidden:
			if f.Required && f.Default == "" {
				v.addf("required hidden field %q needs a default", f.Name)
			}
		default:
			v.addf("field %q has unknown kind %q", f.Name, f.Kind)
		}
		if f.Section != "" && (!f.Section.Valid() || f.Section == scenario.SectionResearch) {
			v.addf("field %q has invalid section %q", f.Name, f.Section)
		}
		if f.Kind != scenario.FieldHidden && f.Section == "" {
			v.addf("visible field %q has no section", f.Name)
		}
		if f.Phrase != "" && (strings.TrimSpace(f.Phrase) == "" || !strings.Contains(f.Phrase, "%s")) {
			v.addf("field %q phrase must contain %%s", f.Name)
		}
	}
}

func (v *validator) pipeline() {
	p := v.def.Pipeline
	if len(p.Tasks) == 0 {
		v.addf("pipeline has no generation tasks")
	}
	if p.Research {
		if strings.TrimSpace(p.ResearchQuery) == "" {
			v.addf("research enabled without research_query")
		} else {
			v.template("research_query", p.ResearchQuery, researchScope)
		}
	}
	seen := map[string]bool{}
	for _, t := range p.Tasks {
		if t.Category == "" {
			v.addf("generation task without category")
			continue
		}
		if seen[t.Category] {
			v.addf("duplicate generation task %q", t.Category)
		}
		seen[t.Category] = true
		switch t.Output {
		case scenario.OutputText:
		case scenario.OutputJSON:
			if len(t.Schema) == 0 {
				v.addf("task %q produces json without a schema", t.Category)
			}
		default:
			v.addf("task %q has unknown output %q", t.Category, t.Output)
		}
		if strings.TrimSpace(t.Prompt) == "" {
			v.addf("task %q has no prompt", t.Category)
		}
		v.template("task "+t.Category+" prompt", t.Prompt, taskScope)
		v.template("task "+t.Category+" system", t.System, taskScope)
	}
}

func (v *validator) assistant() {
	a := v.def.Assistant
	if len(a.Openings) == 0 {
		v.addf("assistant has no openings")
	}
	for i, o := range a.Openings {
		v.template(fmt.Sprintf("assistant opening %d", i), o, openingScope)
	}
	if strings.TrimSpace(a.Prompt) == "" {
		v.addf("assistant has no prompt")
	}
	v.template("assistant prompt", a.Prompt, assistantScope)
	if a.Interruption.ThresholdMS < 0 {
		v.addf("negative interruption threshold")
	}
	if a.TimeLimitSeconds < 0 {
		v.addf("negative time limit")
	}
}

func (v *validator) analysis() {
	a := v.def.Analysis
	if strings.TrimSpace(a.TaxonomyVersion) == "" {
		v.addf("analysis has no taxonomy_version")
	}
	if a.ScoreMax <= a.ScoreMin {
		v.addf("score_max must exceed score_min")
	}
	if a.ContextWindow < 0 {
		v.addf("negative context_window")
	}
	techniques := map[string]bool{}
	for _, t := range a.Techniques {
		if t.ID == "" {
			v.addf("technique without id")
			continue
		}
		if techniques[t.ID] {
			v.addf("duplicate technique %q", t.ID)
		}
		techniques[t.ID] = true
		if strings.TrimSpace(t.Criteria) == "" {
			v.addf("technique %q has no criteria", t.ID)
		}
	}
	if len(techniques) == 0 {
		v.addf("analysis taxonomy is empty")
	}
	names := map[string]bool{}
	for _, c := range a.Categories {
		if c.Name == "" {
			v.addf("score category without name")
			continue
		}
		if names[c.Name] {
			v.addf("duplicate score category %q", c.Name)
		}
		names[c.Name] = true
		if c.Scale <= 0 {
			v.addf("score category %q needs a positive scale", c.Name)
		}
		if c.Floor < 0 || c.Floor > c.Scale {
			v.addf("score category %q floor outside [0, scale]", c.Name)
		}
		if len(c.Techniques) == 0 {
			v.addf("score category %q has no techniques", c.Name)
		}
		for _, id := range c.Techniques {
			if !techniques[id] {
				v.addf("score category %q references unknown technique %q", c.Name, id)
			}
		}
		for id, w := range c.Weights {
			if !c.Includes(id) {
				v.addf("score category %q weights technique %q it does not include", c.Name, id)
			}
			if w <= 0 {
				v.addf("score category %q has non-positive weight for %q", c.Name, id)
			}
		}
	}
	if len(names) == 0 {
		v.addf("analysis has no score categories")
	}
	if strings.TrimSpace(a.Prompt) == "" {
		v.addf("analysis has no prompt")
	}
	v.template("analysis prompt", a.Prompt, analysisScope)
	v.template("analysis feedback", a.Feedback, feedbackScope)
}

// template checks that every placeholder is guaranteed to resolve.
func (v *validator) template(label, text string, sc scope) {
	if strings.TrimSpace(text) == "" {
		return
	}
	keys, err := prompts.Placeholders(text)
	if err != nil {
		v.addf("%s: %v", label, err)
		return
	}
	for _, k := range keys {
		if reason := v.unresolved(k, sc); reason != "" {
			v.addf("%s: placeholder %q %s", label, k, reason)
		}
	}
}

func (v *validator) unresolved(key string, sc scope) string {
	_, hasConst := v.def.Constants[key]
	if key == scenario.BriefKey || scenario.Section(key).Valid() {
		if !sc.brief {
			if hasConst {
				return ""
			}
			return "names the brief, which is not available here"
		}
		if hasConst || v.alwaysPresent(key) {
			return ""
		}
		return "names a brief section that may be absent and has no constant fallback"
	}
	if f, ok := v.def.Field(key); ok {
		if f.Required || f.Default != "" || hasConst {
			return ""
		}
		return "names an optional field with no default or constant"
	}
	if contains(sc.runtime, key) || hasConst {
		return ""
	}
	return "does not match a field, brief section, constant or runtime value"
}

// alwaysPresent reports whether a required visible field guarantees the
// brief (or the named section) is non-empty.
func (v *validator) alwaysPresent(key string) bool {
	for _, f := range v.def.Inputs.Fields {
		if !f.Required || f.Kind == scenario.FieldHidden || f.Section == "" {
			continue
		}
		if key == scenario.BriefKey || string(f.Section) == key {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
