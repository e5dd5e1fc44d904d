package scenario

import "strings"

// Kind tags the closed set of scenario families.
type Kind string

const (
	KindDebate        Kind = "debate"
	KindSalesCall     Kind = "sales_call"
	KindInvestorPitch Kind = "investor_pitch"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDebate, KindSalesCall, KindInvestorPitch:
		return true
	default:
		return false
	}
}

type FieldKind string

const (
	FieldText   FieldKind = "text"
	FieldChoice FieldKind = "choice"
	FieldHidden FieldKind = "hidden"
)

// Section names a part of the strategic brief. Input fields are grouped into
// the first three; research feeds the last.
type Section string

const (
	SectionAudience    Section = "audience_context"
	SectionCounterpart Section = "counterpart_intelligence"
	SectionDirectives  Section = "user_directives"
	SectionResearch    Section = "research_findings"
)

// BriefKey is the placeholder that expands to the whole rendered brief.
const BriefKey = "brief"

// Sections lists brief sections in render order.
var Sections = []Section{SectionAudience, SectionCounterpart, SectionDirectives, SectionResearch}

func (s Section) Valid() bool {
	for _, v := range Sections {
		if v == s {
			return true
		}
	}
	return false
}

func (s Section) Title() string {
	switch s {
	case SectionAudience:
		return "Audience context"
	case SectionCounterpart:
		return "Counterpart intelligence"
	case SectionDirectives:
		return "User directives"
	case SectionResearch:
		return "Research findings"
	default:
		return strings.ReplaceAll(string(s), "_", " ")
	}
}

type OutputKind string

const (
	OutputText OutputKind = "text"
	OutputJSON OutputKind = "json"
)

type Definition struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Kind        Kind              `yaml:"kind" json:"kind"`
	Description string            `yaml:"description" json:"description,omitempty"`
	Constants   map[string]string `yaml:"constants" json:"-"`
	Inputs      InputSchema       `yaml:"inputs" json:"inputs"`
	Pipeline    PipelineConfig    `yaml:"pipeline" json:"pipeline"`
	Assistant   AssistantProfile  `yaml:"assistant" json:"-"`
	Analysis    AnalysisConfig    `yaml:"analysis" json:"analysis"`
}

type InputSchema struct {
	Fields []InputField `yaml:"fields" json:"fields"`
}

type InputField struct {
	Name     string    `yaml:"name" json:"name"`
	Label    string    `yaml:"label" json:"label"`
	Kind     FieldKind `yaml:"kind" json:"kind"`
	Required bool      `yaml:"required" json:"required"`
	Options  []string  `yaml:"options" json:"options,omitempty"`
	Section  Section   `yaml:"section" json:"section,omitempty"`
	// Phrase is the sentence pattern used in the brief; %s is the value.
	Phrase  string `yaml:"phrase" json:"-"`
	Default string `yaml:"default" json:"default,omitempty"`
}

type PipelineConfig struct {
	Research      bool         `yaml:"research" json:"research"`
	ResearchQuery string       `yaml:"research_query" json:"-"`
	PageShape     string       `yaml:"page_shape" json:"page_shape"`
	Tasks         []TaskConfig `yaml:"tasks" json:"tasks"`
}

type TaskConfig struct {
	Category    string         `yaml:"category" json:"category"`
	Title       string         `yaml:"title" json:"title"`
	Required    bool           `yaml:"required" json:"required"`
	System      string         `yaml:"system" json:"-"`
	Prompt      string         `yaml:"prompt" json:"-"`
	Output      OutputKind     `yaml:"output" json:"output"`
	Schema      map[string]any `yaml:"schema" json:"-"`
	Temperature float64        `yaml:"temperature" json:"-"`
}

type AssistantProfile struct {
	Openings         []string           `yaml:"openings" json:"openings"`
	Prompt           string             `yaml:"prompt" json:"-"`
	Temperature      float64            `yaml:"temperature" json:"temperature"`
	Interruption     InterruptionPolicy `yaml:"interruption" json:"interruption"`
	TimeLimitSeconds int                `yaml:"time_limit_seconds" json:"time_limit_seconds"`
}

type InterruptionPolicy struct {
	CanInterrupt bool `yaml:"can_interrupt" json:"can_interrupt"`
	ThresholdMS  int  `yaml:"threshold_ms" json:"threshold_ms"`
}

type AnalysisConfig struct {
	TaxonomyVersion string          `yaml:"taxonomy_version" json:"taxonomy_version"`
	ScoreMin        float64         `yaml:"score_min" json:"score_min"`
	ScoreMax        float64         `yaml:"score_max" json:"score_max"`
	ContextWindow   int             `yaml:"context_window" json:"-"`
	Techniques      []Technique     `yaml:"techniques" json:"techniques"`
	Categories      []ScoreCategory `yaml:"categories" json:"categories"`
	Prompt          string          `yaml:"prompt" json:"-"`
	Feedback        string          `yaml:"feedback" json:"-"`
}

type Technique struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Criteria     string `yaml:"criteria" json:"criteria"`
	Precondition string `yaml:"precondition" json:"precondition,omitempty"`
}

type ScoreCategory struct {
	Name        string             `yaml:"name" json:"name"`
	Description string             `yaml:"description" json:"description"`
	Techniques  []string           `yaml:"techniques" json:"techniques"`
	Weights     map[string]float64 `yaml:"weights" json:"weights,omitempty"`
	Scale       float64            `yaml:"scale" json:"scale"`
	Floor       float64            `yaml:"floor" json:"floor"`
}

func (d *Definition) Field(name string) (InputField, bool) {
	for _, f := range d.Inputs.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return InputField{}, false
}

func (d *Definition) Task(category string) (TaskConfig, bool) {
	for _, t := range d.Pipeline.Tasks {
		if t.Category == category {
			return t, true
		}
	}
	return TaskConfig{}, false
}

// TechniqueIndex maps technique id to its position in the taxonomy.
func (a AnalysisConfig) TechniqueIndex() map[string]int {
	out := make(map[string]int, len(a.Techniques))
	for i, t := range a.Techniques {
		out[t.ID] = i
	}
	return out
}

func (a AnalysisConfig) Technique(id string) (Technique, bool) {
	for _, t := range a.Techniques {
		if t.ID == id {
			return t, true
		}
	}
	return Technique{}, false
}

// Weight returns the category weight for a technique, 1 when unset.
func (c ScoreCategory) Weight(techniqueID string) float64 {
	if w, ok := c.Weights[techniqueID]; ok && w > 0 {
		return w
	}
	return 1
}

func (c ScoreCategory) Includes(techniqueID string) bool {
	for _, id := range c.Techniques {
		if id == techniqueID {
			return true
		}
	}
	return false
}
