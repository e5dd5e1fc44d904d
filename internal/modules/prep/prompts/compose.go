package prompts

import (
	"bytes"
	"fmt"

	"github.com/yungbote/sparring-backend/internal/domain/prep"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
)

// Values is everything a placeholder may resolve against.
type Values struct {
	Brief     *prep.StrategicBrief
	Raw       map[string]string
	Runtime   map[string]string
	Constants map[string]string
	Defaults  map[string]string
}

// ValuesFor fills Constants and Defaults from the scenario.
func ValuesFor(def *scenario.Definition, brief *prep.StrategicBrief, raw, runtime map[string]string) Values {
	defaults := map[string]string{}
	for _, f := range def.Inputs.Fields {
		if f.Default != "" {
			defaults[f.Name] = f.Default
		}
	}
	return Values{
		Brief:     brief,
		Raw:       raw,
		Runtime:   runtime,
		Constants: def.Constants,
		Defaults:  defaults,
	}
}

// Resolve looks a key up in precedence order: brief section, raw input,
// then runtime values, constants and field defaults.
func (v Values) Resolve(key string) (string, bool) {
	if key == scenario.BriefKey {
		if r := v.Brief.Render(); r != "" {
			return r, true
		}
	} else if s := scenario.Section(key); s.Valid() {
		if text, ok := v.Brief.Section(s); ok {
			return text, true
		}
	}
	if raw, ok := v.Raw[key]; ok && !prep.Absent(raw) {
		return raw, true
	}
	if val, ok := v.Runtime[key]; ok {
		return val, true
	}
	if val, ok := v.Constants[key]; ok {
		return val, true
	}
	if val, ok := v.Defaults[key]; ok {
		return val, true
	}
	return "", false
}

type Resolved struct {
	Name string
	Text string
}

// Compose fills every placeholder or fails with a CompositionError naming
// the first unresolved key. It never calls a model.
func Compose(name, text string, vals Values) (Resolved, error) {
	t, err := Parse(name, text)
	if err != nil {
		return Resolved{}, err
	}
	return t.Compose(vals)
}

func (t *Template) Compose(vals Values) (Resolved, error) {
	data := make(map[string]string, len(t.keys))
	for _, k := range t.keys {
		val, ok := vals.Resolve(k)
		if !ok {
			return Resolved{}, &pkgerrors.CompositionError{Template: t.Name, Key: k}
		}
		data[k] = val
	}
	var b bytes.Buffer
	if err := t.tpl.Execute(&b, data); err != nil {
		return Resolved{}, fmt.Errorf("%s execute: %w", t.Name, err)
	}
	return Resolved{Name: t.Name, Text: trimBlankLines(b.String())}, nil
}
