package scenario

// Clone returns a deep copy so a caller cannot reach the registry's data.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	out := *d
	out.Constants = cloneStrings(d.Constants)

	out.Inputs.Fields = make([]InputField, len(d.Inputs.Fields))
	for i, f := range d.Inputs.Fields {
		f.Options = append([]string(nil), f.Options...)
		out.Inputs.Fields[i] = f
	}

	out.Pipeline.Tasks = make([]TaskConfig, len(d.Pipeline.Tasks))
	for i, t := range d.Pipeline.Tasks {
		t.Schema = cloneAny(t.Schema)
		out.Pipeline.Tasks[i] = t
	}

	out.Assistant.Openings = append([]string(nil), d.Assistant.Openings...)

	out.Analysis.Techniques = append([]Technique(nil), d.Analysis.Techniques...)
	out.Analysis.Categories = make([]ScoreCategory, len(d.Analysis.Categories))
	for i, c := range d.Analysis.Categories {
		c.Techniques = append([]string(nil), c.Techniques...)
		if c.Weights != nil {
			w := make(map[string]float64, len(c.Weights))
			for k, v := range c.Weights {
				w[k] = v
			}
			c.Weights = w
		}
		out.Analysis.Categories[i] = c
	}
	return &out
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneAny(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneAny(t)
	case []any:
		s := make([]any, len(t))
		for i := range t {
			s[i] = cloneValue(t[i])
		}
		return s
	default:
		return v
	}
}
