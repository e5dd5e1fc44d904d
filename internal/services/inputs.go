package services

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/yungbote/sparring-backend/internal/domain/prep"
	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
)

const maxSources = 8

// NormalizeInputs checks raw form values against the scenario's input
// schema. Values are trimmed, choice values are matched case-insensitively
// to their canonical option and hidden fields always take their default.
// Every problem is reported in one ErrInvalidArgument.
func NormalizeInputs(def *scenario.Definition, raw map[string]string) (map[string]string, error) {
	var problems []string
	known := map[string]bool{}
	out := map[string]string{}

	for _, f := range def.Inputs.Fields {
		known[f.Name] = true
		if f.Kind == scenario.FieldHidden {
			if f.Default != "" {
				out[f.Name] = f.Default
			}
			continue
		}
		v := strings.TrimSpace(raw[f.Name])
		if prep.Absent(v) {
			if f.Required {
				problems = append(problems, fmt.Sprintf("%s is required", f.Name))
			}
			continue
		}
		if f.Kind == scenario.FieldChoice {
			canon, ok := matchOption(f.Options, v)
			if !ok {
				problems = append(problems, fmt.Sprintf("%s must be one of %s", f.Name, strings.Join(f.Options, ", ")))
				continue
			}
			v = canon
		}
		out[f.Name] = v
	}

	var unknown []string
	for k := range raw {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		problems = append(problems, fmt.Sprintf("unknown field %s", k))
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrInvalidArgument, strings.Join(problems, "; "))
	}
	return out, nil
}

func matchOption(options []string, v string) (string, bool) {
	for _, o := range options {
		if strings.EqualFold(o, v) {
			return o, true
		}
	}
	return "", false
}

// NormalizeSources trims and dedupes research links; each must be an
// absolute http(s) URL.
func NormalizeSources(raw []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		u, err := url.Parse(s)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("%w: source %q is not an http(s) URL", pkgerrors.ErrInvalidArgument, s)
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) > maxSources {
		return nil, fmt.Errorf("%w: at most %d sources", pkgerrors.ErrInvalidArgument, maxSources)
	}
	return out, nil
}
