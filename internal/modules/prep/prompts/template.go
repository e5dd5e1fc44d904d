package prompts

import (
	"fmt"
	"strings"
	"text/template"
	"text/template/parse"
)

// Template is a parsed scenario prompt. Placeholders use the {{.key}} form.
type Template struct {
	Name string
	tpl  *template.Template
	keys []string
}

func Parse(name, text string) (*Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%s template parse: %w", name, err)
	}
	return &Template{Name: name, tpl: t, keys: collectKeys(t)}, nil
}

// Placeholders lists the keys the template references, in first-use order.
func (t *Template) Placeholders() []string {
	return append([]string(nil), t.keys...)
}

// Placeholders parses text and returns its keys.
func Placeholders(text string) ([]string, error) {
	t, err := Parse("placeholders", text)
	if err != nil {
		return nil, err
	}
	return t.keys, nil
}

func collectKeys(t *template.Template) []string {
	seen := map[string]bool{}
	var keys []string
	add := func(k string) {
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}
	for _, tt := range t.Templates() {
		if tt.Tree == nil || tt.Tree.Root == nil {
			continue
		}
		walk(tt.Tree.Root, add)
	}
	return keys
}

func walk(n parse.Node, add func(string)) {
	switch x := n.(type) {
	case nil:
		return
	case *parse.ListNode:
		if x == nil {
			return
		}
		for _, c := range x.Nodes {
			walk(c, add)
		}
	case *parse.ActionNode:
		walk(x.Pipe, add)
	case *parse.PipeNode:
		if x == nil {
			return
		}
		for _, c := range x.Cmds {
			walk(c, add)
		}
	case *parse.CommandNode:
		for _, a := range x.Args {
			walk(a, add)
		}
	case *parse.FieldNode:
		if len(x.Ident) > 0 {
			add(x.Ident[0])
		}
	case *parse.ChainNode:
		walk(x.Node, add)
	case *parse.IfNode:
		walk(x.Pipe, add)
		walk(x.List, add)
		walk(x.ElseList, add)
	case *parse.RangeNode:
		walk(x.Pipe, add)
		walk(x.List, add)
		walk(x.ElseList, add)
	case *parse.WithNode:
		walk(x.Pipe, add)
		walk(x.List, add)
		walk(x.ElseList, add)
	case *parse.TemplateNode:
		walk(x.Pipe, add)
	}
}

func trimBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := 0
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, strings.TrimRight(l, " \t"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
