// Package render expands build definition templates before they are parsed.
//
// Build definitions are plain text/template documents. Besides the usual
// template actions they can call a small set of helpers, most notably now,
// which formats the current time with strftime directives and optional
// offsets:
//
//	ami_name: "web-{{ now "utc" "%Y%m%d-%H%M" }}"
//	expires:  "{{ now "utc + days=30" }}"
//
// Variables referenced as .Vars.name render empty when unset, so they can
// be passed to default and required. The var helper fails on unset names.
package render

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"
	"text/template/parse"
	"time"
)

// Data is the value templates are executed against.
type Data struct {
	Vars map[string]string
	Env  map[string]string
}

// Renderer renders build definition templates.
type Renderer struct {
	clock func() time.Time
	env   map[string]string
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithClock overrides the time source used by now and timestamp.
func WithClock(clock func() time.Time) Option {
	return func(r *Renderer) {
		r.clock = clock
	}
}

// WithEnv replaces the process environment visible to templates.
func WithEnv(env map[string]string) Option {
	return func(r *Renderer) {
		r.env = env
	}
}

// NewRenderer creates a renderer using the real clock and process environment.
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.env == nil {
		r.env = environMap(os.Environ())
	}
	return r
}

// Render executes source as a template named name.
func (r *Renderer) Render(name, source string, vars map[string]string) (string, error) {
	if vars == nil {
		vars = map[string]string{}
	}

	tmpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(r.funcs(vars)).
		Parse(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	data := Data{Vars: withReferenced(tmpl, vars), Env: r.env}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}

	return buf.String(), nil
}

// RenderFile reads path and renders it.
func (r *Renderer) RenderFile(path string, vars map[string]string) (string, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return r.Render(path, string(source), vars)
}

// withReferenced returns vars plus an empty value for every .Vars key the
// template looks up that is not set. Other map lookups stay strict.
func withReferenced(tmpl *template.Template, vars map[string]string) map[string]string {
	data := make(map[string]string, len(vars))
	for k, v := range vars {
		data[k] = v
	}
	for _, t := range tmpl.Templates() {
		if t.Tree == nil {
			continue
		}
		walkVarRefs(t.Tree.Root, func(name string) {
			if _, ok := data[name]; !ok {
				data[name] = ""
			}
		})
	}
	return data
}

// walkVarRefs calls fn with the key of every .Vars.<key> and $.Vars.<key>
// reference below n.
func walkVarRefs(n parse.Node, fn func(string)) {
	branch := func(b *parse.BranchNode) {
		walkVarRefs(b.Pipe, fn)
		walkVarRefs(b.List, fn)
		walkVarRefs(b.ElseList, fn)
	}

	switch n := n.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			walkVarRefs(c, fn)
		}
	case *parse.ActionNode:
		walkVarRefs(n.Pipe, fn)
	case *parse.IfNode:
		branch(&n.BranchNode)
	case *parse.RangeNode:
		branch(&n.BranchNode)
	case *parse.WithNode:
		branch(&n.BranchNode)
	case *parse.TemplateNode:
		walkVarRefs(n.Pipe, fn)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, c := range n.Cmds {
			walkVarRefs(c, fn)
		}
	case *parse.CommandNode:
		for _, a := range n.Args {
			walkVarRefs(a, fn)
		}
	case *parse.ChainNode:
		walkVarRefs(n.Node, fn)
	case *parse.FieldNode:
		if len(n.Ident) >= 2 && n.Ident[0] == "Vars" {
			fn(n.Ident[1])
		}
	case *parse.VariableNode:
		if len(n.Ident) >= 3 && n.Ident[0] == "$" && n.Ident[1] == "Vars" {
			fn(n.Ident[2])
		}
	}
}

// VarNames returns the sorted variable names, used in error messages.
func VarNames(vars map[string]string) []string {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func environMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
