// Package templates renders the prompt templates used to optimize, evaluate
// and test prompts.
//
// Templates are markdown files rendered with text/template. A YAML registry
// lists the available types per category together with their default
// variables. Variables are merged in ascending priority: registry globals,
// type defaults, the caller's [Context], then per-category extras.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"maps"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/germanamz/promptlab/pkg/apperr"
)

//go:embed registry.yaml prompts
var builtinFS embed.FS

// Category groups template types.
type Category string

const (
	Optimization Category = "optimization"
	Evaluation   Category = "evaluation"
	Testing      Category = "testing"
)

// Categories returns every category in display order.
func Categories() []Category { return []Category{Optimization, Evaluation, Testing} }

// TypeInfo describes one template type.
type TypeInfo struct {
	Key              string         `yaml:"key" json:"key"`
	Name             string         `yaml:"name" json:"name"`
	Icon             string         `yaml:"icon" json:"icon"`
	Description      string         `yaml:"description" json:"description"`
	Template         string         `yaml:"template" json:"template"`
	DefaultVariables map[string]any `yaml:"default_variables" json:"-"`
}

// RoleSuggestion lists candidate personas for a content type.
type RoleSuggestion struct {
	SuggestedRoles []string `yaml:"suggested_roles" json:"suggested_roles"`
	Traits         []string `yaml:"traits" json:"traits"`
}

// DefaultRoleSuggestion is returned for content types without an entry.
var DefaultRoleSuggestion = RoleSuggestion{
	SuggestedRoles: []string{"通用专家"},
	Traits:         []string{"丰富的专业经验", "优秀的分析能力"},
}

type registry struct {
	Variables          map[string]any            `yaml:"variables"`
	Optimization       []TypeInfo                `yaml:"optimization"`
	Evaluation         []TypeInfo                `yaml:"evaluation"`
	Testing            []TypeInfo                `yaml:"testing"`
	EvaluationCriteria []string                  `yaml:"default_evaluation_criteria"`
	RoleSuggestions    map[string]RoleSuggestion `yaml:"role_suggestions"`
	OutputFormats      map[string]outputFormat   `yaml:"output_formats"`
}

type outputFormat struct {
	Example string `yaml:"example"`
}

func (r *registry) types(c Category) []TypeInfo {
	switch c {
	case Optimization:
		return r.Optimization
	case Evaluation:
		return r.Evaluation
	case Testing:
		return r.Testing
	}
	return nil
}

// Context carries the caller-supplied variables for one render. Empty
// fields are left out so they do not hide type defaults.
type Context struct {
	OriginalPrompt     string
	OptimizedPrompt    string
	TestContent        string
	CustomInstructions string
	Additional         map[string]any
}

func (c Context) toMap() map[string]any {
	m := make(map[string]any, 4+len(c.Additional))
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	put("original_prompt", c.OriginalPrompt)
	put("optimized_prompt", c.OptimizedPrompt)
	put("test_content", c.TestContent)
	put("custom_instructions", c.CustomInstructions)
	for k, v := range c.Additional {
		if v != nil {
			m[k] = v
		}
	}
	return m
}

// Store resolves and renders templates. It is immutable after construction
// and safe for concurrent use.
type Store struct {
	fsys fs.FS
	reg  registry
}

// New returns a Store over the embedded templates.
func New() (*Store, error) {
	return NewFS(builtinFS)
}

// NewFS returns a Store reading registry.yaml and prompts/ from fsys.
func NewFS(fsys fs.FS) (*Store, error) {
	data, err := fs.ReadFile(fsys, "registry.yaml")
	if err != nil {
		return nil, &apperr.TemplateError{Key: "registry.yaml", Msg: "read registry", Err: err}
	}

	var reg registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, &apperr.TemplateError{Key: "registry.yaml", Msg: "parse registry", Err: err}
	}

	return &Store{fsys: fsys, reg: reg}, nil
}

// SplitKey splits "category/type" into its parts.
func SplitKey(key string) (Category, string, error) {
	c, t, ok := strings.Cut(key, "/")
	if !ok || c == "" || t == "" {
		return "", "", &apperr.TemplateError{Key: key, Msg: `key must have the form "category/type"`}
	}
	return Category(c), t, nil
}

// Lookup returns the type registered under key ("category/type").
func (s *Store) Lookup(key string) (TypeInfo, error) {
	c, name, err := SplitKey(key)
	if err != nil {
		return TypeInfo{}, err
	}

	for _, t := range s.reg.types(c) {
		if t.Key == name {
			return t, nil
		}
	}

	return TypeInfo{}, &apperr.TemplateError{Key: key, Msg: "unknown template type"}
}

// Exists reports whether key names a registered type whose file is present.
func (s *Store) Exists(key string) bool {
	t, err := s.Lookup(key)
	if err != nil {
		return false
	}
	_, err = fs.Stat(s.fsys, "prompts/"+t.Template)
	return err == nil
}

// Get renders the template registered under key ("category/type") with ctx.
func (s *Store) Get(key string, ctx Context) (string, error) {
	t, err := s.Lookup(key)
	if err != nil {
		return "", err
	}

	c, name, _ := SplitKey(key)
	vars := s.variables(t, ctx, s.extras(c, name))

	src, err := fs.ReadFile(s.fsys, "prompts/"+t.Template)
	if err != nil {
		return "", &apperr.TemplateError{Key: key, Msg: "missing template file " + t.Template, Err: err}
	}

	tmpl, err := template.New(t.Template).Funcs(funcs).Parse(string(src))
	if err != nil {
		return "", &apperr.TemplateError{Key: key, Msg: "parse", Err: err}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", &apperr.TemplateError{Key: key, Msg: "render", Err: err}
	}

	return buf.String(), nil
}

var funcs = template.FuncMap{
	"add": func(a, b int) int { return a + b },
}

func (s *Store) extras(c Category, name string) map[string]any {
	switch c {
	case Optimization:
		return map[string]any{"optimization_type": name}
	case Evaluation:
		return map[string]any{"evaluation_type": name, "additional_criteria": s.reg.EvaluationCriteria}
	case Testing:
		return map[string]any{"testing_type": name}
	}
	return nil
}

func (s *Store) variables(t TypeInfo, ctx Context, extra map[string]any) map[string]any {
	vars := make(map[string]any)
	maps.Copy(vars, s.reg.Variables)
	maps.Copy(vars, t.DefaultVariables)
	maps.Copy(vars, ctx.toMap())
	maps.Copy(vars, extra)
	return vars
}

// Types lists the types of c in registry order.
func (s *Store) Types(c Category) []TypeInfo {
	ts := s.reg.types(c)
	out := make([]TypeInfo, len(ts))
	for i, t := range ts {
		t.DefaultVariables = maps.Clone(t.DefaultVariables)
		out[i] = t
	}
	return out
}

// All lists the types of every category.
func (s *Store) All() map[Category][]TypeInfo {
	out := make(map[Category][]TypeInfo, 3)
	for _, c := range Categories() {
		out[c] = s.Types(c)
	}
	return out
}

// RoleSuggestions returns the personas suggested for contentType.
func (s *Store) RoleSuggestions(contentType string) RoleSuggestion {
	if rs, ok := s.reg.RoleSuggestions[contentType]; ok {
		return rs
	}
	return DefaultRoleSuggestion
}

// OutputFormat returns the example for an output format, or "".
func (s *Store) OutputFormat(format string) string {
	return s.reg.OutputFormats[format].Example
}

// String implements fmt.Stringer for log output.
func (c Category) String() string { return string(c) }

// Key joins a category and type into a template key.
func Key(c Category, typ string) string { return fmt.Sprintf("%s/%s", c, typ) }
