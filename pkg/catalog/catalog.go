// Package catalog holds the per-(provider, model) descriptors and generation
// defaults. A built-in catalog is embedded; deployments can layer a YAML file
// on top of it.
package catalog

import (
	_ "embed"
	"fmt"
	"maps"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/germanamz/promptlab/pkg/apperr"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/modeladapter"
	"github.com/germanamz/promptlab/pkg/providers/provider"
)

//go:embed models.yaml
var builtin []byte

// Entry describes one selectable model.
type Entry struct {
	Name          string         `yaml:"name"`
	DisplayName   string         `yaml:"display_name"`
	Description   string         `yaml:"description"`
	Category      string         `yaml:"category"`
	ContextLength int            `yaml:"context_length"`
	Parameters    map[string]any `yaml:"parameters"`
}

// Group is the catalog section for one provider.
type Group struct {
	DisplayName string  `yaml:"display_name"`
	Description string  `yaml:"description"`
	Models      []Entry `yaml:"models"`
}

// Catalog maps providers to their model entries. It is immutable after
// construction and safe for concurrent use.
type Catalog struct {
	groups map[provider.ID]Group
}

var builtinOnce = sync.OnceValues(func() (*Catalog, error) {
	return Parse(builtin)
})

// Builtin returns the embedded catalog.
func Builtin() *Catalog {
	c, err := builtinOnce()
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded models.yaml is invalid: %v", err))
	}
	return c
}

// Parse decodes a YAML catalog. Provider keys must be known providers and
// every parameter map must decode into a valid GenerationConfig.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string]Group
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apperr.Configuration("catalog: parse: %v", err)
	}

	c := &Catalog{groups: make(map[provider.ID]Group, len(raw))}
	for key, g := range raw {
		id, err := provider.Parse(key)
		if err != nil {
			return nil, err
		}
		for _, e := range g.Models {
			if e.Name == "" {
				return nil, apperr.Configuration("catalog: %s: model without name", id)
			}
			if _, err := entryConfig(e); err != nil {
				return nil, apperr.Configuration("catalog: %s/%s: %v", id, e.Name, err)
			}
		}
		c.groups[id] = g
	}

	return c, nil
}

// LoadFile reads a catalog file from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Configuration("catalog: read %s: %v", path, err)
	}
	return Parse(data)
}

// Merge returns a new catalog with other layered over c. Entries with the
// same name are replaced; new ones are appended. Group descriptors from other
// win when set.
func (c *Catalog) Merge(other *Catalog) *Catalog {
	out := &Catalog{groups: maps.Clone(c.groups)}
	if other == nil {
		return out
	}

	for id, og := range other.groups {
		g, ok := out.groups[id]
		if !ok {
			out.groups[id] = og
			continue
		}

		if og.DisplayName != "" {
			g.DisplayName = og.DisplayName
		}
		if og.Description != "" {
			g.Description = og.Description
		}

		models := append([]Entry(nil), g.Models...)
		for _, e := range og.Models {
			replaced := false
			for i := range models {
				if models[i].Name == e.Name {
					models[i] = e
					replaced = true
					break
				}
			}
			if !replaced {
				models = append(models, e)
			}
		}
		g.Models = models
		out.groups[id] = g
	}

	return out
}

// Providers returns the providers that have catalog entries, in
// provider.All order.
func (c *Catalog) Providers() []provider.ID {
	var out []provider.ID
	for _, id := range provider.All() {
		if _, ok := c.groups[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Group returns the section for p.
func (c *Catalog) Group(p provider.ID) (Group, bool) {
	g, ok := c.groups[p]
	return g, ok
}

// Lookup finds the entry for model. Exact names match first; a tagged local
// model such as "qwen2.5:7b", or the bare family "qwen2.5", then falls back to
// an entry of the same family ("qwen2.5:latest"). "qwen2.5-coder:7b" is a
// different family and does not.
func (c *Catalog) Lookup(p provider.ID, model string) (Entry, bool) {
	g, ok := c.groups[p]
	if !ok {
		return Entry{}, false
	}

	for _, e := range g.Models {
		if e.Name == model {
			return e.clone(), true
		}
	}

	for _, e := range g.Models {
		family, _, tagged := strings.Cut(e.Name, ":")
		if tagged && sameFamily(model, family) {
			return e.clone(), true
		}
	}

	return Entry{}, false
}

func sameFamily(model, family string) bool {
	return model == family || strings.HasPrefix(model, family+":")
}

// Defaults returns the catalog generation defaults for (p, model). Unknown
// models yield an empty config, leaving the global defaults in charge.
func (c *Catalog) Defaults(p provider.ID, model string) genconfig.GenerationConfig {
	e, ok := c.Lookup(p, model)
	if !ok {
		return genconfig.GenerationConfig{}
	}
	cfg, _ := entryConfig(e) // validated in Parse
	return cfg
}

// Models returns the entries for p as ModelInfo values. Availability is left
// false; only a live listing can establish it.
func (c *Catalog) Models(p provider.ID) []modeladapter.ModelInfo {
	g, ok := c.groups[p]
	if !ok {
		return nil
	}

	out := make([]modeladapter.ModelInfo, 0, len(g.Models))
	for _, e := range g.Models {
		out = append(out, e.Info(p))
	}
	return out
}

// DefaultModel returns the first catalog entry for p.
func (c *Catalog) DefaultModel(p provider.ID) (string, bool) {
	g, ok := c.groups[p]
	if !ok || len(g.Models) == 0 {
		return "", false
	}
	return g.Models[0].Name, true
}

// Info converts e into a ModelInfo for provider p.
func (e Entry) Info(p provider.ID) modeladapter.ModelInfo {
	name := e.DisplayName
	if name == "" {
		name = e.Name
	}
	return modeladapter.ModelInfo{
		Name:          e.Name,
		DisplayName:   name,
		Provider:      p,
		Description:   e.Description,
		Category:      e.Category,
		ContextLength: e.ContextLength,
		Parameters:    maps.Clone(e.Parameters),
	}
}

func (e Entry) clone() Entry {
	e.Parameters = maps.Clone(e.Parameters)
	return e
}

func entryConfig(e Entry) (genconfig.GenerationConfig, error) {
	cfg, err := genconfig.FromMap(e.Parameters)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate(genconfig.DefaultLimits)
}
