// Package skills loads YAML skill definitions: named bundles of a system
// prompt, an allowed-tool list, and usage examples that can be activated
// for an agent turn to narrow its behavior to one task.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Example shows one sample invocation of a skill.
type Example struct {
	Input       string `yaml:"input"`
	Description string `yaml:"description,omitempty"`
}

// Definition is one skill loaded from a YAML file.
type Definition struct {
	Name         string    `yaml:"name"`
	Description  string    `yaml:"description"`
	SystemPrompt string    `yaml:"system_prompt,omitempty"`
	Tools        []string  `yaml:"tools,omitempty"`
	Tags         []string  `yaml:"tags,omitempty"`
	Examples     []Example `yaml:"examples,omitempty"`

	// FilePath is the source file this definition was loaded from; not
	// part of the YAML itself.
	FilePath string `yaml:"-"`
}

// LoadFromFile parses one skill definition from a YAML file at path.
func LoadFromFile(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read skill file %s: %w", path, err)
	}
	var def Definition
	if err := yaml.Unmarshal(content, &def); err != nil {
		return Definition{}, fmt.Errorf("parse skill file %s: %w", path, err)
	}
	def.FilePath = path
	return def, nil
}

// LoadDir loads every *.yaml/*.yml file directly under dir as a skill
// definition. A file that fails to parse is skipped with its error
// returned alongside the rest, so one malformed skill file doesn't take
// down the whole set.
func LoadDir(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read skills dir %s: %w", dir, err)
	}

	var defs []Definition
	var errs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		def, err := LoadFromFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		defs = append(defs, def)
	}
	if len(errs) > 0 {
		return defs, fmt.Errorf("skill load errors: %s", strings.Join(errs, "; "))
	}
	return defs, nil
}

// Registry indexes loaded skill definitions by name for lookup by the
// skills.list/skills.get gateway methods.
type Registry struct {
	byName map[string]Definition
}

// NewRegistry builds a Registry from a slice of definitions, keyed by name.
// A later duplicate name overwrites an earlier one.
func NewRegistry(defs []Definition) *Registry {
	r := &Registry{byName: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		r.byName[d.Name] = d
	}
	return r
}

// Get returns the named skill and whether it was found.
func (r *Registry) Get(name string) (Definition, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// List returns every loaded skill definition, in no particular order.
func (r *Registry) List() []Definition {
	out := make([]Definition, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	return out
}

// ToolsAllowed reports whether toolName may run while skill is active.
// A skill with an empty Tools list places no restriction.
func (d Definition) ToolsAllowed(toolName string) bool {
	if len(d.Tools) == 0 {
		return true
	}
	for _, t := range d.Tools {
		if t == toolName {
			return true
		}
	}
	return false
}
