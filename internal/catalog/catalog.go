// Package catalog loads scenario documents, validates them against the
// scenario schema and resolves their element targets through a locator set.
package catalog

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/gotrs-io/recipe-e2e/internal/locators"
	"github.com/gotrs-io/recipe-e2e/internal/scenario"
)

// ErrNotFound is returned for an unknown scenario id.
var ErrNotFound = errors.New("scenario not found")

//go:embed schema.json
var schemaJSON []byte

//go:embed scenarios/*.yaml
var builtinFS embed.FS

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return schema, schemaErr
}

// Issue is one problem found in a scenario document.
type Issue struct {
	Source  string `json:"source"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return fmt.Sprintf("%s: %s", i.Source, i.Message)
	}
	return fmt.Sprintf("%s: %s: %s", i.Source, i.Field, i.Message)
}

// ValidationError collects every issue found while loading documents.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	lines := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		lines = append(lines, i.String())
	}
	return fmt.Sprintf("%d invalid scenario document(s):\n  %s", len(e.Issues), strings.Join(lines, "\n  "))
}

// Catalog is an ordered, id-indexed set of runnable scenarios.
type Catalog struct {
	resolver  locators.Resolver
	scenarios map[string]scenario.Scenario
	sources   map[string]string
}

// New returns an empty catalog resolving targets through resolver.
func New(resolver locators.Resolver) *Catalog {
	return &Catalog{
		resolver:  resolver,
		scenarios: make(map[string]scenario.Scenario),
		sources:   make(map[string]string),
	}
}

// Load returns the built-in scenarios plus every document found in dirs. A
// document whose id matches an existing scenario replaces it.
func Load(resolver locators.Resolver, dirs ...string) (*Catalog, error) {
	c := New(resolver)
	var issues []Issue
	entries, err := fs.Glob(builtinFS, "scenarios/*.yaml")
	if err != nil {
		return nil, err
	}
	for _, name := range entries {
		data, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded scenario %s: %w", name, err)
		}
		issues = append(issues, c.Add("builtin:"+path.Base(name), data)...)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		dirIssues, err := c.AddDir(dir)
		if err != nil {
			return nil, err
		}
		issues = append(issues, dirIssues...)
	}
	if len(issues) > 0 {
		return c, &ValidationError{Issues: issues}
	}
	return c, nil
}

// AddDir adds every .yaml/.yml document in dir.
func (c *Catalog) AddDir(dir string) ([]Issue, error) {
	files, err := documentFiles(dir)
	if err != nil {
		return nil, err
	}
	var issues []Issue
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read scenario %s: %w", f, err)
		}
		issues = append(issues, c.Add(f, data)...)
	}
	return issues, nil
}

// Add validates one document and, when it has no issues, stores it.
func (c *Catalog) Add(source string, data []byte) []Issue {
	sc, issues := Parse(c.resolver, source, data)
	if len(issues) > 0 {
		return issues
	}
	c.scenarios[sc.ID] = sc
	c.sources[sc.ID] = source
	return nil
}

// List returns every scenario ordered by id.
func (c *Catalog) List() []scenario.Scenario {
	ids := make([]string, 0, len(c.scenarios))
	for id := range c.scenarios {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]scenario.Scenario, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.scenarios[id])
	}
	return out
}

// Len returns the number of scenarios.
func (c *Catalog) Len() int { return len(c.scenarios) }

// Get returns the scenario with id.
func (c *Catalog) Get(id string) (scenario.Scenario, error) {
	sc, ok := c.scenarios[id]
	if !ok {
		return scenario.Scenario{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sc, nil
}

// Source returns where the scenario with id was loaded from.
func (c *Catalog) Source(id string) string { return c.sources[id] }

// Filter selects scenarios by id and tag. With no ids every scenario is a
// candidate; with tags a candidate must carry at least one of them. Unknown
// ids are an error. The result is ordered by id.
func (c *Catalog) Filter(ids, tags []string) ([]scenario.Scenario, error) {
	var candidates []scenario.Scenario
	if len(ids) == 0 {
		candidates = c.List()
	} else {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			sc, err := c.Get(id)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, sc)
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	}
	if len(tags) == 0 {
		return candidates, nil
	}
	out := candidates[:0:0]
	for _, sc := range candidates {
		for _, t := range tags {
			if sc.HasTag(t) {
				out = append(out, sc)
				break
			}
		}
	}
	return out, nil
}

// Parse checks a document against the scenario schema, decodes it and
// resolves its targets. The returned issues cover every failed check.
func Parse(resolver locators.Resolver, source string, data []byte) (scenario.Scenario, []Issue) {
	var sc scenario.Scenario
	issues := ValidateDocument(source, data)
	if len(issues) > 0 {
		return sc, issues
	}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return sc, []Issue{{Source: source, Message: err.Error()}}
	}
	for i := range sc.Steps {
		st := &sc.Steps[i]
		if !st.Action.NeedsTarget() {
			continue
		}
		loc, err := resolver.Resolve(st.Target)
		if err != nil {
			issues = append(issues, Issue{
				Source:  source,
				Field:   fmt.Sprintf("steps.%d.target", i),
				Message: err.Error(),
			})
			continue
		}
		st.Locator = loc
	}
	if len(issues) > 0 {
		return sc, issues
	}
	if err := sc.Validate(); err != nil {
		return sc, []Issue{{Source: source, Message: err.Error()}}
	}
	return sc, nil
}

// ValidateDocument checks a YAML document against the scenario schema only.
func ValidateDocument(source string, data []byte) []Issue {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return []Issue{{Source: source, Message: fmt.Sprintf("invalid YAML: %v", err)}}
	}
	if doc == nil {
		return []Issue{{Source: source, Message: "empty document"}}
	}
	s, err := compiledSchema()
	if err != nil {
		return []Issue{{Source: source, Message: fmt.Sprintf("scenario schema: %v", err)}}
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return []Issue{{Source: source, Message: fmt.Sprintf("validation error: %v", err)}}
	}
	var issues []Issue
	for _, re := range result.Errors() {
		issues = append(issues, Issue{Source: source, Field: re.Field(), Message: re.Description()})
	}
	return issues
}

func documentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
