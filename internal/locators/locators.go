// Package locators maps the logical element names used by scenarios to the
// concrete locators of one application revision. Swapping the set is how the
// suite follows a markup change without touching scenario files.
package locators

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gotrs-io/recipe-e2e/internal/browser"
)

// DefaultSet is the set built for the current Angular markup.
const DefaultSet = "angular-v1"

// ErrUnknownLocator is returned for a name the set does not define.
var ErrUnknownLocator = errors.New("unknown locator")

//go:embed sets/*.yaml
var builtinFS embed.FS

// Resolver turns a step target into a locator.
type Resolver interface {
	Resolve(ref string) (browser.Locator, error)
}

// Set is a named, versioned locator map.
type Set struct {
	Name        string            `yaml:"name"`
	App         string            `yaml:"app"`
	Version     string            `yaml:"version"`
	Description string            `yaml:"description"`
	Locators    map[string]string `yaml:"locators"`

	parsed map[string]browser.Locator
}

// Parse decodes and checks a set document.
func Parse(data []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse locator set: %w", err)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("locator set has no name")
	}
	if len(s.Locators) == 0 {
		return nil, fmt.Errorf("locator set %s defines no locators", s.Name)
	}
	s.parsed = make(map[string]browser.Locator, len(s.Locators))
	for name, raw := range s.Locators {
		if !browser.IsInline(raw) {
			return nil, fmt.Errorf("locator set %s: %s must use engine=value notation, got %q", s.Name, name, raw)
		}
		loc, err := browser.ParseLocator(raw)
		if err != nil {
			return nil, fmt.Errorf("locator set %s: %s: %w", s.Name, name, err)
		}
		s.parsed[name] = loc
	}
	return &s, nil
}

// LoadFile reads a set from disk.
func LoadFile(file string) (*Set, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read locator set: %w", err)
	}
	return Parse(data)
}

// Builtin returns one of the embedded sets by name.
func Builtin(name string) (*Set, error) {
	data, err := builtinFS.ReadFile(path.Join("sets", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("no built-in locator set %q (have %s)", name, strings.Join(BuiltinNames(), ", "))
	}
	return Parse(data)
}

// BuiltinNames lists the embedded sets.
func BuiltinNames() []string {
	entries, _ := builtinFS.ReadDir("sets")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Load returns the set from file when given, otherwise the named built-in.
func Load(name, file string) (*Set, error) {
	if file != "" {
		return LoadFile(file)
	}
	if name == "" {
		name = DefaultSet
	}
	return Builtin(name)
}

// Resolve accepts either an inline locator ("xpath=...", "text=...",
// "css=...") or a name defined by the set.
func (s *Set) Resolve(ref string) (browser.Locator, error) {
	if browser.IsInline(ref) {
		return browser.ParseLocator(ref)
	}
	loc, ok := s.parsed[ref]
	if !ok {
		return browser.Locator{}, fmt.Errorf("%w %q in set %s", ErrUnknownLocator, ref, s.Name)
	}
	return loc, nil
}

// Names returns the defined names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.parsed))
	for n := range s.parsed {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
