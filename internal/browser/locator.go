package browser

import (
	"context"
	"fmt"
	"strings"
)

// LocatorKind selects the selector engine used to resolve a Locator.
type LocatorKind string

const (
	KindXPath LocatorKind = "xpath"
	KindText  LocatorKind = "text"
	KindCSS   LocatorKind = "css"
)

// Locator describes how to find elements in a rendered document.
type Locator struct {
	Kind  LocatorKind `json:"kind" yaml:"kind"`
	Value string      `json:"value" yaml:"value"`
}

// XPath returns a structural path locator.
func XPath(path string) Locator { return Locator{Kind: KindXPath, Value: path} }

// Text returns a locator matching elements whose text contains fragment.
func Text(fragment string) Locator { return Locator{Kind: KindText, Value: fragment} }

// CSS returns a CSS selector locator.
func CSS(selector string) Locator { return Locator{Kind: KindCSS, Value: selector} }

// ParseLocator parses the "engine=value" notation used in scenario files.
// A string without a known engine prefix is treated as a CSS selector.
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Locator{}, fmt.Errorf("empty locator")
	}
	for _, kind := range []LocatorKind{KindXPath, KindText, KindCSS} {
		prefix := string(kind) + "="
		if strings.HasPrefix(s, prefix) {
			v := strings.TrimSpace(strings.TrimPrefix(s, prefix))
			if v == "" {
				return Locator{}, fmt.Errorf("locator %q has no value", s)
			}
			return Locator{Kind: kind, Value: v}, nil
		}
	}
	return Locator{Kind: KindCSS, Value: s}, nil
}

// IsInline reports whether s carries an explicit engine prefix.
func IsInline(s string) bool {
	for _, kind := range []LocatorKind{KindXPath, KindText, KindCSS} {
		if strings.HasPrefix(strings.TrimSpace(s), string(kind)+"=") {
			return true
		}
	}
	return false
}

func (l Locator) String() string {
	return string(l.Kind) + "=" + l.Value
}

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool { return l.Value == "" }

// SelectNth checks that loc has a match at index and returns ErrElementNotFound
// otherwise. Drivers may auto-wait on actions; this check makes an empty match
// fail fast instead of yielding a dangling handle.
func SelectNth(ctx context.Context, p Page, loc Locator, index int) error {
	n, err := p.Count(ctx, loc)
	if err != nil {
		return err
	}
	if n <= index {
		return fmt.Errorf("%w: %s (index %d, %d matches)", ErrElementNotFound, loc, index, n)
	}
	return nil
}
