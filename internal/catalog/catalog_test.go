package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/recipe-e2e/internal/browser"
	"github.com/gotrs-io/recipe-e2e/internal/locators"
	"github.com/gotrs-io/recipe-e2e/internal/scenario"
)

func defaultSet(t *testing.T) *locators.Set {
	t.Helper()
	set, err := locators.Builtin(locators.DefaultSet)
	require.NoError(t, err)
	return set
}

func TestLoadBuiltin(t *testing.T) {
	c, err := Load(defaultSet(t))
	require.NoError(t, err)

	t.Run("every recorded test case is present", func(t *testing.T) {
		want := []string{"TC001", "TC003", "TC004", "TC005", "TC006", "TC007", "TC008", "TC010", "TC013", "TC014", "TC015"}
		var got []string
		for _, sc := range c.List() {
			got = append(got, sc.ID)
		}
		assert.Equal(t, want, got)
	})

	t.Run("element steps carry resolved locators", func(t *testing.T) {
		for _, sc := range c.List() {
			require.NoError(t, sc.Validate(), sc.ID)
			for i, st := range sc.Steps {
				if st.Action.NeedsTarget() {
					assert.Equal(t, browser.KindXPath, st.Locator.Kind, "%s step %d", sc.ID, i+1)
				}
			}
		}
	})

	t.Run("search scenario matches the recorded flow", func(t *testing.T) {
		sc, err := c.Get("TC006")
		require.NoError(t, err)
		require.Len(t, sc.Steps, 5)
		assert.Equal(t, scenario.ActionClick, sc.Steps[0].Action)
		assert.Equal(t, "welcome.get_started", sc.Steps[0].Target)
		assert.Equal(t, scenario.ActionScrollPage, sc.Steps[1].Action)
		assert.Equal(t, "rice, tomato, onion", sc.Steps[2].Value)
		assert.Equal(t, "20", sc.Steps[3].Value)
		assert.Equal(t, "create.generate", sc.Steps[4].Target)

		var texts []string
		for _, a := range sc.Assertions {
			texts = append(texts, a.Text)
			assert.Equal(t, 30*time.Second, a.Timeout)
		}
		assert.Equal(t, []string{"Tomato Pulao", "Onion Tomato Rice Bowl", "Veg Biryani"}, texts)
	})

	t.Run("pause and viewport steps decode", func(t *testing.T) {
		sc, err := c.Get("TC001")
		require.NoError(t, err)
		assert.Equal(t, scenario.ActionPause, sc.Steps[7].Action)
		assert.Equal(t, 3*time.Second, sc.Steps[7].Delay)

		sc, err = c.Get("TC014")
		require.NoError(t, err)
		last := sc.Steps[len(sc.Steps)-1]
		require.NotNil(t, last.Size)
		assert.Equal(t, browser.Size{Width: 390, Height: 844}, *last.Size)
		require.NotNil(t, sc.Viewport)
		assert.Equal(t, 1280, sc.Viewport.Width)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := c.Get("TC999")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestFilter(t *testing.T) {
	c, err := Load(defaultSet(t))
	require.NoError(t, err)

	t.Run("ids are deduplicated and ordered", func(t *testing.T) {
		got, err := c.Filter([]string{"TC010", "TC006", "TC010"}, nil)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "TC006", got[0].ID)
		assert.Equal(t, "TC010", got[1].ID)
	})

	t.Run("tags select any match", func(t *testing.T) {
		got, err := c.Filter(nil, []string{"smoke"})
		require.NoError(t, err)
		var ids []string
		for _, sc := range got {
			ids = append(ids, sc.ID)
		}
		assert.Equal(t, []string{"TC006", "TC007", "TC010", "TC013"}, ids)
	})

	t.Run("ids and tags combine", func(t *testing.T) {
		got, err := c.Filter([]string{"TC001", "TC006"}, []string{"smoke"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "TC006", got[0].ID)
	})

	t.Run("unknown id is an error", func(t *testing.T) {
		_, err := c.Filter([]string{"nope"}, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestValidateDocument(t *testing.T) {
	t.Run("missing assertions", func(t *testing.T) {
		issues := ValidateDocument("doc.yaml", []byte("id: X\ntitle: t\nexpected_outcome: o\nsteps: []\n"))
		require.NotEmpty(t, issues)
		assert.Equal(t, "doc.yaml", issues[0].Source)
	})

	t.Run("click without target", func(t *testing.T) {
		doc := `id: X
title: t
expected_outcome: o
steps:
  - action: click
assertions:
  - text: hi
`
		issues := ValidateDocument("doc.yaml", []byte(doc))
		require.NotEmpty(t, issues)
	})

	t.Run("unknown action", func(t *testing.T) {
		doc := `id: X
title: t
expected_outcome: o
steps:
  - action: hover
    target: header.brand
assertions:
  - text: hi
`
		assert.NotEmpty(t, ValidateDocument("doc.yaml", []byte(doc)))
	})

	t.Run("bad duration", func(t *testing.T) {
		doc := `id: X
title: t
expected_outcome: o
steps: []
assertions:
  - text: hi
    timeout: soon
`
		assert.NotEmpty(t, ValidateDocument("doc.yaml", []byte(doc)))
	})

	t.Run("malformed yaml", func(t *testing.T) {
		issues := ValidateDocument("doc.yaml", []byte("id: [unclosed"))
		require.Len(t, issues, 1)
		assert.Contains(t, issues[0].Message, "invalid YAML")
	})
}

func TestLoadDirectory(t *testing.T) {
	set := defaultSet(t)

	t.Run("directory document overrides builtin", func(t *testing.T) {
		dir := t.TempDir()
		doc := `id: TC006
title: Quick search
expected_outcome: one card shows up
steps:
  - action: click
    target: welcome.get_started
  - action: click
    target: "text=Generate Smart Recipes"
assertions:
  - text: Tomato Pulao
`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "search.yml"), []byte(doc), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

		c, err := Load(set, dir)
		require.NoError(t, err)
		sc, err := c.Get("TC006")
		require.NoError(t, err)
		assert.Equal(t, "Quick search", sc.Title)
		assert.Equal(t, browser.Text("Generate Smart Recipes"), sc.Steps[1].Locator)
		assert.Equal(t, filepath.Join(dir, "search.yml"), c.Source("TC006"))
		assert.Equal(t, 11, c.Len())
	})

	t.Run("unknown locator name is reported", func(t *testing.T) {
		dir := t.TempDir()
		doc := `id: NEW1
title: broken
expected_outcome: never
steps:
  - action: click
    target: header.logo
assertions:
  - text: x
`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(doc), 0o644))

		c, err := Load(set, dir)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Len(t, verr.Issues, 1)
		assert.Equal(t, "steps.0.target", verr.Issues[0].Field)
		assert.Contains(t, verr.Issues[0].Message, "unknown locator")
		_, err = c.Get("NEW1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := Load(set, filepath.Join(t.TempDir(), "absent"))
		assert.Error(t, err)
	})
}
