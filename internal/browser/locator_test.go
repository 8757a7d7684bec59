package browser_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/recipe-e2e/internal/browser"
	"github.com/gotrs-io/recipe-e2e/internal/browser/browsertest"
)

func TestParseLocator(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    browser.Locator
		wantErr bool
	}{
		{name: "xpath", in: "xpath=/html/body/app-root/app-header/header/nav/a[1]", want: browser.XPath("/html/body/app-root/app-header/header/nav/a[1]")},
		{name: "text with spaces", in: "text= Generate Smart Recipes ", want: browser.Text("Generate Smart Recipes")},
		{name: "explicit css", in: "css=#ingredients", want: browser.CSS("#ingredients")},
		{name: "bare selector is css", in: "button.primary", want: browser.CSS("button.primary")},
		{name: "empty", in: "  ", wantErr: true},
		{name: "engine without value", in: "xpath=", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := browser.ParseLocator(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocatorHelpers(t *testing.T) {
	assert.True(t, browser.IsInline("text=Save"))
	assert.True(t, browser.IsInline(" xpath=//a"))
	assert.False(t, browser.IsInline("header.brand"))

	assert.Equal(t, "text=Veg Biryani", browser.Text("Veg Biryani").String())
	assert.True(t, browser.Locator{}.IsZero())
	assert.False(t, browser.CSS("a").IsZero())
}

func TestSelectNth(t *testing.T) {
	ctx := context.Background()
	card := browser.CSS(".recipe-card")
	page := browsertest.NewPage().AddElement(card, 2)

	assert.NoError(t, browser.SelectNth(ctx, page, card, 0))
	assert.NoError(t, browser.SelectNth(ctx, page, card, 1))
	assert.ErrorIs(t, browser.SelectNth(ctx, page, card, 2), browser.ErrElementNotFound)

	err := browser.SelectNth(ctx, page, browser.Text("Missing"), 0)
	require.ErrorIs(t, err, browser.ErrElementNotFound)
	assert.Contains(t, err.Error(), "0 matches")
}

func TestFlags(t *testing.T) {
	name, value := browser.SplitFlag("--window-size=1280,720")
	assert.Equal(t, "window-size", name)
	assert.Equal(t, "1280,720", value)

	name, value = browser.SplitFlag(" --ipc=host")
	assert.Equal(t, "ipc", name)
	assert.Equal(t, "host", value)

	name, value = browser.SplitFlag("--single-process")
	assert.Equal(t, "single-process", name)
	assert.Empty(t, value)

	args := []string{"--disable-dev-shm-usage", "--window-size=800,600"}
	assert.True(t, browser.HasFlag(args, "window-size"))
	assert.True(t, browser.HasFlag(args, "disable-dev-shm-usage"))
	assert.False(t, browser.HasFlag(args, "headless"))
}
