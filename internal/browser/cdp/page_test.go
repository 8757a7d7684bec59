package cdp

import (
	"context"
	"testing"
	"time"

	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gotrs-io/recipe-e2e/internal/browser"
)

func TestJSString(t *testing.T) {
	assert.Equal(t, `"rice, tomato, onion"`, jsString("rice, tomato, onion"))
	assert.Equal(t, `"//*[@id=\"x\"]"`, jsString(`//*[@id="x"]`))
	assert.Equal(t, `"Sauté"`, jsString("Sauté"))
}

func TestLocatorCall(t *testing.T) {
	call := locatorCall(browser.Text("Veg Biryani"))
	assert.Contains(t, call, resolveJS)
	assert.Contains(t, call, `("text", "Veg Biryani")`)
}

func TestAllocatorOptions(t *testing.T) {
	base := len(allocatorOptions(browser.LaunchOptions{}))

	opts := allocatorOptions(browser.LaunchOptions{
		Headless: true,
		Window:   browser.Size{Width: 1280, Height: 720},
		ExecPath: "/usr/bin/chromium",
		Args:     []string{"--ipc=host", "--single-process", "--window-size=1,1", ""},
	})
	// window size, exec path and the two usable switches
	assert.Equal(t, base+4, len(opts))
}

func TestConsoleListener(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	listen := consoleListener(zap.New(core))

	listen(&cdpruntime.EventConsoleAPICalled{
		Type: cdpruntime.APITypeError,
		Args: []*cdpruntime.RemoteObject{{Value: []byte(`"recipe service unavailable"`)}},
	})
	listen(&cdpruntime.EventConsoleAPICalled{Type: cdpruntime.APITypeLog})
	listen(&cdpruntime.EventExceptionThrown{ExceptionDetails: &cdpruntime.ExceptionDetails{Text: "Uncaught TypeError"}})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "browser console", entries[0].Message)
	assert.Equal(t, "uncaught page exception", entries[1].Message)
	assert.Contains(t, entries[1].ContextMap()["error"], "Uncaught TypeError")
}

func TestClosedSession(t *testing.T) {
	tabCtx, cancel := context.WithCancel(context.Background())
	s := &Session{cancelTab: cancel, page: &Page{tabCtx: tabCtx, defaultTimeout: time.Second}}
	require.NoError(t, s.Close())

	ctx := context.Background()
	page := s.Page()
	loc := browser.Text("Tomato Pulao")

	assert.ErrorIs(t, page.Goto(ctx, "http://localhost:4200", browser.LoadStateCommit, 10*time.Second), browser.ErrSessionClosed)
	assert.ErrorIs(t, page.WaitFor(ctx, loc, browser.StateVisible, time.Second), browser.ErrSessionClosed)
	assert.ErrorIs(t, page.Click(ctx, loc, 0, time.Second), browser.ErrSessionClosed)
	_, err := page.Count(ctx, loc)
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
	_, err = page.Screenshot(ctx)
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
	assert.Empty(t, page.Frames())
}
