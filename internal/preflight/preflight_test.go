package preflight

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closedPort returns a local port nothing listens on.
func closedPort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, _ := net.SplitHostPort(l.Addr().String())
	require.NoError(t, l.Close())
	return port
}

func TestReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	p := New(nil)

	t.Run("any HTTP answer counts", func(t *testing.T) {
		assert.NoError(t, p.Reachable(context.Background(), srv.URL))
	})

	t.Run("closed port", func(t *testing.T) {
		assert.Error(t, p.Reachable(context.Background(), "http://127.0.0.1:"+closedPort(t)))
	})

	t.Run("invalid url", func(t *testing.T) {
		assert.Error(t, p.Reachable(context.Background(), "::not a url"))
	})
}

func TestCandidates(t *testing.T) {
	p := New(nil)
	p.Ports = []string{"4200", "4000"}

	got := p.Candidates("http://localhost:4200")
	assert.Equal(t, []string{
		"http://localhost:4000",
		"http://127.0.0.1:4200",
		"http://127.0.0.1:4000",
	}, got)

	got = p.Candidates("http://frontend:9000/")
	assert.Equal(t, "http://localhost:9000", got[0])
	assert.Len(t, got, 6)
}

func TestResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	ctx := context.Background()
	p := New(nil)
	p.Ports = []string{u.Port()}
	dead := "http://localhost:" + closedPort(t)

	t.Run("reachable target is kept", func(t *testing.T) {
		got, err := p.Resolve(ctx, srv.URL, true)
		require.NoError(t, err)
		assert.Equal(t, srv.URL, got)
	})

	t.Run("auto-detect finds the running server", func(t *testing.T) {
		got, err := p.Resolve(ctx, dead, true)
		require.NoError(t, err)
		assert.Contains(t, []string{"http://localhost:" + u.Port(), "http://127.0.0.1:" + u.Port()}, got)
	})

	t.Run("no auto-detect", func(t *testing.T) {
		_, err := p.Resolve(ctx, dead, false)
		assert.ErrorIs(t, err, ErrTargetUnreachable)
	})

	t.Run("nothing answers", func(t *testing.T) {
		p := New(nil)
		p.Ports = []string{closedPort(t)}
		_, err := p.Resolve(ctx, dead, true)
		assert.ErrorIs(t, err, ErrTargetUnreachable)
	})
}
