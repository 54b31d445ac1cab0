package browsers_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/vmcp-gateway/apiclient"
	"github.com/jrsteele09/vmcp-gateway/oauthflow"
	"github.com/jrsteele09/vmcp-gateway/server/browsers"
	"github.com/jrsteele09/vmcp-gateway/session"
	"github.com/jrsteele09/vmcp-gateway/shell"
	"github.com/jrsteele09/vmcp-gateway/tokenstore"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRegistry(t *testing.T, idle time.Duration) (*browsers.Registry, *clock, *atomic.Int32) {
	t.Helper()
	shared := tokenstore.NewMemory()
	// No tokens are ever stored, so hydration never reaches the backend.
	backend := apiclient.New("http://127.0.0.1:1")
	created := &atomic.Int32{}
	clk := &clock{now: time.Now()}

	factory := func(id string) *browsers.Browser {
		created.Add(1)
		store := tokenstore.Prefixed(shared, id)
		sess := session.New(store, backend)
		return &browsers.Browser{
			ID:      id,
			Store:   store,
			Session: sess,
			Flow:    oauthflow.New(store, sess, backend),
			VMCPs:   shell.NewVMCPs(backend, sess),
		}
	}
	return browsers.NewRegistry(factory, idle, browsers.WithClock(clk.Now)), clk, created
}

func TestResolve(t *testing.T) {
	reg, _, created := newRegistry(t, time.Hour)

	b, err := reg.Resolve("browser-1")
	require.NoError(t, err)
	again, err := reg.Resolve("browser-1")
	require.NoError(t, err)
	require.Same(t, b, again)
	require.Equal(t, int32(1), created.Load())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st := b.Session.WaitSettled(ctx)
	require.False(t, st.Loading)
	require.False(t, st.IsAuthenticated)

	other, err := reg.Resolve("browser-2")
	require.NoError(t, err)
	require.NotSame(t, b, other)
	require.Equal(t, 2, reg.Len())

	_, err = reg.Resolve("")
	require.Error(t, err)
}

func TestGet(t *testing.T) {
	reg, _, _ := newRegistry(t, time.Hour)

	_, ok := reg.Get("missing")
	require.False(t, ok)

	b, err := reg.Resolve("browser-1")
	require.NoError(t, err)
	got, ok := reg.Get("browser-1")
	require.True(t, ok)
	require.Same(t, b, got)
}

func TestSweep(t *testing.T) {
	reg, clk, _ := newRegistry(t, time.Hour)

	idle, err := reg.Resolve("idle")
	require.NoError(t, err)
	var closed atomic.Bool
	idle.OnClose(func() { closed.Store(true) })

	clk.Advance(45 * time.Minute)
	active, err := reg.Resolve("active")
	require.NoError(t, err)

	clk.Advance(30 * time.Minute)
	require.Equal(t, 1, reg.Sweep())
	require.True(t, closed.Load())
	require.True(t, idle.Session.Closed())
	require.False(t, active.Session.Closed())

	_, ok := reg.Get("idle")
	require.False(t, ok)
	require.Equal(t, 1, reg.Len())
}

func TestDeleteAndClose(t *testing.T) {
	reg, _, _ := newRegistry(t, time.Hour)

	a, err := reg.Resolve("a")
	require.NoError(t, err)
	b, err := reg.Resolve("b")
	require.NoError(t, err)

	reg.Delete("a")
	require.True(t, a.Session.Closed())
	require.Equal(t, 1, reg.Len())
	reg.Delete("a")

	reg.Close()
	require.True(t, b.Session.Closed())
	require.Equal(t, 0, reg.Len())
}

func TestShortID(t *testing.T) {
	require.Equal(t, "12345678", browsers.ShortID("1234567890"))
	require.Equal(t, "abc", browsers.ShortID("abc"))
}
