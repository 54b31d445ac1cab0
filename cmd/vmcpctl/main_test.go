package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jrsteele09/vmcp-gateway/devbackend"
	"github.com/jrsteele09/vmcp-gateway/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const password = "Passw0rdExample"

type harness struct {
	backend *devbackend.Backend
	url     string
	store   string
	opened  []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	be := devbackend.New(devbackend.Config{Secret: []byte("cli-secret")}, devbackend.WithLogger(zerolog.Nop()))
	srv := httptest.NewServer(be)
	t.Cleanup(srv.Close)
	_, err := be.AddUser(devbackend.User{Email: "alice@example.com", Username: "alice", FirstName: "Alice", LastName: "Liddell"}, password)
	require.NoError(t, err)
	return &harness{backend: be, url: srv.URL, store: filepath.Join(t.TempDir(), "tokens.json")}
}

// run executes vmcpctl with args, acting as the user's browser when a URL is opened.
func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	c := newCLI(config.New())
	c.openURL = func(authURL string) error {
		h.opened = append(h.opened, authURL)
		return approve(authURL)
	}

	root := newRootCmd(c)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--backend", h.url, "--store", h.store, "--log-level", "disabled"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// approve visits the provider's consent page and follows it back to the callback
func approve(authURL string) error {
	noRedirect := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := noRedirect.Get(authURL)
	if err != nil {
		return err
	}
	resp.Body.Close()

	resp, err = http.Get(resp.Header.Get("Location"))
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func TestPasswordLoginAndWhoami(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "", "whoami")
	require.ErrorIs(t, err, errNotSignedIn)
	assert.Equal(t, ExitCodeAuthRequired, exitCode(err))

	out, err := h.run(t, password+"\n", "login", "--username", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Signed in as Alice Liddell (alice@example.com)\n", out)

	out, err = h.run(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Alice Liddell")
	assert.Contains(t, out, "Username: alice")

	out, err = h.run(t, "", "--json", "whoami")
	require.NoError(t, err)
	var st struct {
		IsAuthenticated bool `json:"isAuthenticated"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.IsAuthenticated)
}

func TestPasswordLoginPromptsForUsername(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "alice\n"+password+"\n", "login")
	require.NoError(t, err)
}

func TestPasswordLoginRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "wrong\n", "login", "-u", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid credentials")
	assert.Equal(t, ExitCodeAuthRequired, exitCode(err))
}

func TestRefreshAndLogout(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, password+"\n", "login", "-u", "alice")
	require.NoError(t, err)

	out, err := h.run(t, "", "refresh")
	require.NoError(t, err)
	assert.Equal(t, "Access token renewed\n", out)

	out, err = h.run(t, "", "logout", "--all")
	require.NoError(t, err)
	assert.Equal(t, "Signed out\n", out)

	_, err = h.run(t, "", "whoami")
	require.ErrorIs(t, err, errNotSignedIn)

	_, err = h.run(t, "", "refresh")
	require.Error(t, err)
}

func TestOAuthLogin(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "login", "--provider", "github", "--register", "-u", "grace")
	require.NoError(t, err)
	require.Len(t, h.opened, 1)
	assert.Contains(t, h.opened[0], "/dev/oauth/github/consent?state=")
	assert.Equal(t, "Signed in as grace (grace@github.dev)\n", out)

	out, err = h.run(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "grace@github.dev")
}

func TestOAuthLoginTokenCallback(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "login", "--provider", "google", "--register", "--token-callback")
	require.NoError(t, err)
	assert.Contains(t, out, "developer@google.dev")
}

func TestOAuthLoginDenied(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "", "login", "--provider", "google", "-u", "nobody")
	require.Error(t, err)
	assert.Equal(t, ExitCodeAuthFailed, exitCode(err))
}

func TestRoute(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "route", "/vmcp")
	require.NoError(t, err)
	assert.Equal(t, "/vmcp (protected) -> redirect /login\n", out)

	out, err = h.run(t, "", "route", "/oauth_setup/github?client_id=abc")
	require.NoError(t, err)
	assert.Equal(t, "/oauth_setup/github?client_id=abc (oauth-setup) -> render\n", out)

	_, err = h.run(t, password+"\n", "login", "-u", "alice")
	require.NoError(t, err)

	out, err = h.run(t, "", "route", "/vmcp/default")
	require.NoError(t, err)
	assert.Equal(t, "/vmcp/default (protected) -> render_shell\n", out)

	out, err = h.run(t, "", "route", "/login")
	require.NoError(t, err)
	assert.Equal(t, "/login (public) -> redirect /vmcp\n", out)
}

func TestRouteAuthDisabled(t *testing.T) {
	h := newHarness(t)
	t.Setenv("VMCP_AUTH_DISABLED", "true")

	out, err := h.run(t, "", "route", "/vmcp")
	require.NoError(t, err)
	assert.Equal(t, "/vmcp (protected) -> render_shell\n", out)
}

func TestVMCPs(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "", "vmcps")
	require.ErrorIs(t, err, errNotSignedIn)

	_, err = h.run(t, password+"\n", "login", "-u", "alice")
	require.NoError(t, err)

	out, err := h.run(t, "", "vmcps")
	require.NoError(t, err)
	assert.Contains(t, out, "default")
	assert.Contains(t, out, "everything")
}
