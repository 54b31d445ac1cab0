package devbackend_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/vmcp-gateway/apiclient"
	"github.com/jrsteele09/vmcp-gateway/devbackend"
	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
	"github.com/stretchr/testify/require"
)

const password = "Passw0rdExample"

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

type harness struct {
	backend *devbackend.Backend
	client  *apiclient.Client
	clock   *clock
	url     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := &clock{now: time.Now()}
	b := devbackend.New(devbackend.Config{Secret: []byte("test-secret")}, devbackend.WithClock(clk.Now))
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return &harness{backend: b, client: apiclient.New(srv.URL), clock: clk, url: srv.URL}
}

func (h *harness) addUser(t *testing.T, username string) *devbackend.User {
	t.Helper()
	u, err := h.backend.AddUser(devbackend.User{Email: username + "@example.com", Username: username, FirstName: "Test"}, password)
	require.NoError(t, err)
	return u
}

func (h *harness) login(t *testing.T, username string) apiclient.LoginResponse {
	t.Helper()
	resp, err := h.client.Login(context.Background(), apiclient.Credentials{Username: username, Password: password})
	require.NoError(t, err)
	return resp
}

// follow requests the consent URL and returns where the "provider" sends the browser.
func follow(t *testing.T, authURL string) *url.URL {
	t.Helper()
	noRedirect := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := noRedirect.Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return loc
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.addUser(t, "alice")

	t.Run("success", func(t *testing.T) {
		resp := h.login(t, "alice")
		require.NotEmpty(t, resp.AccessToken)
		require.NotEmpty(t, resp.RefreshToken)
		require.Equal(t, "bearer", resp.TokenType)
		require.Equal(t, 900, resp.ExpiresIn)
		require.Equal(t, alice.ID, resp.User.ID)
		require.Equal(t, "alice@example.com", resp.User.Email)
		require.NotNil(t, resp.User.LastLogin)
	})

	t.Run("by email", func(t *testing.T) {
		resp := h.login(t, "alice@example.com")
		require.Equal(t, alice.ID, resp.User.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := h.client.Login(ctx, apiclient.Credentials{Username: "alice", Password: "nope"})
		require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
		require.Equal(t, "Invalid credentials", err.Error())
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := h.client.Login(ctx, apiclient.Credentials{Username: "mallory", Password: password})
		require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	})

	t.Run("blocked account", func(t *testing.T) {
		bob := h.addUser(t, "bob")
		require.NoError(t, h.backend.BlockUser(bob.ID))
		_, err := h.client.Login(ctx, apiclient.Credentials{Username: "bob", Password: password})
		require.ErrorIs(t, err, apperrors.ErrRejected)
		require.Equal(t, "Account is disabled", err.Error())
	})
}

func TestAddUser(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "alice")

	_, err := h.backend.AddUser(devbackend.User{Email: "ALICE@example.com", Username: "other"}, password)
	require.ErrorIs(t, err, apperrors.ErrRejected)

	_, err = h.backend.AddUser(devbackend.User{Email: "weak@example.com"}, "weak")
	require.Error(t, err)
}

func TestUserInfo(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	resp := h.login(t, "alice")

	t.Run("valid token", func(t *testing.T) {
		u, err := h.client.UserInfo(ctx, resp.AccessToken)
		require.NoError(t, err)
		require.Equal(t, alice.ID, u.ID)
		require.True(t, u.IsActive)
	})

	t.Run("no token", func(t *testing.T) {
		_, err := h.client.UserInfo(ctx, "")
		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		require.Equal(t, "Not authenticated", err.Error())
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := h.client.UserInfo(ctx, "not-a-jwt")
		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		require.Equal(t, "Could not validate credentials", err.Error())
	})

	t.Run("expired token", func(t *testing.T) {
		h.clock.Advance(16 * time.Minute)
		_, err := h.client.UserInfo(ctx, resp.AccessToken)
		require.ErrorIs(t, err, apperrors.ErrTokenExpired)
		require.Equal(t, "Token has expired", err.Error())
	})
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("rotates the refresh token", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "alice")
		resp := h.login(t, "alice")

		tp, err := h.client.Refresh(ctx, resp.RefreshToken)
		require.NoError(t, err)
		require.NotEqual(t, resp.RefreshToken, tp.RefreshToken)
		require.NotEqual(t, resp.AccessToken, tp.AccessToken)

		_, err = h.client.UserInfo(ctx, tp.AccessToken)
		require.NoError(t, err)

		_, err = h.client.Refresh(ctx, resp.RefreshToken)
		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		require.Equal(t, "Invalid refresh token", err.Error())
	})

	t.Run("works after the access token expired", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "alice")
		resp := h.login(t, "alice")
		h.clock.Advance(time.Hour)

		tp, err := h.client.Refresh(ctx, resp.RefreshToken)
		require.NoError(t, err)
		_, err = h.client.UserInfo(ctx, tp.AccessToken)
		require.NoError(t, err)
	})

	t.Run("expired refresh token", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "alice")
		resp := h.login(t, "alice")
		h.clock.Advance(8 * 24 * time.Hour)

		_, err := h.client.Refresh(ctx, resp.RefreshToken)
		require.ErrorIs(t, err, apperrors.ErrTokenExpired)
		require.Equal(t, "Refresh token has expired", err.Error())
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("revokes the session only", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "alice")
		first := h.login(t, "alice")
		second := h.login(t, "alice")

		require.NoError(t, h.client.Logout(ctx, first.AccessToken, false))

		_, err := h.client.UserInfo(ctx, first.AccessToken)
		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		_, err = h.client.Refresh(ctx, first.RefreshToken)
		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)

		_, err = h.client.UserInfo(ctx, second.AccessToken)
		require.NoError(t, err)
	})

	t.Run("logout all", func(t *testing.T) {
		h := newHarness(t)
		h.addUser(t, "alice")
		first := h.login(t, "alice")
		second := h.login(t, "alice")

		require.NoError(t, h.client.Logout(ctx, first.AccessToken, true))

		for _, resp := range []apiclient.LoginResponse{first, second} {
			_, err := h.client.UserInfo(ctx, resp.AccessToken)
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
			_, err = h.client.Refresh(ctx, resp.RefreshToken)
			require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
		}

		third := h.login(t, "alice")
		_, err := h.client.UserInfo(ctx, third.AccessToken)
		require.NoError(t, err)
	})

	t.Run("requires a token", func(t *testing.T) {
		h := newHarness(t)
		err := h.client.Logout(ctx, "", false)
		require.ErrorIs(t, err, apperrors.ErrTokenInvalid)
	})
}

func TestOAuthCodeFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	redirect := "http://gateway.example/oauth/callback"

	a, err := h.client.AuthorizationURL(ctx, apiclient.AuthorizationRequest{
		Provider:    "google",
		RedirectURL: redirect,
		AuthMode:    apiclient.AuthModeSignUp,
		Username:    "ada@example.com",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(a.AuthURL, h.url+"/dev/oauth/google/consent?"))

	loc := follow(t, a.AuthURL)
	require.Equal(t, "gateway.example", loc.Host)
	require.Equal(t, "/oauth/callback", loc.Path)
	require.Equal(t, a.State, loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	req := apiclient.ExchangeRequest{Provider: "google", Code: code, State: a.State, RedirectURL: redirect}
	tp, err := h.client.ExchangeCode(ctx, req)
	require.NoError(t, err)

	u, err := h.client.UserInfo(ctx, tp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", u.Email)
	require.True(t, u.IsVerified)

	t.Run("code is single use", func(t *testing.T) {
		_, err := h.client.ExchangeCode(ctx, req)
		require.ErrorIs(t, err, apperrors.ErrRejected)
	})

	t.Run("consent is single use", func(t *testing.T) {
		resp, err := http.Get(a.AuthURL)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("returning user signs in", func(t *testing.T) {
		a, err := h.client.AuthorizationURL(ctx, apiclient.AuthorizationRequest{
			Provider: "google", RedirectURL: redirect, Username: "ada@example.com",
		})
		require.NoError(t, err)
		loc := follow(t, a.AuthURL)
		require.NotEmpty(t, loc.Query().Get("code"))
	})

	t.Run("wrong state", func(t *testing.T) {
		a, err := h.client.AuthorizationURL(ctx, apiclient.AuthorizationRequest{
			Provider: "google", RedirectURL: redirect, Username: "ada@example.com",
		})
		require.NoError(t, err)
		loc := follow(t, a.AuthURL)
		_, err = h.client.ExchangeCode(ctx, apiclient.ExchangeRequest{
			Provider: "google", Code: loc.Query().Get("code"), State: "forged", RedirectURL: redirect,
		})
		require.ErrorIs(t, err, apperrors.ErrRejected)
	})
}

func TestOAuthSuccessCallbackVariant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	a, err := h.client.AuthorizationURL(ctx, apiclient.AuthorizationRequest{
		Provider:     "github",
		WebClientURL: "http://console.example/",
		AuthMode:     apiclient.AuthModeSignUp,
		Username:     "grace",
	})
	require.NoError(t, err)

	loc := follow(t, a.AuthURL)
	require.Equal(t, "console.example", loc.Host)
	require.Equal(t, devbackend.SuccessCallbackPath, loc.Path)
	require.Equal(t, a.State, loc.Query().Get("state"))
	require.NotEmpty(t, loc.Query().Get("refresh_token"))

	u, err := h.client.UserInfo(ctx, loc.Query().Get("access_token"))
	require.NoError(t, err)
	require.Equal(t, "grace@github.dev", u.Email)
	require.Equal(t, "grace", u.Username)
}

func TestOAuthDenied(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	redirect := "http://gateway.example/oauth/callback"

	t.Run("unknown account on sign in", func(t *testing.T) {
		a, err := h.client.AuthorizationURL(ctx, apiclient.AuthorizationRequest{Provider: "google", RedirectURL: redirect})
		require.NoError(t, err)
		loc := follow(t, a.AuthURL)
		require.Equal(t, "access_denied", loc.Query().Get("error"))
		require.Contains(t, loc.Query().Get("error_description"), "Account not found")
		require.Equal(t, a.State, loc.Query().Get("state"))
		require.Empty(t, loc.Query().Get("code"))
	})

	t.Run("user denies consent", func(t *testing.T) {
		a, err := h.client.AuthorizationURL(ctx, apiclient.AuthorizationRequest{
			Provider: "google", RedirectURL: redirect, AuthMode: apiclient.AuthModeSignUp,
		})
		require.NoError(t, err)
		loc := follow(t, a.AuthURL+"&deny=1")
		require.Equal(t, "access_denied", loc.Query().Get("error"))
	})

	t.Run("unsupported provider", func(t *testing.T) {
		_, err := h.client.AuthorizationURL(ctx, apiclient.AuthorizationRequest{Provider: "myspace", RedirectURL: redirect})
		require.ErrorIs(t, err, apperrors.ErrRejected)
		require.Equal(t, "Unsupported OAuth provider: myspace", err.Error())
	})

	t.Run("no return target", func(t *testing.T) {
		_, err := h.client.AuthorizationURL(ctx, apiclient.AuthorizationRequest{Provider: "google"})
		require.ErrorIs(t, err, apperrors.ErrRejected)
	})
}

func TestVMCPList(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.addUser(t, "alice")
	h.addUser(t, "bob")
	h.backend.AddVMCP(alice.ID, apiclient.VMCP{Name: "zeta", Servers: []string{"github"}})

	resp := h.login(t, "alice")
	list, err := h.client.ListVMCPs(ctx, resp.AccessToken)
	require.NoError(t, err)

	names := make([]string, 0, len(list))
	for _, v := range list {
		names = append(names, v.Name)
		require.Equal(t, alice.ID, v.UserID)
	}
	require.Equal(t, []string{"default", "everything", "zeta"}, names)

	bob := h.login(t, "bob")
	list, err = h.client.ListVMCPs(ctx, bob.AccessToken)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestCleanupKeepsLiveTokens(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addUser(t, "alice")
	resp := h.login(t, "alice")

	h.backend.Cleanup()
	_, err := h.client.Refresh(ctx, resp.RefreshToken)
	require.NoError(t, err)
}
