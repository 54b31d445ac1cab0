// Package devbackend is an in-process implementation of the vMCP backend API
// contract. It backs the gateway's --dev-backend mode and the tests of every
// package that talks to the backend.
package devbackend

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/vmcp-gateway/apiclient"
	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Route constants. The API routes are the ones apiclient calls.
const (
	RouteLogin          = apiclient.PathLogin
	RouteUserInfo       = apiclient.PathUserInfo
	RouteRefresh        = apiclient.PathRefresh
	RouteLogout         = apiclient.PathLogout
	RouteOAuthAuthorize = "/api/oauth/{provider}/authorize"
	RouteOAuthToken     = "/api/oauth/{provider}/token"
	RouteVMCPList       = apiclient.PathVMCPList

	// RouteConsent stands in for the provider's own login and consent page.
	RouteConsent = "/dev/oauth/{provider}/consent"

	// SuccessCallbackPath is appended to web_client_url when the backend
	// completes the exchange itself.
	SuccessCallbackPath = "/oauth/callback/success"
)

const contentTypeJSON = "application/json"

// Config holds the backend's token settings
type Config struct {
	Issuer          string
	Secret          []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Providers       []string
}

// DefaultConfig returns a config with short lived access tokens and a random secret
func DefaultConfig() Config {
	return Config{
		Issuer:          "vmcp-dev-backend",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		Providers:       []string{"google", "github"},
	}
}

// Backend serves the backend API over HTTP. It is safe for concurrent use.
type Backend struct {
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger

	users  *userRepo
	tokens *tokenIssuer
	oauth  *oauthProvider
	vmcps  *vmcpRepo
	mux    *http.ServeMux
}

// Option configures a Backend
type Option func(*Backend)

// WithClock replaces time.Now, for expiry tests
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// WithLogger sets the backend's logger
func WithLogger(l zerolog.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

// New creates a backend. Zero config fields take their DefaultConfig values.
func New(cfg Config, opts ...Option) *Backend {
	def := DefaultConfig()
	if cfg.Issuer == "" {
		cfg.Issuer = def.Issuer
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = def.AccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = def.RefreshTokenTTL
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = def.Providers
	}
	if len(cfg.Secret) == 0 {
		cfg.Secret = make([]byte, 32)
		if _, err := rand.Read(cfg.Secret); err != nil {
			panic("devbackend: failed to generate signing secret: " + err.Error())
		}
	}

	b := &Backend{
		cfg:    cfg,
		now:    time.Now,
		logger: log.Logger,
		users:  newUserRepo(),
		vmcps:  newVMCPRepo(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.tokens = newTokenIssuer(cfg.Issuer, cfg.Secret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, b.now)
	b.oauth = newOAuthProvider(cfg.Providers, b.now)
	b.initRoutes()
	return b
}

func (b *Backend) initRoutes() {
	b.mux.HandleFunc("POST "+RouteLogin, b.LoginHandler())
	b.mux.HandleFunc("GET "+RouteUserInfo, b.UserInfoHandler())
	b.mux.HandleFunc("POST "+RouteRefresh, b.RefreshHandler())
	b.mux.HandleFunc("POST "+RouteLogout, b.LogoutHandler())
	b.mux.HandleFunc("GET "+RouteOAuthAuthorize, b.AuthorizeHandler())
	b.mux.HandleFunc("GET "+RouteConsent, b.ConsentHandler())
	b.mux.HandleFunc("POST "+RouteOAuthToken, b.TokenHandler())
	b.mux.HandleFunc("GET "+RouteVMCPList, b.VMCPListHandler())
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mux.ServeHTTP(w, r)
}

// AddUser registers a password account and gives it the starter vMCPs.
func (b *Backend) AddUser(u User, password string) (*User, error) {
	if err := ValidatePasswordStrength(password); err != nil {
		return nil, apperrors.Wrapf(err, "[devbackend AddUser]")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[devbackend AddUser] failed to hash password")
	}
	u.PasswordHash = hash
	return b.createUser(u)
}

// BlockUser disables an account. Its tokens stop working on the next request.
func (b *Backend) BlockUser(id string) error {
	return b.users.SetBlocked(id, true)
}

// AddVMCP adds a vMCP to the user's list
func (b *Backend) AddVMCP(userID string, v apiclient.VMCP) apiclient.VMCP {
	return b.vmcps.add(userID, v, b.now())
}

// Cleanup drops expired revocations, refresh tokens, authorization requests and codes.
func (b *Backend) Cleanup() {
	b.tokens.cleanup()
	b.oauth.cleanup()
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (b *Backend) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Cleanup()
		}
	}
}

func (b *Backend) createUser(u User) (*User, error) {
	if u.DateJoined.IsZero() {
		u.DateJoined = b.now()
	}
	if err := b.users.Upsert(&u); err != nil {
		return nil, err
	}
	for _, v := range starterVMCPs() {
		b.vmcps.add(u.ID, v, b.now())
	}
	return b.users.GetByID(u.ID)
}

// LoginHandler handles POST /api/login
func (b *Backend) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var creds apiclient.Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" || creds.Password == "" {
			writeDetail(w, http.StatusBadRequest, "Username and password are required")
			return
		}

		user, err := b.users.GetByLogin(creds.Username)
		if err != nil || !CheckPasswordHash(creds.Password, user.PasswordHash) {
			b.logger.Info().Str("username", creds.Username).Msg("rejected login")
			writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		if user.Blocked {
			writeDetail(w, http.StatusForbidden, "Account is disabled")
			return
		}

		tp, user, err := b.signIn(user, newSessionID())
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to issue tokens")
			writeDetail(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, apiclient.LoginResponse{TokenPair: tp, User: user.Record()})
	}
}

// UserInfoHandler handles GET /api/userinfo
func (b *Backend) UserInfoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, user, ok := b.authenticate(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, user.Record())
	}
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshHandler handles POST /api/auth/refresh. The refresh token is rotated.
func (b *Backend) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body refreshBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
			writeDetail(w, http.StatusBadRequest, "refresh_token is required")
			return
		}

		rt, err := b.tokens.rotate(body.RefreshToken)
		switch {
		case errors.Is(err, apperrors.ErrTokenExpired):
			writeDetail(w, http.StatusUnauthorized, "Refresh token has expired")
			return
		case err != nil:
			writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
			return
		}

		user, err := b.users.GetByID(rt.UserID)
		if err != nil || user.Blocked {
			writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
			return
		}
		access, refresh, err := b.tokens.issue(user, rt.Sid)
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to issue tokens")
			writeDetail(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, b.tokenPair(access, refresh))
	}
}

type logoutBody struct {
	LogoutAll bool `json:"logout_all"`
}

// LogoutHandler handles POST /api/auth/logout
func (b *Backend) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, user, ok := b.authenticate(w, r)
		if !ok {
			return
		}
		var body logoutBody
		_ = json.NewDecoder(r.Body).Decode(&body)

		if body.LogoutAll {
			b.tokens.revokeUser(user.ID)
		} else {
			b.tokens.revoke(claims)
		}
		b.logger.Info().Str("user_id", user.ID).Bool("logout_all", body.LogoutAll).Msg("logged out")
		writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
	}
}

// AuthorizeHandler handles GET /api/oauth/{provider}/authorize. The returned
// auth_url points at this backend's consent page.
func (b *Backend) AuthorizeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := r.PathValue("provider")
		if !b.oauth.supports(provider) {
			writeDetail(w, http.StatusNotFound, "Unsupported OAuth provider: "+provider)
			return
		}

		q := r.URL.Query()
		pa := pendingAuthorization{
			Provider:     provider,
			AuthMode:     q.Get("auth_mode"),
			Username:     q.Get("username"),
			RedirectURI:  q.Get("redirect_uri"),
			WebClientURL: strings.TrimRight(q.Get("web_client_url"), "/"),
		}
		if pa.AuthMode == "" {
			pa.AuthMode = apiclient.AuthModeSignIn
		}
		if pa.AuthMode != apiclient.AuthModeSignIn && pa.AuthMode != apiclient.AuthModeSignUp {
			writeDetail(w, http.StatusBadRequest, "auth_mode must be signin or signup")
			return
		}
		if pa.RedirectURI == "" && pa.WebClientURL == "" {
			writeDetail(w, http.StatusBadRequest, "web_client_url or redirect_uri is required")
			return
		}

		state := b.oauth.begin(pa)
		consent := url.URL{
			Scheme:   requestScheme(r),
			Host:     r.Host,
			Path:     strings.Replace(RouteConsent, "{provider}", url.PathEscape(provider), 1),
			RawQuery: url.Values{"state": {state}}.Encode(),
		}
		writeJSON(w, http.StatusOK, apiclient.Authorization{AuthURL: consent.String(), State: state})
	}
}

// ConsentHandler handles GET /dev/oauth/{provider}/consent. It approves the
// request (or denies it with ?deny=1) and redirects back the way a provider
// would: with a code when a redirect_uri was given, otherwise with the token
// pair on the web client's success callback.
func (b *Backend) ConsentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := r.PathValue("provider")
		state := r.URL.Query().Get("state")
		pa, ok := b.oauth.take(state)
		if !ok || pa.Provider != provider {
			writeDetail(w, http.StatusBadRequest, "Unknown or expired authorization request")
			return
		}

		target := pa.RedirectURI
		if target == "" {
			target = pa.WebClientURL + SuccessCallbackPath
		}
		deny := func(description string) {
			b.redirect(w, r, target, url.Values{
				"error":             {"access_denied"},
				"error_description": {description},
				"state":             {state},
			})
		}

		if r.URL.Query().Get("deny") != "" {
			deny("The user denied the request")
			return
		}
		user, err := b.providerAccount(pa)
		if err != nil {
			deny(err.Error())
			return
		}

		if pa.RedirectURI != "" {
			code := b.oauth.issueCode(authCode{UserID: user.ID, Provider: provider, State: state, RedirectURI: pa.RedirectURI})
			b.redirect(w, r, target, url.Values{"code": {code}, "state": {state}})
			return
		}

		tp, _, err := b.signIn(user, newSessionID())
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to issue tokens")
			deny("Internal server error")
			return
		}
		b.redirect(w, r, target, url.Values{
			"access_token":  {tp.AccessToken},
			"refresh_token": {tp.RefreshToken},
			"state":         {state},
		})
	}
}

// TokenHandler handles POST /api/oauth/{provider}/token
func (b *Backend) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := r.PathValue("provider")
		if !b.oauth.supports(provider) {
			writeDetail(w, http.StatusNotFound, "Unsupported OAuth provider: "+provider)
			return
		}
		var req apiclient.ExchangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" || req.State == "" {
			writeDetail(w, http.StatusBadRequest, "code and state are required")
			return
		}

		c, err := b.oauth.redeem(provider, req)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		user, err := b.users.GetByID(c.UserID)
		if err != nil || user.Blocked {
			writeDetail(w, http.StatusForbidden, "Account is disabled")
			return
		}

		tp, _, err := b.signIn(user, newSessionID())
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to issue tokens")
			writeDetail(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, tp)
	}
}

// VMCPListHandler handles GET /api/vmcps/list
func (b *Backend) VMCPListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, user, ok := b.authenticate(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, b.vmcps.list(user.ID))
	}
}

// authenticate validates the bearer token and loads its user. On failure the
// 401 has already been written.
func (b *Backend) authenticate(w http.ResponseWriter, r *http.Request) (*accessClaims, *User, bool) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return nil, nil, false
	}

	claims, err := b.tokens.validate(parts[1])
	if errors.Is(err, apperrors.ErrTokenExpired) {
		writeDetail(w, http.StatusUnauthorized, "Token has expired")
		return nil, nil, false
	}
	if err != nil {
		b.logger.Debug().Err(err).Msg("rejected access token")
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return nil, nil, false
	}

	user, err := b.users.GetByID(claims.Subject)
	if err != nil || user.Blocked {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return nil, nil, false
	}
	return claims, user, true
}

// providerAccount finds, or for signup creates, the account the provider vouches for.
func (b *Backend) providerAccount(pa pendingAuthorization) (*User, error) {
	email, username := providerIdentity(pa.Provider, pa.Username)
	user, err := b.users.GetByEmail(email)
	switch {
	case err == nil && user.Blocked:
		return nil, errors.New("Account is disabled")
	case err == nil:
		return user, nil
	case pa.AuthMode != apiclient.AuthModeSignUp:
		return nil, errors.New("Account not found. Please sign up first.")
	}

	user, err = b.createUser(User{
		Email:    email,
		Username: username,
		Provider: pa.Provider,
		Verified: true,
	})
	if err != nil {
		return nil, err
	}
	b.logger.Info().Str("user_id", user.ID).Str("provider", pa.Provider).Msg("created account from provider sign up")
	return user, nil
}

// signIn issues a token pair and records the login.
func (b *Backend) signIn(user *User, sid string) (apiclient.TokenPair, *User, error) {
	access, refresh, err := b.tokens.issue(user, sid)
	if err != nil {
		return apiclient.TokenPair{}, nil, err
	}
	b.users.SetLastLogin(user.ID, b.now())
	if updated, err := b.users.GetByID(user.ID); err == nil {
		user = updated
	}
	b.logger.Info().Str("user_id", user.ID).Msg("issued tokens")
	return b.tokenPair(access, refresh), user, nil
}

func (b *Backend) tokenPair(access, refresh string) apiclient.TokenPair {
	return apiclient.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(b.cfg.AccessTokenTTL.Seconds()),
	}
}

func (b *Backend) redirect(w http.ResponseWriter, r *http.Request, target string, params url.Values) {
	location, err := withQuery(target, params)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid redirect target")
		return
	}
	http.Redirect(w, r, location, http.StatusFound)
}

func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
