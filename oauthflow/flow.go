// Package oauthflow drives the redirect based OAuth handshake for one browser:
// authorization redirect, provider callback, code exchange and session
// hydration.
//
// The CSRF correlation value lives in the token store as oauth_state. A
// callback is only accepted when it presents that exact value, and the value
// is consumed atomically so it can be used once.
package oauthflow

import (
	"context"
	"crypto/subtle"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jrsteele09/vmcp-gateway/apiclient"
	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
	"github.com/jrsteele09/vmcp-gateway/session"
	"github.com/jrsteele09/vmcp-gateway/tokenstore"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Authorizer issues provider authorization URLs and redeems codes. The backend
// API client and oidcauth.Authorizer both satisfy it.
type Authorizer interface {
	AuthorizationURL(ctx context.Context, req apiclient.AuthorizationRequest) (apiclient.Authorization, error)
	ExchangeCode(ctx context.Context, req apiclient.ExchangeRequest) (apiclient.TokenPair, error)
}

// Adopter establishes a session from exchanged tokens. *session.Session
// satisfies it.
type Adopter interface {
	Adopt(ctx context.Context, tokens apiclient.TokenPair) (session.Result, error)
}

// DefaultAttemptTTL bounds how long a provider callback is accepted after Begin.
const DefaultAttemptTTL = 10 * time.Minute

// transientKeys are everything Begin persists besides oauth_state.
var transientKeys = []string{
	tokenstore.KeyOAuthExpiresAt,
	tokenstore.KeyOAuthMode,
	tokenstore.KeyOAuthReturnURL,
	tokenstore.KeyOAuthPopup,
	tokenstore.KeyOAuthProvider,
	tokenstore.KeyOAuthCodeVerifier,
	tokenstore.KeyOAuthNonce,
}

var allKeys = append([]string{tokenstore.KeyOAuthState}, transientKeys...)

// BeginRequest starts an attempt.
type BeginRequest struct {
	Provider string
	Mode     Mode
	// ReturnURL is where the browser lands once the session is hydrated.
	ReturnURL string
	// RedirectURL is the callback URL registered with the provider.
	RedirectURL string
	// WebClientURL is the public base URL of the console, for backends that
	// redirect the token pair straight back to it.
	WebClientURL string
	Username    string
	// Popup records that the attempt runs in a popup window that should
	// close itself on completion.
	Popup bool
}

// CallbackParams are the query (or form) parameters of a provider callback.
type CallbackParams struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
	AccessToken      string
	RefreshToken     string
}

// ParseCallback reads callback parameters from a query or form.
func ParseCallback(v url.Values) CallbackParams {
	return CallbackParams{
		State:            v.Get("state"),
		Code:             v.Get("code"),
		Error:            v.Get("error"),
		ErrorDescription: v.Get("error_description"),
		AccessToken:      v.Get("access_token"),
		RefreshToken:     v.Get("refresh_token"),
	}
}

// Completion tells the caller how to finish: close the popup, or navigate to
// ReturnURL.
type Completion struct {
	ReturnURL string `json:"return_url,omitempty"`
	Mode      Mode   `json:"mode"`
	Popup     bool   `json:"popup"`
	Provider  string `json:"provider,omitempty"`
	State     State  `json:"state"`
}

// Flow is one browser's OAuth state machine. It is safe for concurrent use.
type Flow struct {
	store       tokenstore.Store
	session     Adopter
	authorizer  Authorizer
	authorizers map[string]Authorizer
	logger      zerolog.Logger
	attemptTTL  time.Duration
	now         func() time.Time

	mu        sync.Mutex
	state     State
	err       error
	observers []func(Transition)
}

// Option configures a Flow
type Option func(*Flow)

// WithAuthorizer routes one provider to a dedicated authorizer.
func WithAuthorizer(provider string, a Authorizer) Option {
	return func(f *Flow) {
		f.authorizers[provider] = a
	}
}

// WithAttemptTTL sets how long a pending attempt stays acceptable
func WithAttemptTTL(d time.Duration) Option {
	return func(f *Flow) {
		f.attemptTTL = d
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		f.now = now
	}
}

// WithLogger sets the flow logger
func WithLogger(l zerolog.Logger) Option {
	return func(f *Flow) {
		f.logger = l
	}
}

// New creates an idle flow. authorizer serves every provider without a
// dedicated one and may be nil.
func New(store tokenstore.Store, sess Adopter, authorizer Authorizer, opts ...Option) *Flow {
	f := &Flow{
		store:       store,
		session:     sess,
		authorizer:  authorizer,
		authorizers: make(map[string]Authorizer),
		logger:      log.Logger,
		attemptTTL:  DefaultAttemptTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns the current state
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the error that moved the flow to failed, if any
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// OnTransition registers an observer for state changes. Observers run
// synchronously after the change is applied.
func (f *Flow) OnTransition(fn func(Transition)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, fn)
}

func (f *Flow) authorizerFor(provider string) (Authorizer, error) {
	if a, ok := f.authorizers[provider]; ok {
		return a, nil
	}
	if f.authorizer == nil || provider == "" {
		return nil, apperrors.Wrapf(apperrors.ErrUnknownProvider, "%q", provider)
	}
	return f.authorizer, nil
}

// transition moves to `to`. When guard is set it must accept the current
// state or nothing changes and false is returned.
func (f *Flow) transition(to State, err error, guard func(State) bool) bool {
	f.mu.Lock()
	from := f.state
	if guard != nil && !guard(from) {
		f.mu.Unlock()
		return false
	}
	f.state = to
	f.err = err
	observers := append([]func(Transition){}, f.observers...)
	f.mu.Unlock()

	f.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("oauth flow transition")
	for _, fn := range observers {
		fn(Transition{From: from, To: to, Err: err})
	}
	return true
}

func (f *Flow) fail(err error) error {
	f.logger.Info().Err(err).Str("kind", string(apperrors.KindOf(err))).Msg("oauth flow failed")
	f.transition(StateFailed, err, nil)
	return err
}

func notExchanging(s State) bool {
	return s != StateExchanging
}

// Begin prepares an authorization request, persists the correlation values
// and returns the provider URL to redirect the browser to. A pending attempt
// is replaced.
func (f *Flow) Begin(ctx context.Context, req BeginRequest) (string, error) {
	if !f.transition(StateRedirecting, nil, notExchanging) {
		return "", apperrors.ErrFlowInProgress
	}

	authorizer, err := f.authorizerFor(req.Provider)
	if err != nil {
		return "", f.fail(err)
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeLogin
	}

	auth, err := authorizer.AuthorizationURL(ctx, apiclient.AuthorizationRequest{
		Provider:     req.Provider,
		WebClientURL: req.WebClientURL,
		RedirectURL:  req.RedirectURL,
		AuthMode:     mode.authMode(),
		Username:     req.Username,
	})
	if err != nil {
		return "", f.fail(err)
	}

	// Start from a clean slate so nothing from an abandoned attempt leaks in.
	if err := tokenstore.ClearAll(ctx, f.store, transientKeys...); err != nil {
		return "", f.fail(apperrors.Wrapf(err, "[oauthflow Begin] failed to clear previous attempt"))
	}
	values := []struct{ name, value string }{
		{tokenstore.KeyOAuthState, auth.State},
		{tokenstore.KeyOAuthMode, string(mode)},
		{tokenstore.KeyOAuthProvider, req.Provider},
		{tokenstore.KeyOAuthReturnURL, req.ReturnURL},
		{tokenstore.KeyOAuthPopup, strconv.FormatBool(req.Popup)},
		{tokenstore.KeyOAuthCodeVerifier, auth.CodeVerifier},
		{tokenstore.KeyOAuthNonce, auth.Nonce},
		{tokenstore.KeyOAuthExpiresAt, strconv.FormatInt(f.now().Add(f.attemptTTL).Unix(), 10)},
	}
	for _, v := range values {
		if v.value == "" {
			continue
		}
		if err := f.store.Set(ctx, v.name, v.value); err != nil {
			return "", f.fail(apperrors.Wrapf(err, "[oauthflow Begin] failed to persist %s", v.name))
		}
	}

	f.transition(StateAwaitingCallback, nil, nil)
	return auth.AuthURL, nil
}

// Callback handles the provider redirect. It returns ErrCsrfMismatch unless
// params.State equals the persisted oauth_state, which it then consumes.
func (f *Flow) Callback(ctx context.Context, params CallbackParams) (Completion, error) {
	if f.State() == StateExchanging {
		return Completion{}, apperrors.ErrFlowInProgress
	}

	if params.Error != "" {
		if err := tokenstore.ClearAll(ctx, f.store, allKeys...); err != nil {
			f.logger.Warn().Err(err).Msg("failed to clear oauth attempt")
		}
		msg := params.Error
		if params.ErrorDescription != "" {
			msg += ": " + params.ErrorDescription
		}
		return Completion{}, f.fail(apperrors.Wrapf(apperrors.ErrProviderDenied, "%s", msg))
	}

	if err := f.consumeState(ctx, params.State); err != nil {
		return Completion{}, f.fail(err)
	}
	if !f.transition(StateExchanging, nil, notExchanging) {
		return Completion{}, apperrors.ErrFlowInProgress
	}

	pending, err := f.takePending(ctx)
	if err != nil {
		return Completion{}, f.fail(err)
	}

	var tokens apiclient.TokenPair
	switch {
	case params.AccessToken != "":
		tokens = apiclient.TokenPair{AccessToken: params.AccessToken, RefreshToken: params.RefreshToken}
	case params.Code != "":
		authorizer, err := f.authorizerFor(pending.provider)
		if err != nil {
			return Completion{}, f.fail(err)
		}
		tokens, err = authorizer.ExchangeCode(ctx, apiclient.ExchangeRequest{
			Provider:     pending.provider,
			Code:         params.Code,
			State:        params.State,
			CodeVerifier: pending.verifier,
			Nonce:        pending.nonce,
		})
		if err != nil {
			return Completion{}, f.fail(err)
		}
	default:
		return Completion{}, f.fail(apperrors.Wrapf(apperrors.ErrInvalidRequest, "callback carries neither code nor tokens"))
	}

	res, err := f.session.Adopt(ctx, tokens)
	if err != nil {
		return Completion{}, f.fail(err)
	}
	if !res.Success {
		return Completion{}, f.fail(apperrors.Wrapf(apperrors.ErrNotAuthenticated, "%s", res.Error))
	}

	f.transition(StateHydrated, nil, nil)
	return Completion{
		ReturnURL: pending.returnURL,
		Mode:      pending.mode,
		Popup:     pending.popup,
		Provider:  pending.provider,
		State:     StateHydrated,
	}, nil
}

// consumeState compares before taking so a forged callback cannot burn the
// legitimate attempt's state, then re-checks what was taken to close the race
// with a concurrent callback.
func (f *Flow) consumeState(ctx context.Context, presented string) error {
	if presented == "" {
		return apperrors.Wrapf(apperrors.ErrCsrfMismatch, "callback carries no state")
	}
	stored, ok, err := f.store.Get(ctx, tokenstore.KeyOAuthState)
	if err != nil {
		return apperrors.Wrapf(err, "[oauthflow Callback] failed to read oauth state")
	}
	if !ok || !equal(stored, presented) {
		return apperrors.Wrapf(apperrors.ErrCsrfMismatch, "state does not match a pending attempt")
	}

	taken, ok, err := f.store.Take(ctx, tokenstore.KeyOAuthState)
	if err != nil {
		return apperrors.Wrapf(err, "[oauthflow Callback] failed to consume oauth state")
	}
	if !ok || !equal(taken, presented) {
		return apperrors.Wrapf(apperrors.ErrCsrfMismatch, "state already consumed")
	}

	deadline, ok, err := f.store.Take(ctx, tokenstore.KeyOAuthExpiresAt)
	if err != nil {
		return apperrors.Wrapf(err, "[oauthflow Callback] failed to read attempt deadline")
	}
	if ok && f.expired(deadline) {
		if err := tokenstore.ClearAll(ctx, f.store, transientKeys...); err != nil {
			f.logger.Warn().Err(err).Msg("failed to clear expired oauth attempt")
		}
		return apperrors.Wrapf(apperrors.ErrCsrfMismatch, "state expired")
	}
	return nil
}

// expired reports whether the unix deadline has passed. An unreadable
// deadline counts as passed.
func (f *Flow) expired(deadline string) bool {
	unix, err := strconv.ParseInt(deadline, 10, 64)
	if err != nil {
		return true
	}
	return !f.now().Before(time.Unix(unix, 0))
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type pendingAttempt struct {
	mode      Mode
	provider  string
	returnURL string
	popup     bool
	verifier  string
	nonce     string
}

// takePending reads and clears the values Begin persisted.
func (f *Flow) takePending(ctx context.Context) (pendingAttempt, error) {
	read := func(name string) (string, error) {
		v, _, err := f.store.Take(ctx, name)
		if err != nil {
			return "", apperrors.Wrapf(err, "[oauthflow Callback] failed to read %s", name)
		}
		return v, nil
	}

	var p pendingAttempt
	var mode, popup string
	targets := []struct {
		name string
		dst  *string
	}{
		{tokenstore.KeyOAuthMode, &mode},
		{tokenstore.KeyOAuthProvider, &p.provider},
		{tokenstore.KeyOAuthReturnURL, &p.returnURL},
		{tokenstore.KeyOAuthPopup, &popup},
		{tokenstore.KeyOAuthCodeVerifier, &p.verifier},
		{tokenstore.KeyOAuthNonce, &p.nonce},
	}
	for _, t := range targets {
		v, err := read(t.name)
		if err != nil {
			return pendingAttempt{}, err
		}
		*t.dst = v
	}
	p.mode = parseMode(mode)
	p.popup, _ = strconv.ParseBool(popup)
	return p, nil
}

// Retry re-enters idle from failed.
func (f *Flow) Retry() error {
	if !f.transition(StateIdle, nil, func(s State) bool { return s == StateFailed }) {
		return apperrors.Wrapf(apperrors.ErrInvalidRequest, "retry is only possible after a failure, flow is %s", f.State())
	}
	return nil
}
