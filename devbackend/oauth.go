package devbackend

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/vmcp-gateway/apiclient"
)

const (
	pendingAuthTTL = 10 * time.Minute
	authCodeTTL    = 5 * time.Minute
)

// pendingAuthorization is an authorization request waiting for consent.
type pendingAuthorization struct {
	Provider     string
	AuthMode     string
	Username     string
	RedirectURI  string
	WebClientURL string
	ExpiresAt    time.Time
}

// authCode is an issued, not yet redeemed, authorization code.
type authCode struct {
	UserID      string
	Provider    string
	State       string
	RedirectURI string
	ExpiresAt   time.Time
}

// oauthProvider simulates an upstream identity provider: it remembers
// authorization requests by state and hands out single use codes.
type oauthProvider struct {
	providers map[string]bool
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]pendingAuthorization
	codes   map[string]authCode
}

func newOAuthProvider(providers []string, now func() time.Time) *oauthProvider {
	p := &oauthProvider{
		providers: make(map[string]bool),
		now:       now,
		pending:   make(map[string]pendingAuthorization),
		codes:     make(map[string]authCode),
	}
	for _, name := range providers {
		p.providers[name] = true
	}
	return p
}

func (p *oauthProvider) supports(provider string) bool {
	return p.providers[provider]
}

// begin registers an authorization request and returns its state.
func (p *oauthProvider) begin(pa pendingAuthorization) string {
	state := uuid.New().String()
	pa.ExpiresAt = p.now().Add(pendingAuthTTL)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[state] = pa
	return state
}

// take consumes the pending request for state.
func (p *oauthProvider) take(state string) (pendingAuthorization, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pa, ok := p.pending[state]
	delete(p.pending, state)
	if !ok || p.now().After(pa.ExpiresAt) {
		return pendingAuthorization{}, false
	}
	return pa, true
}

func (p *oauthProvider) issueCode(c authCode) string {
	code := uuid.New().String()
	c.ExpiresAt = p.now().Add(authCodeTTL)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes[code] = c
	return code
}

// redeem consumes code. It must be presented with the state it was issued for.
func (p *oauthProvider) redeem(provider string, req apiclient.ExchangeRequest) (authCode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.codes[req.Code]
	delete(p.codes, req.Code)
	switch {
	case !ok:
		return authCode{}, fmt.Errorf("unknown or already used authorization code")
	case p.now().After(c.ExpiresAt):
		return authCode{}, fmt.Errorf("authorization code expired")
	case c.Provider != provider || c.State != req.State:
		return authCode{}, fmt.Errorf("authorization code was not issued for this request")
	case req.RedirectURL != "" && req.RedirectURL != c.RedirectURI:
		return authCode{}, fmt.Errorf("redirect_uri mismatch")
	}
	return c, nil
}

func (p *oauthProvider) cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for state, pa := range p.pending {
		if now.After(pa.ExpiresAt) {
			delete(p.pending, state)
		}
	}
	for code, c := range p.codes {
		if now.After(c.ExpiresAt) {
			delete(p.codes, code)
		}
	}
}

// providerIdentity derives the account a dev provider vouches for. A login
// hint that looks like an email is used as is.
func providerIdentity(provider, hint string) (email, username string) {
	switch {
	case strings.Contains(hint, "@"):
		return strings.ToLower(hint), strings.SplitN(hint, "@", 2)[0]
	case hint != "":
		return strings.ToLower(hint) + "@" + provider + ".dev", hint
	default:
		return "developer@" + provider + ".dev", provider + "-developer"
	}
}

func withQuery(target string, params url.Values) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
