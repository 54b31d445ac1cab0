// Package oidcauth is an oauthflow.Authorizer that talks to an OpenID Connect
// provider directly: authorization code with PKCE (S256), a nonce bound ID
// token, and verification of that ID token against the provider's keys.
//
// Use it when the vMCP backend accepts the identity provider's access tokens
// itself; otherwise let the backend broker the exchange.
package oidcauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/jrsteele09/vmcp-gateway/apiclient"
	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
	"golang.org/x/oauth2"
)

// Config describes the relying party registration.
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Authorizer is safe for concurrent use.
type Authorizer struct {
	oauth2   oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// New discovers the provider at cfg.IssuerURL.
func New(ctx context.Context, cfg Config) (*Authorizer, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, errors.New("[oidcauth New] issuer and client id are required")
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("[oidcauth New] failed to create OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess}
	}
	return &Authorizer{
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// AuthorizationURL generates state, nonce and a PKCE verifier and builds the
// provider URL. The verifier and nonce travel back to ExchangeCode through the
// flow's token store.
func (a *Authorizer) AuthorizationURL(_ context.Context, req apiclient.AuthorizationRequest) (apiclient.Authorization, error) {
	state := uuid.NewString()
	nonce := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	opts := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(nonce),
	}
	if req.Username != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", req.Username))
	}
	if req.AuthMode == apiclient.AuthModeSignUp {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "consent"))
	}

	cfg := a.config(req.RedirectURL)
	return apiclient.Authorization{
		AuthURL:      cfg.AuthCodeURL(state, opts...),
		State:        state,
		CodeVerifier: verifier,
		Nonce:        nonce,
	}, nil
}

// ExchangeCode redeems the code and verifies the ID token, including its nonce.
func (a *Authorizer) ExchangeCode(ctx context.Context, req apiclient.ExchangeRequest) (apiclient.TokenPair, error) {
	cfg := a.config(req.RedirectURL)
	var opts []oauth2.AuthCodeOption
	if req.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(req.CodeVerifier))
	}

	tok, err := cfg.Exchange(ctx, req.Code, opts...)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			return apiclient.TokenPair{}, fmt.Errorf("%w: token exchange: %s", apperrors.ErrProviderDenied, rerr.ErrorCode)
		}
		return apiclient.TokenPair{}, fmt.Errorf("%w: token exchange: %v", apperrors.ErrNetwork, err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return apiclient.TokenPair{}, fmt.Errorf("%w: no id_token in token response", apperrors.ErrMalformedResponse)
	}
	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return apiclient.TokenPair{}, fmt.Errorf("%w: id token verification failed: %v", apperrors.ErrTokenInvalid, err)
	}
	if req.Nonce != "" && idToken.Nonce != req.Nonce {
		return apiclient.TokenPair{}, fmt.Errorf("%w: id token nonce mismatch", apperrors.ErrTokenInvalid)
	}

	tp := apiclient.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		tp.ExpiresIn = int(time.Until(tok.Expiry).Seconds())
	}
	return tp, nil
}

func (a *Authorizer) config(redirectURL string) *oauth2.Config {
	cfg := a.oauth2
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	return &cfg
}
