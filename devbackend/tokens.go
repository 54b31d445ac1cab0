package devbackend

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
)

const refreshTokenBytes = 32

// accessClaims are the claims of a dev access token. Sid ties the access token
// to the refresh token it was issued with, so logout can revoke both. Gen is
// the user's token generation; logging out everywhere bumps it.
type accessClaims struct {
	Email string `json:"email,omitempty"`
	Sid   string `json:"sid"`
	Gen   int    `json:"gen"`
	jwtlib.RegisteredClaims
}

// tokenIssuer creates and validates HS256 access tokens and rotating refresh
// tokens.
type tokenIssuer struct {
	issuer     string
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu          sync.Mutex
	refresh     map[string]storedRefreshToken
	revoked     map[string]time.Time // jti -> exp
	generations map[string]int       // user id -> current token generation
}

type storedRefreshToken struct {
	UserID string
	Sid    string
	Iat    time.Time
}

func newTokenIssuer(issuer string, secret []byte, accessTTL, refreshTTL time.Duration, now func() time.Time) *tokenIssuer {
	return &tokenIssuer{
		issuer:      issuer,
		secret:      secret,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		now:         now,
		refresh:     make(map[string]storedRefreshToken),
		revoked:     make(map[string]time.Time),
		generations: make(map[string]int),
	}
}

// issue creates a new access+refresh pair for user in session sid.
func (ti *tokenIssuer) issue(user *User, sid string) (access, refresh string, err error) {
	now := ti.now()
	ti.mu.Lock()
	gen := ti.generations[user.ID]
	ti.mu.Unlock()

	claims := accessClaims{
		Email: user.Email,
		Sid:   sid,
		Gen:   gen,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   user.ID,
			Audience:  jwtlib.ClaimStrings{ti.issuer},
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ti.accessTTL)),
			ID:        uuid.New().String(),
		},
	}
	access, err = jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign access token: %w", err)
	}

	tokenBytes := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	refresh = hex.EncodeToString(tokenBytes)

	ti.mu.Lock()
	ti.refresh[refresh] = storedRefreshToken{UserID: user.ID, Sid: sid, Iat: now}
	ti.mu.Unlock()
	return access, refresh, nil
}

// validate parses and checks an access token. Errors wrap ErrTokenExpired or
// ErrTokenInvalid.
func (ti *tokenIssuer) validate(raw string) (*accessClaims, error) {
	claims := &accessClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (interface{}, error) {
		return ti.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(ti.issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(ti.now),
	)
	switch {
	case errors.Is(err, jwtlib.ErrTokenExpired):
		return nil, apperrors.ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTokenInvalid, err)
	}

	ti.mu.Lock()
	defer ti.mu.Unlock()
	if _, revoked := ti.revoked[claims.ID]; revoked {
		return nil, fmt.Errorf("%w: token revoked", apperrors.ErrTokenInvalid)
	}
	if claims.Gen != ti.generations[claims.Subject] {
		return nil, fmt.Errorf("%w: token revoked", apperrors.ErrTokenInvalid)
	}
	return claims, nil
}

// rotate consumes a refresh token and returns its record. The caller issues
// the replacement pair.
func (ti *tokenIssuer) rotate(refresh string) (storedRefreshToken, error) {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	rt, ok := ti.refresh[refresh]
	if !ok {
		return storedRefreshToken{}, fmt.Errorf("%w: unknown refresh token", apperrors.ErrTokenInvalid)
	}
	delete(ti.refresh, refresh)
	if ti.now().Sub(rt.Iat) > ti.refreshTTL {
		return storedRefreshToken{}, fmt.Errorf("%w: refresh token expired", apperrors.ErrTokenExpired)
	}
	return rt, nil
}

// revoke voids one access token and every refresh token of its session.
func (ti *tokenIssuer) revoke(claims *accessClaims) {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	exp := ti.now().Add(ti.accessTTL)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	ti.revoked[claims.ID] = exp
	for token, rt := range ti.refresh {
		if rt.Sid == claims.Sid {
			delete(ti.refresh, token)
		}
	}
}

// revokeUser voids every token issued to the user so far.
func (ti *tokenIssuer) revokeUser(userID string) {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	ti.generations[userID]++
	for token, rt := range ti.refresh {
		if rt.UserID == userID {
			delete(ti.refresh, token)
		}
	}
}

// cleanup drops revocation entries for tokens that have expired anyway.
func (ti *tokenIssuer) cleanup() {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	now := ti.now()
	for jti, exp := range ti.revoked {
		if now.After(exp) {
			delete(ti.revoked, jti)
		}
	}
	for token, rt := range ti.refresh {
		if now.Sub(rt.Iat) > ti.refreshTTL {
			delete(ti.refresh, token)
		}
	}
}

// newSessionID names a login. Refreshes keep it so logout can find every
// refresh token descended from the login.
func newSessionID() string {
	return uuid.New().String()
}
