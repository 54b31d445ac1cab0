package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const browserCookieIssuer = "vmcp-gateway"

// browserCookies mints and verifies the signed cookie naming a browser. The
// cookie carries only the browser id; tokens never leave the gateway.
type browserCookies struct {
	name   string
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

func newBrowserCookies(name string, secret []byte, maxAge time.Duration) *browserCookies {
	return &browserCookies{name: name, secret: secret, maxAge: maxAge, now: time.Now}
}

// mint creates a new browser id and its signed cookie value
func (c *browserCookies) mint() (id, value string, err error) {
	id = uuid.New().String()
	now := c.now()
	claims := jwtlib.RegisteredClaims{
		ID:        id,
		Issuer:    browserCookieIssuer,
		IssuedAt:  jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(c.maxAge)),
	}
	value, err = jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", "", fmt.Errorf("[browserCookies mint] failed to sign cookie: %w", err)
	}
	return id, value, nil
}

// browserID returns the id carried by the request's cookie
func (c *browserCookies) browserID(r *http.Request) (string, error) {
	cookie, err := r.Cookie(c.name)
	if err != nil {
		return "", err
	}
	claims := &jwtlib.RegisteredClaims{}
	_, err = jwtlib.ParseWithClaims(cookie.Value, claims, func(*jwtlib.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(browserCookieIssuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", fmt.Errorf("[browserCookies browserID] invalid browser cookie: %w", err)
	}
	if claims.ID == "" {
		return "", errors.New("[browserCookies browserID] browser cookie carries no id")
	}
	return claims.ID, nil
}

func (c *browserCookies) set(w http.ResponseWriter, r *http.Request, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(c.maxAge.Seconds()),
	})
}

// redirectSuccess helper for success redirects
func redirectSuccess(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// redirectWithError helper for error redirects
func redirectWithError(w http.ResponseWriter, r *http.Request, path, errorMsg string) {
	fullPath := path + "?error=" + url.QueryEscape(errorMsg)
	http.Redirect(w, r, fullPath, http.StatusSeeOther)
}

// wantsJSON reports whether the caller is a script rather than a navigation
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// safeReturnURL accepts only same-origin absolute paths
func safeReturnURL(raw, fallback string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return raw
}
