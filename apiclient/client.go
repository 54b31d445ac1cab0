// Package apiclient talks to the vMCP backend API: password login, user info,
// token refresh and revocation, the backend-issued OAuth authorization request
// and the vMCP list.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

// Endpoint paths, relative to the backend base URL.
const (
	PathLogin          = "/api/login"
	PathUserInfo       = "/api/userinfo"
	PathRefresh        = "/api/auth/refresh"
	PathLogout         = "/api/auth/logout"
	PathOAuthAuthorize = "/api/oauth/%s/authorize"
	PathOAuthToken     = "/api/oauth/%s/token"
	PathVMCPList       = "/api/vmcps/list"
)

// Client is safe for concurrent use. Identical GETs that overlap in time share
// a single round trip.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	inflight   singleflight.Group
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for request diagnostics
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for the backend at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL without a trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login posts credentials. A 401 is reported as ErrInvalidCredentials with the
// backend's message.
func (c *Client) Login(ctx context.Context, creds Credentials) (LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, opLogin, http.MethodPost, PathLogin, "", creds, &resp); err != nil {
		return LoginResponse{}, err
	}
	if resp.AccessToken == "" || resp.User.ID == "" {
		return LoginResponse{}, malformed(PathLogin, "missing access_token or user")
	}
	return resp, nil
}

// UserInfo fetches the user the access token belongs to.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (User, error) {
	var u User
	if err := c.do(ctx, opAuthenticated, http.MethodGet, PathUserInfo, accessToken, nil, &u); err != nil {
		return User{}, err
	}
	if u.ID == "" {
		return User{}, malformed(PathUserInfo, "missing user id")
	}
	return u, nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	var tp TokenPair
	if err := c.do(ctx, opAuthenticated, http.MethodPost, PathRefresh, "", refreshRequest{RefreshToken: refreshToken}, &tp); err != nil {
		return TokenPair{}, err
	}
	if tp.AccessToken == "" {
		return TokenPair{}, malformed(PathRefresh, "missing access_token")
	}
	return tp, nil
}

// Logout revokes the access token server side, or every session of the user
// when logoutAll is set.
func (c *Client) Logout(ctx context.Context, accessToken string, logoutAll bool) error {
	return c.do(ctx, opAuthenticated, http.MethodPost, PathLogout, accessToken, logoutRequest{LogoutAll: logoutAll}, nil)
}

// AuthorizationURL asks the backend for a provider authorization URL and the
// state value it will echo back.
func (c *Client) AuthorizationURL(ctx context.Context, req AuthorizationRequest) (Authorization, error) {
	if req.Provider == "" {
		return Authorization{}, apperrors.Wrapf(apperrors.ErrUnknownProvider, "[apiclient AuthorizationURL]")
	}
	q := url.Values{}
	if req.WebClientURL != "" {
		q.Set("web_client_url", req.WebClientURL)
	}
	if req.RedirectURL != "" {
		q.Set("redirect_uri", req.RedirectURL)
	}
	mode := req.AuthMode
	if mode == "" {
		mode = AuthModeSignIn
	}
	q.Set("auth_mode", mode)
	if req.Username != "" {
		q.Set("username", req.Username)
	}
	path := fmt.Sprintf(PathOAuthAuthorize, url.PathEscape(req.Provider)) + "?" + q.Encode()

	var a Authorization
	if err := c.do(ctx, opAnonymous, http.MethodGet, path, "", nil, &a); err != nil {
		return Authorization{}, err
	}
	if a.AuthURL == "" || a.State == "" {
		return Authorization{}, malformed(path, "missing auth_url or state")
	}
	return a, nil
}

// ExchangeCode trades the provider's authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, req ExchangeRequest) (TokenPair, error) {
	path := fmt.Sprintf(PathOAuthToken, url.PathEscape(req.Provider))
	var tp TokenPair
	if err := c.do(ctx, opAnonymous, http.MethodPost, path, "", req, &tp); err != nil {
		return TokenPair{}, err
	}
	if tp.AccessToken == "" {
		return TokenPair{}, malformed(path, "missing access_token")
	}
	return tp, nil
}

// ListVMCPs returns the vMCPs visible to the token's user.
func (c *Client) ListVMCPs(ctx context.Context, accessToken string) ([]VMCP, error) {
	var list []VMCP
	if err := c.do(ctx, opAuthenticated, http.MethodGet, PathVMCPList, accessToken, nil, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []VMCP{}
	}
	return list, nil
}

type operation int

const (
	opAnonymous operation = iota
	opAuthenticated
	opLogin
)

type result struct {
	status int
	body   []byte
}

func (c *Client) do(ctx context.Context, op operation, method, path, token string, in, out any) error {
	var res result
	var err error
	if method == http.MethodGet {
		key := method + " " + path + " " + token
		var v any
		v, err, _ = c.inflight.Do(key, func() (any, error) {
			return c.roundTrip(ctx, method, path, token, nil)
		})
		if err == nil {
			res = v.(result)
		}
	} else {
		var body []byte
		if in != nil {
			if body, err = json.Marshal(in); err != nil {
				return apperrors.Wrapf(err, "[apiclient %s %s] failed to encode request", method, path)
			}
		}
		res, err = c.roundTrip(ctx, method, path, token, body)
	}
	if err != nil {
		return err
	}

	if res.status < 200 || res.status > 299 {
		apiErr := &apperrors.APIError{
			Status:  res.status,
			Message: errorMessage(res.body),
			Err:     classify(op, res.status, res.body),
		}
		c.logger.Debug().Str("method", method).Str("path", path).Int("status", res.status).
			Str("kind", string(apperrors.KindOf(apiErr))).Msg("backend request failed")
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res.body, out); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Int("status", res.status).Msg("unexpected backend response body")
		return malformed(path, err.Error())
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, body []byte) (result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return result{}, apperrors.Wrapf(err, "[apiclient %s %s] failed to create request", method, path)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result{}, &apperrors.APIError{Err: fmt.Errorf("%w: %s %s: %v", apperrors.ErrNetwork, method, path, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return result{}, &apperrors.APIError{Status: resp.StatusCode, Err: fmt.Errorf("%w: reading %s: %v", apperrors.ErrNetwork, path, err)}
	}
	return result{status: resp.StatusCode, body: data}, nil
}

// errorMessage extracts detail, then message, from an error body. An empty
// string lets APIError fall back to "HTTP error! status: N".
func errorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	if eb.Detail != "" {
		return eb.Detail
	}
	return eb.Message
}

func classify(op operation, status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized && op == opLogin:
		return apperrors.ErrInvalidCredentials
	case status == http.StatusUnauthorized:
		if strings.Contains(strings.ToLower(string(body)), "expired") {
			return apperrors.ErrTokenExpired
		}
		return apperrors.ErrTokenInvalid
	case status >= 500:
		return apperrors.ErrNetwork
	default:
		return apperrors.ErrRejected
	}
}

func malformed(path, detail string) error {
	return &apperrors.APIError{
		Status: http.StatusOK,
		Err:    fmt.Errorf("%w: %s: %s", apperrors.ErrMalformedResponse, path, detail),
	}
}
