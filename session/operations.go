package session

import (
	"context"

	"github.com/jrsteele09/vmcp-gateway/apiclient"
	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
	"github.com/jrsteele09/vmcp-gateway/tokenstore"
)

// Hydrate restores the session from the stored access token. Concurrent calls
// share one backend round trip, and the round trip is not cancelled when ctx
// is: its result is still applied.
//
// Every path ends with Loading=false. A rejected token is refreshed once;
// any other failure clears the stored tokens and leaves the session
// anonymous. The returned error is only for token store failures.
func (s *Session) Hydrate(ctx context.Context) error {
	_, err, _ := s.inflight.Do("hydrate", func() (any, error) {
		return nil, s.hydrate(context.WithoutCancel(ctx))
	})
	return err
}

func (s *Session) hydrate(ctx context.Context) error {
	token, present, err := s.store.Get(ctx, tokenstore.KeyAccessToken)
	if err != nil {
		s.setAnonymous()
		return apperrors.Wrapf(err, "[session Hydrate] failed to read access token")
	}
	if !present || token == "" {
		s.setAnonymous()
		return nil
	}

	user, err := s.backend.UserInfo(ctx, token)
	if apperrors.IsAuthRejected(err) {
		s.logger.Debug().Str("kind", string(apperrors.KindOf(err))).Msg("stored access token rejected, refreshing")
		if fresh, rerr := s.rotateTokens(ctx); rerr == nil {
			user, err = s.backend.UserInfo(ctx, fresh)
		}
	}
	if err != nil {
		s.logger.Info().Err(err).Str("kind", string(apperrors.KindOf(err))).Msg("session hydrate failed")
		clearErr := tokenstore.ClearAll(ctx, s.store, tokenstore.KeyAccessToken, tokenstore.KeyRefreshToken)
		s.setAnonymous()
		return apperrors.Wrapf(clearErr, "[session Hydrate] failed to clear tokens")
	}

	s.setUser(user)
	return nil
}

// Login authenticates with a username and password. On failure the token
// store is untouched and the result carries the backend's message.
func (s *Session) Login(ctx context.Context, creds apiclient.Credentials) (Result, error) {
	prev := s.Snapshot()
	s.setLoading()

	resp, err := s.backend.Login(ctx, creds)
	if err != nil {
		s.logger.Info().Str("kind", string(apperrors.KindOf(err))).Msg("login failed")
		s.update(func(st *State) {
			st.User = prev.User
			st.Loading = false
		})
		return failed(err), nil
	}

	if err := s.storeTokens(ctx, resp.TokenPair); err != nil {
		s.setAnonymous()
		return failed(err), apperrors.Wrapf(err, "[session Login]")
	}
	s.setUser(resp.User)
	return ok(), nil
}

// Adopt stores a token pair obtained elsewhere (an OAuth exchange) and
// hydrates from it.
func (s *Session) Adopt(ctx context.Context, tokens apiclient.TokenPair) (Result, error) {
	s.setLoading()
	if err := s.storeTokens(ctx, tokens); err != nil {
		s.setAnonymous()
		return failed(err), apperrors.Wrapf(err, "[session Adopt]")
	}

	ctx = context.WithoutCancel(ctx)
	user, err := s.backend.UserInfo(ctx, tokens.AccessToken)
	if err != nil {
		s.logger.Info().Err(err).Str("kind", string(apperrors.KindOf(err))).Msg("adopted token rejected")
		clearErr := tokenstore.ClearAll(ctx, s.store, tokenstore.KeyAccessToken, tokenstore.KeyRefreshToken)
		s.setAnonymous()
		return failed(err), apperrors.Wrapf(clearErr, "[session Adopt] failed to clear tokens")
	}
	s.setUser(user)
	return ok(), nil
}

// Logout ends the session. Tokens are cleared and the state reset before the
// backend is told, so it succeeds locally with no connectivity.
func (s *Session) Logout(ctx context.Context) (Result, error) {
	return s.logout(ctx, false)
}

// LogoutAll is Logout that also asks the backend to revoke every other
// session of the user.
func (s *Session) LogoutAll(ctx context.Context) (Result, error) {
	return s.logout(ctx, true)
}

func (s *Session) logout(ctx context.Context, all bool) (Result, error) {
	token, _, err := s.store.Get(ctx, tokenstore.KeyAccessToken)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read access token, skipping server side logout")
	}
	clearErr := tokenstore.ClearAll(ctx, s.store, tokenstore.KeyAccessToken, tokenstore.KeyRefreshToken)
	s.setAnonymous()

	if token != "" {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.logoutTimeout)
		defer cancel()
		if err := s.backend.Logout(lctx, token, all); err != nil {
			s.logger.Warn().Err(err).Str("kind", string(apperrors.KindOf(err))).Msg("server side logout failed")
		}
	}

	if clearErr != nil {
		return failed(clearErr), apperrors.Wrapf(clearErr, "[session Logout] failed to clear tokens")
	}
	return ok(), nil
}

// Refresh exchanges the refresh token for a new access token. If that fails
// the session is logged out. Concurrent calls share one round trip.
func (s *Session) Refresh(ctx context.Context) (Result, error) {
	v, err, _ := s.inflight.Do("refresh", func() (any, error) {
		rctx := context.WithoutCancel(ctx)
		if _, err := s.rotateTokens(rctx); err != nil {
			s.logger.Info().Err(err).Str("kind", string(apperrors.KindOf(err))).Msg("refresh failed, logging out")
			res, lerr := s.logout(rctx, false)
			if lerr != nil {
				return res, lerr
			}
			return failed(err), nil
		}
		return ok(), nil
	})
	res, _ := v.(Result)
	return res, err
}

// rotateTokens exchanges the refresh token once for every concurrent caller,
// hydrate and Refresh alike: the backend burns a refresh token on first use.
func (s *Session) rotateTokens(ctx context.Context) (string, error) {
	v, err, _ := s.inflight.Do("rotate", func() (any, error) {
		return s.refreshTokens(context.WithoutCancel(ctx))
	})
	token, _ := v.(string)
	return token, err
}

// refreshTokens rotates the stored tokens and returns the new access token.
// It does not touch session state.
func (s *Session) refreshTokens(ctx context.Context) (string, error) {
	refresh, present, err := s.store.Get(ctx, tokenstore.KeyRefreshToken)
	if err != nil {
		return "", apperrors.Wrapf(err, "[session refresh] failed to read refresh token")
	}
	if !present || refresh == "" {
		return "", apperrors.Wrapf(apperrors.ErrNotAuthenticated, "no refresh token available")
	}

	tp, err := s.backend.Refresh(ctx, refresh)
	if err != nil {
		return "", err
	}
	if err := s.storeTokens(ctx, tp); err != nil {
		return "", err
	}
	return tp.AccessToken, nil
}

// storeTokens writes the access token and, when present, the refresh token.
func (s *Session) storeTokens(ctx context.Context, tp apiclient.TokenPair) error {
	if err := s.store.Set(ctx, tokenstore.KeyAccessToken, tp.AccessToken); err != nil {
		return apperrors.Wrapf(err, "failed to store access token")
	}
	if tp.RefreshToken != "" {
		if err := s.store.Set(ctx, tokenstore.KeyRefreshToken, tp.RefreshToken); err != nil {
			return apperrors.Wrapf(err, "failed to store refresh token")
		}
	}
	return nil
}

// Do runs an authenticated backend call with the current access token. When
// the backend rejects the token, Do refreshes once and retries; if the refresh
// fails the session is logged out and ErrNotAuthenticated is returned.
func (s *Session) Do(ctx context.Context, fn func(ctx context.Context, accessToken string) error) error {
	token, present, err := s.store.Get(ctx, tokenstore.KeyAccessToken)
	if err != nil {
		return apperrors.Wrapf(err, "[session Do] failed to read access token")
	}
	if !present || token == "" {
		return apperrors.ErrNotAuthenticated
	}

	err = fn(ctx, token)
	if !apperrors.IsAuthRejected(err) {
		return err
	}

	res, rerr := s.Refresh(ctx)
	if rerr != nil {
		return rerr
	}
	if !res.Success {
		return apperrors.Wrapf(apperrors.ErrNotAuthenticated, "%s", res.Error)
	}

	token, _, err = s.store.Get(ctx, tokenstore.KeyAccessToken)
	if err != nil {
		return apperrors.Wrapf(err, "[session Do] failed to read access token")
	}
	return fn(ctx, token)
}
