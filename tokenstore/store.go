// Package tokenstore persists the small set of strings a browser session needs:
// the access/refresh token pair and the transient OAuth correlation values.
//
// A Store is a dumb map. It does not validate values; the backend owns token
// lifetimes. Stores may expire idle entries (see WithTTL) to bound growth.
package tokenstore

import "context"

// Well-known entry names.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"

	// KeyOAuthState is the CSRF correlation value of the pending OAuth attempt. Single use.
	KeyOAuthState = "oauth_state"
	// KeyOAuthMode is "login" or "register".
	KeyOAuthMode         = "oauth_mode"
	KeyOAuthReturnURL    = "oauth_return_url"
	KeyOAuthCodeVerifier = "oauth_code_verifier"
	KeyOAuthNonce        = "oauth_nonce"
	KeyOAuthPopup        = "oauth_popup"
	KeyOAuthProvider     = "oauth_provider"
	// KeyOAuthExpiresAt is the unix time after which the pending attempt's
	// callback is refused.
	KeyOAuthExpiresAt = "oauth_expires_at"
)

// Store is the token store contract. All operations are durable when they return.
type Store interface {
	// Get returns the value for name and whether it was present.
	Get(ctx context.Context, name string) (string, bool, error)

	// Set stores value under name, replacing any previous value.
	Set(ctx context.Context, name, value string) error

	// Clear removes name. Clearing an absent name is not an error.
	Clear(ctx context.Context, name string) error

	// Take atomically returns and removes the value for name, so that at most
	// one caller ever observes a given value.
	Take(ctx context.Context, name string) (string, bool, error)
}

// ClearAll clears every name, returning the first error after attempting all of them.
func ClearAll(ctx context.Context, s Store, names ...string) error {
	var firstErr error
	for _, name := range names {
		if err := s.Clear(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
