package config

type OAuthConfig interface {
	GetOAuthProviders() []string
	GetOIDCIssuer() string
	GetOIDCClientID() string
	GetOIDCClientSecret() string
	GetOIDCScopes() []string
	GetOAuthTokenCallback() bool
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

// GetOAuthProviders lists the providers the backend can issue authorization requests for.
func (OAuth) GetOAuthProviders() []string {
	return GetEnvList("VMCP_OAUTH_PROVIDERS", []string{"google", "github"})
}

// GetOIDCIssuer switches the gateway to direct OIDC mode when set: the gateway builds
// the authorization request and exchanges the code itself instead of asking the backend.
func (OAuth) GetOIDCIssuer() string {
	return GetEnv("VMCP_OIDC_ISSUER", "")
}

func (OAuth) GetOIDCClientID() string {
	return GetEnv("VMCP_OIDC_CLIENT_ID", "")
}

func (OAuth) GetOIDCClientSecret() string {
	return GetEnv("VMCP_OIDC_CLIENT_SECRET", "")
}

func (OAuth) GetOIDCScopes() []string {
	return GetEnvList("VMCP_OIDC_SCOPES", []string{"openid", "profile", "email", "offline_access"})
}

// GetOAuthTokenCallback omits redirect_uri from backend authorization requests, so the
// backend completes the exchange and sends the token pair to /oauth/callback/success.
func (OAuth) GetOAuthTokenCallback() bool {
	return GetEnvBool("VMCP_OAUTH_TOKEN_CALLBACK", false)
}
