package config

import "time"

const (
	TokenStoreMemory = "memory"
	TokenStoreRedis  = "redis"
)

type SessionConfig interface {
	GetAuthDisabled() bool
	GetCookieName() string
	GetCookieSecret() string
	GetCookieMaxAge() time.Duration
	GetHydrateWait() time.Duration
	GetBrowserIdleTimeout() time.Duration
	GetTokenStore() string
	GetRedisURL() string
	GetRedisKeyPrefix() string
	GetTokenTTL() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

// GetAuthDisabled selects the single-user deployment mode where every page renders
// without a session. Read once at startup.
func (Session) GetAuthDisabled() bool {
	return GetEnvBool("VMCP_AUTH_DISABLED", GetEnvBool("VMCP_OSS_BUILD", false))
}

func (Session) GetCookieName() string {
	return GetEnv("VMCP_COOKIE_NAME", "vmcp_browser")
}

// GetCookieSecret signs browser cookies. An empty value makes the server generate
// a random secret, which invalidates every browser on restart.
func (Session) GetCookieSecret() string {
	return GetEnv("VMCP_COOKIE_SECRET", "")
}

func (Session) GetCookieMaxAge() time.Duration {
	return GetEnvDuration("VMCP_COOKIE_MAX_AGE", 30*24*time.Hour)
}

// GetHydrateWait bounds how long a page request waits for session hydration before
// the loading placeholder is served.
func (Session) GetHydrateWait() time.Duration {
	return GetEnvDuration("VMCP_HYDRATE_WAIT", 2*time.Second)
}

func (Session) GetBrowserIdleTimeout() time.Duration {
	return GetEnvDuration("VMCP_BROWSER_IDLE_TIMEOUT", 2*time.Hour)
}

func (Session) GetTokenStore() string {
	return GetEnv("VMCP_TOKEN_STORE", TokenStoreMemory)
}

func (Session) GetRedisURL() string {
	return GetEnv("REDIS_URL", "redis://localhost:6379/0")
}

func (Session) GetRedisKeyPrefix() string {
	return GetEnv("VMCP_REDIS_KEY_PREFIX", "vmcp:gateway:")
}

// GetTokenTTL is the lifetime of persisted token store entries. Zero keeps them forever.
func (Session) GetTokenTTL() time.Duration {
	return GetEnvDuration("VMCP_TOKEN_TTL", 30*24*time.Hour)
}
