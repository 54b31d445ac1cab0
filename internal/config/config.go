package config

import (
	"fmt"

	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	BackendConfig
	SessionConfig
	OAuthConfig
	RouteConfig
	CorsConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetStaticDir() string
	GetLogLevel() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Backend
	Session
	OAuth
	Routes
	Cors
}

func New() Config {
	return mainConfig{}
}

// Load reads envFile (or ./.env) into the process environment, then returns
// the environment backed config. A missing .env file is not an error.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("[config Load] failed to load %s: %w", envFile, err)
		}
		return New(), nil
	}
	_ = godotenv.Load()
	return New(), nil
}
