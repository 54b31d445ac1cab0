package config

import "time"

type BackendConfig interface {
	GetBackendURL() string
	GetBackendTimeout() time.Duration
	GetUseDevBackend() bool
	GetDevBackendAddr() string
	GetDevUser() string
	GetDevPassword() string
}

type Backend struct{}

var _ BackendConfig = Backend{}

// GetBackendURL is the vMCP backend origin; API paths ("/api/login", ...) are appended to it.
func (Backend) GetBackendURL() string {
	return GetEnv("VMCP_BACKEND_URL", "http://localhost:8000")
}

func (Backend) GetBackendTimeout() time.Duration {
	return GetEnvDuration("VMCP_BACKEND_TIMEOUT", 15*time.Second)
}

// GetUseDevBackend starts the in-process development backend instead of calling VMCP_BACKEND_URL.
func (Backend) GetUseDevBackend() bool {
	return GetEnvBool("VMCP_DEV_BACKEND", false)
}

// GetDevBackendAddr is where the development backend listens. Port 0 picks a free port.
func (Backend) GetDevBackendAddr() string {
	return GetEnv("VMCP_DEV_BACKEND_ADDR", "127.0.0.1:0")
}

// GetDevUser is the account seeded into the development backend
func (Backend) GetDevUser() string {
	return GetEnv("VMCP_DEV_USER", "developer")
}

func (Backend) GetDevPassword() string {
	return GetEnv("VMCP_DEV_PASSWORD", "Developer123")
}
