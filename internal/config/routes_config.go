package config

type RouteConfig interface {
	GetLoginPath() string
	GetLandingPath() string
}

type Routes struct{}

var _ RouteConfig = Routes{}

func (Routes) GetLoginPath() string {
	return GetEnv("VMCP_LOGIN_PATH", "/login")
}

// GetLandingPath is where authenticated users are sent from public pages.
func (Routes) GetLandingPath() string {
	return GetEnv("VMCP_LANDING_PATH", "/vmcp")
}
