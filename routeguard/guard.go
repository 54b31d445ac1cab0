package routeguard

import "net/url"

// Action is what the caller should do with the navigation.
type Action string

const (
	ActionLoading     Action = "loading"
	ActionRender      Action = "render"
	ActionRenderShell Action = "render_shell"
	ActionRedirect    Action = "redirect"
)

// Request is everything a decision depends on.
type Request struct {
	Path            string
	Query           url.Values
	IsAuthenticated bool
	Loading         bool
}

// Decision is the guard's verdict. Location is set only for redirects.
type Decision struct {
	Action   Action `json:"action"`
	Location string `json:"location,omitempty"`
	Class    Class  `json:"-"`
}

// Policy decides navigations. It never fails: an indeterminate request is
// treated as a protected page.
type Policy interface {
	Decide(req Request) Decision
}

// NewPolicy returns the policy for the deployment, chosen once at startup.
func NewPolicy(routes Routes, authDisabled bool) Policy {
	if authDisabled {
		return AuthDisabled{Routes: routes}
	}
	return Guard{Routes: routes}
}

// Guard is the session aware policy. Rules are evaluated in order and the
// first match wins.
type Guard struct {
	Routes Routes
}

func (g Guard) Decide(req Request) Decision {
	class := Classify(g.Routes, req.Path, req.Query)

	switch {
	case req.Loading:
		return Decision{Action: ActionLoading, Class: class}
	case class == ClassRoot, class == ClassOAuthSetup:
		return Decision{Action: ActionRender, Class: class}
	case class == ClassPublic && req.IsAuthenticated && !callbackInProgress(req.Query):
		return Decision{Action: ActionRedirect, Location: g.Routes.Landing, Class: class}
	case class == ClassPublic:
		return Decision{Action: ActionRender, Class: class}
	case !req.IsAuthenticated:
		return Decision{Action: ActionRedirect, Location: g.Routes.Login, Class: class}
	default:
		return Decision{Action: ActionRenderShell, Class: class}
	}
}

// AuthDisabled is the single user deployment policy: the session is never
// consulted and protected pages always render in the shell.
type AuthDisabled struct {
	Routes Routes
}

func (a AuthDisabled) Decide(req Request) Decision {
	class := Classify(a.Routes, req.Path, req.Query)
	if class == ClassProtected {
		return Decision{Action: ActionRenderShell, Class: class}
	}
	return Decision{Action: ActionRender, Class: class}
}
