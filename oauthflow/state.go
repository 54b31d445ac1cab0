package oauthflow

// State is a step of the redirect based OAuth handshake.
type State int

const (
	// StateIdle means no attempt is in progress.
	StateIdle State = iota

	// StateRedirecting means an authorization request is being prepared.
	StateRedirecting

	// StateAwaitingCallback means the browser was sent to the provider.
	StateAwaitingCallback

	// StateExchanging means a callback was accepted and tokens are being obtained.
	StateExchanging

	// StateHydrated means the session was established from the exchanged tokens.
	StateHydrated

	// StateFailed means the attempt failed; Retry returns to idle.
	StateFailed
)

// String returns the string representation of the flow state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRedirecting:
		return "redirecting"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateExchanging:
		return "exchanging"
	case StateHydrated:
		return "hydrated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Mode is the user's intent for the attempt.
type Mode string

const (
	ModeLogin    Mode = "login"
	ModeRegister Mode = "register"
)

// authMode maps the flow mode to the backend's auth_mode parameter.
func (m Mode) authMode() string {
	if m == ModeRegister {
		return "signup"
	}
	return "signin"
}

func parseMode(v string) Mode {
	if Mode(v) == ModeRegister {
		return ModeRegister
	}
	return ModeLogin
}

// Transition is delivered to observers on every state change.
type Transition struct {
	From State
	To   State
	Err  error
}
