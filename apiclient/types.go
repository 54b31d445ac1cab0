package apiclient

// User is the identity record returned by /api/userinfo and /api/login.
type User struct {
	ID         string  `json:"id"`
	Email      string  `json:"email"`
	Username   string  `json:"username,omitempty"`
	FirstName  string  `json:"first_name,omitempty"`
	LastName   string  `json:"last_name,omitempty"`
	FullName   string  `json:"full_name,omitempty"`
	IsActive   bool    `json:"is_active"`
	IsVerified bool    `json:"is_verified"`
	LastLogin  *string `json:"last_login"`
	CreatedAt  string  `json:"created_at,omitempty"`
	PhotoURL   string  `json:"photo_url,omitempty"`
}

// Credentials is the password login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenPair is what login, refresh and the OAuth exchange hand back. Refresh
// may omit RefreshToken when the backend does not rotate it.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

// LoginResponse is the body of a successful /api/login.
type LoginResponse struct {
	TokenPair
	User User `json:"user"`
}

// Backend auth modes for the authorization request.
const (
	AuthModeSignIn = "signin"
	AuthModeSignUp = "signup"
)

// AuthorizationRequest asks for a provider authorization URL. With a
// RedirectURL the provider comes back with a code to exchange; without one the
// backend completes the exchange itself and sends the token pair to
// WebClientURL + "/oauth/callback/success".
type AuthorizationRequest struct {
	Provider     string
	WebClientURL string
	RedirectURL  string
	AuthMode     string
	Username     string
}

// Authorization is the provider redirect target plus its CSRF correlation value.
// CodeVerifier and Nonce are only set by authorizers that run PKCE and ID token
// verification themselves.
type Authorization struct {
	AuthURL      string `json:"auth_url"`
	State        string `json:"state"`
	CodeVerifier string `json:"-"`
	Nonce        string `json:"-"`
}

// ExchangeRequest trades an authorization code for a token pair.
type ExchangeRequest struct {
	Provider     string `json:"-"`
	Code         string `json:"code"`
	State        string `json:"state"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RedirectURL  string `json:"redirect_uri,omitempty"`
	Nonce        string `json:"-"`
}

// VMCP is the list view of a vMCP configuration.
type VMCP struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	Servers     []string `json:"servers,omitempty"`
	IsPublic    bool     `json:"is_public,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

type errorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	LogoutAll bool `json:"logout_all"`
}
