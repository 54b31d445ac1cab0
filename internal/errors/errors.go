package errors

import (
	"errors"
	"fmt"
)

// Session and OAuth error taxonomy
var (
	// Transport errors
	ErrNetwork           = errors.New("network error")
	ErrMalformedResponse = errors.New("malformed response")

	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotAuthenticated   = errors.New("not authenticated")

	// Token errors
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")

	// OAuth flow errors
	ErrCsrfMismatch    = errors.New("oauth state mismatch")
	ErrProviderDenied  = errors.New("oauth provider returned an error")
	ErrFlowInProgress  = errors.New("oauth exchange already in progress")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnknownProvider = errors.New("unknown oauth provider")

	// Request errors
	ErrRejected = errors.New("request rejected")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// Kind names an entry of the error taxonomy. It is what gets logged and
// counted, never shown to users.
type Kind string

const (
	KindNone               Kind = ""
	KindNetwork            Kind = "NetworkError"
	KindInvalidCredentials Kind = "InvalidCredentials"
	KindTokenExpired       Kind = "TokenExpired"
	KindTokenInvalid       Kind = "TokenInvalid"
	KindCsrfMismatch       Kind = "CsrfMismatch"
	KindMalformedResponse  Kind = "MalformedResponse"
	KindProviderDenied     Kind = "ProviderDenied"
	KindNotAuthenticated   Kind = "NotAuthenticated"
	KindRejected           Kind = "Rejected"
	KindUnexpected         Kind = "Unexpected"
)

var kinds = []struct {
	target error
	kind   Kind
}{
	{ErrNetwork, KindNetwork},
	{ErrInvalidCredentials, KindInvalidCredentials},
	{ErrTokenExpired, KindTokenExpired},
	{ErrTokenInvalid, KindTokenInvalid},
	{ErrCsrfMismatch, KindCsrfMismatch},
	{ErrMalformedResponse, KindMalformedResponse},
	{ErrProviderDenied, KindProviderDenied},
	{ErrNotAuthenticated, KindNotAuthenticated},
	{ErrRejected, KindRejected},
}

// KindOf classifies err. Errors outside the taxonomy are KindUnexpected.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.target) {
			return k.kind
		}
	}
	return KindUnexpected
}

// IsAuthRejected reports whether the backend refused the presented access token.
func IsAuthRejected(err error) bool {
	return errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenInvalid)
}

// APIError is a backend failure. Error() returns the backend's own message so it
// can be surfaced verbatim, falling back to the HTTP status for non-2xx replies
// without one. Unwrap returns the taxonomy sentinel.
type APIError struct {
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Status != 0 && (e.Status < 200 || e.Status > 299) {
		return fmt.Sprintf("HTTP error! status: %d", e.Status)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "request failed"
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need a single errors import.
func New(text string) error {
	return errors.New(text)
}
