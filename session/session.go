// Package session holds the authentication state of one browser (or one CLI
// user): who is signed in, whether the session is still being restored, and
// the operations that change it.
//
// A Session is provider scoped. Create one per browser with New and release it
// with Close; nothing in this package is process global.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/vmcp-gateway/apiclient"
	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
	"github.com/jrsteele09/vmcp-gateway/tokenstore"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const defaultLogoutTimeout = 5 * time.Second

// Backend is the slice of the backend API a Session depends on.
type Backend interface {
	Login(ctx context.Context, creds apiclient.Credentials) (apiclient.LoginResponse, error)
	UserInfo(ctx context.Context, accessToken string) (apiclient.User, error)
	Refresh(ctx context.Context, refreshToken string) (apiclient.TokenPair, error)
	Logout(ctx context.Context, accessToken string, logoutAll bool) error
}

// State is a point in time view of the session. IsAuthenticated is true iff
// User is set.
type State struct {
	User            *apiclient.User `json:"user,omitempty"`
	IsAuthenticated bool            `json:"isAuthenticated"`
	Loading         bool            `json:"loading"`
}

// Result is the outcome of a user initiated operation. Error is suitable for
// display; Kind names the taxonomy entry for logs and metrics.
type Result struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Kind    apperrors.Kind `json:"kind,omitempty"`
}

func ok() Result {
	return Result{Success: true}
}

func failed(err error) Result {
	return Result{Error: displayMessage(err), Kind: apperrors.KindOf(err)}
}

// Session is safe for concurrent use.
type Session struct {
	store         tokenstore.Store
	backend       Backend
	logger        zerolog.Logger
	logoutTimeout time.Duration

	// notifyMu serialises mutate+notify so observers see states in order.
	notifyMu sync.Mutex
	mu       sync.RWMutex
	state    State
	subs     map[int]func(State)
	nextSub  int
	closed   bool

	inflight singleflight.Group
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithLogoutTimeout bounds the best-effort server side logout call
func WithLogoutTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.logoutTimeout = d
	}
}

// New creates a session in the loading state. Call Hydrate to restore it from
// the token store.
func New(store tokenstore.Store, backend Backend, opts ...Option) *Session {
	s := &Session{
		store:         store,
		backend:       backend,
		logger:        log.Logger,
		logoutTimeout: defaultLogoutTimeout,
		state:         State{Loading: true},
		subs:          make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Store returns the token store backing this session.
func (s *Session) Store() tokenstore.Store {
	return s.store
}

// Subscribe registers fn to be called with the new state after every
// mutation. fn runs synchronously and must not call back into mutating
// Session methods. The returned func removes the subscription.
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// WaitSettled blocks until the session is not loading or ctx is done, and
// returns the latest state either way.
func (s *Session) WaitSettled(ctx context.Context) State {
	settled := make(chan struct{}, 1)
	unsubscribe := s.Subscribe(func(st State) {
		if !st.Loading {
			select {
			case settled <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if st := s.Snapshot(); !st.Loading {
		return st
	}
	select {
	case <-settled:
	case <-ctx.Done():
	}
	return s.Snapshot()
}

// Close tears the session down: the state is reset, observers (WaitSettled
// callers included) see that reset state once, and are then dropped.
// Persisted tokens are left alone so a new Session can restore them.
func (s *Session) Close() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = State{}
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subs = make(map[int]func(State))
	s.mu.Unlock()

	for _, fn := range subs {
		fn(State{})
	}
}

// Closed reports whether Close has been called
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// update applies fn to the state and notifies observers.
func (s *Session) update(fn func(*State)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fn(&s.state)
	s.state.IsAuthenticated = s.state.User != nil
	snap := s.state.clone()
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Session) setLoading() {
	s.update(func(st *State) { st.Loading = true })
}

func (s *Session) setUser(u apiclient.User) {
	s.update(func(st *State) {
		st.User = &u
		st.Loading = false
	})
}

func (s *Session) setAnonymous() {
	s.update(func(st *State) {
		st.User = nil
		st.Loading = false
	})
}

func (st State) clone() State {
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	return st
}

func displayMessage(err error) string {
	var apiErr *apperrors.APIError
	if apperrors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindNetwork:
		if apiErr != nil && apiErr.Status != 0 {
			return apiErr.Error()
		}
		return "Network error occurred"
	case apperrors.KindMalformedResponse:
		return "Unexpected response from server"
	case apperrors.KindNotAuthenticated:
		return "Not authenticated"
	}
	return err.Error()
}
