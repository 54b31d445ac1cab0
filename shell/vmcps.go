// Package shell holds per-session state of the authenticated application
// shell. Today that is the vMCP list the console navigation renders.
package shell

import (
	"context"
	"strconv"
	"sync"

	"github.com/jrsteele09/vmcp-gateway/apiclient"
	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
	"github.com/jrsteele09/vmcp-gateway/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// LocalToken is presented to the backend when authentication is disabled.
const LocalToken = "local-token"

// Lister fetches the vMCP list with an access token.
type Lister interface {
	ListVMCPs(ctx context.Context, accessToken string) ([]apiclient.VMCP, error)
}

// Authenticator runs a call with the session's access token, refreshing once
// on rejection. *session.Session implements it.
type Authenticator interface {
	Do(ctx context.Context, fn func(ctx context.Context, accessToken string) error) error
}

// Snapshot is the serialisable view handed to the console.
type Snapshot struct {
	VMCPs  []apiclient.VMCP `json:"vmcps"`
	Loaded bool             `json:"loaded"`
	Error  string           `json:"error,omitempty"`
}

// VMCPs caches one session's vMCP list. The list is fetched on first use and
// on forced refresh, and dropped when the session's user changes.
type VMCPs struct {
	lister Lister
	auth   Authenticator
	logger zerolog.Logger

	inflight singleflight.Group

	mu     sync.Mutex
	gen    int
	loaded bool
	list   []apiclient.VMCP
	err    error
	owner  string
}

// Option configures VMCPs
type Option func(*VMCPs)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(v *VMCPs) {
		v.logger = l
	}
}

// NewVMCPs creates an empty cache. A nil auth means authentication is
// disabled and LocalToken is used.
func NewVMCPs(lister Lister, auth Authenticator, opts ...Option) *VMCPs {
	v := &VMCPs{
		lister: lister,
		auth:   auth,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// List returns the cached list, fetching it when not loaded yet or when force
// is set. Concurrent callers of the same cache generation share one fetch; a
// caller after Reset never joins a fetch started before it.
func (v *VMCPs) List(ctx context.Context, force bool) ([]apiclient.VMCP, error) {
	v.mu.Lock()
	if v.loaded && !force {
		list, err := v.list, v.err
		v.mu.Unlock()
		return list, err
	}
	gen := v.gen
	v.mu.Unlock()

	res, err, _ := v.inflight.Do(strconv.Itoa(gen), func() (any, error) {
		return v.fetch(context.WithoutCancel(ctx))
	})

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen == v.gen {
		v.loaded = true
		v.err = err
		if err == nil {
			v.list = res.([]apiclient.VMCP)
		}
	}
	if err != nil {
		return nil, err
	}
	return res.([]apiclient.VMCP), nil
}

func (v *VMCPs) fetch(ctx context.Context) ([]apiclient.VMCP, error) {
	var list []apiclient.VMCP
	call := func(ctx context.Context, token string) error {
		var err error
		list, err = v.lister.ListVMCPs(ctx, token)
		return err
	}

	var err error
	if v.auth == nil {
		err = call(ctx, LocalToken)
	} else {
		err = v.auth.Do(ctx, call)
	}
	if err != nil {
		v.logger.Warn().Err(err).Str("kind", string(apperrors.KindOf(err))).Msg("failed to load vMCP list")
		return nil, err
	}
	return list, nil
}

// Snapshot returns the current cache contents without fetching.
func (v *VMCPs) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	snap := Snapshot{VMCPs: append([]apiclient.VMCP{}, v.list...), Loaded: v.loaded}
	if v.err != nil {
		snap.Error = v.err.Error()
	}
	return snap
}

// Reset drops the cached list. A fetch already in flight will not repopulate it.
func (v *VMCPs) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reset()
}

func (v *VMCPs) reset() {
	v.gen++
	v.loaded = false
	v.list = nil
	v.err = nil
}

// Follow resets the cache whenever sess logs out or changes user.
func (v *VMCPs) Follow(sess *session.Session) (unsubscribe func()) {
	v.mu.Lock()
	if u := sess.Snapshot().User; u != nil {
		v.owner = u.ID
	}
	v.mu.Unlock()

	return sess.Subscribe(func(st session.State) {
		if st.Loading {
			return
		}
		owner := ""
		if st.User != nil {
			owner = st.User.ID
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		if owner != v.owner {
			v.owner = owner
			v.reset()
		}
	})
}
