// Package browsers keeps one provider scope per browser: its token store
// namespace, session, OAuth flow and shell state.
package browsers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/vmcp-gateway/oauthflow"
	"github.com/jrsteele09/vmcp-gateway/session"
	"github.com/jrsteele09/vmcp-gateway/shell"
	"github.com/jrsteele09/vmcp-gateway/tokenstore"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Browser is everything the gateway holds for one browser.
type Browser struct {
	ID      string
	Store   tokenstore.Store
	Session *session.Session
	Flow    *oauthflow.Flow
	VMCPs   *shell.VMCPs

	lastSeen atomic.Int64
	onClose  []func()
}

// OnClose registers fn to run when the browser is dropped from the registry.
func (b *Browser) OnClose(fn func()) {
	b.onClose = append(b.onClose, fn)
}

func (b *Browser) close() {
	for _, fn := range b.onClose {
		fn()
	}
	b.Session.Close()
}

func (b *Browser) touch(now time.Time) {
	b.lastSeen.Store(now.UnixNano())
}

// LastSeen is when the browser last made a request
func (b *Browser) LastSeen() time.Time {
	return time.Unix(0, b.lastSeen.Load())
}

// Factory builds the scope for a browser id. It must not start hydration;
// the registry does that.
type Factory func(id string) *Browser

// Registry is a thread-safe map of browser id to Browser. Idle browsers are
// closed by Sweep; their tokens stay in the store, so the browser is restored
// on its next request.
type Registry struct {
	factory     Factory
	idleTimeout time.Duration
	now         func() time.Time
	logger      zerolog.Logger

	mu       sync.Mutex
	browsers map[string]*Browser
}

// Option configures a Registry
type Option func(*Registry)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger sets the registry logger
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates an empty registry
func NewRegistry(factory Factory, idleTimeout time.Duration, opts ...Option) *Registry {
	r := &Registry{
		factory:     factory,
		idleTimeout: idleTimeout,
		now:         time.Now,
		logger:      log.Logger,
		browsers:    make(map[string]*Browser),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the browser for id if it is live, and marks it as seen.
func (r *Registry) Get(id string) (*Browser, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.browsers[id]
	if ok {
		b.touch(r.now())
	}
	return b, ok
}

// Resolve returns the browser for id, creating it when needed. A new browser
// starts hydrating in the background; callers that need a settled session
// wait on Session.WaitSettled.
func (r *Registry) Resolve(id string) (*Browser, error) {
	if id == "" {
		return nil, fmt.Errorf("[browsers Resolve] browser id is required")
	}

	r.mu.Lock()
	b, ok := r.browsers[id]
	if !ok {
		b = r.factory(id)
		r.browsers[id] = b
	}
	b.touch(r.now())
	r.mu.Unlock()

	if !ok {
		go func() {
			if err := b.Session.Hydrate(context.Background()); err != nil {
				r.logger.Warn().Err(err).Str("browser", ShortID(id)).Msg("session hydration failed")
			}
		}()
	}
	return b, nil
}

// Delete closes and removes the browser
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	b, ok := r.browsers[id]
	delete(r.browsers, id)
	r.mu.Unlock()

	if ok {
		b.close()
	}
}

// Len returns the number of live browsers
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.browsers)
}

// Sweep closes browsers idle for longer than the idle timeout. Browsers in the
// middle of an OAuth exchange are kept. It returns how many were closed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTimeout)

	r.mu.Lock()
	var idle []*Browser
	for id, b := range r.browsers {
		if b.LastSeen().Before(cutoff) && b.Flow.State() != oauthflow.StateExchanging {
			idle = append(idle, b)
			delete(r.browsers, id)
		}
	}
	r.mu.Unlock()

	for _, b := range idle {
		b.close()
	}
	if len(idle) > 0 {
		r.logger.Debug().Int("closed", len(idle)).Msg("swept idle browsers")
	}
	return len(idle)
}

// Run sweeps every interval until ctx is done
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close closes every browser
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.browsers
	r.browsers = make(map[string]*Browser)
	r.mu.Unlock()

	for _, b := range all {
		b.close()
	}
}

// ShortID keeps browser ids out of logs in full.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
