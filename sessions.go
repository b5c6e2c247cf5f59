package main

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"report-embed/lifecycle"
	"report-embed/statusbus"
	"report-embed/telemetry"
)

var errSessionNotFound = errors.New("session not found")

type session struct {
	ctrl     *lifecycle.Controller
	bridge   *sdkBridge
	created  time.Time
	lastSeen atomic.Int64
}

// touch records activity on the session at t.
func (s *session) touch(t time.Time) {
	s.lastSeen.Store(t.UnixNano())
}

// idle reports whether the session has been quiet since cutoff. A session
// whose page still holds the SDK connection is never idle.
func (s *session) idle(cutoff time.Time) bool {
	if s.bridge.connected() {
		return false
	}
	return time.Unix(0, s.lastSeen.Load()).Before(cutoff)
}

// sessionRegistry owns every live embed session.
type sessionRegistry struct {
	endpoint     string
	template     lifecycle.EmbedConfig
	fetcher      lifecycle.Fetcher
	store        *statusbus.Publisher
	metrics      *telemetry.Metrics
	fetchTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*session
}

type registryOptions struct {
	Endpoint     string
	Template     lifecycle.EmbedConfig
	Fetcher      lifecycle.Fetcher
	Store        *statusbus.Publisher
	Metrics      *telemetry.Metrics
	FetchTimeout time.Duration
}

func newSessionRegistry(opts registryOptions) *sessionRegistry {
	return &sessionRegistry{
		endpoint:     opts.Endpoint,
		template:     opts.Template,
		fetcher:      opts.Fetcher,
		store:        opts.Store,
		metrics:      opts.Metrics,
		fetchTimeout: opts.FetchTimeout,
		sessions:     make(map[string]*session),
	}
}

// Create starts a new session in Bootstrapped.
func (r *sessionRegistry) Create(ctx context.Context) (*session, error) {
	id := uuid.NewString()
	s := &session{created: time.Now()}
	s.touch(s.created)
	bridge := newSDKBridge(id, func() { s.touch(time.Now()) })

	publishers := fanoutPublisher{bridge}
	if r.store != nil {
		publishers = append(publishers, r.store)
	}

	opts := lifecycle.Options{
		SessionID:    id,
		Endpoint:     r.endpoint,
		Template:     r.template,
		Fetcher:      r.fetcher,
		SDK:          bridge,
		Publisher:    publishers,
		FetchTimeout: r.fetchTimeout,
	}
	if r.metrics != nil {
		opts.Observer = r.metrics
	}

	ctrl, err := lifecycle.NewController(opts)
	if err != nil {
		return nil, err
	}

	s.ctrl = ctrl
	s.bridge = bridge

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionOpened()
	}
	if err := publishers.Publish(ctx, id, ctrl.View()); err != nil {
		log.Printf("sessions: initial publish for %s failed: %v", id, err)
	}
	return s, nil
}

// Get returns the session and marks it as seen.
func (r *sessionRegistry) Get(id string) (*session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errSessionNotFound
	}
	s.touch(time.Now())
	return s, nil
}

// Close tears a session down and forgets its stored view.
func (r *sessionRegistry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return errSessionNotFound
	}

	s.ctrl.Close()
	s.bridge.close()
	if r.metrics != nil {
		r.metrics.SessionClosed()
	}
	if r.store != nil {
		if err := r.store.Forget(ctx, id); err != nil {
			log.Printf("sessions: forget %s failed: %v", id, err)
		}
	}
	return nil
}

// CloseIdle closes sessions not seen since cutoff and returns how many went.
// Sessions with a connected page are kept.
func (r *sessionRegistry) CloseIdle(ctx context.Context, cutoff time.Time) int {
	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if s.idle(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	closed := 0
	for _, id := range stale {
		if err := r.Close(ctx, id); err == nil {
			closed++
		}
	}
	return closed
}

// Len returns the number of live sessions.
func (r *sessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// fanoutPublisher delivers a view to every publisher, collecting failures.
type fanoutPublisher []lifecycle.Publisher

func (f fanoutPublisher) Publish(ctx context.Context, sessionID string, view lifecycle.ViewState) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, sessionID, view); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
