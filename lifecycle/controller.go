package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robbyt/go-fsm"

	"report-embed/embedcfg"
)

const (
	defaultFetchTimeout   = 30 * time.Second
	defaultPublishTimeout = 2 * time.Second
)

var (
	// ErrAlreadyTriggered is returned when Embed runs on a session that has left Bootstrapped.
	ErrAlreadyTriggered = errors.New("embed already triggered for this session")
	// ErrClosed is returned once the session has been torn down.
	ErrClosed = errors.New("embed session closed")
)

// Fetcher loads the embed configuration from the backend.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string) (*embedcfg.Response, error)
}

// SDK is the embedding library that renders the report and later emits
// events through the handler table it was given.
type SDK interface {
	Embed(ctx context.Context, cfg EmbedConfig, handlers *HandlerTable) error
}

// Publisher receives a ViewState snapshot after every visible change.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, view ViewState) error
}

// Observer is notified of lifecycle activity, for metrics.
type Observer interface {
	StateChanged(from, to string)
	EventReceived(kind EventKind)
	FetchFinished(elapsed time.Duration, err error)
}

// Options configures a Controller. Fetcher is required.
type Options struct {
	SessionID    string
	Endpoint     string
	Template     EmbedConfig
	Fetcher      Fetcher
	SDK          SDK
	Publisher    Publisher
	Observer     Observer
	FetchTimeout time.Duration
	LogHandler   slog.Handler
}

// Controller drives one embed session from Bootstrapped to Interactive or FetchFailed.
type Controller struct {
	id           string
	endpoint     string
	fetcher      Fetcher
	sdk          SDK
	publisher    Publisher
	observer     Observer
	fetchTimeout time.Duration
	machine      *fsm.Machine
	handlers     *HandlerTable

	mu     sync.Mutex
	view   ViewState
	config EmbedConfig
	closed bool
}

// NewController builds a controller in Bootstrapped with the given template.
func NewController(opts Options) (*Controller, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("lifecycle: fetcher is required")
	}
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("lifecycle: endpoint is required")
	}

	machine, err := newMachine(opts.LogHandler)
	if err != nil {
		return nil, err
	}

	tmpl := opts.Template
	if tmpl.Type == "" {
		tmpl.Type = ReportType
	}

	c := &Controller{
		id:           opts.SessionID,
		endpoint:     opts.Endpoint,
		fetcher:      opts.Fetcher,
		sdk:          opts.SDK,
		publisher:    opts.Publisher,
		observer:     opts.Observer,
		fetchTimeout: opts.FetchTimeout,
		machine:      machine,
		view:         initialView(),
		config:       tmpl,
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = defaultFetchTimeout
	}
	c.handlers = newHandlerTable(c.handlerFor)
	return c, nil
}

func (c *Controller) handlerFor(kind EventKind) Handler {
	switch kind {
	case EventLoaded:
		return c.onLoaded
	case EventRendered:
		return c.onRendered
	case EventError:
		return c.onError
	case EventVisualClicked, EventPageChanged, EventDataSelected, EventButtonClicked:
		return c.diagnostic(kind)
	}
	return nil
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Handlers returns the controller's event table.
func (c *Controller) Handlers() *HandlerTable { return c.handlers }

// View returns a copy of the current ViewState.
func (c *Controller) View() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Config returns a copy of the current EmbedConfig.
func (c *Controller) Config() EmbedConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// State returns the macro-state name.
func (c *Controller) State() string {
	return c.machine.GetState()
}

// Embed is the user trigger. It fetches the embed config, applies the
// success or failure transition and hands the config to the SDK.
// A fetch failure is not returned as an error: it ends the session in
// FetchFailed and is reported through the returned ViewState.
func (c *Controller) Embed(ctx context.Context) (ViewState, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ViewState{}, ErrClosed
	}
	if !c.moveLocked(StateBootstrapped, StateFetching) {
		view := c.view
		c.mu.Unlock()
		return view, ErrAlreadyTriggered
	}
	beginFetch(&c.view)
	view := c.view
	c.mu.Unlock()
	c.publish(view)

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	start := time.Now()
	resp, err := c.fetcher.Fetch(fetchCtx, c.endpoint)
	cancel()
	c.observer.FetchFinished(time.Since(start), err)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ViewState{}, ErrClosed
	}
	if err != nil {
		failFetch(&c.view, err)
		c.moveLocked(StateFetching, StateFetchFailed)
		view = c.view
		c.mu.Unlock()

		log.Printf("lifecycle: session %s: %s (%v)", c.id, view.DisplayMessage, err)
		c.publish(view)
		return view, nil
	}
	applyConfig(&c.view, &c.config, resp)
	c.moveLocked(StateFetching, StateConfiguredPendingRender)
	view = c.view
	cfg := c.config
	c.mu.Unlock()

	c.publish(view)
	if c.sdk != nil {
		if err := c.sdk.Embed(ctx, cfg, c.handlers); err != nil {
			log.Printf("lifecycle: session %s: sdk handoff failed: %v", c.id, err)
		}
	}
	return view, nil
}

// Close tears the session down. The EmbedConfig is dropped and later
// SDK events are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.config = EmbedConfig{}
}

func (c *Controller) onLoaded(json.RawMessage) {
	log.Printf("lifecycle: session %s: report has loaded", c.id)
	c.update(EventLoaded, func() bool {
		return c.moveLocked(StateConfiguredPendingRender, StateRendering)
	})
}

func (c *Controller) onRendered(json.RawMessage) {
	log.Printf("lifecycle: session %s: report has rendered", c.id)
	c.update(EventRendered, func() bool {
		moved := false
		switch c.machine.GetState() {
		case StateConfiguredPendingRender, StateRendering:
			moved = c.moveLocked(c.machine.GetState(), StateInteractive)
		case StateInteractive:
		default:
			log.Printf("lifecycle: session %s: rendered before config handoff, ignored", c.id)
			return false
		}
		return markRendered(&c.view) || moved
	})
}

func (c *Controller) onError(detail json.RawMessage) {
	c.update(EventError, func() bool { return false })
	if hasPayload(detail) {
		log.Printf("lifecycle: session %s: report error: %s", c.id, string(detail))
	}
}

func (c *Controller) diagnostic(kind EventKind) Handler {
	return func(detail json.RawMessage) {
		c.update(kind, func() bool { return false })
		if hasPayload(detail) {
			log.Printf("lifecycle: session %s: %s: %s", c.id, kind, string(detail))
			return
		}
		log.Printf("lifecycle: session %s: %s", c.id, kind)
	}
}

// update applies fn under the lock and publishes when it reports a change.
func (c *Controller) update(kind EventKind, fn func() bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.observer.EventReceived(kind)
	changed := fn()
	view := c.view
	c.mu.Unlock()

	if changed {
		c.publish(view)
	}
}

// moveLocked advances the macro-state and mirrors it into the view.
func (c *Controller) moveLocked(from, to string) bool {
	if err := c.machine.TransitionIfCurrentState(from, to); err != nil {
		return false
	}
	c.view.State = to
	c.observer.StateChanged(from, to)
	return true
}

func (c *Controller) publish(view ViewState) {
	if c.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	if err := c.publisher.Publish(ctx, c.id, view); err != nil {
		log.Printf("lifecycle: session %s: publish view failed: %v", c.id, err)
	}
}

func hasPayload(detail json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(detail))
	return trimmed != "" && trimmed != "null"
}

type nopObserver struct{}

func (nopObserver) StateChanged(string, string)        {}
func (nopObserver) EventReceived(EventKind)            {}
func (nopObserver) FetchFinished(time.Duration, error) {}
