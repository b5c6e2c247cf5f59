package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"report-embed/embedcfg"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls int
	resp  *embedcfg.Response
	err   error
	gate  chan struct{}
}

func (s *stubFetcher) Fetch(ctx context.Context, endpoint string) (*embedcfg.Response, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, &embedcfg.TransportError{StatusText: "Unknown Error", Err: ctx.Err()}
		}
	}
	return s.resp, s.err
}

func (s *stubFetcher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubSDK struct {
	configs  []EmbedConfig
	handlers *HandlerTable
}

func (s *stubSDK) Embed(ctx context.Context, cfg EmbedConfig, handlers *HandlerTable) error {
	s.configs = append(s.configs, cfg)
	s.handlers = handlers
	return nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	views []ViewState
}

func (p *recordingPublisher) Publish(ctx context.Context, sessionID string, view ViewState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views = append(p.views, view)
	return nil
}

// count returns how many published views carried the given message.
func (p *recordingPublisher) count(message string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, v := range p.views {
		if v.DisplayMessage == message {
			n++
		}
	}
	return n
}

func okResponse(id, url, token string) *embedcfg.Response {
	return &embedcfg.Response{ID: id, EmbedURL: url, EmbedToken: &embedcfg.EmbedToken{Token: token}}
}

func newTestController(t *testing.T, fetcher Fetcher, sdk SDK, tmpl EmbedConfig) *Controller {
	t.Helper()
	ctrl, err := NewController(Options{
		SessionID: "session-1",
		Endpoint:  "http://backend/getembedinfo",
		Template:  tmpl,
		Fetcher:   fetcher,
		SDK:       sdk,
	})
	require.NoError(t, err)
	return ctrl
}

func embedded(t *testing.T, resp *embedcfg.Response) (*Controller, *stubSDK) {
	t.Helper()
	sdk := &stubSDK{}
	ctrl := newTestController(t, &stubFetcher{resp: resp}, sdk, Template(TokenTypeEmbed, nil))
	_, err := ctrl.Embed(context.Background())
	require.NoError(t, err)
	return ctrl, sdk
}

func TestNewControllerStartsBootstrapped(t *testing.T) {
	ctrl := newTestController(t, &stubFetcher{}, nil, Template(TokenTypeEmbed, nil))

	view := ctrl.View()
	require.Equal(t, StateBootstrapped, ctrl.State())
	require.Equal(t, StateBootstrapped, view.State)
	require.Equal(t, MessageBootstrapped, view.DisplayMessage)
	require.False(t, view.IsEmbedded)
	require.True(t, view.TriggerEnabled)
	require.False(t, view.Visibility.ReportVisible)
	require.True(t, view.Visibility.StatusPositioned)
	require.Equal(t, Template(TokenTypeEmbed, nil), ctrl.Config())
}

func TestNewControllerRequiresFetcherAndEndpoint(t *testing.T) {
	_, err := NewController(Options{Endpoint: "http://x"})
	require.Error(t, err)

	_, err = NewController(Options{Fetcher: &stubFetcher{}})
	require.Error(t, err)
}

func TestEmbedSuccessAssemblesConfig(t *testing.T) {
	ctrl, sdk := embedded(t, okResponse("r1", "https://embed/x", "tok"))

	want := EmbedConfig{
		Type:        "report",
		TokenType:   TokenTypeEmbed,
		ID:          "r1",
		EmbedURL:    "https://embed/x",
		AccessToken: "tok",
	}
	require.Equal(t, want, ctrl.Config())
	require.Nil(t, ctrl.Config().Settings)

	view := ctrl.View()
	require.Equal(t, "Access token is successfully set. Loading Power BI report.", view.DisplayMessage)
	require.Equal(t, StateConfiguredPendingRender, ctrl.State())
	require.True(t, view.Visibility.ReportVisible)
	require.False(t, view.Visibility.StatusPositioned)
	require.Equal(t, IndicatorSuccess, view.StatusIndicator)
	require.False(t, view.TriggerEnabled)
	require.False(t, view.IsEmbedded)

	require.Len(t, sdk.configs, 1)
	require.Equal(t, want, sdk.configs[0])
	require.Same(t, ctrl.Handlers(), sdk.handlers)
}

func TestEmbedMessageIndependentOfPayload(t *testing.T) {
	responses := []*embedcfg.Response{
		okResponse("a", "https://a", "1"),
		okResponse("report-with-a-much-longer-id", "https://embed/other?x=1", "long-token-value"),
		okResponse("Status: 500", "Failed", "Not Found"),
	}
	for _, resp := range responses {
		ctrl, _ := embedded(t, resp)
		require.Equal(t, MessageTokenSet, ctrl.View().DisplayMessage)
	}
}

func TestEmbedPreservesTemplateFields(t *testing.T) {
	off := false
	bg := BackgroundTransparent
	settings := &Settings{FilterPaneEnabled: &off, Background: &bg}
	tmpl := Template(TokenTypeAad, settings)

	ctrl := newTestController(t, &stubFetcher{resp: okResponse("r9", "https://embed/9", "aad-token")}, nil, tmpl)
	_, err := ctrl.Embed(context.Background())
	require.NoError(t, err)

	cfg := ctrl.Config()
	require.Equal(t, ReportType, cfg.Type)
	require.Equal(t, TokenTypeAad, cfg.TokenType)
	require.Same(t, settings, cfg.Settings)
	require.Equal(t, "r9", cfg.ID)
	require.Equal(t, "https://embed/9", cfg.EmbedURL)
	require.Equal(t, "aad-token", cfg.AccessToken)
}

func TestEmbedNotFoundEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	sdk := &stubSDK{}
	ctrl, err := NewController(Options{
		SessionID: "session-404",
		Endpoint:  srv.URL,
		Template:  Template(TokenTypeEmbed, nil),
		Fetcher:   embedcfg.NewFetcher(),
		SDK:       sdk,
	})
	require.NoError(t, err)

	view, err := ctrl.Embed(context.Background())
	require.NoError(t, err)

	require.Equal(t, "Failed to fetch config for report. Status: Not Found Status Code: 404", view.DisplayMessage)
	require.Equal(t, StateFetchFailed, ctrl.State())
	require.Equal(t, IndicatorError, view.StatusIndicator)
	require.False(t, view.Visibility.ReportVisible)
	require.True(t, view.Visibility.StatusPositioned)
	require.Equal(t, Template(TokenTypeEmbed, nil), ctrl.Config())
	require.Empty(t, sdk.configs)
}

func TestFailureMessageCarriesStatus(t *testing.T) {
	cases := []struct {
		code int
		text string
	}{
		{500, "Internal Server Error"},
		{401, "Unauthorized"},
		{0, "Unknown Error"},
		{418, "custom reason with spaces"},
	}
	for _, tc := range cases {
		ctrl := newTestController(t, &stubFetcher{err: &embedcfg.TransportError{StatusCode: tc.code, StatusText: tc.text}}, nil, Template(TokenTypeEmbed, nil))
		view, err := ctrl.Embed(context.Background())
		require.NoError(t, err)
		require.Contains(t, view.DisplayMessage, fmt.Sprint(tc.code))
		require.Contains(t, view.DisplayMessage, tc.text)
	}
}

func TestEmbedValidationFailure(t *testing.T) {
	fetcher := &stubFetcher{err: &embedcfg.ValidationError{Field: "EmbedToken.Token"}}
	ctrl := newTestController(t, fetcher, nil, Template(TokenTypeEmbed, nil))

	view, err := ctrl.Embed(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFetchFailed, ctrl.State())
	require.Equal(t, "Invalid config for report. Field: EmbedToken.Token", view.DisplayMessage)
	require.Equal(t, Template(TokenTypeEmbed, nil), ctrl.Config())
}

func TestEmbedIgnoresSecondTrigger(t *testing.T) {
	fetcher := &stubFetcher{resp: okResponse("r1", "https://embed/x", "tok"), gate: make(chan struct{})}
	ctrl := newTestController(t, fetcher, nil, Template(TokenTypeEmbed, nil))

	done := make(chan ViewState, 1)
	go func() {
		view, _ := ctrl.Embed(context.Background())
		done <- view
	}()

	require.Eventually(t, func() bool { return ctrl.State() == StateFetching }, time.Second, 5*time.Millisecond)
	require.False(t, ctrl.View().TriggerEnabled)

	_, err := ctrl.Embed(context.Background())
	require.ErrorIs(t, err, ErrAlreadyTriggered)

	close(fetcher.gate)
	view := <-done
	require.Equal(t, MessageTokenSet, view.DisplayMessage)
	require.Equal(t, 1, fetcher.count())

	_, err = ctrl.Embed(context.Background())
	require.ErrorIs(t, err, ErrAlreadyTriggered)
	require.Equal(t, 1, fetcher.count())
}

func TestEmbedTimesOut(t *testing.T) {
	fetcher := &stubFetcher{gate: make(chan struct{})}
	ctrl, err := NewController(Options{
		Endpoint:     "http://backend",
		Fetcher:      fetcher,
		FetchTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	view, err := ctrl.Embed(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFetchFailed, ctrl.State())
	require.Equal(t, "Failed to fetch config for report. Status: Unknown Error Status Code: 0", view.DisplayMessage)
}

func TestRenderedTwice(t *testing.T) {
	pub := &recordingPublisher{}
	ctrl, err := NewController(Options{
		SessionID: "s",
		Endpoint:  "http://backend",
		Template:  Template(TokenTypeEmbed, nil),
		Fetcher:   &stubFetcher{resp: okResponse("r1", "u", "tok")},
		Publisher: pub,
	})
	require.NoError(t, err)
	_, err = ctrl.Embed(context.Background())
	require.NoError(t, err)

	h := ctrl.Handlers()
	require.NoError(t, h.Dispatch("rendered", nil))
	first := ctrl.View()
	require.True(t, first.IsEmbedded)
	require.Equal(t, MessageInteract, first.DisplayMessage)
	require.Equal(t, StateInteractive, ctrl.State())

	require.Equal(t, 1, pub.count(MessageInteract))

	require.NoError(t, h.Dispatch("pageChanged", nil))
	require.NoError(t, h.Dispatch("rendered", nil))
	require.NoError(t, h.Dispatch("rendered", nil))
	require.Equal(t, first, ctrl.View())
	require.Equal(t, StateInteractive, ctrl.State())
	require.Equal(t, 1, pub.count(MessageInteract))
}

func TestRenderedManyTimes(t *testing.T) {
	ctrl, _ := embedded(t, okResponse("r1", "u", "tok"))
	for i := 0; i < 25; i++ {
		require.NoError(t, ctrl.Handlers().Dispatch("rendered", nil))
		require.True(t, ctrl.View().IsEmbedded)
	}
	require.Equal(t, MessageInteract, ctrl.View().DisplayMessage)
}

func TestLoadedThenRendered(t *testing.T) {
	ctrl, _ := embedded(t, okResponse("r1", "u", "tok"))

	require.NoError(t, ctrl.Handlers().Dispatch("loaded", nil))
	require.Equal(t, StateRendering, ctrl.State())
	require.Equal(t, MessageTokenSet, ctrl.View().DisplayMessage)

	require.NoError(t, ctrl.Handlers().Dispatch("rendered", nil))
	require.Equal(t, StateInteractive, ctrl.State())

	require.NoError(t, ctrl.Handlers().Dispatch("loaded", nil))
	require.Equal(t, StateInteractive, ctrl.State())
}

func TestRenderedBeforeHandoffIgnored(t *testing.T) {
	ctrl := newTestController(t, &stubFetcher{}, nil, Template(TokenTypeEmbed, nil))
	require.NoError(t, ctrl.Handlers().Dispatch("rendered", nil))
	require.False(t, ctrl.View().IsEmbedded)
	require.Equal(t, MessageBootstrapped, ctrl.View().DisplayMessage)
}

func TestErrorEventLeavesViewAlone(t *testing.T) {
	payloads := []json.RawMessage{
		nil,
		json.RawMessage(`null`),
		json.RawMessage(`{"detail":"boom"}`),
		json.RawMessage(`"just a string"`),
		json.RawMessage(`[1,2,3]`),
		json.RawMessage(`{not json`),
	}

	for _, payload := range payloads {
		ctrl, _ := embedded(t, okResponse("r1", "u", "tok"))
		before := ctrl.View()
		require.NoError(t, ctrl.Handlers().Dispatch("error", payload))
		require.Equal(t, before, ctrl.View())

		require.NoError(t, ctrl.Handlers().Dispatch("rendered", nil))
		before = ctrl.View()
		require.NoError(t, ctrl.Handlers().Dispatch("error", payload))
		require.Equal(t, before, ctrl.View())
		require.True(t, ctrl.View().IsEmbedded)
	}
}

func TestDiagnosticEventsDoNotMutate(t *testing.T) {
	ctrl, _ := embedded(t, okResponse("r1", "u", "tok"))
	before := ctrl.View()
	for _, name := range []string{"visualClicked", "pageChanged", "dataSelected", "buttonClicked"} {
		require.NoError(t, ctrl.Handlers().Dispatch(name, json.RawMessage(`{"newPage":{"name":"p2"}}`)))
	}
	require.Equal(t, before, ctrl.View())
	require.Equal(t, StateConfiguredPendingRender, ctrl.State())
}

func TestCloseDropsConfigAndIgnoresEvents(t *testing.T) {
	ctrl, _ := embedded(t, okResponse("r1", "u", "tok"))
	ctrl.Close()

	require.Equal(t, EmbedConfig{}, ctrl.Config())
	require.NoError(t, ctrl.Handlers().Dispatch("rendered", nil))
	require.False(t, ctrl.View().IsEmbedded)

	_, err := ctrl.Embed(context.Background())
	require.True(t, errors.Is(err, ErrClosed))
}

type countingObserver struct {
	mu     sync.Mutex
	moves  []string
	events map[EventKind]int
	fetch  int
}

func (o *countingObserver) StateChanged(from, to string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.moves = append(o.moves, from+"->"+to)
}

func (o *countingObserver) EventReceived(kind EventKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.events == nil {
		o.events = map[EventKind]int{}
	}
	o.events[kind]++
}

func (o *countingObserver) FetchFinished(time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetch++
}

func TestObserverSeesTransitions(t *testing.T) {
	obs := &countingObserver{}
	ctrl, err := NewController(Options{
		Endpoint: "http://backend",
		Fetcher:  &stubFetcher{resp: okResponse("r1", "u", "tok")},
		Observer: obs,
	})
	require.NoError(t, err)

	_, err = ctrl.Embed(context.Background())
	require.NoError(t, err)
	require.NoError(t, ctrl.Handlers().Dispatch("loaded", nil))
	require.NoError(t, ctrl.Handlers().Dispatch("rendered", nil))
	require.NoError(t, ctrl.Handlers().Dispatch("error", nil))

	require.Equal(t, []string{
		"bootstrapped->fetching",
		"fetching->configured_pending_render",
		"configured_pending_render->rendering",
		"rendering->interactive",
	}, obs.moves)
	require.Equal(t, 1, obs.fetch)
	require.Equal(t, 1, obs.events[EventLoaded])
	require.Equal(t, 1, obs.events[EventRendered])
	require.Equal(t, 1, obs.events[EventError])
}
