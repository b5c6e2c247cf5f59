package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"report-embed/lifecycle"
)

const bridgeWriteTimeout = 5 * time.Second

// bridgeMessage is what the server pushes to the page.
type bridgeMessage struct {
	Type   string                 `json:"type"`
	View   *lifecycle.ViewState   `json:"view,omitempty"`
	Config *lifecycle.EmbedConfig `json:"config,omitempty"`
	Events []string               `json:"events,omitempty"`
}

// sdkEvent is what the page sends back for every SDK event it observes.
type sdkEvent struct {
	Event  string          `json:"event"`
	Detail json.RawMessage `json:"detail,omitempty"`
}

// sdkBridge stands in for the embedding SDK on the server side. The page
// runs the real SDK; the bridge forwards the config to it over a websocket
// and feeds the events it reports into the handler table.
type sdkBridge struct {
	sessionID string
	onEvent   func()

	mu       sync.Mutex
	conn     *websocket.Conn
	handoff  *bridgeMessage
	handlers *lifecycle.HandlerTable
}

// newSDKBridge creates a bridge for a session. onEvent, if set, runs for
// every message the page sends and when the page disconnects.
func newSDKBridge(sessionID string, onEvent func()) *sdkBridge {
	if onEvent == nil {
		onEvent = func() {}
	}
	return &sdkBridge{sessionID: sessionID, onEvent: onEvent}
}

// Embed implements lifecycle.SDK. The config is kept so a page that
// connects (or reconnects) later still receives it.
func (b *sdkBridge) Embed(ctx context.Context, cfg lifecycle.EmbedConfig, handlers *lifecycle.HandlerTable) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = handlers
	b.handoff = &bridgeMessage{Type: "embed", Config: &cfg, Events: handlers.Names()}
	if b.conn == nil {
		return nil
	}
	return b.writeLocked(b.handoff)
}

// Publish implements lifecycle.Publisher by pushing the view to the page.
func (b *sdkBridge) Publish(ctx context.Context, sessionID string, view lifecycle.ViewState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	return b.writeLocked(&bridgeMessage{Type: "state", View: &view})
}

// attach makes conn the page connection, replacing any previous one, and
// replays the current view and a pending handoff.
func (b *sdkBridge) attach(conn *websocket.Conn, view lifecycle.ViewState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil && b.conn != conn {
		_ = b.conn.Close()
	}
	b.conn = conn

	if err := b.writeLocked(&bridgeMessage{Type: "state", View: &view}); err != nil {
		return err
	}
	if b.handoff != nil {
		return b.writeLocked(b.handoff)
	}
	return nil
}

func (b *sdkBridge) detach(conn *websocket.Conn) {
	b.mu.Lock()
	if b.conn == conn {
		b.conn = nil
	}
	b.mu.Unlock()
	b.onEvent()
}

// connected reports whether a page currently holds the bridge.
func (b *sdkBridge) connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// close drops the page connection and the handed-off config.
func (b *sdkBridge) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	b.handoff = nil
	b.handlers = nil
}

// dispatch routes one page-reported event through the handed-off table.
func (b *sdkBridge) dispatch(evt sdkEvent) error {
	b.mu.Lock()
	handlers := b.handlers
	b.mu.Unlock()

	if handlers == nil {
		return fmt.Errorf("event %q before config handoff", evt.Event)
	}
	return handlers.Dispatch(evt.Event, evt.Detail)
}

func (b *sdkBridge) writeLocked(msg *bridgeMessage) error {
	_ = b.conn.SetWriteDeadline(time.Now().Add(bridgeWriteTimeout))
	return b.conn.WriteJSON(msg)
}

// readLoop consumes page events until the connection drops.
func (b *sdkBridge) readLoop(conn *websocket.Conn) {
	for {
		var evt sdkEvent
		if err := conn.ReadJSON(&evt); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				log.Printf("sdk bridge %s: read error: %v", b.sessionID, err)
			}
			return
		}
		b.onEvent()
		if err := b.dispatch(evt); err != nil {
			log.Printf("sdk bridge %s: %v", b.sessionID, err)
		}
	}
}

var (
	_ lifecycle.SDK       = (*sdkBridge)(nil)
	_ lifecycle.Publisher = (*sdkBridge)(nil)
)
