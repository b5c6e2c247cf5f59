package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
)

// ErrUnknownEvent is returned by Dispatch for names outside the closed set.
var ErrUnknownEvent = errors.New("unknown sdk event")

// EventKind enumerates the SDK events the controller subscribes to.
type EventKind int

const (
	EventLoaded EventKind = iota
	EventRendered
	EventError
	EventVisualClicked
	EventPageChanged
	EventDataSelected
	EventButtonClicked

	eventKindCount
)

var eventNames = [eventKindCount]string{
	EventLoaded:        "loaded",
	EventRendered:      "rendered",
	EventError:         "error",
	EventVisualClicked: "visualClicked",
	EventPageChanged:   "pageChanged",
	EventDataSelected:  "dataSelected",
	EventButtonClicked: "buttonClicked",
}

func (k EventKind) String() string {
	if k < 0 || k >= eventKindCount {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return eventNames[k]
}

// ParseEventKind maps an SDK event name to its kind.
func ParseEventKind(name string) (EventKind, error) {
	for k, n := range eventNames {
		if n == name {
			return EventKind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}

// EventKinds returns every subscribed kind in declaration order.
func EventKinds() []EventKind {
	out := make([]EventKind, 0, eventKindCount)
	for k := EventKind(0); k < eventKindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Handler reacts to one SDK event. detail is nil when the event carried no payload.
type Handler func(detail json.RawMessage)

// HandlerTable maps every EventKind to exactly one handler.
// It is built once per controller and never modified.
type HandlerTable struct {
	handlers [eventKindCount]Handler
}

// newHandlerTable panics if build leaves a kind without a handler;
// this only happens when a kind is added without a matching case.
func newHandlerTable(build func(EventKind) Handler) *HandlerTable {
	t := &HandlerTable{}
	for _, k := range EventKinds() {
		h := build(k)
		if h == nil {
			panic(fmt.Sprintf("lifecycle: no handler for event %s", k))
		}
		t.handlers[k] = h
	}
	return t
}

// Names returns the SDK event names the table subscribes to.
func (t *HandlerTable) Names() []string {
	out := make([]string, 0, eventKindCount)
	for _, k := range EventKinds() {
		out = append(out, k.String())
	}
	return out
}

// Lookup returns the handler registered for an SDK event name.
func (t *HandlerTable) Lookup(name string) (Handler, bool) {
	k, err := ParseEventKind(name)
	if err != nil {
		return nil, false
	}
	return t.handlers[k], true
}

// Dispatch runs the handler for name. A panicking handler is logged and
// swallowed so nothing propagates back into the SDK callback.
func (t *HandlerTable) Dispatch(name string, detail json.RawMessage) error {
	h, ok := t.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("lifecycle: handler for %s panicked: %v", name, r)
		}
	}()
	h(detail)
	return nil
}
