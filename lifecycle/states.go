package lifecycle

import (
	"log/slog"

	"github.com/robbyt/go-fsm"
)

// Macro-states of an embed session.
const (
	StateBootstrapped            = "bootstrapped"
	StateFetching                = "fetching"
	StateConfiguredPendingRender = "configured_pending_render"
	StateFetchFailed             = "fetch_failed"
	StateRendering               = "rendering"
	StateInteractive             = "interactive"
)

// Transitions lists the allowed macro-state moves.
// FetchFailed and Interactive are terminal for the session.
var Transitions = map[string][]string{
	StateBootstrapped:            {StateFetching},
	StateFetching:                {StateConfiguredPendingRender, StateFetchFailed},
	StateConfiguredPendingRender: {StateRendering, StateInteractive},
	StateRendering:               {StateInteractive},
	StateInteractive:             {},
	StateFetchFailed:             {},
}

func newMachine(handler slog.Handler) (*fsm.Machine, error) {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return fsm.New(handler, StateBootstrapped, Transitions)
}
