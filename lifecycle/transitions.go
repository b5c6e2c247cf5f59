package lifecycle

import (
	"errors"
	"fmt"

	"report-embed/embedcfg"
)

// The functions below are the only places ViewState and EmbedConfig change.
// Each one is the effect bundle of a single lifecycle transition and runs
// with the controller lock held.

// beginFetch: Bootstrapped -> Fetching. The trigger is taken away for good.
func beginFetch(v *ViewState) {
	v.TriggerEnabled = false
}

// applyConfig: Fetching -> ConfiguredPendingRender.
func applyConfig(v *ViewState, cfg *EmbedConfig, resp *embedcfg.Response) {
	next := *cfg
	next.ID = resp.ID
	next.EmbedURL = resp.EmbedURL
	next.AccessToken = resp.EmbedToken.Token
	*cfg = next

	v.Visibility.ReportVisible = true
	v.Visibility.StatusPositioned = false
	v.StatusIndicator = IndicatorSuccess
	v.DisplayMessage = MessageTokenSet
}

// failFetch: Fetching -> FetchFailed. EmbedConfig is left untouched.
func failFetch(v *ViewState, err error) {
	v.StatusIndicator = IndicatorError
	v.DisplayMessage = FailureMessage(err)
}

// markRendered records a rendered event. Only the first one swaps in the
// interaction hint; the guard is the IsEmbedded flag itself.
func markRendered(v *ViewState) bool {
	if v.IsEmbedded {
		return false
	}
	v.DisplayMessage = MessageInteract
	v.IsEmbedded = true
	return true
}

// FailureMessage renders the status message for a failed fetch.
func FailureMessage(err error) string {
	var terr *embedcfg.TransportError
	var verr *embedcfg.ValidationError
	switch {
	case errors.As(err, &terr):
		return fmt.Sprintf("Failed to fetch config for report. Status: %s Status Code: %d", terr.StatusText, terr.StatusCode)
	case errors.As(err, &verr):
		return fmt.Sprintf("Invalid config for report. Field: %s", verr.Field)
	default:
		return "Failed to fetch config for report. Status: Unknown Error Status Code: 0"
	}
}
