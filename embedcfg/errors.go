package embedcfg

import "fmt"

// unknownStatusText is what a browser HTTP client reports when no response arrived.
const unknownStatusText = "Unknown Error"

// TransportError reports a failed embed-config fetch.
// StatusCode is 0 when the request never produced a response.
type TransportError struct {
	StatusCode int
	StatusText string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embed config fetch failed: %d %s: %v", e.StatusCode, e.StatusText, e.Err)
	}
	return fmt.Sprintf("embed config fetch failed: %d %s", e.StatusCode, e.StatusText)
}

func (e *TransportError) Unwrap() error { return e.Err }

func networkError(err error) *TransportError {
	return &TransportError{StatusText: unknownStatusText, Err: err}
}

// ValidationError reports a 2xx response that is not a usable embed config.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid embed config (%s): %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid embed config: missing %s", e.Field)
}

func (e *ValidationError) Unwrap() error { return e.Err }
