package embedcfg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// maxBodyBytes caps how much of the embed-config response is read.
const maxBodyBytes = 1 << 20

// EmbedToken is the token block returned by the embed-config endpoint.
type EmbedToken struct {
	Token      string    `json:"Token"`
	TokenID    string    `json:"TokenId,omitempty"`
	Expiration time.Time `json:"Expiration,omitempty"`
}

// Response is the raw payload of the embed-config endpoint.
// Field names match the backend's JSON casing.
type Response struct {
	ID         string      `json:"Id"`
	EmbedURL   string      `json:"EmbedUrl"`
	EmbedToken *EmbedToken `json:"EmbedToken"`
}

// Fetcher issues a single GET against the embed-config endpoint.
// It never retries and never caches.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient swaps the transport, e.g. for an OAuth2-authenticated client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithLimiter throttles outbound calls. A nil limiter disables throttling.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(f *Fetcher) {
		f.limiter = limiter
	}
}

// NewFetcher creates a Fetcher with a default 30s client.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{client: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch performs exactly one GET against endpoint.
// Transport problems and non-2xx responses come back as *TransportError,
// undecodable or incomplete success bodies as *ValidationError.
func (f *Fetcher) Fetch(ctx context.Context, endpoint string) (*Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, networkError(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, networkError(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, networkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			StatusText: reasonPhrase(resp),
		}
	}

	if len(body) > maxBodyBytes {
		return nil, &ValidationError{Field: "body", Err: fmt.Errorf("embed config exceeds %d bytes", maxBodyBytes)}
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &ValidationError{Field: "body", Err: fmt.Errorf("decode embed config: %w", err)}
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Response) validate() error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return &ValidationError{Field: "Id"}
	case strings.TrimSpace(r.EmbedURL) == "":
		return &ValidationError{Field: "EmbedUrl"}
	case r.EmbedToken == nil || strings.TrimSpace(r.EmbedToken.Token) == "":
		return &ValidationError{Field: "EmbedToken.Token"}
	}
	return nil
}

// reasonPhrase returns the status text exactly as the server sent it,
// falling back to the canonical text when the status line carries none.
func reasonPhrase(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
