package security

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// BackendAuth describes how the service authenticates to the embed-config backend.
// An empty ClientID means the backend is called without credentials.
type BackendAuth struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Enabled reports whether client credentials are configured.
func (a BackendAuth) Enabled() bool {
	return strings.TrimSpace(a.ClientID) != "" && strings.TrimSpace(a.TokenURL) != ""
}

// NewBackendClient returns base unchanged when auth is disabled, otherwise an
// HTTP client that attaches a bearer token minted through client credentials
// and cached in store (which may be nil).
func NewBackendClient(ctx context.Context, auth BackendAuth, store *TokenStore, base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if !auth.Enabled() {
		return base
	}

	cfg := &clientcredentials.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		TokenURL:     auth.TokenURL,
		Scopes:       auth.Scopes,
	}

	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, base)
	src := oauth2.ReuseTokenSource(nil, &cachedSource{
		ctx:      tokenCtx,
		store:    store,
		clientID: auth.ClientID,
		upstream: cfg.TokenSource(tokenCtx),
	})

	return &http.Client{
		Timeout: base.Timeout,
		Transport: &oauth2.Transport{
			Source: src,
			Base:   base.Transport,
		},
	}
}
