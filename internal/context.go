package internal

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// HTTPClientFromContext returns a *http.Client for use. It will first check the
// context for the oauth2.HTTPClient, then explicit if not nil, then falling
// back to the default client.
func HTTPClientFromContext(ctx context.Context, explicit *http.Client) *http.Client {
	if hc, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && hc != nil {
		return hc
	}
	if explicit != nil {
		return explicit
	}
	return http.DefaultClient
}

// WithHTTPClient returns a context carrying hc under the oauth2.HTTPClient
// key, so both our own requests and the oauth2 package use it.
func WithHTTPClient(ctx context.Context, hc *http.Client) context.Context {
	if hc == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}
