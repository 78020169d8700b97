// Package allegro provides an Allegro search API client abstracted behind
// interfaces for testability.
package allegro

import (
	"context"
)

// SearchRequest defines one saved-search query: the listing endpoint path
// and its query parameters, taken verbatim from configuration.
type SearchRequest struct {
	Path   string
	Params map[string]string
}

// SearchClient defines the interface for querying the Allegro listing API.
type SearchClient interface {
	Search(ctx context.Context, req SearchRequest) ([]Item, error)
}

// TokenProvider defines the interface for obtaining OAuth2 access tokens.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}
