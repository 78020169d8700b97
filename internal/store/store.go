// Package store persists the watcher's runtime state: the OAuth2 token
// record and the per-search seen-item-id lists. All business logic depends
// on the Store interface, never on concrete implementations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TokenRecord holds the provider's token payload. Raw is authoritative: it
// carries the payload exactly as the token endpoint returned it, success or
// error, so the persisted state is inspectable after a rejected refresh.
type TokenRecord struct {
	AccessToken  string
	RefreshToken string
	Raw          map[string]any
}

// RecordFromPayload builds a TokenRecord from a raw token-endpoint response
// body. Error payloads parse fine; they produce a record that is not Valid.
func RecordFromPayload(payload []byte) (*TokenRecord, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parsing token payload: %w", err)
	}
	return recordFromRaw(raw), nil
}

func recordFromRaw(raw map[string]any) *TokenRecord {
	rec := &TokenRecord{Raw: raw}
	rec.AccessToken, _ = raw["access_token"].(string)
	rec.RefreshToken, _ = raw["refresh_token"].(string)
	return rec
}

// Valid reports whether the record carries an access token.
func (r *TokenRecord) Valid() bool {
	return r != nil && r.AccessToken != ""
}

// ProviderError returns the provider's error code ("invalid_grant", ...) if
// the payload was an error response, or "" for a token payload.
func (r *TokenRecord) ProviderError() string {
	if r == nil {
		return ""
	}
	e, _ := r.Raw["error"].(string)
	return e
}

// ExpiresIn returns the token lifetime reported by the provider, or zero if
// the payload carried none.
func (r *TokenRecord) ExpiresIn() time.Duration {
	if r == nil {
		return 0
	}
	// JSON numbers decode as float64.
	if secs, ok := r.Raw["expires_in"].(float64); ok {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// Store defines all state persistence for allegro-watch.
//
// LoadToken and LoadSeenIDs return (nil, nil) when no usable state exists;
// absence is a recoverable condition, never an error. Saves replace the
// previous state atomically from a reader's perspective.
type Store interface {
	LoadToken(ctx context.Context) (*TokenRecord, error)
	SaveToken(ctx context.Context, rec *TokenRecord) error

	LoadSeenIDs(ctx context.Context, search string) ([]string, error)
	SaveSeenIDs(ctx context.Context, search string, ids []string) error
}
