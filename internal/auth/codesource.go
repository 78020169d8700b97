package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const defaultCaptureTimeout = 5 * time.Minute

// CodeSource obtains a one-time authorization code for the given authorize
// URL. The URL arrives without a state parameter; implementations that
// validate state append their own.
type CodeSource interface {
	AuthorizationCode(ctx context.Context, authorizeURL string) (string, error)
}

// BrowserCodeSource implements CodeSource by opening the authorize URL in
// the user's browser and capturing the redirect on a local listener. Each
// capture uses a fresh random state parameter.
type BrowserCodeSource struct {
	redirectURI string
	timeout     time.Duration
	openURL     func(string) error
	log         *slog.Logger
}

// BrowserCodeSourceOption configures a BrowserCodeSource.
type BrowserCodeSourceOption func(*BrowserCodeSource)

// WithCaptureTimeout bounds the wait for the redirect. Zero keeps the
// default of 5 minutes.
func WithCaptureTimeout(d time.Duration) BrowserCodeSourceOption {
	return func(b *BrowserCodeSource) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithOpenURL overrides the browser launcher, for testing.
func WithOpenURL(f func(string) error) BrowserCodeSourceOption {
	return func(b *BrowserCodeSource) {
		b.openURL = f
	}
}

// WithCodeSourceLogger sets a custom logger.
func WithCodeSourceLogger(l *slog.Logger) BrowserCodeSourceOption {
	return func(b *BrowserCodeSource) {
		b.log = l
	}
}

// NewBrowserCodeSource creates a browser-driven code source capturing on
// redirectURI.
func NewBrowserCodeSource(redirectURI string, opts ...BrowserCodeSourceOption) *BrowserCodeSource {
	b := &BrowserCodeSource{
		redirectURI: redirectURI,
		timeout:     defaultCaptureTimeout,
		openURL:     OpenBrowser,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AuthorizationCode starts the local listener, opens the browser, and
// blocks until the provider redirects back with a code, the provider
// reports an error, or the capture times out.
func (b *BrowserCodeSource) AuthorizationCode(ctx context.Context, authorizeURL string) (string, error) {
	state := uuid.NewString()

	srv, err := NewCallbackServer(b.redirectURI, state)
	if err != nil {
		return "", err
	}
	if err := srv.Start(); err != nil {
		return "", fmt.Errorf("starting callback listener: %w", err)
	}
	defer srv.Stop() //nolint:errcheck // best-effort shutdown

	if err := b.openURL(authorizeURL + "&state=" + state); err != nil {
		return "", fmt.Errorf("opening browser: %w", err)
	}

	b.log.Info("user authorization in progress", "redirect_uri", b.redirectURI)

	code, err := srv.Wait(ctx, b.timeout)
	if err != nil {
		return "", err
	}
	return code, nil
}
