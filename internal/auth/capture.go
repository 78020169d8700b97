// Package auth implements the OAuth2 authorization-code lifecycle:
// capturing the one-time code on a local redirect listener, exchanging it
// for tokens, and refreshing tokens as they expire.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ErrCaptureTimeout is returned when no redirect arrives before the
// capture deadline.
var ErrCaptureTimeout = errors.New("timed out waiting for authorization callback")

// RedirectError is the provider redirecting back with an error instead of
// a code. It keeps the raw query string so the failure is fully inspectable.
type RedirectError struct {
	Code        string // OAuth2 error code, e.g. "access_denied"
	Description string
	RawQuery    string
}

func (e *RedirectError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization declined: %s (%s)", e.Code, e.Description)
	}
	return fmt.Sprintf("authorization declined: %s", e.Code)
}

// CallbackServer captures the authorization-code redirect on a local HTTP
// listener. It accepts exactly one redirect: the first request on the
// redirect path settles the capture, success or failure.
type CallbackServer struct {
	host          string
	port          int
	path          string
	expectedState string

	codeCh chan string
	errCh  chan error

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewCallbackServer creates a capture listener for redirectURI. When
// expectedState is non-empty, redirects carrying a different state are
// rejected.
func NewCallbackServer(redirectURI, expectedState string) (*CallbackServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("parsing redirect URI: %w", err)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("redirect URI %q must include host and port", redirectURI)
	}
	port, err := net.LookupPort("tcp", u.Port())
	if err != nil {
		return nil, fmt.Errorf("parsing redirect URI port: %w", err)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	return &CallbackServer{
		host:          u.Hostname(),
		port:          port,
		path:          path,
		expectedState: expectedState,
		codeCh:        make(chan string, 1),
		errCh:         make(chan error, 1),
	}, nil
}

// Start binds the listener and begins serving. The redirect must already be
// capturable when the browser opens the authorize URL.
func (s *CallbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleRedirect)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()

	return nil
}

func (s *CallbackServer) handleRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		s.settle("", &RedirectError{
			Code:        errCode,
			Description: q.Get("error_description"),
			RawQuery:    r.URL.RawQuery,
		})
		respond(w, "Authorization failed. You can close this window.")
		return
	}

	if s.expectedState != "" && q.Get("state") != s.expectedState {
		s.settle("", fmt.Errorf("state mismatch on authorization callback"))
		respond(w, "Authorization failed. You can close this window.")
		return
	}

	code := q.Get("code")
	if code == "" {
		s.settle("", fmt.Errorf("authorization callback carried no code (query: %q)", r.URL.RawQuery))
		respond(w, "Authorization failed. You can close this window.")
		return
	}

	s.settle(code, nil)
	respond(w, "Authorization complete. You can close this window.")
}

// settle delivers the capture outcome exactly once; later requests on the
// redirect path are answered but ignored.
func (s *CallbackServer) settle(code string, err error) {
	if err != nil {
		select {
		case s.errCh <- err:
		default:
		}
		return
	}
	select {
	case s.codeCh <- code:
	default:
	}
}

func respond(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html><html><body><p>%s</p></body></html>", msg)
}

// Wait blocks until the redirect arrives, the timeout passes, or ctx is
// canceled. Timeout yields ErrCaptureTimeout rather than hanging forever.
func (s *CallbackServer) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case code := <-s.codeCh:
		return code, nil
	case err := <-s.errCh:
		return "", err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrCaptureTimeout
		}
		return "", ctx.Err()
	}
}

// Stop shuts down the listener.
func (s *CallbackServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Addr returns the bound listener address, useful when the redirect URI
// port was 0.
func (s *CallbackServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
