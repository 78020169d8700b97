package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mkrol/allegro-watch/internal/metrics"
	"github.com/mkrol/allegro-watch/internal/store"
)

const (
	refreshBuffer   = 60 * time.Second
	defaultTokenTTL = time.Hour
)

// State is the lifecycle state of the Authenticator.
type State string

// Lifecycle states.
const (
	StateNoToken    State = "no_token"
	StateRefreshing State = "refreshing"
	StateSignedIn   State = "signed_in"
	StateAuthError  State = "auth_error"
)

// Credentials identifies the OAuth2 client and its endpoints.
type Credentials struct {
	ClientID     string
	ClientSecret string
	OAuthURL     string // base URL; /authorize and /token are appended
	RedirectURI  string
}

// Authenticator owns the token lifecycle. It is the sole writer to the
// token store: every token-endpoint response, success or error, is
// persisted before its outcome is acted on.
//
// Startup policy: no stored token means sign-in; a stored token is
// refreshed first. A rejected refresh falls back to sign-in exactly once
// per run; a second consecutive failure is fatal.
type Authenticator struct {
	creds  Credentials
	store  store.Store
	codes  CodeSource
	client *http.Client
	log    *slog.Logger

	mu           sync.Mutex
	state        State
	current      *store.TokenRecord
	expiry       time.Time
	fallbackUsed bool
	nowFunc      func() time.Time
}

// Option configures the Authenticator.
type Option func(*Authenticator)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Authenticator) {
		a.client = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) {
		a.log = l
	}
}

// WithNowFunc overrides the time function for testing.
func WithNowFunc(f func() time.Time) Option {
	return func(a *Authenticator) {
		a.nowFunc = f
	}
}

// New creates an Authenticator persisting through st and obtaining
// authorization codes from codes.
func New(creds Credentials, st store.Store, codes CodeSource, opts ...Option) *Authenticator {
	a := &Authenticator{
		creds:   creds,
		store:   st,
		codes:   codes,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     slog.Default(),
		state:   StateNoToken,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the current lifecycle state.
func (a *Authenticator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Token returns a valid access token, driving whatever part of the
// lifecycle is needed to get one. It implements allegro.TokenProvider.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateSignedIn && a.current.Valid() &&
		a.nowFunc().Before(a.expiry.Add(-refreshBuffer)) {
		return a.current.AccessToken, nil
	}

	rec, err := a.ensureLocked(ctx)
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

// SignIn forces a fresh interactive sign-in, regardless of stored state.
func (a *Authenticator) SignIn(ctx context.Context) (*store.TokenRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signInLocked(ctx)
}

// ensureLocked resolves the lifecycle from whatever state is at hand:
// the in-memory record, the persisted record, or nothing.
func (a *Authenticator) ensureLocked(ctx context.Context) (*store.TokenRecord, error) {
	rec := a.current
	if rec == nil {
		loaded, err := a.store.LoadToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading token: %w", err)
		}
		rec = loaded
	}

	if rec == nil || rec.RefreshToken == "" {
		// Nothing to refresh with.
		return a.signInLocked(ctx)
	}

	refreshed, err := a.refreshLocked(ctx, rec)
	if err == nil {
		return refreshed, nil
	}

	if a.fallbackUsed {
		return nil, fmt.Errorf("refreshing token (sign-in fallback already used): %w", err)
	}
	a.fallbackUsed = true
	a.log.Warn("token refresh rejected, falling back to sign-in", "error", err)

	return a.signInLocked(ctx)
}

func (a *Authenticator) refreshLocked(ctx context.Context, rec *store.TokenRecord) (*store.TokenRecord, error) {
	a.state = StateRefreshing
	a.log.Info("refreshing token...")
	metrics.TokenRefreshesTotal.Inc()

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {rec.RefreshToken},
		"redirect_uri":  {a.creds.RedirectURI},
	}
	return a.exchangeLocked(ctx, form)
}

func (a *Authenticator) signInLocked(ctx context.Context) (*store.TokenRecord, error) {
	a.log.Info("signing in...")
	metrics.SignInsTotal.Inc()

	code, err := a.codes.AuthorizationCode(ctx, a.authorizeURL())
	if err != nil {
		a.state = StateAuthError
		metrics.AuthFailuresTotal.Inc()
		return nil, fmt.Errorf("obtaining authorization code: %w", err)
	}

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {a.creds.RedirectURI},
	}
	return a.exchangeLocked(ctx, form)
}

// exchangeLocked POSTs a grant to the token endpoint with Basic client
// credentials, persists the raw response payload, and evaluates it.
func (a *Authenticator) exchangeLocked(ctx context.Context, form url.Values) (*store.TokenRecord, error) {
	grant := form.Get("grant_type")

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		a.creds.OAuthURL+"/token",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.creds.ClientID, a.creds.ClientSecret)

	resp, err := a.client.Do(req)
	if err != nil {
		a.state = StateAuthError
		metrics.AuthFailuresTotal.Inc()
		return nil, fmt.Errorf("executing token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		a.state = StateAuthError
		metrics.AuthFailuresTotal.Inc()
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	rec, err := store.RecordFromPayload(body)
	if err != nil {
		a.state = StateAuthError
		metrics.AuthFailuresTotal.Inc()
		return nil, fmt.Errorf(
			"token endpoint returned status %d with unreadable payload: %w",
			resp.StatusCode, err,
		)
	}

	// Persist before evaluating, so a rejected exchange leaves the error
	// payload visible in the stored state.
	if err := a.store.SaveToken(ctx, rec); err != nil {
		return nil, fmt.Errorf("persisting token: %w", err)
	}

	if !rec.Valid() {
		a.state = StateAuthError
		metrics.AuthFailuresTotal.Inc()
		reason := rec.ProviderError()
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("token endpoint rejected %s grant: %s", grant, reason)
	}

	a.current = rec
	ttl := rec.ExpiresIn()
	if ttl == 0 {
		ttl = defaultTokenTTL
	}
	a.expiry = a.nowFunc().Add(ttl)
	a.state = StateSignedIn
	a.log.Info("token obtained", "grant", grant, "expires_in", ttl)

	return rec, nil
}

func (a *Authenticator) authorizeURL() string {
	return a.creds.OAuthURL + "/authorize" +
		"?response_type=code" +
		"&client_id=" + url.QueryEscape(a.creds.ClientID) +
		"&redirect_uri=" + url.QueryEscape(a.creds.RedirectURI)
}
