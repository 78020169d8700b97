package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrol/allegro-watch/internal/auth"
	"github.com/mkrol/allegro-watch/internal/store"
)

// fakeStore is an in-memory store.Store recording every saved token record
// in order.
type fakeStore struct {
	mu    sync.Mutex
	token *store.TokenRecord
	saved []*store.TokenRecord
	seen  map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{seen: make(map[string][]string)}
}

func (f *fakeStore) LoadToken(_ context.Context) (*store.TokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Mirror the FileStore contract: a record with no usable token is absent.
	if f.token == nil || (f.token.AccessToken == "" && f.token.RefreshToken == "") {
		return nil, nil
	}
	return f.token, nil
}

func (f *fakeStore) SaveToken(_ context.Context, rec *store.TokenRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = rec
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeStore) LoadSeenIDs(_ context.Context, search string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[search], nil
}

func (f *fakeStore) SaveSeenIDs(_ context.Context, search string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[search] = ids
	return nil
}

// stubCodes is a CodeSource returning a fixed code or error.
type stubCodes struct {
	code  string
	err   error
	calls int
}

func (s *stubCodes) AuthorizationCode(_ context.Context, _ string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.code, nil
}

// tokenEndpoint is a fake OAuth token endpoint recording the grants it saw
// and answering per grant type.
type tokenEndpoint struct {
	mu        sync.Mutex
	grants    []string
	responses map[string]func(w http.ResponseWriter, r *http.Request)

	gotUser, gotPass string
	lastForm         map[string]string
}

func newTokenEndpoint() *tokenEndpoint {
	return &tokenEndpoint{responses: make(map[string]func(http.ResponseWriter, *http.Request))}
}

func (te *tokenEndpoint) respond(grant string, status int, body string) {
	te.responses[grant] = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (te *tokenEndpoint) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		te.mu.Lock()
		grant := r.PostForm.Get("grant_type")
		te.grants = append(te.grants, grant)
		te.gotUser, te.gotPass, _ = r.BasicAuth()
		te.lastForm = map[string]string{}
		for k := range r.PostForm {
			te.lastForm[k] = r.PostForm.Get(k)
		}
		h := te.responses[grant]
		te.mu.Unlock()

		if h == nil {
			http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
			return
		}
		h(w, r)
	}
}

func (te *tokenEndpoint) seenGrants() []string {
	te.mu.Lock()
	defer te.mu.Unlock()
	return append([]string(nil), te.grants...)
}

const tokenJSON = `{"access_token":"at-new","refresh_token":"rt-new","token_type":"bearer","expires_in":43200}`

func newAuthenticator(
	t *testing.T,
	st store.Store,
	codes auth.CodeSource,
	te *tokenEndpoint,
	opts ...auth.Option,
) *auth.Authenticator {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		te.handler()(w, r)
	}))
	t.Cleanup(srv.Close)

	creds := auth.Credentials{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		OAuthURL:     srv.URL,
		RedirectURI:  "http://localhost:8000",
	}
	return auth.New(creds, st, codes, opts...)
}

func TestAuthenticator_SignInWhenNoToken(t *testing.T) {
	t.Parallel()

	te := newTokenEndpoint()
	te.respond("authorization_code", http.StatusOK, tokenJSON)

	st := newFakeStore()
	codes := &stubCodes{code: "one-time-code"}
	a := newAuthenticator(t, st, codes, te)

	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-new", tok)

	// No stored token means sign-in, never refresh.
	assert.Equal(t, []string{"authorization_code"}, te.seenGrants())
	assert.Equal(t, 1, codes.calls)
	assert.Equal(t, auth.StateSignedIn, a.State())

	assert.Equal(t, "client-id", te.gotUser)
	assert.Equal(t, "client-secret", te.gotPass)
	assert.Equal(t, "one-time-code", te.lastForm["code"])
	assert.Equal(t, "http://localhost:8000", te.lastForm["redirect_uri"])
}

func TestAuthenticator_RefreshWhenTokenStored(t *testing.T) {
	t.Parallel()

	te := newTokenEndpoint()
	te.respond("refresh_token", http.StatusOK, tokenJSON)

	st := newFakeStore()
	rec, err := store.RecordFromPayload([]byte(`{"access_token":"at-old","refresh_token":"rt-old"}`))
	require.NoError(t, err)
	require.NoError(t, st.SaveToken(context.Background(), rec))

	codes := &stubCodes{code: "unused"}
	a := newAuthenticator(t, st, codes, te)

	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-new", tok)

	assert.Equal(t, []string{"refresh_token"}, te.seenGrants())
	assert.Equal(t, "rt-old", te.lastForm["refresh_token"])
	assert.Equal(t, 0, codes.calls, "refresh path must not open a browser")
}

func TestAuthenticator_RefreshRejectedFallsBackToSignIn(t *testing.T) {
	t.Parallel()

	te := newTokenEndpoint()
	te.respond("refresh_token", http.StatusBadRequest, `{"error":"invalid_grant"}`)
	te.respond("authorization_code", http.StatusOK, tokenJSON)

	st := newFakeStore()
	rec, err := store.RecordFromPayload([]byte(`{"access_token":"at-old","refresh_token":"rt-old"}`))
	require.NoError(t, err)
	require.NoError(t, st.SaveToken(context.Background(), rec))
	st.saved = nil // only observe what the authenticator persists

	codes := &stubCodes{code: "one-time-code"}
	a := newAuthenticator(t, st, codes, te)

	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-new", tok)

	assert.Equal(t, []string{"refresh_token", "authorization_code"}, te.seenGrants())
	assert.Equal(t, 1, codes.calls, "sign-in fallback happens exactly once")

	// The rejected refresh payload was persisted before the fallback ran.
	require.Len(t, st.saved, 2)
	assert.Equal(t, "invalid_grant", st.saved[0].ProviderError())
	assert.True(t, st.saved[1].Valid())
}

func TestAuthenticator_FallbackUsedOnlyOncePerRun(t *testing.T) {
	t.Parallel()

	te := newTokenEndpoint()
	te.respond("refresh_token", http.StatusBadRequest, `{"error":"invalid_grant"}`)
	// Short-lived token so the second Token() call has to refresh again.
	te.respond("authorization_code", http.StatusOK,
		`{"access_token":"at-short","refresh_token":"rt-short","expires_in":120}`)

	st := newFakeStore()
	rec, err := store.RecordFromPayload([]byte(`{"access_token":"at-old","refresh_token":"rt-old"}`))
	require.NoError(t, err)
	require.NoError(t, st.SaveToken(context.Background(), rec))

	now := time.Now()
	codes := &stubCodes{code: "one-time-code"}
	a := newAuthenticator(t, st, codes, te,
		auth.WithNowFunc(func() time.Time { return now }),
	)

	_, err = a.Token(context.Background())
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)

	_, err = a.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign-in fallback already used")
	assert.Equal(t, 1, codes.calls)
}

func TestAuthenticator_SignInRejectedIsFatal(t *testing.T) {
	t.Parallel()

	te := newTokenEndpoint()
	te.respond("authorization_code", http.StatusBadRequest, `{"error":"invalid_request"}`)

	st := newFakeStore()
	codes := &stubCodes{code: "one-time-code"}
	a := newAuthenticator(t, st, codes, te)

	_, err := a.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_request")
	assert.Equal(t, auth.StateAuthError, a.State())

	// The rejection payload is inspectable in the persisted state.
	require.NotEmpty(t, st.saved)
	assert.Equal(t, "invalid_request", st.saved[len(st.saved)-1].ProviderError())
}

func TestAuthenticator_TokenCached(t *testing.T) {
	t.Parallel()

	te := newTokenEndpoint()
	te.respond("authorization_code", http.StatusOK, tokenJSON)

	st := newFakeStore()
	codes := &stubCodes{code: "c"}
	a := newAuthenticator(t, st, codes, te)

	for i := 0; i < 3; i++ {
		tok, err := a.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "at-new", tok)
	}

	assert.Len(t, te.seenGrants(), 1, "a valid cached token is not re-exchanged")
}

func TestAuthenticator_RefreshesNearExpiry(t *testing.T) {
	t.Parallel()

	te := newTokenEndpoint()
	te.respond("authorization_code", http.StatusOK,
		`{"access_token":"at-1","refresh_token":"rt-1","expires_in":7200}`)
	te.respond("refresh_token", http.StatusOK,
		`{"access_token":"at-2","refresh_token":"rt-2","expires_in":7200}`)

	st := newFakeStore()
	now := time.Now()
	codes := &stubCodes{code: "c"}
	a := newAuthenticator(t, st, codes, te,
		auth.WithNowFunc(func() time.Time { return now }),
	)

	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok)

	now = now.Add(7200*time.Second - 30*time.Second) // inside the refresh buffer

	tok, err = a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-2", tok)

	assert.Equal(t, []string{"authorization_code", "refresh_token"}, te.seenGrants())
	assert.Equal(t, "rt-1", te.lastForm["refresh_token"])
}

func TestAuthenticator_CaptureDeclined(t *testing.T) {
	t.Parallel()

	te := newTokenEndpoint()

	st := newFakeStore()
	codes := &stubCodes{err: &auth.RedirectError{Code: "access_denied", RawQuery: "error=access_denied"}}
	a := newAuthenticator(t, st, codes, te)

	_, err := a.Token(context.Background())
	require.Error(t, err)

	var redirectErr *auth.RedirectError
	assert.ErrorAs(t, err, &redirectErr)
	assert.Equal(t, auth.StateAuthError, a.State())
	assert.Empty(t, te.seenGrants(), "a declined capture must never reach the token endpoint")
}

func TestAuthenticator_ForcedSignIn(t *testing.T) {
	t.Parallel()

	te := newTokenEndpoint()
	te.respond("authorization_code", http.StatusOK, tokenJSON)

	st := newFakeStore()
	rec, err := store.RecordFromPayload([]byte(`{"access_token":"at-old","refresh_token":"rt-old"}`))
	require.NoError(t, err)
	require.NoError(t, st.SaveToken(context.Background(), rec))

	codes := &stubCodes{code: "c"}
	a := newAuthenticator(t, st, codes, te)

	got, err := a.SignIn(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Valid())

	// Stored state notwithstanding, a forced sign-in goes straight to the
	// authorization-code grant.
	assert.Equal(t, []string{"authorization_code"}, te.seenGrants())
}
