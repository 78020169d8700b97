package allegro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mkrol/allegro-watch/internal/metrics"
)

const (
	defaultAcceptLanguage = "pl-PL"

	acceptHeader = "application/vnd.allegro.public.v1+json"
)

// Client implements SearchClient against the Allegro REST API.
type Client struct {
	tokens         TokenProvider
	apiURL         string
	acceptLanguage string
	client         *http.Client
	rateLimiter    *RateLimiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// WithAcceptLanguage overrides the Accept-Language sent on search requests.
func WithAcceptLanguage(lang string) ClientOption {
	return func(c *Client) {
		c.acceptLanguage = lang
	}
}

// WithRateLimiter injects a rate limiter that controls per-second and daily
// API call limits. When set, every Search() call goes through Wait() first.
func WithRateLimiter(r *RateLimiter) ClientOption {
	return func(c *Client) {
		c.rateLimiter = r
	}
}

// NewClient creates a search client for the API at apiURL.
func NewClient(tokens TokenProvider, apiURL string, opts ...ClientOption) *Client {
	c := &Client{
		tokens:         tokens,
		apiURL:         apiURL,
		acceptLanguage: defaultAcceptLanguage,
		client:         &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// searchAPIResponse mirrors the two item groupings the listing endpoint
// returns.
type searchAPIResponse struct {
	Items struct {
		Promoted []Item `json:"promoted"`
		Regular  []Item `json:"regular"`
	} `json:"items"`
}

// Search queries the listing endpoint with the saved query parameters and
// returns the promoted and regular groupings concatenated, promoted first,
// in provider order. Single page only; no pagination.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]Item, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			if errors.Is(err, ErrDailyLimitReached) {
				metrics.APIDailyLimitHits.Inc()
			}
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		metrics.APICallsTotal.Inc()
		metrics.APIDailyUsage.Set(float64(c.rateLimiter.DailyCount()))
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting auth token: %w", err)
	}

	u, err := c.buildSearchURL(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", acceptHeader)
	httpReq.Header.Set("Accept-Language", c.acceptLanguage)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"allegro API error (status %d): %s",
			resp.StatusCode,
			string(body),
		)
	}

	var apiResp searchAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	items := make([]Item, 0, len(apiResp.Items.Promoted)+len(apiResp.Items.Regular))
	items = append(items, apiResp.Items.Promoted...)
	items = append(items, apiResp.Items.Regular...)
	return items, nil
}

func (c *Client) buildSearchURL(req SearchRequest) (string, error) {
	u, err := url.Parse(c.apiURL + req.Path)
	if err != nil {
		return "", fmt.Errorf("building search URL: %w", err)
	}

	q := u.Query()
	for k, v := range req.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
