package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bookflow/config"
	"bookflow/logger"
	"bookflow/storage"
)

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

// Client talks to the provider's REST API: session management and catalog
// queries. Streaming is handled separately by Stream.
type Client struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
	limiter    *rate.Limiter

	mu           sync.RWMutex
	sessionToken string

	log *logger.Log
}

func NewClient(cfg config.ProviderConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = rps
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: userAgentTransport{
				agent: "bookflow",
				base:  http.DefaultTransport,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger.GetLogger(),
	}
}

// SessionToken returns the current session token, empty before Login.
func (c *Client) SessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionToken
}

// AppKey returns the application key used for authentication.
func (c *Client) AppKey() string { return c.cfg.AppKey }

// StreamURL returns the provider's streaming endpoint.
func (c *Client) StreamURL() string { return c.cfg.StreamURL }

type loginResponse struct {
	SessionToken string `json:"sessionToken"`
	LoginStatus  string `json:"loginStatus"`
}

// Login authenticates with the provider and stores the session token for
// subsequent calls.
func (c *Client) Login(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.APIURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Application", c.cfg.AppKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if lr.LoginStatus != "" && lr.LoginStatus != "SUCCESS" {
		return fmt.Errorf("login rejected: %s", lr.LoginStatus)
	}
	if lr.SessionToken == "" {
		return fmt.Errorf("login response missing session token")
	}

	c.mu.Lock()
	c.sessionToken = lr.SessionToken
	c.mu.Unlock()

	c.log.WithComponent("provider").Info("logged in to provider")
	return nil
}

// Logout releases the provider session. Safe to call without a session.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := c.sessionToken
	c.sessionToken = ""
	c.mu.Unlock()

	if token == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/logout", nil)
	if err != nil {
		return fmt.Errorf("build logout request: %w", err)
	}
	req.Header.Set("X-Application", c.cfg.AppKey)
	req.Header.Set("X-Authentication", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("logout request: %w", err)
	}
	defer resp.Body.Close()

	c.log.WithComponent("provider").Info("logged out of provider")
	return nil
}

// EventResult is one catalog event with its market count.
type EventResult struct {
	Event       storage.EventInfo `json:"event"`
	MarketCount int               `json:"marketCount"`
}

// ListEvents returns catalog events matching the filter.
func (c *Client) ListEvents(ctx context.Context, filter MarketFilter) ([]EventResult, error) {
	var events []EventResult
	err := c.doBetting(ctx, "listEvents", map[string]any{"filter": filter}, &events)
	return events, err
}

// ListMarketCatalogue returns market descriptions matching the filter,
// runner names included.
func (c *Client) ListMarketCatalogue(ctx context.Context, filter MarketFilter, maxResults int) ([]storage.MarketInfo, error) {
	if maxResults <= 0 {
		maxResults = 100
	}
	params := map[string]any{
		"filter":           filter,
		"maxResults":       maxResults,
		"sort":             "FIRST_TO_START",
		"marketProjection": []string{"MARKET_DESCRIPTION", "RUNNER_DESCRIPTION", "EVENT_TYPE"},
	}
	var markets []storage.MarketInfo
	err := c.doBetting(ctx, "listMarketCatalogue", params, &markets)
	return markets, err
}

func (c *Client) doBetting(ctx context.Context, method string, params any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	token := c.SessionToken()
	if token == "" {
		return fmt.Errorf("not logged in")
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.APIURL+"/betting/rest/v1.0/"+method+"/", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Application", c.cfg.AppKey)
	req.Header.Set("X-Authentication", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s failed with status %d: %s", method, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// FetchEvents resolves each event matching the filter together with its
// market catalogue, in the shape the data location consumes.
func FetchEvents(ctx context.Context, c *Client, filter MarketFilter) ([]storage.Event, error) {
	events, err := c.ListEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	out := make([]storage.Event, 0, len(events))
	for _, result := range events {
		marketFilter := filter
		marketFilter.EventIDs = []string{result.Event.ID}

		markets, err := c.ListMarketCatalogue(ctx, marketFilter, 100)
		if err != nil {
			return nil, fmt.Errorf("list market catalogue for event %s: %w", result.Event.ID, err)
		}
		out = append(out, storage.Event{Event: result.Event, Markets: markets})
	}
	return out, nil
}
