// ABOUTME: HTTP client for the microbe-gateway JSON API
// ABOUTME: Login stores the returned token for later calls and WebSocket sessions

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/NightFury20/microbe-messaging/internal/conversation"
	"github.com/NightFury20/microbe-messaging/internal/store"
)

// ErrNoToken is returned by calls that need a token before Login or WithToken.
var ErrNoToken = errors.New("client has no token")

// APIError is a non-2xx response from the gateway.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned %d", e.Status)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the gateway.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// LoginResult is returned by Login.
type LoginResult struct {
	Token     string        `json:"token"`
	ExpiresIn int64         `json:"expiresIn"`
	User      store.UserRef `json:"user"`
}

// LookupResult is returned by Lookup.
type LookupResult struct {
	Found  bool  `json:"found"`
	UserID int64 `json:"userId"`
	Self   bool  `json:"self"`
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token, for callers that already have one.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the HTTP client used for API calls and dials.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client talks to one gateway.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a client for the gateway at baseURL (http or https).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing gateway URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway URL must be http or https, got %q", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, err
	}

	var res LoginResult
	if err := c.do(ctx, http.MethodPost, "/api/login", nil, bytes.NewReader(body), &res, false); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.token = res.Token
	c.mu.Unlock()
	return &res, nil
}

// Lookup finds a user by username.
func (c *Client) Lookup(ctx context.Context, username string) (*LookupResult, error) {
	var res LookupResult
	q := url.Values{"username": {username}}
	if err := c.do(ctx, http.MethodGet, "/api/users/lookup", q, nil, &res, true); err != nil {
		return nil, err
	}
	return &res, nil
}

// Threads returns the caller's thread summaries, most recent first.
func (c *Client) Threads(ctx context.Context) ([]conversation.Thread, error) {
	var threads []conversation.Thread
	if err := c.do(ctx, http.MethodGet, "/api/threads", nil, nil, &threads, true); err != nil {
		return nil, err
	}
	return threads, nil
}

// Messages opens the thread with otherUserID, marking it read, and returns
// its history oldest first.
func (c *Client) Messages(ctx context.Context, otherUserID int64) ([]*store.Message, error) {
	var messages []*store.Message
	path := "/api/threads/" + strconv.FormatInt(otherUserID, 10) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &messages, true); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, out any, authed bool) error {
	u := *c.baseURL
	u.Path += path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token := c.Token()
		if token == "" {
			return ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e) == nil {
			apiErr.Message = e.Error
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
