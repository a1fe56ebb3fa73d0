package sdk

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
	"time"

	"github.com/gorilla/websocket"

	"careerxp/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the careerxp HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// Award reports an action and returns the engine's decision.
// refID may be empty for actions that do not require one.
func (c *Client) Award(ctx context.Context, userID, action, refID string) (AwardResult, error) {
	if strings.TrimSpace(userID) == "" {
		return AwardResult{}, ErrEmptyUserID
	}
	body, err := json.Marshal(map[string]string{"ref_id": refID})
	if err != nil {
		return AwardResult{}, err
	}
	u := fmt.Sprintf("%s/users/%s/xp/%s", c.baseURL, url.PathEscape(userID), url.PathEscape(action))
	var res AwardResult
	if err := c.do(ctx, http.MethodPost, u, bytes.NewReader(body), &res); err != nil {
		return AwardResult{}, err
	}
	return res, nil
}

// GetProfile fetches the user's XP and level. Unknown users read as level 1 with 0 XP.
func (c *Client) GetProfile(ctx context.Context, userID string) (core.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return core.Profile{}, ErrEmptyUserID
	}
	var p core.Profile
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(userID)), nil, &p); err != nil {
		return core.Profile{}, err
	}
	return p, nil
}

// History returns up to limit grants, newest first. limit <= 0 uses the server default.
func (c *Client) History(ctx context.Context, userID string, limit int) ([]core.XPLogEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	u := fmt.Sprintf("%s/users/%s/history", c.baseURL, url.PathEscape(userID))
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	var body struct {
		Entries []core.XPLogEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, u, nil, &body); err != nil {
		return nil, err
	}
	return body.Entries, nil
}

// Rules fetches the reward table.
func (c *Client) Rules(ctx context.Context) (RuleSet, error) {
	var rs RuleSet
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/rules", nil, &rs); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// Leaderboard returns the top users by XP.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	u := c.baseURL + "/leaderboard"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	var body struct {
		Entries []LeaderboardEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, u, nil, &body); err != nil {
		return nil, err
	}
	return body.Entries, nil
}

// Health probes /healthz and returns status + storage check.
// An unhealthy server answers 503, which is still decoded.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return HealthStatus{}, err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthStatus{}, err
	}
	defer resp.Body.Close()

	var hs HealthStatus
	if resp.StatusCode == http.StatusServiceUnavailable {
		err = json.NewDecoder(resp.Body).Decode(&hs)
	} else {
		err = decodeJSON(resp, &hs)
	}
	if err != nil {
		return HealthStatus{}, err
	}
	return hs, nil
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader, target any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	c.applyHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, target)
}

// SubscribeEvents connects to the WebSocket stream and emits xp_granted and
// level_up events. A non-empty userID restricts the stream to that user.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, userID string) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	target := c.wsURL
	if userID = strings.TrimSpace(userID); userID != "" {
		target += "?user=" + url.QueryEscape(userID)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, c.headers)
	if err != nil {
		return nil, err
	}

	// unblock ReadJSON when ctx ends
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	out := make(chan core.Event, 32)
	go func() {
		defer close(out)
		defer stop()
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
