// Package zinc provides the official Go SDK for the Zinc direct-messaging
// service.
//
// It keeps a local view of presence, conversations, and message history in
// sync with the Zinc backend over the HTTP API and the server-pushed event
// channel.
//
// Example:
//
//	client := zinc.NewClient(zinc.WithBaseURL("https://zinc.example.com"))
//	app, err := zinc.NewApp(client, zinc.NewMemoryTokenStore(), nil)
//
//	app.Login(ctx, zinc.Credentials{Email: "a@example.com", Password: "..."})
//	app.Sync.SelectConversation("peer-id")
//	app.Sync.SendMessage(ctx, zinc.Outgoing{Text: "hello"})
package zinc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseURL = "https://api.zinc.im"
	DefaultTimeout = 30 * time.Second
)

// tokenHeader is the request header carrying the session token. It is absent,
// not empty, while logged out.
const tokenHeader = "token"

// ============================================================================
// Client
// ============================================================================

// Client is the authenticated HTTP API client. The token it sends follows the
// Session: SetToken/ClearToken are invoked by the session store's observers.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger

	mu    sync.RWMutex
	token string
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new Zinc API client. It starts unauthenticated; the
// token is attached once the session resolves one.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken attaches a session token to every subsequent request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearToken removes the token; subsequent requests carry no auth header.
func (c *Client) ClearToken() {
	c.SetToken("")
}

// Token returns the token currently attached to requests.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// WSURL returns the event-channel URL for the given user id.
func (c *Client) WSURL(userID string) string {
	base := strings.Replace(c.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/ws?userId=" + userID
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set(tokenHeader, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{Message: serverMessage(data)}
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// serverMessage extracts the "message" field from an error body, if present.
func serverMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		return body.Message
	}
	return ""
}

// ============================================================================
// Auth API Methods
// ============================================================================

// CheckAuth resolves the identity behind the current token. A failure here is
// the normal path for an anonymous visitor; callers decide whether to surface
// it.
func (c *Client) CheckAuth(ctx context.Context) (*User, error) {
	data, err := c.doRequest(ctx, "GET", "/api/auth/check", nil)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[CheckResult](data)
	if err != nil {
		return nil, err
	}
	if !result.Success || result.User == nil {
		return nil, &AuthError{Message: result.Message}
	}
	return result.User, nil
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, creds Credentials) (*AuthResult, error) {
	return c.authenticate(ctx, "login", creds)
}

// Signup registers a new account and authenticates it.
func (c *Client) Signup(ctx context.Context, creds Credentials) (*AuthResult, error) {
	return c.authenticate(ctx, "signup", creds)
}

// authenticate posts to /api/auth/{login|signup}; the two differ only by path
// segment.
func (c *Client) authenticate(ctx context.Context, state string, creds Credentials) (*AuthResult, error) {
	data, err := c.doRequest(ctx, "POST", "/api/auth/"+state, creds)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[AuthResult](data)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, &AuthError{Message: result.Message}
	}
	return result, nil
}

// UpdateProfile submits changed profile fields and returns the server's view
// of the user. Callers merge the result; they must not replace the identity
// wholesale with it.
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (*User, error) {
	data, err := c.doRequest(ctx, "PUT", "/api/auth/update-profile", update)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[ProfileResult](data)
	if err != nil {
		return nil, err
	}
	if !result.Success || result.User == nil {
		return nil, &APIError{Message: result.Message}
	}
	return result.User, nil
}

// ============================================================================
// Messaging API Methods
// ============================================================================

// ListUsers fetches the conversation peers and the per-peer unseen counts.
func (c *Client) ListUsers(ctx context.Context) (*UsersResult, error) {
	data, err := c.doRequest(ctx, "GET", "/api/messages/users", nil)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[UsersResult](data)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, &APIError{Message: result.Message}
	}
	return result, nil
}

// History fetches the ordered message history with a peer.
func (c *Client) History(ctx context.Context, peerID string) ([]Message, error) {
	data, err := c.doRequest(ctx, "GET", "/api/messages/"+peerID, nil)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[HistoryResult](data)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, &APIError{Message: result.Message}
	}
	return result.Messages, nil
}

// Send submits a message to a peer and returns the stored copy. The caller
// must not append the returned message to any local sequence; the channel
// echo is the only append path.
func (c *Client) Send(ctx context.Context, peerID string, out Outgoing) (*Message, error) {
	data, err := c.doRequest(ctx, "POST", "/api/messages/send/"+peerID, out)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[SendResult](data)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, &APIError{Message: result.Reason()}
	}
	return result.Sent(), nil
}

// MarkSeen flags a message as seen. Best-effort: callers are expected to
// ignore the returned error.
func (c *Client) MarkSeen(ctx context.Context, messageID string) error {
	_, err := c.doRequest(ctx, "PUT", "/api/messages/mark/"+messageID, nil)
	return err
}
