package loqui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.loqui.im"
	DefaultTimeout = 30 * time.Second
)

// ChatAPI is the request/response surface the engine consumes. Client is
// the production implementation; tests substitute fakes. Every call takes a
// context because every call suspends on the network.
type ChatAPI interface {
	GetChats(ctx context.Context) ([]Chat, error)
	GetMessages(ctx context.Context, chatID, before string, limit int) ([]Message, error)
	GetChatProfile(ctx context.Context, chatID string) (*ChatProfile, error)

	PostMessage(ctx context.Context, req PostMessageRequest) (*Message, error)
	PatchMessage(ctx context.Context, messageID, content string) (*Message, error)
	DeleteMessage(ctx context.Context, messageID string) error

	ToggleReaction(ctx context.Context, messageID, kind string) error
	PinMessage(ctx context.Context, messageID string) error
	UnpinMessage(ctx context.Context, messageID string) error

	GetPermissions(ctx context.Context, chatID, userID string) ([]string, error)
	GrantPermission(ctx context.Context, chatID, userID, name string) error
	RevokePermission(ctx context.Context, chatID, userID, name string) error

	GetPresenceBulk(ctx context.Context, userIDs []string) ([]PresenceRecord, error)

	BlockUser(ctx context.Context, userID string) error
	UnblockUser(ctx context.Context, userID string) error
	GetBlockedUsers(ctx context.Context) (*BlockList, error)

	BanUser(ctx context.Context, chatID, userID string) error
	UnbanUser(ctx context.Context, chatID, userID string) error
	JoinChat(ctx context.Context, chatID string) error
	LeaveChat(ctx context.Context, chatID string) error
}

// Client talks JSON over HTTP to the chat API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

var _ ChatAPI = (*Client)(nil)

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates an API client authenticated with the given access token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken updates the access token, e.g. after a refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// ============================================================================
// Internal request helpers
// ============================================================================

// apiEnvelope is the uniform response shape: either data or an error body.
type apiEnvelope struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, query map[string]string) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newFailure(FailureNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newFailure(FailureNetwork, "failed to read response", err)
	}

	var env apiEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return nil, newFailure(FailureNetwork, "failed to decode response", err)
		}
	}
	if resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, env.Error)
	}
	return env.Data, nil
}

func decodeJSON[T any](data json.RawMessage) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, newFailure(FailureNetwork, "failed to unmarshal response", err)
	}
	return &result, nil
}

// ============================================================================
// Chats & messages
// ============================================================================

func (c *Client) GetChats(ctx context.Context) ([]Chat, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/chats", nil, nil)
	if err != nil {
		return nil, err
	}
	chats, err := decodeJSON[[]Chat](data)
	if err != nil {
		return nil, err
	}
	return *chats, nil
}

func (c *Client) GetMessages(ctx context.Context, chatID, before string, limit int) ([]Message, error) {
	query := map[string]string{}
	if before != "" {
		query["before"] = before
	}
	if limit > 0 {
		query["limit"] = fmt.Sprintf("%d", limit)
	}
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/chats/"+chatID+"/messages", nil, query)
	if err != nil {
		return nil, err
	}
	msgs, err := decodeJSON[[]Message](data)
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

func (c *Client) GetChatProfile(ctx context.Context, chatID string) (*ChatProfile, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/chats/"+chatID+"/profile", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ChatProfile](data)
}

func (c *Client) PostMessage(ctx context.Context, req PostMessageRequest) (*Message, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/v1/chats/"+req.ChatID+"/messages", req, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

func (c *Client) PatchMessage(ctx context.Context, messageID, content string) (*Message, error) {
	body := map[string]string{"content": content}
	data, err := c.doRequest(ctx, http.MethodPatch, "/v1/messages/"+messageID, body, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/v1/messages/"+messageID, nil, nil)
	return err
}

// ============================================================================
// Reactions & pins
// ============================================================================

func (c *Client) ToggleReaction(ctx context.Context, messageID, kind string) error {
	body := map[string]string{"kind": kind}
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/messages/"+messageID+"/reactions/toggle", body, nil)
	return err
}

func (c *Client) PinMessage(ctx context.Context, messageID string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/messages/"+messageID+"/pin", nil, nil)
	return err
}

func (c *Client) UnpinMessage(ctx context.Context, messageID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/v1/messages/"+messageID+"/pin", nil, nil)
	return err
}

// ============================================================================
// Permissions
// ============================================================================

func (c *Client) GetPermissions(ctx context.Context, chatID, userID string) ([]string, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/chats/"+chatID+"/permissions/"+userID, nil, nil)
	if err != nil {
		return nil, err
	}
	names, err := decodeJSON[[]string](data)
	if err != nil {
		return nil, err
	}
	return *names, nil
}

func (c *Client) GrantPermission(ctx context.Context, chatID, userID, name string) error {
	body := map[string]string{"name": name}
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/chats/"+chatID+"/permissions/"+userID, body, nil)
	return err
}

func (c *Client) RevokePermission(ctx context.Context, chatID, userID, name string) error {
	query := map[string]string{"name": name}
	_, err := c.doRequest(ctx, http.MethodDelete, "/v1/chats/"+chatID+"/permissions/"+userID, nil, query)
	return err
}

// ============================================================================
// Presence
// ============================================================================

func (c *Client) GetPresenceBulk(ctx context.Context, userIDs []string) ([]PresenceRecord, error) {
	body := map[string][]string{"userIds": userIDs}
	data, err := c.doRequest(ctx, http.MethodPost, "/v1/presence/bulk", body, nil)
	if err != nil {
		return nil, err
	}
	recs, err := decodeJSON[[]PresenceRecord](data)
	if err != nil {
		return nil, err
	}
	return *recs, nil
}

// ============================================================================
// Blocks, bans, membership
// ============================================================================

func (c *Client) BlockUser(ctx context.Context, userID string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/blocks/"+userID, nil, nil)
	return err
}

func (c *Client) UnblockUser(ctx context.Context, userID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/v1/blocks/"+userID, nil, nil)
	return err
}

func (c *Client) GetBlockedUsers(ctx context.Context) (*BlockList, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/v1/blocks", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[BlockList](data)
}

func (c *Client) BanUser(ctx context.Context, chatID, userID string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/chats/"+chatID+"/bans/"+userID, nil, nil)
	return err
}

func (c *Client) UnbanUser(ctx context.Context, chatID, userID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/v1/chats/"+chatID+"/bans/"+userID, nil, nil)
	return err
}

func (c *Client) JoinChat(ctx context.Context, chatID string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/v1/chats/"+chatID+"/members/me", nil, nil)
	return err
}

func (c *Client) LeaveChat(ctx context.Context, chatID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/v1/chats/"+chatID+"/members/me", nil, nil)
	return err
}
