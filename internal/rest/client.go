package rest

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
)

// Client talks to the case-management backend's JSON API. Every request
// carries the session's bearer token and a bounded timeout; a hung request
// can therefore never starve the poll loop.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a client for the given base URL (e.g.
// "https://api.example.org/api").
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// Login exchanges credentials for a bearer token. The token is also
// installed on the client.
func (c *Client) Login(ctx context.Context, email, password string) (string, *User, error) {
	var resp struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return "", nil, err
	}
	c.SetToken(resp.Token)
	return resp.Token, &resp.User, nil
}

// Me returns the authenticated account's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListConversations fetches the authenticated user's conversation
// summaries.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// CreateConversation starts (or returns, backend-side) a conversation with
// the given participant. A 409 surfaces as an APIError; callers resolve it
// by lookup.
func (c *Client) CreateConversation(ctx context.Context, participantID string) (*Conversation, error) {
	var conv Conversation
	err := c.do(ctx, http.MethodPost, "/conversations", map[string]string{
		"participantId": participantID,
	}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListMessages fetches all messages of a conversation. Order is not
// guaranteed by the backend; callers sort.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var msgs []Message
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID))
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessageRequest is the payload for creating a message.
type SendMessageRequest struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ClientRef   string       `json:"clientRef,omitempty"`
}

// SendMessage persists a new message and returns the authoritative record.
func (c *Client) SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (*Message, error) {
	var msg Message
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID))
	if err := c.do(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, err
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	return &msg, nil
}

// DeleteMessage removes a message authored by the current user.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

// MarkRead acknowledges that the conversation has been read.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/conversations/%s/read", url.PathEscape(conversationID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// ArchiveConversation archives the conversation server-side.
func (c *Client) ArchiveConversation(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/conversations/%s/archive", url.PathEscape(conversationID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// DeleteConversation removes the conversation server-side.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(conversationID), nil, nil)
}
