package ctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/brunakemp/juschat/internal/api"
	"github.com/brunakemp/juschat/internal/rest"
)

// Client talks to a running daemon over its unix socket.
type Client struct {
	http *http.Client
	// stream has no client timeout; the event stream lives until closed.
	stream *http.Client
}

func transport(socketPath string) *http.Transport {
	return &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
}

// New creates a daemon client for the given socket path.
func New(socketPath string) *Client {
	return &Client{
		http:   &http.Client{Transport: transport(socketPath), Timeout: 30 * time.Second},
		stream: &http.Client{Transport: transport(socketPath)},
	}
}

// base is a placeholder host; the transport dials the socket regardless.
const base = "http://juschat/v1"

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			return fmt.Errorf("%s", envelope.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status returns the daemon status summary.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login authenticates the session against the backend.
func (c *Client) Login(ctx context.Context, email, password string) (*rest.User, error) {
	var user rest.User
	err := c.do(ctx, http.MethodPost, "/auth/login",
		map[string]string{"email": email, "password": password}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout discards the session's credentials.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// Conversations lists the local conversation directory.
func (c *Client) Conversations(ctx context.Context) ([]api.ConversationView, error) {
	var convs []api.ConversationView
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// CreateConversation opens (or finds) a conversation with a participant.
func (c *Client) CreateConversation(ctx context.Context, participantID string) (*api.ConversationView, error) {
	var conv api.ConversationView
	err := c.do(ctx, http.MethodPost, "/conversations",
		map[string]string{"participantId": participantID}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// OpenConversation focuses a conversation: polling follows it and it is
// marked read.
func (c *Client) OpenConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/conversations/"+id+"/open", nil, nil)
}

// CloseConversation drops the polling focus.
func (c *Client) CloseConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/conversations/"+id+"/close", nil, nil)
}

// MarkRead clears a conversation's unread count.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/conversations/"+id+"/read", nil, nil)
}

// Archive archives a conversation.
func (c *Client) Archive(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/conversations/"+id+"/archive", nil, nil)
}

// RemoveConversation deletes a conversation.
func (c *Client) RemoveConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+id, nil, nil)
}

// Messages lists a conversation's messages in display order.
func (c *Client) Messages(ctx context.Context, conversationID string, limit int) ([]api.MessageView, error) {
	path := "/conversations/" + conversationID + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var msgs []api.MessageView
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Send queues a text message and returns its client message id.
func (c *Client) Send(ctx context.Context, conversationID, text string) (string, error) {
	var resp struct {
		ClientMsgID string `json:"clientMsgId"`
	}
	err := c.do(ctx, http.MethodPost, "/conversations/"+conversationID+"/messages",
		map[string]string{"text": text}, &resp)
	return resp.ClientMsgID, err
}

// SendFile queues a message carrying a local file.
func (c *Client) SendFile(ctx context.Context, conversationID, text, path string) (string, error) {
	var resp struct {
		ClientMsgID string `json:"clientMsgId"`
	}
	err := c.do(ctx, http.MethodPost, "/conversations/"+conversationID+"/messages",
		map[string]string{"text": text, "attachmentPath": path}, &resp)
	return resp.ClientMsgID, err
}

// Retry re-queues a failed send.
func (c *Client) Retry(ctx context.Context, clientMsgID string) error {
	return c.do(ctx, http.MethodPost, "/messages/"+clientMsgID+"/retry", nil, nil)
}

// DeleteMessage removes an own message from the conversation.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, msgID string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+conversationID+"/messages/"+msgID, nil, nil)
}

// Search runs a full-text search over stored messages.
func (c *Client) Search(ctx context.Context, query, conversationID string) ([]api.SearchResultView, error) {
	path := "/search?q=" + url.QueryEscape(query)
	if conversationID != "" {
		path += "&conversation=" + url.QueryEscape(conversationID)
	}
	var results []api.SearchResultView
	if err := c.do(ctx, http.MethodGet, path, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Refresh nudges the sync loops outside their regular ticks.
func (c *Client) Refresh(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/sync/refresh", nil, nil)
}

// Events opens the daemon's event stream. Events arrive on the returned
// channel until ctx is cancelled or the daemon goes away.
func (c *Client) Events(ctx context.Context) (<-chan api.EventView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/events", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("event stream returned %s", resp.Status)
	}

	ch := make(chan api.EventView, 64)
	go func() {
		defer close(ch)
		defer func() { _ = resp.Body.Close() }()
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var evt api.EventView
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
