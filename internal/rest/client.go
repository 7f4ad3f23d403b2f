// Package rest is the client for the marketplace's request/response API.
// The realtime socket delivers pushes; everything initiated by this client
// (pagination, sends, read-state, flags) goes through here. Bodies are
// opaque JSON decoded straight into internal/models.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cargomart/cargomart-go/internal/creds"
	"github.com/cargomart/cargomart-go/internal/models"
	"go.uber.org/zap"
)

// ErrUnauthorized is returned when the server rejects the credential even
// after a refresh. The host application must re-authenticate.
var ErrUnauthorized = errors.New("credential rejected after refresh")

// ErrNotFound is returned for 404 responses (unknown conversation,
// expired share token, withdrawn contact request).
var ErrNotFound = errors.New("resource not found")

// Client talks to the collaborator REST endpoints with bearer auth.
type Client struct {
	base   string
	http   *http.Client
	creds  creds.Provider
	logger *zap.Logger
}

// New creates a REST client for the given API base URL.
func New(baseURL string, provider creds.Provider, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:   baseURL,
		http:   &http.Client{Timeout: 15 * time.Second},
		creds:  provider,
		logger: logger,
	}
}

// MessagesPage is one cursor page of a conversation's history.
type MessagesPage struct {
	Messages   []models.Message `json:"messages"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// ListConversations fetches the caller's conversation list.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var out struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// Messages fetches one history page. Cursor pagination stays stable under
// concurrent inserts; an empty cursor means the newest page.
func (c *Client) Messages(ctx context.Context, conversationID, cursor string, limit int) (*MessagesPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var page MessagesPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SendMessage posts a new message and returns the server-confirmed copy,
// which carries the server ID alongside the echoed client nonce.
func (c *Client) SendMessage(ctx context.Context, conversationID, clientNonce, content string) (*models.Message, error) {
	body := map[string]string{
		"clientNonce": clientNonce,
		"content":     content,
	}
	var out struct {
		Message models.Message `json:"message"`
	}
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

// MarkRead clears the unread counter server-side.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// SetPinned mirrors the local pin flag to the server.
func (c *Client) SetPinned(ctx context.Context, conversationID string, pinned bool) error {
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/pin"
	return c.do(ctx, http.MethodPut, path, map[string]bool{"pinned": pinned}, nil)
}

// SetMuted mirrors the local mute flag to the server.
func (c *Client) SetMuted(ctx context.Context, conversationID string, muted bool) error {
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/mute"
	return c.do(ctx, http.MethodPut, path, map[string]bool{"muted": muted}, nil)
}

// ResolveTrackSession exchanges a share token for a streamable session.
func (c *Client) ResolveTrackSession(ctx context.Context, shareToken string) (*models.TrackSession, error) {
	q := url.Values{"share_token": {shareToken}}
	var out struct {
		Session models.TrackSession `json:"session"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/track/sessions?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out.Session, nil
}

// RespondContactRequest accepts or declines a pending contact request.
func (c *Client) RespondContactRequest(ctx context.Context, requestID string, accept bool) error {
	path := "/v1/contacts/requests/" + url.PathEscape(requestID) + "/respond"
	return c.do(ctx, http.MethodPost, path, map[string]bool{"accept": accept}, nil)
}

// do performs one request with bearer auth. A 401 triggers exactly one
// credential refresh and retry; a second rejection is ErrUnauthorized.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("credential: %w", err)
	}

	status, err := c.once(ctx, method, path, token, body, out)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		c.logger.Warn("credential rejected, refreshing", zap.String("path", path))
		token, err = c.creds.Refresh(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		status, err = c.once(ctx, method, path, token, body, out)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return ErrUnauthorized
		}
	}
	return checkStatus(status, path)
}

func (c *Client) once(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func checkStatus(status int, path string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	default:
		return fmt.Errorf("%s: unexpected status %d", path, status)
	}
}
