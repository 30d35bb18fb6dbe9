// Package httpapi implements the persistence service over the
// marketplace REST API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/motormarket/realtime/internal/store"
)

const requestTimeout = 10 * time.Second

// Client calls the marketplace persistence API with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New builds a client for the given API base URL.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

type messageDTO struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	Content        string    `json:"content"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type sendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	RecipientID    string `json:"recipient_id"`
	Content        string `json:"content"`
}

type sendMessageResponse struct {
	ServerID  string    `json:"server_id"`
	CreatedAt time.Time `json:"created_at"`
}

type receiptRequest struct {
	MessageIDs []string `json:"message_ids"`
}

type notificationDTO struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	RelatedID string    `json:"related_id,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// FetchConversation loads the persisted message history.
func (c *Client) FetchConversation(ctx context.Context, conversationID string) ([]store.Message, error) {
	var dtos []messageDTO
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &dtos); err != nil {
		return nil, err
	}

	msgs := make([]store.Message, len(dtos))
	for i, d := range dtos {
		msgs[i] = store.Message{
			ID:             d.ID,
			ConversationID: d.ConversationID,
			SenderID:       d.SenderID,
			RecipientID:    d.RecipientID,
			Content:        d.Content,
			Status:         d.Status,
			CreatedAt:      d.CreatedAt,
		}
	}
	return msgs, nil
}

// SendMessage persists an outgoing message and returns the backend ack.
func (c *Client) SendMessage(ctx context.Context, req store.SendRequest) (store.SendResult, error) {
	var resp sendMessageResponse
	body := sendMessageRequest{
		ConversationID: req.ConversationID,
		RecipientID:    req.RecipientID,
		Content:        req.Content,
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages", body, &resp); err != nil {
		return store.SendResult{}, err
	}
	return store.SendResult{ServerID: resp.ServerID, CreatedAt: resp.CreatedAt}, nil
}

// MarkDelivered acknowledges delivery of messages.
func (c *Client) MarkDelivered(ctx context.Context, conversationID string, messageIDs []string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/delivered"
	return c.do(ctx, http.MethodPost, path, receiptRequest{MessageIDs: messageIDs}, nil)
}

// MarkRead acknowledges reading of messages.
func (c *Client) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, http.MethodPost, path, receiptRequest{MessageIDs: messageIDs}, nil)
}

// FetchNotifications loads persisted notifications matching the filter.
func (c *Client) FetchNotifications(ctx context.Context, filter store.NotificationFilter) ([]store.Notification, error) {
	q := url.Values{}
	if filter.Type != "" {
		q.Set("type", filter.Type)
	}
	if filter.UnreadOnly {
		q.Set("unread_only", "true")
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/notifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var dtos []notificationDTO
	if err := c.do(ctx, http.MethodGet, path, nil, &dtos); err != nil {
		return nil, err
	}

	out := make([]store.Notification, len(dtos))
	for i, d := range dtos {
		out[i] = store.Notification{
			ID:        d.ID,
			Type:      d.Type,
			Title:     d.Title,
			Content:   d.Content,
			RelatedID: d.RelatedID,
			IsRead:    d.IsRead,
			CreatedAt: d.CreatedAt,
		}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
