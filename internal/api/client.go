// Package api provides the HTTP client for the AutoDealGenie negotiation API.
package api

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

	"github.com/Raviteja77/autodealgenie-sub000/internal/domain"
)

// Client talks to the negotiation backend over request/response HTTP. It is
// the fallback delivery path when the realtime channel is down, and the only
// path for history fetches.
type Client struct {
	baseURL string
	http    *http.Client
}

// SendMessageRequest is the body for a chat message send.
type SendMessageRequest struct {
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
}

// StructuredInfoRequest is the body for a structured info submission.
type StructuredInfoRequest struct {
	InfoType       string         `json:"info_type"`
	Content        string         `json:"content"`
	PriceMentioned *float64       `json:"price_mentioned,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type historyResponse struct {
	Messages []domain.Message `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewClient creates a client for the given API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SendChatMessage delivers one chat message and returns the resulting
// user/agent message pair.
func (c *Client) SendChatMessage(ctx context.Context, sessionID int64, req SendMessageRequest) (*domain.ChatExchange, error) {
	var ex domain.ChatExchange
	path := fmt.Sprintf("/api/sessions/%d/messages", sessionID)
	if err := c.post(ctx, path, req, &ex); err != nil {
		return nil, fmt.Errorf("send chat message: %w", err)
	}
	return &ex, nil
}

// SubmitStructuredInfo delivers one structured info submission (trade-in,
// financing, budget) and returns the resulting message pair.
func (c *Client) SubmitStructuredInfo(ctx context.Context, sessionID int64, req StructuredInfoRequest) (*domain.ChatExchange, error) {
	var ex domain.ChatExchange
	path := fmt.Sprintf("/api/sessions/%d/info", sessionID)
	if err := c.post(ctx, path, req, &ex); err != nil {
		return nil, fmt.Errorf("submit structured info: %w", err)
	}
	return &ex, nil
}

// GetSessionHistory fetches the full message history for a session.
func (c *Client) GetSessionHistory(ctx context.Context, sessionID int64) ([]domain.Message, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+fmt.Sprintf("/api/sessions/%d/messages", sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch session history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var hist historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		return nil, fmt.Errorf("decode session history: %w", err)
	}
	return hist.Messages, nil
}

// WebSocketURL derives the realtime channel endpoint for a session from the
// API base URL by swapping the scheme (http->ws, https->wss).
func (c *Client) WebSocketURL(sessionID int64) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/ws/negotiations/%d", sessionID)
	return u.String(), nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, er.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
