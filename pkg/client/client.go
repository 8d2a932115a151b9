// Package client talks to the companion HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"Companion/models"
)

var (
	// ErrUnauthorized means the token is missing, invalid or expired.
	ErrUnauthorized = errors.New("session expired, please sign in again")
	// ErrRetryable means the server could not complete the request; the same
	// call, with the same idempotency key, may be repeated.
	ErrRetryable  = errors.New("temporary server error")
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("invalid request")
)

type Message struct {
	ID        string             `json:"id"`
	Sender    models.Sender      `json:"sender"`
	Content   string             `json:"content"`
	Timestamp time.Time          `json:"timestamp"`
	Mood      *models.Assessment `json:"mood,omitempty"`
}

type Session struct {
	ID        string      `json:"id"`
	Mood      models.Mood `json:"mood"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Messages  []Message   `json:"messages"`
}

type SessionSummary struct {
	ID           string      `json:"id"`
	Mood         models.Mood `json:"mood"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	MessageCount int         `json:"message_count"`
}

type Turn struct {
	UserMessage Message `json:"user_message"`
	BotMessage  Message `json:"bot_message"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// NewIdempotencyKey returns a key for one attempted turn. Reuse it for every
// retry of that turn.
func NewIdempotencyKey() string { return uuid.NewString() }

func (c *Client) CreateSession(ctx context.Context, mood models.Mood) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/sessions", map[string]string{"mood": string(mood)}, nil, &out)
	return out, err
}

func (c *Client) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	var out []SessionSummary
	err := c.do(ctx, http.MethodGet, "/sessions", nil, nil, &out)
	return out, err
}

func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodGet, "/sessions/"+id, nil, nil, &out)
	return out, err
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+id, nil, nil, nil)
}

// SendMessage submits one turn. An empty key sends none.
func (c *Client) SendMessage(ctx context.Context, sessionID, text, idempotencyKey string) (Turn, error) {
	var out Turn
	header := http.Header{}
	if idempotencyKey != "" {
		header.Set("Idempotency-Key", idempotencyKey)
	}
	err := c.do(ctx, http.MethodPost, "/sessions/"+sessionID+"/message", map[string]string{"message": text}, header, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, header http.Header, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRetryable, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read error: %w", ErrRetryable, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(respBytes) == 0 {
			return nil
		}
		return json.Unmarshal(respBytes, out)
	}

	var e struct {
		Msg string `json:"msg"`
	}
	_ = json.Unmarshal(respBytes, &e)
	if e.Msg == "" {
		e.Msg = strings.TrimSpace(string(respBytes))
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, e.Msg)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrRetryable, resp.StatusCode, e.Msg)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s", ErrValidation, e.Msg)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, e.Msg)
}
