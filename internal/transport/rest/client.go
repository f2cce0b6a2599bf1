// Package rest talks to the clinic portal's HTTP API. It backs the
// session's message store plus the queue and preference features.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qtrack/consult/internal/domain"
)

const defaultTimeout = 10 * time.Second

// APIError is a non-2xx portal response. Message carries the server's
// human-readable explanation when the body had one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api error %d", e.Status)
}

type Config struct {
	BaseURL string
	Token   string
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  hc,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var eb struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		log.Debug().Str("module", "rest").Str("path", path).Int("status", resp.StatusCode).Msg("api error")
		return &APIError{Status: resp.StatusCode, Message: eb.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Messages returns the room's full history, oldest first.
func (c *Client) Messages(ctx context.Context, room domain.RoomID) ([]domain.Message, error) {
	var out []domain.Message
	if err := c.do(ctx, http.MethodGet, "/api/chat/messages/"+url.PathEscape(string(room)), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Send persists a message and returns the stored copy with its
// server-assigned id and timestamp.
func (c *Client) Send(ctx context.Context, room domain.RoomID, role domain.Role, text string) (domain.Message, error) {
	body := struct {
		RoomID     domain.RoomID `json:"roomId"`
		SenderRole domain.Role   `json:"senderRole"`
		Text       string        `json:"text"`
	}{room, role, text}
	var out domain.Message
	if err := c.do(ctx, http.MethodPost, "/api/chat/messages", body, &out); err != nil {
		return domain.Message{}, err
	}
	return out, nil
}

// QueueTicket is the portal's answer to a queue join.
type QueueTicket struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// QueueStatus is one poll of a ticket's standing.
type QueueStatus struct {
	Position int    `json:"position"`
	Status   string `json:"status"`
}

func (c *Client) JoinQueue(ctx context.Context, doctorID, patientID string) (QueueTicket, error) {
	body := map[string]string{"doctorId": doctorID}
	if patientID != "" {
		body["patientId"] = patientID
	}
	var out QueueTicket
	if err := c.do(ctx, http.MethodPost, "/api/queue/join", body, &out); err != nil {
		return QueueTicket{}, err
	}
	return out, nil
}

func (c *Client) Queue(ctx context.Context, queueID string) (QueueStatus, error) {
	var out QueueStatus
	if err := c.do(ctx, http.MethodGet, "/api/queue/status/"+url.PathEscape(queueID), nil, &out); err != nil {
		return QueueStatus{}, err
	}
	return out, nil
}

func (c *Client) LeaveQueue(ctx context.Context, queueID string) error {
	return c.do(ctx, http.MethodPatch, "/api/queue/leave/"+url.PathEscape(queueID), nil, nil)
}

func (c *Client) Preferences(ctx context.Context) (domain.Preferences, error) {
	var out domain.Preferences
	if err := c.do(ctx, http.MethodGet, "/api/patient/preferences", nil, &out); err != nil {
		return domain.Preferences{}, err
	}
	return out, nil
}

func (c *Client) SavePreferences(ctx context.Context, p domain.Preferences) error {
	return c.do(ctx, http.MethodPut, "/api/patient/preferences", p, nil)
}
