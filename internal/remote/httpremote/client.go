// Package httpremote delivers sync entries to a fitstate node running in cloud mode over HTTP.
package httpremote

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

	"example.com/fitstate/internal/syncq"
)

// DocumentRequest is the body of PUT /v1/documents/{kind}/{id}.
type DocumentRequest struct {
	MutationID string          `json:"mutation_id"`
	Field      string          `json:"field"`
	Value      json.RawMessage `json:"value"`
	Lamport    int64           `json:"lamport"`
	DeviceID   string          `json:"device_id"`
}

// TokenSource returns the bearer token for the next request.
type TokenSource func() (string, error)

// StaticToken always returns token.
func StaticToken(token string) TokenSource {
	return func() (string, error) { return token, nil }
}

// Client implements syncq.Remote and syncq.Pinger.
type Client struct {
	endpoint   string
	httpClient *http.Client
	token      TokenSource
}

var (
	_ syncq.Remote = (*Client)(nil)
	_ syncq.Pinger = (*Client)(nil)
)

// NewClient constructs a Client. The per-attempt deadline comes from the caller's context;
// timeout bounds requests made without one.
func NewClient(endpoint string, token TokenSource, timeout time.Duration) *Client {
	if token == nil {
		token = StaticToken("")
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
		token:      token,
	}
}

// Upsert sends one field write. 2xx acknowledges it, 400 and 422 are permanent rejections and
// everything else, including transport errors, is transient.
func (c *Client) Upsert(ctx context.Context, d syncq.Delivery) error {
	body, err := json.Marshal(DocumentRequest{
		MutationID: d.MutationID,
		Field:      d.Field,
		Value:      d.Value,
		Lamport:    d.Lamport,
		DeviceID:   d.DeviceID,
	})
	if err != nil {
		return syncq.Permanent(fmt.Errorf("encode delivery: %w", err))
	}

	target := fmt.Sprintf("%s/v1/documents/%s/%s", c.endpoint, url.PathEscape(d.Kind), url.PathEscape(d.EntityID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return syncq.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", d.IdempotencyKey)
	if err := c.authorize(req); err != nil {
		return syncq.Transient(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return syncq.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	statusErr := newStatusError(resp)
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return syncq.Permanent(statusErr)
	default:
		return syncq.Transient(statusErr)
	}
}

// Ping checks GET /healthz.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("health check failed: %s", resp.Status)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) error {
	token, err := c.token()
	if err != nil {
		return fmt.Errorf("obtain token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// StatusError is a non-successful response from the remote.
type StatusError struct {
	Status int
	Type   string
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("remote returned %d %s: %s", e.Status, e.Type, e.Detail)
	}
	return fmt.Sprintf("remote returned %d", e.Status)
}

func newStatusError(resp *http.Response) *StatusError {
	out := &StatusError{Status: resp.StatusCode}
	var body struct {
		Type   string `json:"type"`
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		out.Type = body.Type
		out.Detail = body.Detail
	}
	return out
}
