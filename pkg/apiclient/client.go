// Package apiclient drives the calendar controllers against a remote planner API. Client
// implements calendar.Host over the REST endpoints.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/noah-isme/planner-api/internal/calendar"
	"github.com/noah-isme/planner-api/internal/dto"
	"github.com/noah-isme/planner-api/internal/models"
	"github.com/noah-isme/planner-api/internal/recurrence"
	appErrors "github.com/noah-isme/planner-api/pkg/errors"
)

// Client is a planner API client bound to one access token.
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	onSelect func(start, end time.Time)
}

var _ calendar.Host = (*Client)(nil)

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after 15 seconds.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithSlotHandler receives empty-slot selections forwarded by SelectSlot.
func WithSlotHandler(fn func(start, end time.Time)) Option {
	return func(c *Client) { c.onSelect = fn }
}

// New builds a client for the API mounted at baseURL, e.g. "https://planner.example/api/v1".
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Data  json.RawMessage  `json:"data"`
	Error *appErrors.Error `json:"error"`
}

// List returns the blocks overlapping [from, to).
func (c *Client) List(ctx context.Context, from, to time.Time) ([]models.ScheduledBlock, error) {
	q := url.Values{}
	q.Set("from", from.Format(time.RFC3339))
	q.Set("to", to.Format(time.RFC3339))
	var out []models.ScheduledBlock
	if err := c.do(ctx, http.MethodGet, "/blocks?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Save implements calendar.Host.
func (c *Client) Save(ctx context.Context, req calendar.SaveRequest) (*models.ScheduledBlock, error) {
	body := dto.NewBlockRequest(req.Draft)
	var out models.ScheduledBlock
	if req.ID == "" {
		if err := c.do(ctx, http.MethodPost, "/blocks", body, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}
	path := "/blocks/" + url.PathEscape(req.ID)
	if req.Scope != nil {
		path += "?scope=" + url.QueryEscape(string(*req.Scope))
	}
	if err := c.do(ctx, http.MethodPut, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete implements calendar.Host. A block that is already gone reports false without error.
func (c *Client) Delete(ctx context.Context, id string, entireSeries bool) (bool, error) {
	path := "/blocks/" + url.PathEscape(id)
	if entireSeries {
		path += "?series=true"
	}
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if errors.Is(err, appErrors.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Duplicate implements calendar.Host.
func (c *Client) Duplicate(ctx context.Context, block models.ScheduledBlock) (*models.ScheduledBlock, error) {
	var out models.ScheduledBlock
	if err := c.do(ctx, http.MethodPost, "/blocks/"+url.PathEscape(block.ID)+"/duplicate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Complete implements calendar.Host.
func (c *Client) Complete(ctx context.Context, id string) (bool, error) {
	if err := c.do(ctx, http.MethodPost, "/blocks/"+url.PathEscape(id)+"/complete", nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

// MoveBlock implements calendar.Host.
func (c *Client) MoveBlock(ctx context.Context, id string, start, end time.Time, scope *recurrence.Scope) (bool, error) {
	req := dto.MoveRequest{StartTime: start, EndTime: end}
	if scope != nil {
		s := string(*scope)
		req.Scope = &s
	}
	if err := c.do(ctx, http.MethodPatch, "/blocks/"+url.PathEscape(id)+"/move", req, nil); err != nil {
		return false, err
	}
	return true, nil
}

// SelectSlot implements calendar.Host.
func (c *Client) SelectSlot(start, end time.Time) {
	if c.onSelect != nil {
		c.onSelect(start, end)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
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
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return appErrors.New(appErrors.ErrInternal.Code, resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest || env.Error != nil {
		if env.Error == nil {
			return appErrors.New(appErrors.ErrInternal.Code, resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		if env.Error.Status == 0 {
			env.Error.Status = resp.StatusCode
		}
		return env.Error
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
