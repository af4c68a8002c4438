package tapdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/okian/popkomodo/internal/domain/model"
	"github.com/okian/popkomodo/internal/domain/team"
)

// Client talks to the session API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// apiError is a non-2xx answer from the service.
type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		e := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, e)
		return e
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Connect connects address (empty for the first account) and returns the identity.
func (c *Client) Connect(ctx context.Context, address string) (string, error) {
	var out struct {
		Identity string `json:"identity"`
	}
	err := c.do(ctx, http.MethodPost, "/wallet/connect", map[string]string{"address": address}, &out)
	return out.Identity, err
}

// View reads the session view.
func (c *Client) View(ctx context.Context) (model.View, error) {
	var v model.View
	err := c.do(ctx, http.MethodGet, "/view", nil, &v)
	return v, err
}

// Leaderboard reads the team rows.
func (c *Client) Leaderboard(ctx context.Context) ([]team.Row, error) {
	var rows []team.Row
	err := c.do(ctx, http.MethodGet, "/leaderboard", nil, &rows)
	return rows, err
}

// ChooseTeam asks for chooseTeam(label).
func (c *Client) ChooseTeam(ctx context.Context, label string) error {
	return c.do(ctx, http.MethodPost, "/team", map[string]string{"team": label}, nil)
}

// Pop registers one tap.
func (c *Client) Pop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/pop", nil, nil)
}

// Submit asks for popBy(pending).
func (c *Client) Submit(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/pops/submit", nil, nil)
}
