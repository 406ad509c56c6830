package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Client is the HTTP implementation of Service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *log.Logger
}

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	// BaseURL is the service root, e.g. "https://api.example.com".
	BaseURL string

	// Token is sent as a bearer token on every request.
	Token string

	// HTTPClient overrides the default client (10 s timeout).
	HTTPClient *http.Client

	// Logger for request warnings (default: stderr logger).
	Logger *log.Logger
}

// NewClient creates an HTTP client for the remote task service.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		http:    config.HTTPClient,
		logger:  config.Logger,
	}, nil
}

// GetTask implements Service.GetTask.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil, &task)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTasks implements Service.GetTasks. The listing contains active tasks
// only; the service drops completed items from bulk responses.
func (c *Client) GetTasks(ctx context.Context) ([]*Task, error) {
	var tasks []*Task
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CloseTask implements Service.CloseTask.
func (c *Client) CloseTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(id)+"/close", nil, nil)
}

// CreateTask implements Service.CreateTask.
func (c *Client) CreateTask(ctx context.Context, fields NewTaskFields) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks", fields, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// TranslateID implements Service.TranslateID via the id-mapping endpoint.
func (c *Client) TranslateID(ctx context.Context, legacyID string) (string, error) {
	var resp struct {
		CanonicalID string `json:"canonical_id"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/id-mappings/"+url.PathEscape(legacyID), nil, &resp)
	if err != nil {
		return "", err
	}
	if resp.CanonicalID == "" {
		return "", fmt.Errorf("id-mapping response for %s carried no canonical id", legacyID)
	}
	return resp.CanonicalID, nil
}

// do runs one request. 404 maps to ErrNotFound; every other non-2xx status
// is an error carrying the status and (truncated) body.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
