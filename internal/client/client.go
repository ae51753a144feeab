// Package client is a typed HTTP client for the CMS API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"securecms.org/internal/audit"
	"securecms.org/internal/auth"
	"securecms.org/internal/content"
)

// APIError is a non-2xx response.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api: %d %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Client talks to one API base URL. A zero token sends anonymous requests.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// New returns a client for baseURL. A nil httpClient gets a 10 second timeout.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("base url must be absolute")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: u, http: httpClient}, nil
}

// WithToken returns a copy that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Register creates an account. The response carries the public user fields.
func (c *Client) Register(ctx context.Context, in auth.RegisterInput) (auth.User, error) {
	body := map[string]string{
		"username": in.Username,
		"email":    in.Email,
		"password": in.Password,
		"fullName": in.FullName,
		"ssn":      in.SSN,
		"phone":    in.Phone,
	}
	var u auth.User
	err := c.do(ctx, http.MethodPost, "/api/auth/register", nil, body, &u)
	return u, err
}

// Login returns a client authenticated as username along with the session.
func (c *Client) Login(ctx context.Context, username, password string) (*Client, auth.LoginResult, error) {
	var res auth.LoginResult
	err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, map[string]string{
		"username": username,
		"password": password,
	}, &res)
	if err != nil {
		return nil, auth.LoginResult{}, err
	}
	return c.WithToken(res.Token), res, nil
}

// Permissions lists the caller's "Resource:Action" keys.
func (c *Client) Permissions(ctx context.Context) ([]string, error) {
	var out struct {
		Permissions []string `json:"permissions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/auth/permissions", nil, nil, &out)
	return out.Permissions, err
}

func (c *Client) CreateContent(ctx context.Context, in content.CreateInput) (content.Content, error) {
	var out content.Content
	err := c.do(ctx, http.MethodPost, "/api/content", nil, map[string]any{
		"title":   in.Title,
		"body":    in.Body,
		"summary": in.Summary,
		"tags":    in.Tags,
	}, &out)
	return out, err
}

func (c *Client) GetContent(ctx context.Context, id int64) (content.Content, error) {
	var out content.Content
	err := c.do(ctx, http.MethodGet, "/api/content/"+strconv.FormatInt(id, 10), nil, nil, &out)
	return out, err
}

// ListContent returns what the caller may see.
func (c *Client) ListContent(ctx context.Context) ([]content.Content, error) {
	var out []content.Content
	err := c.do(ctx, http.MethodGet, "/api/content", nil, nil, &out)
	return out, err
}

func (c *Client) Publish(ctx context.Context, id int64) (content.Content, error) {
	var out content.Content
	err := c.do(ctx, http.MethodPost, "/api/content/"+strconv.FormatInt(id, 10)+"/publish", nil, nil, &out)
	return out, err
}

func (c *Client) DeleteContent(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/content/"+strconv.FormatInt(id, 10), nil, nil, nil)
}

// ContentHistory returns the audit trail of one content item, newest first.
func (c *Client) ContentHistory(ctx context.Context, id int64) ([]audit.Record, error) {
	var out []audit.Record
	err := c.do(ctx, http.MethodGet, "/api/audit/content/"+strconv.FormatInt(id, 10), nil, nil, &out)
	return out, err
}

// QueryAudit lists audit records. Empty table and zero userID are unfiltered.
func (c *Client) QueryAudit(ctx context.Context, table string, userID int64, pageSize int) ([]audit.Record, error) {
	q := url.Values{}
	if table != "" {
		q.Set("tableName", table)
	}
	if userID > 0 {
		q.Set("userId", strconv.FormatInt(userID, 10))
	}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	var out []audit.Record
	err := c.do(ctx, http.MethodGet, "/api/audit", q, nil, &out)
	return out, err
}

// Ready reports whether /readyz answers 200.
func (c *Client) Ready(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error     string `json:"error"`
			RequestID string `json:"request_id"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error, RequestID: e.RequestID}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
