// Package draftapi is a client for the fantasy-marathon REST API: athletes,
// saved rosters, results, game configuration and sessions.
package draftapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"go.uber.org/zap"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func New(baseURL string, log *zap.Logger) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: 30 * time.Second}, log)
}

// NewWithHTTPClient creates a client with a custom http.Client
func NewWithHTTPClient(baseURL string, httpClient *http.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

type gameQuery struct {
	GameID     string `url:"gameId"`
	PlayerCode string `url:"playerCode,omitempty"`
}

type request struct {
	method string
	path   string
	query  any
	body   any
	token  string
}

type response struct {
	status int
	body   []byte
}

// do sends one request and returns the raw body. Only transport failures are
// returned as errors; status handling is left to the caller.
func (c *Client) do(ctx context.Context, r request) (*response, error) {
	u := c.baseURL + r.path
	if r.query != nil {
		v, err := query.Values(r.query)
		if err != nil {
			return nil, fmt.Errorf("encoding query: %w", err)
		}
		u += "?" + v.Encode()
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("encoding body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	c.log.Debug("api request", zap.String("method", r.method), zap.String("url", u))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", r.path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	c.log.Debug("api response", zap.String("url", u), zap.Int("status", resp.StatusCode), zap.Int("bytes", len(data)))
	return &response{status: resp.StatusCode, body: data}, nil
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// decode unmarshals with json.Number so ids and salaries keep their shape.
func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// reason pulls a human message out of an error body.
func reason(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
