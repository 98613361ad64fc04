package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	AuthorizationHeader = "Authorization"
	RequestIDHeader     = "X-Request-ID"
)

// TokenSource hands out the current access token and refreshes it on demand.
type TokenSource interface {
	AccessToken() (string, bool)
	Refresh(ctx context.Context, stale string) (string, error)
}

// BaseClient performs authenticated JSON calls against the tournament API.
// A 401 triggers one shared refresh and exactly one retry of the call.
type BaseClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
	tokens  TokenSource
	logger  zerolog.Logger
}

func NewBaseClient(baseURL string, tokens TokenSource) *BaseClient {
	return &BaseClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
		tokens:  tokens,
		logger:  log.Logger,
	}
}

func (c *BaseClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *BaseClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

func (c *BaseClient) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// MakeRequest sends body (JSON-encoded when non-nil) and returns the response body.
func (c *BaseClient) MakeRequest(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	token, ok := c.tokens.AccessToken()
	if !ok {
		return nil, ErrAuthenticationLost
	}

	status, respBody, err := c.send(ctx, method, endpoint, payload, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		c.logger.Debug().
			Str("method", method).
			Str("endpoint", endpoint).
			Msg("access token rejected, refreshing")

		fresh, err := c.tokens.Refresh(ctx, token)
		if err != nil {
			return nil, err
		}

		// Retried once; a second 401 is returned as-is without another refresh.
		status, respBody, err = c.send(ctx, method, endpoint, payload, fresh)
		if err != nil {
			return nil, err
		}
	}

	if err := classify(method, endpoint, status, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

func (c *BaseClient) send(ctx context.Context, method, endpoint string, payload []byte, token string) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(AuthorizationHeader, "Bearer "+token)
	req.Header.Set(RequestIDHeader, uuid.New().String())

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, &NetworkError{Op: method + " " + endpoint, Err: err}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &NetworkError{Op: method + " " + endpoint, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	return resp.StatusCode, responseBody, nil
}

func classify(method, endpoint string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return &NetworkError{
			Op:  method + " " + endpoint,
			Err: &StatusError{StatusCode: status, Body: string(body)},
		}
	default:
		return &StatusError{StatusCode: status, Body: string(body)}
	}
}

func (c *BaseClient) Get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodGet, endpoint, nil)
}

func (c *BaseClient) Post(ctx context.Context, endpoint string, body any) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodPost, endpoint, body)
}

func (c *BaseClient) Put(ctx context.Context, endpoint string, body any) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodPut, endpoint, body)
}

func (c *BaseClient) Delete(ctx context.Context, endpoint string) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodDelete, endpoint, nil)
}
