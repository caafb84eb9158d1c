package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/yndnr/docsync-go/internal/infra/buildinfo"
)

// socketHost is the placeholder host of requests sent over a unix socket.
const socketHost = "docsync.local"

// HTTPClient provides HTTP communication with the server.
type HTTPClient struct {
	baseURL  string
	socket   string
	client   *http.Client
	adminKey string
}

// NewHTTPClient creates a client for target. A unix:// URL or an absolute
// path selects the local socket.
func NewHTTPClient(target, adminKey string) *HTTPClient {
	c := &HTTPClient{
		adminKey: adminKey,
		client:   &http.Client{Timeout: 30 * time.Second},
	}

	if path, ok := socketPath(target); ok {
		c.socket = path
		c.baseURL = "http://" + socketHost
		c.client.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		}
		return c
	}

	baseURL := strings.TrimRight(target, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	c.baseURL = baseURL
	return c
}

func socketPath(target string) (string, bool) {
	if p, ok := strings.CutPrefix(target, "unix://"); ok {
		return p, true
	}
	if strings.HasPrefix(target, "/") {
		return target, true
	}
	return "", false
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body. A nil body sends none.
func (c *HTTPClient) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminKey != "" && c.socket == "" {
		req.Header.Set("Authorization", "Bearer "+c.adminKey)
	}
	req.Header.Set("User-Agent", "docsync-cli/"+buildinfo.Version)
	return c.client.Do(req)
}

// BaseURL returns the base URL of the client, or the socket path.
func (c *HTTPClient) BaseURL() string {
	if c.socket != "" {
		return "unix://" + c.socket
	}
	return c.baseURL
}

// IsLocal reports whether the client uses the local socket.
func (c *HTTPClient) IsLocal() bool {
	return c.socket != ""
}

// APIError is an error response of the admin API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// ParseResponse unwraps the response envelope and decodes its data into
// target. Error responses become *APIError.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Code, apiErr.Message, apiErr.RequestID = env.Code, env.Message, env.RequestID
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("parse response: %w", decodeErr)
	}
	if target == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return fmt.Errorf("parse response data: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the admin API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
