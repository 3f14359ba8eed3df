package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/killallgit/tokenstream/pkg/logger"
	"github.com/killallgit/tokenstream/pkg/stream"
)

const (
	// NDJSONPath is the Ollama chat endpoint
	NDJSONPath = "/api/chat"
	// SSEPath is the OpenAI-compatible chat completions endpoint
	SSEPath = "/v1/chat/completions"

	defaultConnectTimeout = 30 * time.Second

	// maxErrorBodySize caps how much of a non-2xx body is read into the error detail
	maxErrorBodySize int64 = 1024 * 1024
)

// Client opens streaming chat responses over HTTP. It implements stream.Opener.
type Client struct {
	baseURL    string
	path       string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout must be zero or it will cut
// long generations short.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithPath overrides the endpoint path otherwise chosen by the request format
func WithPath(path string) Option {
	return func(c *Client) {
		c.path = path
	}
}

// NewClient creates a client for baseURL. connectTimeout bounds dialing and waiting
// for response headers; the body itself is never timed out.
func NewClient(baseURL string, connectTimeout time.Duration, opts ...Option) *Client {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.ResponseHeaderTimeout = connectTimeout

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: transport},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL a request of the given format is sent to
func (c *Client) Endpoint(format stream.Format) string {
	path := c.path
	if path == "" {
		switch format {
		case stream.FormatSSE:
			path = SSEPath
		default:
			path = NDJSONPath
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Open sends req and returns the streaming body. Non-2xx responses are read fully and
// returned as *StatusError.
func (c *Client) Open(ctx context.Context, req stream.Request) (io.ReadCloser, error) {
	log := logger.WithComponent("backend_client")

	body, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	url := c.Endpoint(req.Format())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	switch req.Format() {
	case stream.FormatSSE:
		httpReq.Header.Set("Accept", "text/event-stream")
	case stream.FormatNDJSON:
		httpReq.Header.Set("Accept", "application/x-ndjson")
	}

	log.Debug("Opening stream", "url", url, "format", req.Format().String(), "body_bytes", len(body))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		errorBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		if readErr != nil {
			return nil, fmt.Errorf("request failed with status %d (failed to read error response: %w)", resp.StatusCode, readErr)
		}
		statusErr := NewStatusError(resp.StatusCode, string(errorBody))
		log.Error("Backend rejected stream", "status_code", resp.StatusCode, "detail", statusErr.Detail)
		return nil, statusErr
	}

	return resp.Body, nil
}

var _ stream.Opener = (*Client)(nil)
