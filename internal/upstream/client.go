package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/amplihack/claude-gateway/internal/router"
)

// ctxSlack is how much longer the call-site context deadline runs than the
// transport timeout, so a hung transport still surfaces as a bounded error.
const ctxSlack = 5 * time.Second

// Target describes one outbound call destination.
type Target struct {
	Provider   router.Provider
	Shape      router.Shape
	BaseURL    string
	APIVersion string
	APIKey     string
}

// Response is a live upstream response with decompression already applied.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Client dispatches backend calls over a pool of HTTP clients shared across
// requests. Pool entries are keyed by (endpoint, credential prefix) and are
// write-once, so a plain mutex protects the map; the transports themselves
// are safe for concurrent use.
type Client struct {
	logger  *slog.Logger
	timeout time.Duration

	mu   sync.Mutex
	pool map[string]*http.Client
}

func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		logger:  logger,
		timeout: timeout,
		pool:    make(map[string]*http.Client),
	}
}

// Timeout returns the transport-level timeout applied to every call.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Do sends body to the target endpoint. The context carries the outer
// deadline (transport timeout + slack); the transport enforces the inner
// one. The returned body must be closed by the caller.
func (c *Client) Do(ctx context.Context, target Target, body []byte) (*Response, error) {
	endpoint := Endpoint(target)

	ctx, cancel := context.WithTimeout(ctx, c.timeout+ctxSlack)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create upstream request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")
	setAuth(req, target)

	resp, err := c.client(endpoint, target.APIKey).Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	reader, err := decompressReader(resp)
	if err != nil {
		resp.Body.Close()
		cancel()

		return nil, fmt.Errorf("decompress upstream response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &cancelCloser{reader: reader, body: resp.Body, cancel: cancel},
	}, nil
}

// Endpoint builds the full URL for a target: the route suffix follows the
// shape, and Azure endpoints get the api-version query.
func Endpoint(target Target) string {
	base := strings.TrimRight(target.BaseURL, "/")

	var path string

	switch target.Shape {
	case router.ShapeResponses:
		if !strings.HasSuffix(base, "/responses") {
			path = "/responses"
		}
	default:
		if !strings.HasSuffix(base, "/chat/completions") {
			path = "/chat/completions"
		}
	}

	endpoint := base + path

	if target.Provider == router.ProviderAzure && target.APIVersion != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}

		endpoint += sep + "api-version=" + target.APIVersion
	}

	return endpoint
}

func setAuth(req *http.Request, target Target) {
	if target.APIKey == "" {
		return
	}

	// Azure wants its own header; OpenAI and GitHub Models take a bearer.
	if target.Provider == router.ProviderAzure {
		req.Header.Set("api-key", target.APIKey)
		return
	}

	req.Header.Set("Authorization", "Bearer "+target.APIKey)
}

// client returns the pooled HTTP client for this endpoint and credential.
func (c *Client) client(endpoint, apiKey string) *http.Client {
	key := endpoint + "|" + credentialPrefix(apiKey)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.pool[key]; ok {
		return existing
	}

	created := &http.Client{Timeout: c.timeout}
	c.pool[key] = created

	return created
}

func credentialPrefix(apiKey string) string {
	if len(apiKey) <= 8 {
		return apiKey
	}

	return apiKey[:8]
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// cancelCloser ties the response body to the per-call context so closing the
// body always releases the deadline timer and the underlying connection.
type cancelCloser struct {
	reader io.Reader
	body   io.Closer
	cancel context.CancelFunc
}

func (c *cancelCloser) Read(p []byte) (int, error) { return c.reader.Read(p) }

func (c *cancelCloser) Close() error {
	c.cancel()
	return c.body.Close()
}
