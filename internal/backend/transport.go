package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aws/smithy-go/auth/bearer"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/qprofile/internal/log"
	"github.com/zjrosen/qprofile/internal/tracing"
)

const contentTypeJSON10 = "application/x-amz-json-1.0"

// Options tune the HTTP transport shared by both clients.
type Options struct {
	// MaxRetries is the retryablehttp retry budget for request/response calls.
	MaxRetries     int
	RetryWaitMin   time.Duration
	RetryWaitMax   time.Duration
	RequestTimeout time.Duration
	UserAgent      string
}

// DefaultOptions returns the transport defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries:     3,
		RetryWaitMin:   200 * time.Millisecond,
		RetryWaitMax:   2 * time.Second,
		RequestTimeout: 30 * time.Second,
		UserAgent:      "qprofile",
	}
}

// leveledLogger routes retryablehttp logs into the client category.
type leveledLogger struct{}

var _ retryablehttp.LeveledLogger = leveledLogger{}

func (leveledLogger) Error(msg string, kv ...interface{}) { log.Error(log.CatClient, msg, kv...) }
func (leveledLogger) Warn(msg string, kv ...interface{})  { log.Warn(log.CatClient, msg, kv...) }
func (leveledLogger) Info(msg string, kv ...interface{})  { log.Debug(log.CatClient, msg, kv...) }
func (leveledLogger) Debug(msg string, kv ...interface{}) { log.Debug(log.CatClient, msg, kv...) }

// newHTTPClient builds the transport. A zero timeout leaves the request
// bounded only by its context.
func newHTTPClient(opts Options, retries int, timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retries
	if opts.RetryWaitMin > 0 {
		c.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		c.RetryWaitMax = opts.RetryWaitMax
	}
	c.Logger = leveledLogger{}
	// Hand the final response back so the body can be decoded into a ServiceError.
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.HTTPClient.Timeout = timeout
	return c
}

// conn is the transport state shared by the runtime and streaming clients.
// Close waits for calls already in flight and rejects new ones.
type conn struct {
	binding   Binding
	token     bearer.TokenProvider
	http      *retryablehttp.Client
	userAgent string
	prefix    string

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func newConn(b Binding, token bearer.TokenProvider, opts Options, retries int, timeout time.Duration, prefix string) (*conn, error) {
	if token == nil {
		return nil, fmt.Errorf("backend: token provider is required")
	}
	u, err := url.Parse(b.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("backend: parsing endpoint %q: %w", b.Endpoint, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("backend: endpoint %q must be an http(s) URL", b.Endpoint)
	}
	return &conn{
		binding:   b,
		token:     token,
		http:      newHTTPClient(opts, retries, timeout),
		userAgent: opts.UserAgent,
		prefix:    prefix,
	}, nil
}

func (c *conn) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.inflight.Add(1)
	return nil
}

func (c *conn) release() {
	c.inflight.Done()
}

func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.inflight.Wait()
	c.http.HTTPClient.CloseIdleConnections()
}

// post sends one AWS JSON 1.0 call. On success the caller owns resp.Body;
// non-2xx responses are returned as *ServiceError.
func (c *conn) post(ctx context.Context, op string, in any) (*http.Response, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", op, err)
	}

	tok, err := c.token.RetrieveBearerToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrToken, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.binding.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", contentTypeJSON10)
	req.Header.Set("X-Amz-Target", c.prefix+op)
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("Amz-Sdk-Invocation-Id", uuid.NewString())
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	ctx, span := tracing.Start(ctx, tracing.SpanBackendCall,
		attribute.String(tracing.AttrOperation, op),
		attribute.String(tracing.AttrEndpoint, c.binding.Endpoint),
		attribute.String(tracing.AttrRegion, c.binding.Region),
	)
	req = req.WithContext(ctx)

	resp, err := c.http.Do(req)
	if err != nil {
		tracing.End(span, err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	span.SetAttributes(attribute.Int(tracing.AttrStatusCode, resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := decodeServiceError(resp)
		_ = resp.Body.Close()
		tracing.End(span, se)
		log.Debug(log.CatClient, "Service error", "op", op, "endpoint", c.binding.Endpoint, "status", se.StatusCode, "type", se.Type)
		return nil, se
	}
	tracing.End(span, nil)
	return resp, nil
}

// call posts in and decodes the JSON response into out.
func (c *conn) call(ctx context.Context, op string, in, out any) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	resp, err := c.post(ctx, op, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}
