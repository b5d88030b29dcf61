// Package httpclient is the HTTP client adapter used by scenarios. Every call
// records latency and outcome samples and never treats a non-2xx status as
// an error; only transport failures surface as *TransportError.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"yqhp/load-harness/pkg/metrics"
)

const (
	// BackendStd uses net/http with a tuned shared transport.
	BackendStd = "std"
	// BackendFastHTTP uses valyala/fasthttp.
	BackendFastHTTP = "fasthttp"

	defaultTimeout         = 60 * time.Second
	defaultMaxConnsPerHost = 1000

	// CorrelationHeader carries the per-iteration correlation id.
	CorrelationHeader = "X-Correlation-ID"
)

// Config configures a Client.
type Config struct {
	BaseURL            string
	Timeout            time.Duration
	Backend            string
	HTTP2              bool
	MaxRPS             float64
	MaxConnsPerHost    int
	InsecureSkipVerify bool
	UserAgent          string
	Headers            map[string]string
}

// Recorder receives the samples produced by each request.
type Recorder interface {
	AddSamples(containers ...metrics.SampleContainer)
}

// rawRequest is the backend-neutral request handed to a transport.
type rawRequest struct {
	method  string
	url     string
	headers http.Header
	body    []byte
	timeout time.Duration
}

type rawResponse struct {
	status  int
	headers http.Header
	body    []byte
}

// transport is implemented by the std and fasthttp backends.
type transport interface {
	do(ctx context.Context, req *rawRequest) (*rawResponse, error)
	close()
}

// Client issues requests through the configured backend. It is safe for
// concurrent use; VUs share one Client and thus one connection pool.
type Client struct {
	cfg      Config
	base     *url.URL
	tr       transport
	limiter  *rate.Limiter
	recorder Recorder
	builtin  *metrics.BuiltinMetrics
}

// New creates a Client. recorder and builtin may be nil, in which case no
// samples are emitted.
func New(cfg Config, recorder Recorder, builtin *metrics.BuiltinMetrics) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = defaultMaxConnsPerHost
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendStd
	}

	c := &Client{cfg: cfg, recorder: recorder, builtin: builtin}

	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
		}
		if base.Scheme == "" || base.Host == "" {
			return nil, fmt.Errorf("invalid base url %q: scheme and host are required", cfg.BaseURL)
		}
		c.base = base
	}

	switch cfg.Backend {
	case BackendStd:
		tr, err := newStdTransport(cfg)
		if err != nil {
			return nil, err
		}
		c.tr = tr
	case BackendFastHTTP:
		c.tr = newFastTransport(cfg)
	default:
		return nil, fmt.Errorf("unknown http backend %q", cfg.Backend)
	}

	if cfg.MaxRPS > 0 {
		burst := int(cfg.MaxRPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), burst)
	}
	return c, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.tr.close()
}

// BaseURL returns the configured base URL, or "" if none.
func (c *Client) BaseURL() string {
	if c.base == nil {
		return ""
	}
	return c.base.String()
}

// Option customizes a single request.
type Option func(*requestOptions)

type requestOptions struct {
	headers http.Header
	name    string
	tags    map[string]string
}

// WithHeader sets one request header.
func WithHeader(key, value string) Option {
	return func(o *requestOptions) { o.headers.Set(key, value) }
}

// WithHeaders sets several request headers.
func WithHeaders(h map[string]string) Option {
	return func(o *requestOptions) {
		for k, v := range h {
			o.headers.Set(k, v)
		}
	}
}

// WithName sets the URL template tag, e.g. "/v1/scylla/tasks/{id}".
func WithName(name string) Option {
	return func(o *requestOptions) { o.name = name }
}

// WithTags adds extra sample tags.
func WithTags(tags map[string]string) Option {
	return func(o *requestOptions) {
		for k, v := range tags {
			o.tags[k] = v
		}
	}
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, opts...)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, url string, body any, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodPost, url, body, opts...)
}

// Patch issues a PATCH request.
func (c *Client) Patch(ctx context.Context, url string, body any, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, url, body, opts...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, url, nil, opts...)
}

// Do issues a request. The returned Response is never nil. err is non-nil
// only for a *TransportError, or for a body that cannot be encoded.
func (c *Client) Do(ctx context.Context, method, rawURL string, body any, opts ...Option) (*Response, error) {
	ro := requestOptions{headers: make(http.Header), tags: make(map[string]string)}
	if id := CorrelationID(ctx); id != "" {
		ro.headers.Set(CorrelationHeader, id)
	}
	for k, v := range c.cfg.Headers {
		ro.headers.Set(k, v)
	}
	if c.cfg.UserAgent != "" {
		ro.headers.Set("User-Agent", c.cfg.UserAgent)
	}
	for _, opt := range opts {
		opt(&ro)
	}

	resolved, err := c.resolve(rawURL)
	if err != nil {
		return &Response{Method: method, URL: rawURL, Err: err}, err
	}
	name := ro.name
	if name == "" {
		name = URLTemplate(resolved)
	}
	resp := &Response{Method: method, URL: resolved, Name: name}

	payload, isJSON, err := encodeBody(body)
	if err != nil {
		resp.Err = fmt.Errorf("encode body: %w", err)
		return resp, resp.Err
	}
	if isJSON && ro.headers.Get("Content-Type") == "" {
		ro.headers.Set("Content-Type", "application/json")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			resp.Err = &TransportError{Op: "wait", Method: method, URL: resolved, Err: err}
			return resp, resp.Err
		}
	}

	start := time.Now()
	raw, err := c.tr.do(ctx, &rawRequest{
		method:  method,
		url:     resolved,
		headers: ro.headers,
		body:    payload,
		timeout: c.cfg.Timeout,
	})
	resp.Elapsed = time.Since(start)

	if raw != nil {
		resp.Status = raw.status
		resp.Headers = raw.headers
		resp.Body = raw.body
	}
	if err != nil {
		resp.Err = err
	}
	c.record(resp, len(payload), ro.tags, start)
	return resp, resp.Err
}

func (c *Client) resolve(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if c.base == nil {
		return "", fmt.Errorf("relative url %q without a base url", raw)
	}
	// Keep any base path prefix ("http://host/api" + "/ping" -> "/api/ping").
	ref := *u
	ref.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(u.Path, "/")
	return c.base.ResolveReference(&ref).String(), nil
}

func encodeBody(body any) ([]byte, bool, error) {
	switch b := body.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return b, true, nil
	case string:
		return []byte(b), true, nil
	case io.Reader:
		data, err := io.ReadAll(b)
		return data, true, err
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(b); err != nil {
			return nil, false, err
		}
		return bytes.TrimRight(buf.Bytes(), "\n"), true, nil
	}
}

func (c *Client) record(resp *Response, sent int, extra map[string]string, at time.Time) {
	if c.recorder == nil || c.builtin == nil {
		return
	}
	tags := map[string]string{
		"method": resp.Method,
		"name":   resp.Name,
		"status": strconv.Itoa(resp.Status),
	}
	for k, v := range extra {
		tags[k] = v
	}
	failed := 0.0
	if resp.Status == 0 || resp.Status >= 400 {
		failed = 1
	}
	ms := float64(resp.Elapsed) / float64(time.Millisecond)

	c.recorder.AddSamples(metrics.Samples{
		{Metric: c.builtin.HTTPReqs, Time: at, Value: 1, Tags: tags},
		{Metric: c.builtin.HTTPReqDuration, Time: at, Value: ms, Tags: tags},
		{Metric: c.builtin.HTTPReqFailed, Time: at, Value: failed, Tags: tags},
		{Metric: c.builtin.DataSent, Time: at, Value: float64(sent), Tags: tags},
		{Metric: c.builtin.DataReceived, Time: at, Value: float64(len(resp.Body)), Tags: tags},
	})
}

type correlationKey struct{}

// WithCorrelationID returns a context whose requests carry the given id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
