package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
)

type fastTransport struct {
	client *fasthttp.Client
}

func newFastTransport(cfg Config) *fastTransport {
	return &fastTransport{
		client: &fasthttp.Client{
			MaxConnsPerHost:          cfg.MaxConnsPerHost,
			MaxIdleConnDuration:      idleConnTimeout,
			ReadTimeout:              cfg.Timeout,
			WriteTimeout:             cfg.Timeout,
			NoDefaultUserAgentHeader: true,
			TLSConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for test environments
			},
		},
	}
}

func (t *fastTransport) do(ctx context.Context, r *rawRequest) (*rawResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "do", Method: r.method, URL: r.url, Timeout: isTimeout(err), Err: err}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.url)
	req.Header.SetMethod(r.method)
	for k, vs := range r.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.body != nil {
		req.SetBodyRaw(r.body)
	}

	// 统一使用 DoDeadline，取请求超时与 ctx 截止时间中较早者
	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.client.DoDeadline(req, resp, deadline); err != nil {
		timeout := errors.Is(err, fasthttp.ErrTimeout) || time.Now().After(deadline)
		if timeout {
			err = errors.Join(ErrTimeout, err)
		}
		return nil, &TransportError{Op: "do", Method: r.method, URL: r.url, Timeout: timeout, Err: err}
	}

	// resp.Body() 引用内部缓冲区，Release 前必须复制
	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())

	headers := make(http.Header)
	resp.Header.VisitAll(func(key, value []byte) {
		headers.Add(string(key), string(value))
	})
	return &rawResponse{status: resp.StatusCode(), headers: headers, body: body}, nil
}

func (t *fastTransport) close() {
	t.client.CloseIdleConnections()
}
