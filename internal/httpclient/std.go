package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// 连接池参数
const (
	tcpDialTimeout        = 5 * time.Second
	tcpKeepAliveInterval  = 30 * time.Second
	tlsHandshakeTimeout   = 5 * time.Second
	idleConnTimeout       = 90 * time.Second
	expectContinueTimeout = 1 * time.Second
)

type stdTransport struct {
	client    *http.Client
	transport *http.Transport
}

func newStdTransport(cfg Config) (*stdTransport, error) {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		DialContext: (&net.Dialer{
			Timeout:   tcpDialTimeout,
			KeepAlive: tcpKeepAliveInterval,
		}).DialContext,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for test environments
		},
	}
	if cfg.HTTP2 {
		// 显式启用 h2（自定义 TLSClientConfig 时 net/http 不会自动协商）
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, fmt.Errorf("configure http2: %w", err)
		}
	}
	return &stdTransport{
		client: &http.Client{
			Transport: tr,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		transport: tr,
	}, nil
}

func (t *stdTransport) do(ctx context.Context, r *rawRequest) (*rawResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, &TransportError{Op: "build", Method: r.method, URL: r.url, Err: err}
	}
	req.Header = r.headers

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "do", Method: r.method, URL: r.url, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	raw := &rawResponse{status: resp.StatusCode, headers: resp.Header}
	data, err := io.ReadAll(resp.Body)
	raw.body = data
	if err != nil {
		return raw, &TransportError{Op: "read", Method: r.method, URL: r.url, Timeout: isTimeout(err), Err: err}
	}
	return raw, nil
}

func (t *stdTransport) close() {
	t.transport.CloseIdleConnections()
}
