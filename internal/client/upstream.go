// Package client provides the upstream HTTP client that dispatches
// translated requests.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"api-proxy-go/internal/config"
	"api-proxy-go/internal/metrics"
	"api-proxy-go/internal/model"
	"api-proxy-go/internal/multipart"
)

// UpstreamClient sends outbound requests to the configured upstream hosts.
type UpstreamClient struct {
	verifying    *http.Client
	nonVerifying *http.Client
	logger       *slog.Logger
	metrics      *metrics.Metrics

	breaker  config.CircuitBreakerConfig
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and
// dial/handshake timeouts. Overall request timeouts are applied per request.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	return &UpstreamClient{
		verifying:    &http.Client{Transport: newTransport(cfg.Upstream.IdleConnections, false)},
		nonVerifying: &http.Client{Transport: newTransport(cfg.Upstream.IdleConnections, true)},
		logger:       logger.With("component", "upstream_client"),
		metrics:      m,
		breaker:      cfg.Upstream.CircuitBreaker,
		breakers:     make(map[string]*gobreaker.CircuitBreaker),
	}
}

func newTransport(idle int, skipVerify bool) *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        idle,
		MaxIdleConnsPerHost: idle,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: skipVerify, //nolint:gosec // opt-in via proxy.verify_ssl = false
		},
	}
}

// Dispatch sends out to the upstream under the timeout and TLS policy of s.
// The timeout covers the exchange up to the response headers, and reading the
// body too unless s passes that body to the client verbatim. The caller must
// close the returned body; closing it also releases the timeout. Failures to
// reach the upstream are *TransportError; a multipart file that fails
// mid-upload surfaces as *multipart.StreamError.
func (c *UpstreamClient) Dispatch(ctx context.Context, out *model.OutboundRequest, s config.ProxySettings) (*model.UpstreamResponse, error) {
	target, err := url.Parse(out.URL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if len(out.Query) > 0 {
		target.RawQuery = out.Query.Encode()
	}

	ctx, cancel := context.WithCancel(ctx)
	timeout := s.Timeout()
	var (
		timer    *time.Timer
		timedOut atomic.Bool
	)
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			timedOut.Store(true)
			cancel()
		})
	}
	release := func() {
		if timer != nil {
			timer.Stop()
		}
		cancel()
	}

	body, err := newRequestBody(ctx, out.Body, out.Header.Get("Content-Type"))
	if err != nil {
		release()
		return nil, fmt.Errorf("build upstream body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, out.Method, target.String(), body.reader)
	if err != nil {
		release()
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = out.Header.Clone()
	if body.reader != nil {
		req.ContentLength = body.contentLength
		req.GetBody = body.getBody
	}
	for _, name := range slices.Sorted(maps.Keys(out.Cookies)) {
		req.AddCookie(&http.Cookie{Name: name, Value: out.Cookies[name]})
	}

	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", target.Host,
		"path", target.Path,
		"body", out.Body.Kind.String(),
	)

	httpClient := c.verifying
	if !s.VerifyTLS() {
		httpClient = c.nonVerifying
	}

	roundTrip := func() (*http.Response, error) {
		resp, err := httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
		if err != nil && timedOut.Load() {
			err = &timeoutError{after: timeout, err: err}
		}
		return resp, err
	}

	start := time.Now()
	resp, err := c.do(roundTrip, req, target.Host)
	duration := time.Since(start).Seconds()
	method := metrics.NormalizeMethod(req.Method)

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
	}
	if err != nil {
		release()
		var streamErr *multipart.StreamError
		if errors.As(err, &streamErr) {
			return nil, streamErr
		}
		te := &TransportError{Kind: classify(err), Err: err}
		if errors.Is(err, ErrCircuitOpen) {
			te.Kind = KindOther
		}
		if c.metrics != nil {
			c.metrics.UpstreamErrors.WithLabelValues(method, string(te.Kind)).Inc()
		}
		return nil, te
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}
	if timer != nil && streamsBody(s, resp.StatusCode) {
		timer.Stop()
	}

	return &model.UpstreamResponse{
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        &cancelOnClose{ReadCloser: resp.Body, cancel: release},
	}, nil
}

// streamsBody reports whether a response with status is handed to the client
// verbatim rather than read for translation.
func streamsBody(s config.ProxySettings, status int) bool {
	if status >= http.StatusBadRequest {
		return s.ReturnRawError
	}
	return s.ReturnRaw
}

// do runs roundTrip for req, through the host's circuit breaker when enabled.
func (c *UpstreamClient) do(roundTrip func() (*http.Response, error), req *http.Request, host string) (*http.Response, error) {
	if !c.breaker.Enabled {
		return roundTrip()
	}

	res, err := c.breakerFor(host).Execute(func() (any, error) {
		return roundTrip()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, host)
	}
	if err != nil {
		return nil, err
	}
	return res.(*http.Response), nil
}

func (c *UpstreamClient) breakerFor(host string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	maxFailures := uint32(c.breaker.MaxFailures) //nolint:gosec // validated non-negative
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    host,
		Timeout: time.Duration(c.breaker.OpenSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				"host", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// Client cancellation and unreadable uploads say nothing about
			// the upstream.
			var streamErr *multipart.StreamError
			return err == nil || errors.Is(err, context.Canceled) || errors.As(err, &streamErr)
		},
	})
	c.breakers[host] = cb
	return cb
}

// cancelOnClose releases the request context when the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// CloseIdleConnections closes idle pooled connections of both transports.
func (c *UpstreamClient) CloseIdleConnections() {
	c.verifying.CloseIdleConnections()
	c.nonVerifying.CloseIdleConnections()
}
