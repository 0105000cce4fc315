// Package service implements the request and response translation pipeline
// between the client-facing handler and the upstream.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"api-proxy-go/internal/config"
	"api-proxy-go/internal/metrics"
	"api-proxy-go/internal/model"
	"api-proxy-go/internal/multipart"
)

// Dispatcher sends an assembled request upstream.
type Dispatcher interface {
	Dispatch(ctx context.Context, out *model.OutboundRequest, s config.ProxySettings) (*model.UpstreamResponse, error)
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	boundary   func() (string, error)
}

// NewProxyService creates a ProxyService. m may be nil.
func NewProxyService(d Dispatcher, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		dispatcher: d,
		logger:     logger.With("component", "proxy_service"),
		metrics:    m,
		boundary:   multipart.NewBoundary,
	}
}

// Forward translates in under s, dispatches it and translates the upstream
// response. When the returned Response carries a Body the caller must close it.
//
// Errors are one of *ConfigError, ErrMethodNotAllowed, *multipart.StreamError,
// *client.TransportError or *TranslationError, possibly wrapped.
func (s *ProxyService) Forward(ctx context.Context, in *model.InboundRequest, settings config.ProxySettings) (*model.Response, error) {
	out, err := TranslateRequest(in, settings, s.boundary)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("forwarding request",
		"method", out.Method,
		"path", in.Path,
		"body", out.Body.Kind.String(),
		"fields", len(in.Fields),
		"files", len(in.Files),
	)

	resp, err := s.dispatcher.Dispatch(ctx, out, settings)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	r, err := TranslateResponse(resp, settings)
	s.recordOutcome(r, err)
	if err != nil {
		var te *TranslationError
		if errors.As(err, &te) {
			s.logger.Warn("upstream response not translatable",
				"status", te.StatusCode,
				"content_type", te.ContentType,
				"error", te.Err,
			)
		}
		return nil, err
	}
	return r, nil
}

func (s *ProxyService) recordOutcome(r *model.Response, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "parsed"
	switch {
	case err != nil:
		outcome = "failed"
	case r.Body != nil:
		outcome = "raw"
	case isEnvelope(r.Data):
		outcome = "envelope"
	}
	s.metrics.Translations.WithLabelValues(outcome).Inc()
}

func isEnvelope(v any) bool {
	_, ok := v.(model.ErrorEnvelope)
	return ok
}
