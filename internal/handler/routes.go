package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"api-proxy-go/internal/config"
	"api-proxy-go/internal/metrics"
)

// proxiedMethods are registered for every route prefix. Anything else gets
// echo's 405.
var proxiedMethods = []string{
	http.MethodGet,
	http.MethodPut,
	http.MethodPost,
	http.MethodPatch,
	http.MethodDelete,
}

// RegisterRoutes wires all route handlers onto the Echo instance. m may be nil
// when metrics are disabled.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	for _, rc := range cfg.Routes {
		prefix := rc.RoutePrefix()
		h := proxy.Route(prefix, rc.Effective(cfg.Proxy))

		pattern := prefix + "/*"
		if prefix == "/" {
			pattern = "/*"
		} else {
			e.Match(proxiedMethods, prefix, h)
		}
		e.Match(proxiedMethods, pattern, h)
	}
}
