package handler

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"api-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type routeStatus struct {
	Prefix    string `json:"prefix"`
	Upstream  string `json:"upstream"`
	VerifySSL bool   `json:"verify_ssl"`
	Auth      string `json:"auth"`
}

type statusResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Routes  []routeStatus `json:"routes"`
}

// Status returns proxy status information. Credentials are reported only by
// kind.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := statusResponse{
		Status:  "ok",
		Version: string(h.version),
		Routes:  make([]routeStatus, 0, len(h.cfg.Routes)),
	}
	for _, rc := range h.cfg.Routes {
		s := rc.Effective(h.cfg.Proxy)
		resp.Routes = append(resp.Routes, routeStatus{
			Prefix:    rc.RoutePrefix(),
			Upstream:  redactHost(s.Host),
			VerifySSL: s.VerifyTLS(),
			Auth:      authKind(s.Auth),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func authKind(a config.AuthConfig) string {
	switch {
	case a.HasBasic():
		return "basic"
	case a.Token != "":
		return "token"
	default:
		return "none"
	}
}

func redactHost(host string) string {
	u, err := url.Parse(host)
	if err != nil {
		return ""
	}
	return u.Redacted()
}
