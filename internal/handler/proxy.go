package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"api-proxy-go/internal/client"
	"api-proxy-go/internal/config"
	"api-proxy-go/internal/model"
	upmultipart "api-proxy-go/internal/multipart"
	"api-proxy-go/internal/service"
)

// Credentials that may appear in error messages: userinfo in URLs and
// Authorization values.
var (
	userinfoPattern = regexp.MustCompile(`(://[^/@\s:]+:)[^@\s]+@`)
	authPattern     = regexp.MustCompile(`(?i)\b(basic|bearer)\s+[A-Za-z0-9+/=._~-]+`)
)

// ProxyHandler forwards requests under a route prefix to that route's upstream.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Route returns a handler for requests mounted at prefix, forwarded with
// settings. The prefix is stripped from the path before it is appended to the
// upstream host.
func (h *ProxyHandler) Route(prefix string, settings config.ProxySettings) echo.HandlerFunc {
	return func(c echo.Context) error {
		return h.handle(c, prefix, settings)
	}
}

func (h *ProxyHandler) handle(c echo.Context, prefix string, settings config.ProxySettings) error {
	req := c.Request()

	in, cleanup, err := inboundRequest(c, prefix)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		h.logger.Warn("unreadable request body", "err", err, "path", req.URL.Path)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "malformed request body",
		})
	}
	defer cleanup()

	resp, err := h.service.Forward(req.Context(), in, settings)
	if err != nil {
		return h.mapError(c, err)
	}
	return h.render(c, resp)
}

// inboundRequest converts the parsed echo request. The returned cleanup
// closes uploaded files and removes their temporary storage.
func inboundRequest(c echo.Context, prefix string) (*model.InboundRequest, func(), error) {
	req := c.Request()
	in := &model.InboundRequest{
		Method:  req.Method,
		Path:    stripPrefix(req.URL.EscapedPath(), prefix),
		Query:   c.QueryParams(),
		Header:  req.Header,
		Cookies: cookieMap(req.Cookies()),
	}
	cleanup := func() {}

	mediaType, _, _ := mime.ParseMediaType(req.Header.Get(echo.HeaderContentType))
	switch mediaType {
	case echo.MIMEMultipartForm:
		form, err := c.MultipartForm()
		if err != nil {
			return nil, cleanup, fmt.Errorf("parse multipart form: %w", err)
		}
		in.Fields = formFields(form.Value)
		files, closeFiles, err := fileFields(form.File)
		cleanup = func() {
			closeFiles()
			_ = form.RemoveAll()
		}
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		in.Files = files
	case echo.MIMEApplicationForm:
		if err := req.ParseForm(); err != nil {
			return nil, cleanup, fmt.Errorf("parse form: %w", err)
		}
		in.Fields = formFields(req.PostForm)
	default:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, cleanup, fmt.Errorf("read body: %w", err)
		}
		in.RawBody = body
	}
	return in, cleanup, nil
}

func stripPrefix(path, prefix string) string {
	if prefix == "/" {
		return path
	}
	rest := strings.TrimPrefix(path, prefix)
	if rest == "" {
		return "/"
	}
	return rest
}

func cookieMap(cookies []*http.Cookie) map[string]string {
	out := make(map[string]string, len(cookies))
	for _, ck := range cookies {
		out[ck.Name] = ck.Value
	}
	return out
}

// formFields flattens a parsed form. Keys are sorted since the parsed form
// has no order; values of a key keep their order.
func formFields(values url.Values) []model.FormField {
	var out []model.FormField
	for _, name := range slices.Sorted(maps.Keys(values)) {
		for _, v := range values[name] {
			out = append(out, model.FormField{Name: name, Value: v})
		}
	}
	return out
}

func fileFields(files map[string][]*multipart.FileHeader) ([]model.FileField, func(), error) {
	var (
		out    []model.FileField
		opened []multipart.File
	)
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	for _, name := range slices.Sorted(maps.Keys(files)) {
		for _, fh := range files[name] {
			f, err := fh.Open()
			if err != nil {
				closeAll()
				return nil, func() {}, fmt.Errorf("open uploaded file %q: %w", fh.Filename, err)
			}
			opened = append(opened, f)
			out = append(out, model.FileField{
				Name:     name,
				Filename: fh.Filename,
				Size:     fh.Size,
				Content:  f,
			})
		}
	}
	return out, closeAll, nil
}

// render writes r to the client: raw bodies are streamed, structured data is
// serialized as JSON.
func (h *ProxyHandler) render(c echo.Context, r *model.Response) error {
	header := c.Response().Header()
	for key, vals := range r.Header {
		for _, v := range vals {
			header.Add(key, v)
		}
	}

	switch {
	case r.Body != nil:
		defer func() { _ = r.Body.Close() }()
		if r.ContentType != "" {
			header.Set(echo.HeaderContentType, r.ContentType)
		}
		c.Response().WriteHeader(r.StatusCode)

		// The status is already sent; a failed copy leaves the client with a
		// truncated body.
		if _, err := io.Copy(c.Response(), r.Body); err != nil {
			h.logger.Error("streaming response body",
				"err", sanitizeError(err),
				"path", c.Request().URL.Path,
			)
		}
		return nil
	case r.Data != nil:
		return c.JSON(r.StatusCode, r.Data)
	default:
		return c.NoContent(r.StatusCode)
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	status, msg := classifyError(err)
	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"status", status,
		"path", c.Request().URL.Path,
	)
	return c.JSON(status, map[string]string{"error": msg})
}

// classifyError maps a forwarding failure to the client status and message.
func classifyError(err error) (int, string) {
	var (
		configErr      *service.ConfigError
		streamErr      *upmultipart.StreamError
		transportErr   *client.TransportError
		translationErr *service.TranslationError
	)

	switch {
	case errors.As(err, &configErr):
		return http.StatusInternalServerError, "proxy misconfigured: " + configErr.Err.Error()
	case errors.Is(err, service.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, "method not allowed"
	case errors.As(err, &streamErr):
		return http.StatusInternalServerError, "failed to read uploaded file"
	case errors.Is(err, client.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "upstream temporarily unavailable"
	case errors.Is(err, context.Canceled):
		return http.StatusBadGateway, "client disconnected"
	case errors.As(err, &transportErr):
		switch transportErr.Kind {
		case client.KindTimeout:
			return http.StatusGatewayTimeout, "upstream request timed out"
		case client.KindConnectRefused:
			return http.StatusBadGateway, "upstream connection refused"
		case client.KindTLS:
			return http.StatusBadGateway, "upstream TLS verification failed"
		default:
			return http.StatusBadGateway, "upstream request failed"
		}
	case errors.As(err, &translationErr):
		return http.StatusBadGateway, "upstream response could not be parsed"
	default:
		return http.StatusBadGateway, "upstream request failed"
	}
}

// sanitizeError redacts credentials from error messages.
func sanitizeError(err error) string {
	s := userinfoPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]@")
	return authPattern.ReplaceAllString(s, "${1} [REDACTED]")
}
