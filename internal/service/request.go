package service

import (
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"api-proxy-go/internal/client"
	"api-proxy-go/internal/config"
	"api-proxy-go/internal/model"
	"api-proxy-go/internal/multipart"
)

const formContentType = "application/x-www-form-urlencoded"

// proxiedMethods are the only methods forwarded upstream.
var proxiedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPut:    true,
	http.MethodPost:   true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// TranslateRequest assembles the upstream request for in under s. It performs
// no I/O; file sources are read later, when the body is dispatched. boundary
// is called once when a multipart body is needed; nil uses
// multipart.NewBoundary.
func TranslateRequest(in *model.InboundRequest, s config.ProxySettings, boundary func() (string, error)) (*model.OutboundRequest, error) {
	if !proxiedMethods[in.Method] {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotAllowed, in.Method)
	}
	if s.Host == "" {
		return nil, &ConfigError{Setting: "proxy.host", Err: ErrMissingHost}
	}

	target, err := targetURL(s.Host, in.Path)
	if err != nil {
		return nil, err
	}

	header := BuildHeaders(in.Header, s)
	out := &model.OutboundRequest{
		Method:  in.Method,
		URL:     target,
		Header:  header,
		Query:   filterQuery(in.Query, s.DisallowedParams),
		Cookies: maps.Clone(in.Cookies),
	}

	switch {
	case len(in.Files) > 0:
		if boundary == nil {
			boundary = multipart.NewBoundary
		}
		b, err := boundary()
		if err != nil {
			return nil, fmt.Errorf("generate multipart boundary: %w", err)
		}
		enc := multipart.NewEncoder(in.Fields, in.Files, b)
		header.Set("Content-Type", enc.ContentType())
		out.Body = model.OutboundBody{Kind: model.BodyMultipart, Stream: enc}
	case len(in.Fields) > 0:
		if !client.IsJSON(header.Get("Content-Type")) {
			header.Set("Content-Type", formContentType)
		}
		out.Body = model.OutboundBody{Kind: model.BodyForm, Fields: slices.Clone(in.Fields)}
	case len(in.RawBody) > 0:
		out.Body = model.OutboundBody{Kind: model.BodyRaw, Raw: in.RawBody}
	}

	return out, nil
}

// targetURL appends the escaped request path to host. Path and RawPath are
// set together so percent-encoded reserved characters (%2F, %3F, %23) stay
// inside their segment.
func targetURL(host, escapedPath string) (string, error) {
	u, err := url.Parse(host)
	if err != nil {
		return "", &ConfigError{Setting: "proxy.host", Err: err}
	}
	raw := strings.TrimRight(u.EscapedPath(), "/") + "/" + strings.TrimLeft(escapedPath, "/")
	p, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("request path %q: %w", escapedPath, err)
	}
	u.Path, u.RawPath = p, raw
	return u.String(), nil
}

// filterQuery copies q without the disallowed keys.
func filterQuery(q url.Values, disallowed []string) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		if slices.Contains(disallowed, k) {
			continue
		}
		out[k] = slices.Clone(v)
	}
	return out
}
