package service

import (
	"encoding/base64"
	"net/http"
	"slices"

	"api-proxy-go/internal/config"
)

// BuildHeaders derives the upstream request headers from the inbound headers
// and s. Cookies are never placed here; they travel as a separate mapping.
func BuildHeaders(in http.Header, s config.ProxySettings) http.Header {
	out := make(http.Header)

	for _, name := range s.ForwardHeaders {
		if vals := in.Values(name); len(vals) > 0 {
			out[http.CanonicalHeaderKey(name)] = slices.Clone(vals)
		}
	}
	out.Del("Cookie")

	accept := in.Get("Accept")
	if mapped, ok := s.AcceptMaps[accept]; ok && accept != "" {
		accept = mapped
	} else if accept == "" {
		accept = s.DefaultAccept
	}
	setIfNotEmpty(out, "Accept", accept)
	setIfNotEmpty(out, "Accept-Language", inboundOr(in, "Accept-Language", s.DefaultAcceptLanguage))
	setIfNotEmpty(out, "Content-Type", inboundOr(in, "Content-Type", s.DefaultContentType))

	// Basic auth wins over a token; the token is sent without a scheme prefix.
	switch {
	case s.Auth.HasBasic():
		creds := base64.StdEncoding.EncodeToString([]byte(s.Auth.User + ":" + s.Auth.Password))
		out.Set("Authorization", "Basic "+creds)
	case s.Auth.Token != "":
		out.Set("Authorization", s.Auth.Token)
	default:
		out.Del("Authorization")
	}

	return out
}

func inboundOr(in http.Header, name, fallback string) string {
	if v := in.Get(name); v != "" {
		return v
	}
	return fallback
}

func setIfNotEmpty(h http.Header, name, value string) {
	if value != "" {
		h.Set(name, value)
	}
}
