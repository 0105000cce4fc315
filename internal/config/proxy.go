package config

import (
	"maps"
	"slices"
	"time"
)

// Defaults used when the [proxy] section leaves a key unset.
const (
	DefaultAccept         = "application/json"
	DefaultAcceptLanguage = "en-US,en;q=0.8"
	DefaultContentType    = "application/json"
)

// AuthConfig describes the credentials injected into upstream requests.
// Basic auth is used when both User and Password are set; otherwise Token is
// sent verbatim as the Authorization value.
type AuthConfig struct {
	User     string `toml:"user"`
	Password string `toml:"password"`
	Token    string `toml:"token"`
}

// HasBasic reports whether both basic auth credentials are configured.
func (a AuthConfig) HasBasic() bool {
	return a.User != "" && a.Password != ""
}

// ProxySettings is the proxy behavior for one route. Values are treated as
// immutable once loaded; use Apply to derive a variant.
type ProxySettings struct {
	Host                  string            `toml:"host"`
	Auth                  AuthConfig        `toml:"auth"`
	TimeoutSeconds        float64           `toml:"timeout_seconds"` // 0 means no overall timeout
	DefaultAccept         string            `toml:"default_accept"`
	DefaultAcceptLanguage string            `toml:"default_accept_language"`
	DefaultContentType    string            `toml:"default_content_type"`
	ReturnRaw             bool              `toml:"return_raw"`
	ReturnRawError        bool              `toml:"return_raw_error"`
	AcceptMaps            map[string]string `toml:"accept_maps"`
	DisallowedParams      []string          `toml:"disallowed_params"`
	ForwardHeaders        []string          `toml:"forward_headers"`
	VerifySSL             *bool             `toml:"verify_ssl"`
}

// ProxyOverrides holds per-route replacements for ProxySettings. Nil fields
// keep the inherited value.
type ProxyOverrides struct {
	Host                  *string           `toml:"host"`
	Auth                  *AuthConfig       `toml:"auth"`
	TimeoutSeconds        *float64          `toml:"timeout_seconds"`
	DefaultAccept         *string           `toml:"default_accept"`
	DefaultAcceptLanguage *string           `toml:"default_accept_language"`
	DefaultContentType    *string           `toml:"default_content_type"`
	ReturnRaw             *bool             `toml:"return_raw"`
	ReturnRawError        *bool             `toml:"return_raw_error"`
	AcceptMaps            map[string]string `toml:"accept_maps"`
	DisallowedParams      []string          `toml:"disallowed_params"`
	ForwardHeaders        []string          `toml:"forward_headers"`
	VerifySSL             *bool             `toml:"verify_ssl"`
}

// Timeout returns the overall upstream timeout, or 0 when unset.
func (s ProxySettings) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(s.TimeoutSeconds * float64(time.Second))
}

// VerifyTLS reports whether upstream certificates are verified. Unset means true.
func (s ProxySettings) VerifyTLS() bool {
	return s.VerifySSL == nil || *s.VerifySSL
}

// Apply returns a copy of s with every non-nil override applied. Maps and
// slices are copied so the result never aliases s.
func (s ProxySettings) Apply(o *ProxyOverrides) ProxySettings {
	out := s.clone()
	if o == nil {
		return out
	}
	if o.Host != nil {
		out.Host = *o.Host
	}
	if o.Auth != nil {
		out.Auth = *o.Auth
	}
	if o.TimeoutSeconds != nil {
		out.TimeoutSeconds = *o.TimeoutSeconds
	}
	if o.DefaultAccept != nil {
		out.DefaultAccept = *o.DefaultAccept
	}
	if o.DefaultAcceptLanguage != nil {
		out.DefaultAcceptLanguage = *o.DefaultAcceptLanguage
	}
	if o.DefaultContentType != nil {
		out.DefaultContentType = *o.DefaultContentType
	}
	if o.ReturnRaw != nil {
		out.ReturnRaw = *o.ReturnRaw
	}
	if o.ReturnRawError != nil {
		out.ReturnRawError = *o.ReturnRawError
	}
	if o.AcceptMaps != nil {
		out.AcceptMaps = maps.Clone(o.AcceptMaps)
	}
	if o.DisallowedParams != nil {
		out.DisallowedParams = slices.Clone(o.DisallowedParams)
	}
	if o.ForwardHeaders != nil {
		out.ForwardHeaders = slices.Clone(o.ForwardHeaders)
	}
	if o.VerifySSL != nil {
		v := *o.VerifySSL
		out.VerifySSL = &v
	}
	return out
}

func (s ProxySettings) clone() ProxySettings {
	out := s
	out.AcceptMaps = maps.Clone(s.AcceptMaps)
	out.DisallowedParams = slices.Clone(s.DisallowedParams)
	out.ForwardHeaders = slices.Clone(s.ForwardHeaders)
	if s.VerifySSL != nil {
		v := *s.VerifySSL
		out.VerifySSL = &v
	}
	return out
}

// setDefaults fills unset proxy keys. An explicitly empty accept_maps table
// or disallowed_params list is kept empty.
func (s *ProxySettings) setDefaults() {
	if s.DefaultAccept == "" {
		s.DefaultAccept = DefaultAccept
	}
	if s.DefaultAcceptLanguage == "" {
		s.DefaultAcceptLanguage = DefaultAcceptLanguage
	}
	if s.DefaultContentType == "" {
		s.DefaultContentType = DefaultContentType
	}
	if s.AcceptMaps == nil {
		s.AcceptMaps = map[string]string{"text/html": "application/json"}
	}
	if s.DisallowedParams == nil {
		s.DisallowedParams = []string{"format"}
	}
	if s.VerifySSL == nil {
		v := true
		s.VerifySSL = &v
	}
}

// RouteConfig mounts the proxy under Prefix with its own overrides.
type RouteConfig struct {
	Prefix string `toml:"prefix"`
	ProxyOverrides
}

// Effective returns the settings for the route derived from the defaults.
func (r RouteConfig) Effective(defaults ProxySettings) ProxySettings {
	return defaults.Apply(&r.ProxyOverrides)
}
