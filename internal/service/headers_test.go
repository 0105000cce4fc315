package service

import (
	"net/http"
	"testing"

	"api-proxy-go/internal/config"
)

func defaultSettings() config.ProxySettings {
	verify := true
	return config.ProxySettings{
		Host:                  "http://upstream.test",
		DefaultAccept:         config.DefaultAccept,
		DefaultAcceptLanguage: config.DefaultAcceptLanguage,
		DefaultContentType:    config.DefaultContentType,
		AcceptMaps:            map[string]string{"text/html": "application/json"},
		DisallowedParams:      []string{"format"},
		VerifySSL:             &verify,
	}
}

func TestBuildHeaders_Auth(t *testing.T) {
	tests := []struct {
		name string
		auth config.AuthConfig
		want string
	}{
		{"basic", config.AuthConfig{User: "abc", Password: "def"}, "Basic YWJjOmRlZg=="},
		{"token verbatim", config.AuthConfig{Token: "xyz"}, "xyz"},
		{"basic before token", config.AuthConfig{User: "abc", Password: "def", Token: "xyz"}, "Basic YWJjOmRlZg=="},
		{"user without password falls back to token", config.AuthConfig{User: "abc", Token: "xyz"}, "xyz"},
		{"none", config.AuthConfig{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := defaultSettings()
			s.Auth = tt.auth
			got := BuildHeaders(http.Header{}, s)
			if v := got.Get("Authorization"); v != tt.want {
				t.Errorf("Authorization = %q, want %q", v, tt.want)
			}
			if tt.want == "" {
				if _, ok := got["Authorization"]; ok {
					t.Error("Authorization header present, want omitted")
				}
			}
		})
	}
}

func TestBuildHeaders_Negotiation(t *testing.T) {
	tests := []struct {
		name           string
		in             http.Header
		wantAccept     string
		wantLanguage   string
		wantContentTyp string
	}{
		{
			name:           "defaults when absent",
			in:             http.Header{},
			wantAccept:     "application/json",
			wantLanguage:   "en-US,en;q=0.8",
			wantContentTyp: "application/json",
		},
		{
			name:           "accept remapped on exact match",
			in:             http.Header{"Accept": {"text/html"}},
			wantAccept:     "application/json",
			wantLanguage:   "en-US,en;q=0.8",
			wantContentTyp: "application/json",
		},
		{
			name:           "accept kept when not mapped",
			in:             http.Header{"Accept": {"text/html, application/xml"}},
			wantAccept:     "text/html, application/xml",
			wantLanguage:   "en-US,en;q=0.8",
			wantContentTyp: "application/json",
		},
		{
			name: "inbound values win",
			in: http.Header{
				"Accept":          {"application/xml"},
				"Accept-Language": {"de"},
				"Content-Type":    {"text/csv"},
			},
			wantAccept:     "application/xml",
			wantLanguage:   "de",
			wantContentTyp: "text/csv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildHeaders(tt.in, defaultSettings())
			if v := got.Get("Accept"); v != tt.wantAccept {
				t.Errorf("Accept = %q, want %q", v, tt.wantAccept)
			}
			if v := got.Get("Accept-Language"); v != tt.wantLanguage {
				t.Errorf("Accept-Language = %q, want %q", v, tt.wantLanguage)
			}
			if v := got.Get("Content-Type"); v != tt.wantContentTyp {
				t.Errorf("Content-Type = %q, want %q", v, tt.wantContentTyp)
			}
		})
	}
}

func TestBuildHeaders_ForwardHeaders(t *testing.T) {
	s := defaultSettings()
	s.ForwardHeaders = []string{"x-tenant", "Cookie", "Authorization", "If-None-Match"}
	in := http.Header{
		"X-Tenant":      {"acme"},
		"Cookie":        {"session=abc"},
		"Authorization": {"Bearer client-token"},
		"X-Other":       {"dropped"},
	}

	got := BuildHeaders(in, s)

	tests := []struct {
		key  string
		want string
	}{
		{"X-Tenant", "acme"},
		{"Cookie", ""},
		{"Authorization", ""},
		{"X-Other", ""},
		{"If-None-Match", ""},
	}
	for _, tt := range tests {
		if v := got.Get(tt.key); v != tt.want {
			t.Errorf("%s = %q, want %q", tt.key, v, tt.want)
		}
	}
}

func TestBuildHeaders_DoesNotMutateInput(t *testing.T) {
	in := http.Header{"Accept": {"text/html"}}
	s := defaultSettings()
	s.Auth = config.AuthConfig{Token: "xyz"}

	_ = BuildHeaders(in, s)

	if in.Get("Accept") != "text/html" || in.Get("Authorization") != "" {
		t.Errorf("input header mutated: %v", in)
	}
}
