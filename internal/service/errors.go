package service

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingHost is wrapped by a ConfigError when no upstream host is
	// configured for the route being served.
	ErrMissingHost = errors.New("upstream host not configured")

	// ErrMethodNotAllowed is returned for methods the proxy does not forward.
	ErrMethodNotAllowed = errors.New("method not allowed")
)

// ConfigError reports a setting that is required at dispatch time but unset.
// It is raised before any network I/O.
type ConfigError struct {
	Setting string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Setting, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TranslationError reports an upstream success body that could not be parsed
// into the structured form. No partial result is produced.
type TranslationError struct {
	StatusCode  int
	ContentType string
	Err         error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translate upstream %d response (%s): %v", e.StatusCode, e.ContentType, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }
