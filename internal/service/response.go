package service

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"api-proxy-go/internal/client"
	"api-proxy-go/internal/config"
	"api-proxy-go/internal/model"
)

const defaultErrorContentType = "text/plain"

// unknownStatusText is the envelope message for codes without a reason phrase.
const unknownStatusText = "Unknown Status Code"

// passthroughResponseHeaders are carried to the client in every mode.
var passthroughResponseHeaders = []string{
	"Cache-Control",
	"Date",
	"ETag",
	"Last-Modified",
	"Location",
}

// TranslateResponse shapes an upstream response for the client. Statuses
// below 400 (3xx included) are successes. Raw modes hand resp.Body to the
// result, which the caller then closes; every other path closes it here.
func TranslateResponse(resp *model.UpstreamResponse, s config.ProxySettings) (*model.Response, error) {
	out := &model.Response{
		StatusCode: resp.StatusCode,
		Header:     filterResponseHeaders(resp.Header),
	}

	if resp.StatusCode >= http.StatusBadRequest {
		if s.ReturnRawError {
			out.ContentType = cmp.Or(resp.ContentType, defaultErrorContentType)
			out.Body = resp.Body
			return out, nil
		}
		discard(resp.Body)
		out.Data = model.ErrorEnvelope{
			Code:  resp.StatusCode,
			Error: cmp.Or(http.StatusText(resp.StatusCode), unknownStatusText),
		}
		return out, nil
	}

	if s.ReturnRaw {
		out.ContentType = resp.ContentType
		out.Body = resp.Body
		return out, nil
	}

	data, err := decodeJSON(resp, s.DefaultContentType)
	if err != nil {
		return nil, err
	}
	out.Data = data
	return out, nil
}

// decodeJSON parses the whole upstream body. An empty body yields nil.
func decodeJSON(resp *model.UpstreamResponse, defaultContentType string) (any, error) {
	if resp.Body == nil {
		return nil, nil
	}
	defer func() { _ = resp.Body.Close() }()

	contentType := cmp.Or(resp.ContentType, defaultContentType)
	fail := func(err error) error {
		return &TranslationError{StatusCode: resp.StatusCode, ContentType: contentType, Err: err}
	}

	if !client.IsJSON(contentType) {
		return nil, fail(errors.New("not a JSON media type"))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(fmt.Errorf("read body: %w", err))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fail(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fail(errors.New("trailing data after JSON value"))
	}
	return v, nil
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range passthroughResponseHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	return dst
}

func discard(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
