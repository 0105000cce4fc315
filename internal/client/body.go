package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"

	"api-proxy-go/internal/model"
	"api-proxy-go/internal/multipart"
)

// requestBody is the wire form of an OutboundBody.
type requestBody struct {
	reader        io.Reader
	contentLength int64
	getBody       func() (io.ReadCloser, error)
}

// newRequestBody frames body for transmission. Multipart streams are pulled
// lazily; their length is only declared when known without reading files.
func newRequestBody(ctx context.Context, body model.OutboundBody, contentType string) (*requestBody, error) {
	switch body.Kind {
	case model.BodyNone:
		return &requestBody{}, nil
	case model.BodyRaw:
		return bytesBody(body.Raw), nil
	case model.BodyForm:
		data, err := encodeForm(body.Fields, contentType)
		if err != nil {
			return nil, err
		}
		return bytesBody(data), nil
	case model.BodyMultipart:
		stream := body.Stream
		return &requestBody{
			reader:        multipart.NewReader(stream.Chunks(ctx)),
			contentLength: stream.Size(),
			getBody: func() (io.ReadCloser, error) {
				if err := stream.Rewind(); err != nil {
					return nil, err
				}
				return multipart.NewReader(stream.Chunks(ctx)), nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown body kind %d", body.Kind)
	}
}

func bytesBody(data []byte) *requestBody {
	return &requestBody{
		reader:        bytes.NewReader(data),
		contentLength: int64(len(data)),
		getBody: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// encodeForm serializes scalar fields as a JSON object when contentType is
// JSON, otherwise as application/x-www-form-urlencoded. Repeated names become
// JSON arrays.
func encodeForm(fields []model.FormField, contentType string) ([]byte, error) {
	if IsJSON(contentType) {
		obj := make(map[string]any, len(fields))
		for _, f := range fields {
			switch prev := obj[f.Name].(type) {
			case nil:
				obj[f.Name] = f.Value
			case string:
				obj[f.Name] = []string{prev, f.Value}
			case []string:
				obj[f.Name] = append(prev, f.Value)
			}
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("encode form as json: %w", err)
		}
		return data, nil
	}

	values := make(url.Values, len(fields))
	for _, f := range fields {
		values.Add(f.Name, f.Value)
	}
	return []byte(values.Encode()), nil
}

// IsJSON reports whether contentType is application/json or a +json type.
func IsJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
