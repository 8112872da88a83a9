package api

import (
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/alexandriaapp/alexandria-server/internal/http/response"
)

// EnvelopeTransformer wraps every huma response body in the shared envelope. Raw bodies (cover
// images) and empty bodies pass through.
func EnvelopeTransformer(_ huma.Context, status string, v any) (any, error) {
	switch body := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return body, nil
	case *APIError:
		return response.Fail(body.Code, body.Message, body.Details), nil
	case response.Envelope, *response.Envelope:
		return body, nil
	}
	if code, err := strconv.Atoi(status); err == nil && code >= 400 {
		return response.Fail(statusToCode(code), "request failed", v), nil
	}
	return response.Wrap(v), nil
}
