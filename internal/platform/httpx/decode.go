package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultMaxBodyBytes bounds request bodies decoded by DecodeJSON.
const DefaultMaxBodyBytes = 64 * 1024

// DecodeJSON reads a single JSON object from r into dst, rejecting unknown fields,
// trailing data and bodies larger than limit bytes.
func DecodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) *Error {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	if r.Body == nil {
		e := NewError("invalid_request", "request body is required", http.StatusBadRequest)
		return &e
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var e Error
		switch {
		case errors.As(err, &tooLarge):
			e = NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge)
		case errors.Is(err, io.EOF):
			e = NewError("invalid_request", "request body is required", http.StatusBadRequest)
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			e = NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest)
		case errors.As(err, &typeErr):
			e = NewError("invalid_request", fmt.Sprintf("field %q has the wrong type", typeErr.Field), http.StatusBadRequest)
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			field := strings.TrimPrefix(err.Error(), "json: unknown field ")
			e = NewError("invalid_request", fmt.Sprintf("field %s is not allowed", field), http.StatusBadRequest)
		default:
			e = NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest)
		}
		return &e
	}
	if dec.More() {
		e := NewError("invalid_request", "request body must contain a single JSON object", http.StatusBadRequest)
		return &e
	}
	return nil
}
