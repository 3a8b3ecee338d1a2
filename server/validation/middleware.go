package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	chaterrors "github.com/teilomillet/chatguard/errors"
	"github.com/teilomillet/chatguard/server/middleware"
)

// DefaultMaxBodyBytes bounds JSON request bodies.
const DefaultMaxBodyBytes = 1 << 20

type bodyKey struct{}

var defaultValidator = New()

// Decode reads a JSON body into dst and validates it. The returned error
// is ready to be written to the client.
func Decode(r *http.Request, dst interface{}, maxBytes int64) *chaterrors.ChatError {
	requestID := middleware.GetRequestID(r.Context())

	ct := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
		return chaterrors.NewError(chaterrors.BadRequestError, "Invalid or missing Content-Type header",
			http.StatusBadRequest, requestID, map[string]interface{}{
				"field":   "header:Content-Type",
				"message": "Content-Type must be application/json",
			}, nil)
	}

	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBytes))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return chaterrors.NewError(chaterrors.BadRequestError, "Request body too large",
				http.StatusRequestEntityTooLarge, requestID,
				map[string]interface{}{"max_bytes": maxBytes}, nil)
		}
		msg := "Invalid request format"
		if errors.Is(err, io.EOF) {
			msg = "Request body is empty"
		}
		return chaterrors.NewError(chaterrors.BadRequestError, msg, http.StatusBadRequest, requestID,
			map[string]interface{}{"field": "body"}, err)
	}

	return Check(requestID, dst)
}

// Check validates v and converts failures into a validation error.
func Check(requestID string, v interface{}) *chaterrors.ChatError {
	fields := defaultValidator.Struct(v)
	if len(fields) == 0 {
		return nil
	}
	return chaterrors.NewValidationError(requestID, "Request validation failed", map[string]interface{}{
		"fields": fields,
	})
}

// JSON decodes and validates a body of type T before the handler runs.
// Handlers read the result with Body.
func JSON[T any](maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body T
			if err := Decode(r, &body, maxBytes); err != nil {
				chaterrors.WriteError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), bodyKey{}, &body)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Body returns the body decoded by JSON.
func Body[T any](ctx context.Context) (*T, error) {
	v, ok := ctx.Value(bodyKey{}).(*T)
	if !ok {
		var zero T
		return nil, fmt.Errorf("no validated %T body in context", zero)
	}
	return v, nil
}
