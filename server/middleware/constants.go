package middleware

import "context"

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	SubjectKey   contextKey = "subject"
)

// GetRequestID returns the request id stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// GetSubject returns the authenticated token subject, or "" when the
// request was not authenticated.
func GetSubject(ctx context.Context) string {
	sub, _ := ctx.Value(SubjectKey).(string)
	return sub
}
