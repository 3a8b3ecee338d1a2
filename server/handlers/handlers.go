// Package handlers provides the HTTP handlers of the chat API.
//
// Handlers decode requests (bodies are pre-validated by the validation
// middleware), delegate to the pipeline or a collaborator, and write JSON
// responses. Every failure is written as an errors.ChatError so clients
// see one error shape across endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/teilomillet/chatguard/errors"
	"github.com/teilomillet/chatguard/server/middleware"
)

// writeJSON encodes v with status code.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// fail logs err and writes it. Plain errors become internal errors.
func fail(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	requestID := middleware.GetRequestID(r.Context())
	var chatErr *errors.ChatError
	if !errors.As(err, &chatErr) {
		chatErr = errors.NewInternalError(requestID, err)
	}
	if chatErr.RequestID == "" {
		chatErr = chatErr.WithRequestID(requestID)
	}
	errors.LogError(logger, chatErr, requestID)
	errors.WriteError(w, chatErr)
}

// resolveUser checks a claimed user id against the authenticated token
// subject. Without authentication the claim is trusted.
func resolveUser(r *http.Request, claimed string) (string, *errors.ChatError) {
	sub := middleware.GetSubject(r.Context())
	if sub == "" {
		return claimed, nil
	}
	if claimed != "" && claimed != sub {
		return "", errors.NewError(errors.AuthError, "user_id does not match the authenticated user",
			http.StatusForbidden, middleware.GetRequestID(r.Context()), nil, nil)
	}
	return sub, nil
}
