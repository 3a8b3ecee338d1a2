package errors

import (
	"net/http"

	"go.uber.org/zap"
)

// LogError logs an error with its context. Client-side rejections are
// logged at info level, everything else at error level.
func LogError(logger *zap.Logger, err error, requestID string) {
	var chatErr *ChatError
	if As(err, &chatErr) {
		fields := []zap.Field{
			zap.String("error_type", string(chatErr.Type)),
			zap.String("message", chatErr.Message),
			zap.Int("code", chatErr.Code),
			zap.String("request_id", requestID),
			zap.Any("details", chatErr.Details),
		}
		if chatErr.err != nil {
			fields = append(fields, zap.NamedError("cause", chatErr.err))
		}
		if chatErr.Code < http.StatusInternalServerError {
			logger.Info("request rejected", fields...)
			return
		}
		logger.Error("request error", fields...)
		return
	}
	logger.Error("unexpected error",
		zap.Error(err),
		zap.String("request_id", requestID),
	)
}
