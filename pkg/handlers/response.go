package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindBadRequest:
		return http.StatusBadRequest
	case apperrors.KindQueueFull:
		return http.StatusServiceUnavailable
	case apperrors.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeServiceError renders err using its kind. Internal failures are logged
// with their cause; callers only see the short message.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	kind := apperrors.KindOf(err)
	if kind == apperrors.KindInternal {
		logger.Error(op+" failed", zap.Error(err))
	}
	if encErr := ErrorResponse(w, StatusFor(kind), string(kind), apperrors.MessageOf(err)); encErr != nil {
		logger.Error("Failed to encode error response", zap.Error(encErr))
	}
}
