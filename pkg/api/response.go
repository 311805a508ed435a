package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/auth"
	"github.com/benfrankstein/untxt-sub002/pkg/download"
	"github.com/benfrankstein/untxt-sub002/pkg/ingest"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
	"github.com/benfrankstein/untxt-sub002/pkg/objectstore"
	"github.com/benfrankstein/untxt-sub002/pkg/version"
)

// Response is the standard API envelope.
//
// Every JSON endpoint answers with this structure:
//   - Success reports the overall result
//   - Timestamp provides response time for debugging and caching
//   - Data contains the response payload (optional)
//   - Error contains the failure detail when Success is false (optional)
type Response struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
//
// Encoding is done to a buffer first so an encoding failure can still become
// a clean error response before any headers are sent.
func writeJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
		http.Error(w, `{"success":false,"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// writeData writes a 200 success envelope.
func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{
		Success:   true,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

// writeCreated writes a 201 success envelope.
func writeCreated(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, Response{
		Success:   true,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

// writeError translates a service error into the envelope with the matching
// HTTP status. Unrecognized errors become an opaque 500 so internals never
// leak to clients.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	detail := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		detail = "internal server error"
	}

	writeJSON(w, status, Response{
		Success:   false,
		Timestamp: time.Now().UTC(),
		Error:     detail,
	})
}

// writeErrorMessage writes a failure envelope with an explicit status, for
// request shape problems that never reached a service.
func writeErrorMessage(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, Response{
		Success:   false,
		Timestamp: time.Now().UTC(),
		Error:     detail,
	})
}

// statusFor maps service sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized

	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, models.ErrTaskNotFound),
		errors.Is(err, models.ErrFileNotFound),
		errors.Is(err, models.ErrFolderNotFound),
		errors.Is(err, models.ErrResultNotFound),
		errors.Is(err, models.ErrVersionNotFound),
		errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, models.ErrPermissionNotFound),
		errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, download.ErrPageNotFound),
		errors.Is(err, objectstore.ErrObjectNotFound):
		return http.StatusNotFound

	case errors.Is(err, models.ErrDuplicateTask),
		errors.Is(err, models.ErrDuplicateFile),
		errors.Is(err, models.ErrDuplicateFolder),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrSessionEnded),
		errors.Is(err, models.ErrPermissionRevoked),
		errors.Is(err, version.ErrTaskNotCompleted),
		errors.Is(err, download.ErrResultNotReady):
		return http.StatusConflict

	case errors.Is(err, version.ErrEmptyContent):
		return http.StatusBadRequest

	case errors.Is(err, ingest.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType

	case errors.Is(err, ingest.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, ingest.ErrCreditExhausted):
		return http.StatusPaymentRequired

	case errors.Is(err, ingest.ErrServiceOverloaded):
		return http.StatusTooManyRequests

	case errors.Is(err, ingest.ErrStorage),
		errors.Is(err, objectstore.ErrUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
