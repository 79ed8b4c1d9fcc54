package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/c360/sensorgraph/domain"
)

const internalMessage = "internal server error"

// statusFor maps a taxonomy error to an HTTP status. notFound is the status
// lookup misses get on this route: 404 for direct lookups, 400 when the miss
// happens inside a composite operation.
func statusFor(err error, notFound int) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidRequest, domain.KindSensorAlreadyConnected:
		return http.StatusBadRequest
	case domain.KindGatewayNotFound, domain.KindSensorNotFound, domain.KindSensorTypeNotFound:
		return notFound
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the mapped status. Internal errors are logged in full
// and reported to the client without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, notFound int) {
	status := statusFor(err, notFound)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestIDFrom(r.Context()),
			"error", err)
		writeError(w, status, internalMessage)
		return
	}
	writeError(w, status, clientMessage(err))
}

// clientMessage drops the sentinel prefix for validation errors so the body
// reads "name is required" rather than "invalid request: name is required".
func clientMessage(err error) string {
	msg := err.Error()
	if domain.KindOf(err) == domain.KindInvalidRequest {
		return strings.TrimPrefix(msg, domain.ErrInvalidRequest.Error()+": ")
	}
	return msg
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error","status":500}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}

func writeText(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(message))
}
