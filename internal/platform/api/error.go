package api

import (
	"net/http"
)

// Error codes shared by every handler.
const (
	CodeInvalidID    = "INVALID_ID"
	CodeInvalidJSON  = "INVALID_JSON"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotEnrolled  = "NOT_ENROLLED"
	CodeNotFound     = "NOT_FOUND"
	CodeUnavailable  = "UNAVAILABLE"
	CodeInternal     = "INTERNAL"
)

type ErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, code, message, requestID string, details map[string]any) {
	WriteJSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: message, Details: details, RequestID: requestID}})
}

func BadRequest(w http.ResponseWriter, code, message, requestID string, details map[string]any) {
	WriteError(w, http.StatusBadRequest, code, message, requestID, details)
}

// InvalidID reports a path or query identifier that is not a UUID.
func InvalidID(w http.ResponseWriter, field, requestID string) {
	BadRequest(w, CodeInvalidID, field+" must be a UUID", requestID, map[string]any{"field": field})
}

func Unauthorized(w http.ResponseWriter, message, requestID string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message, requestID, nil)
}

func Forbidden(w http.ResponseWriter, code, message, requestID string) {
	WriteError(w, http.StatusForbidden, code, message, requestID, nil)
}

func NotFound(w http.ResponseWriter, message, requestID string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message, requestID, nil)
}

func Unavailable(w http.ResponseWriter, message, requestID string) {
	WriteError(w, http.StatusServiceUnavailable, CodeUnavailable, message, requestID, nil)
}

func Internal(w http.ResponseWriter, requestID string) {
	WriteError(w, http.StatusInternalServerError, CodeInternal, "Internal server error", requestID, nil)
}
