// Package handler holds the REST surfaces: alert ingestion, the model
// router, and similarity search. Every endpoint speaks the shared
// {success, data, meta} envelope with stable error codes.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Stable client-visible error codes.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeRateLimited     = "RATE_LIMIT_EXCEEDED"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeNotFound        = "NOT_FOUND"
	CodeInternal        = "INTERNAL_ERROR"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type apiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
	Meta    any       `json:"meta,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, apiResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, apiResponse{
		Success: false,
		Error:   &apiError{Code: code, Message: message, Details: details},
	})
}
