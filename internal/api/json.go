package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes returned alongside the message so clients need not parse text.
const (
	codeInvalidInput  = "invalid_input"
	codeUnauthorized  = "unauthorized"
	codeNotFound      = "not_found"
	codeRenderFailed  = "render_failed"
	codeUninitialized = "uninitialized"
	codeInternal      = "internal"
)

var statusCodes = map[int]string{
	http.StatusBadRequest:          codeInvalidInput,
	http.StatusUnauthorized:        codeUnauthorized,
	http.StatusNotFound:            codeNotFound,
	http.StatusUnprocessableEntity: codeRenderFailed,
	http.StatusServiceUnavailable:  codeUninitialized,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Code  string `json:"code" example:"not_found" validate:"required"`
	Error string `json:"error" validate:"required"`
}

// writeErrorJSON writes msg with the code that belongs to status.
func writeErrorJSON(w http.ResponseWriter, status int, msg string) {
	code, ok := statusCodes[status]
	if !ok {
		code = codeInternal
	}
	writeJSON(w, status, errResponse{Code: code, Error: msg})
}
