package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error      bool   `json:"error" example:"true"`
	Message    string `json:"message" example:"File not found"`
	StatusCode int    `json:"statusCode" example:"404"`
}

func errorBody(status int, msg string) errResponse {
	return errResponse{Error: true, Message: msg, StatusCode: status}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody(status, msg))
}
