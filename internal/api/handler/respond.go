package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}

// reply sends at most one response. Later attempts are logged and dropped.
type reply struct {
	w      http.ResponseWriter
	logger *slog.Logger
	sent   atomic.Bool
}

func newReply(w http.ResponseWriter, logger *slog.Logger) *reply {
	return &reply{w: w, logger: logger}
}

func (r *reply) json(status int, data interface{}) bool {
	if !r.sent.CompareAndSwap(false, true) {
		r.logger.Warn("response already sent, dropping reply", "status", status)
		return false
	}
	writeJSON(r.w, status, data)
	return true
}

func (r *reply) error(status int, resp ErrorResponse) bool {
	return r.json(status, resp)
}
