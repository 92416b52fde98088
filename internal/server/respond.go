package server

import (
	"encoding/json"
	"net/http"
)

// envelope is the uniform JSON response body.
type envelope struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
	Output string `json:"output,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes {"error": msg}.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Error: msg})
}

// writeClientError writes a plain-text error unless unified JSON errors are
// enabled, in which case it uses the {"error": msg} envelope.
func (s *Server) writeClientError(w http.ResponseWriter, status int, msg string) {
	if s.jsonErrors {
		writeJSONError(w, status, msg)
		return
	}
	http.Error(w, msg, status)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSONError(w, http.StatusNotFound, "Endpoint not found")
}
