package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"app-catalog-drop/internal/logging"
)

// ErrMissingContentLength is returned when a save request carries no usable
// Content-Length header.
var ErrMissingContentLength = errors.New("missing or invalid Content-Length header")

// saveReq is the JSON body of POST /save. Pointers distinguish an absent or
// null field from an empty string: empty content is a valid save.
type saveReq struct {
	Filename *string `json:"filename"`
	Content  *string `json:"content"`
}

// readSaveBody reads exactly Content-Length bytes from the request.
func (s *Server) readSaveBody(r *http.Request) ([]byte, int, error) {
	n := r.ContentLength
	if n < 0 || (n == 0 && r.Header.Get("Content-Length") == "") {
		return nil, http.StatusInternalServerError, ErrMissingContentLength
	}
	if s.maxBodyBytes > 0 && n > s.maxBodyBytes {
		return nil, http.StatusRequestEntityTooLarge, errors.New("request body too large")
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r.Body, buf); err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("read body: %w", err)
	}
	return buf, 0, nil
}

// decodeSaveReq parses the body. Anything that is not a JSON object fails.
func decodeSaveReq(body []byte) (saveReq, error) {
	var req saveReq
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return saveReq{}, err
		}
		return saveReq{}, errors.New("request body must be a JSON object")
	}
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return saveReq{}, err
	}
	return req, nil
}

// saveHandler handles POST /save.
//
// Request body: {"filename": string, "content": string}
// Responses:
//   - 200 {"status":"success"}
//   - 400 plain text when filename or content is missing
//   - 403 plain text for path traversal, 403 {"error":"File not allowed"} otherwise
//   - 500 {"error": "..."} for any other failure
func (s *Server) saveHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rid := RequestIDFromContext(r.Context())
	log := logging.Default().With(map[string]any{"rid": rid})

	body, status, err := s.readSaveBody(r)
	if err != nil {
		s.metrics.RecordSave(saveResultError, 0, time.Since(start))
		log.Warn("save_body_rejected", map[string]any{"status": status, "error": err.Error()})
		writeJSONError(w, status, err.Error())
		return
	}

	req, err := decodeSaveReq(body)
	if err != nil {
		s.metrics.RecordSave(saveResultError, 0, time.Since(start))
		log.Warn("save_bad_json", map[string]any{"error": err.Error()})
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Filename == nil || *req.Filename == "" || req.Content == nil {
		s.metrics.RecordSave(saveResultBadRequest, 0, time.Since(start))
		s.writeClientError(w, http.StatusBadRequest, "Missing filename or content")
		return
	}

	name, err := ValidateFilename(*req.Filename, s.allow)
	switch {
	case errors.Is(err, ErrPathTraversal):
		s.metrics.RecordSave(saveResultTraversal, 0, time.Since(start))
		log.Warn("save_path_traversal", map[string]any{"filename": *req.Filename, "ip": getClientIP(r)})
		s.writeClientError(w, http.StatusForbidden, "Invalid filename")
		return
	case errors.Is(err, ErrNotAllowed):
		s.metrics.RecordSave(saveResultNotAllowed, 0, time.Since(start))
		log.Warn("save_not_allowed", map[string]any{"filename": *req.Filename})
		writeJSONError(w, http.StatusForbidden, "File not allowed")
		return
	case err != nil:
		s.metrics.RecordSave(saveResultBadRequest, 0, time.Since(start))
		s.writeClientError(w, http.StatusBadRequest, "Missing filename or content")
		return
	}

	stored, err := s.store.Store(r.Context(), name, *req.Content)
	s.recordAudit(r, name.String(), stored, err)
	if err != nil {
		s.metrics.RecordSave(saveResultError, 0, time.Since(start))
		log.Error("save_failed", map[string]any{"filename": name.String()}, err)
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.metrics.RecordSave(saveResultSuccess, stored.Size, time.Since(start))
	log.Info("save_committed", map[string]any{
		"filename":    stored.Name,
		"size_bytes":  stored.Size,
		"sha256":      stored.SHA256,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	s.mirrorSaved(r, stored, *req.Content)

	writeJSON(w, http.StatusOK, envelope{Status: "success"})
}
