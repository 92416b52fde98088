package server

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"app-catalog-drop/internal/logging"
)

// SaveEvent is one row of the save audit.
type SaveEvent struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	SHA256    string    `json:"sha256,omitempty"`
	Success   bool      `json:"success"`
	ErrorMsg  string    `json:"error_message,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// SaveAuditor persists and lists save events.
type SaveAuditor interface {
	RecordSave(ctx context.Context, ev SaveEvent) error
	RecentSaves(ctx context.Context, limit int) ([]SaveEvent, error)
	Ping(ctx context.Context) error
}

// PGAudit stores save events in the save_events table.
type PGAudit struct {
	db *sql.DB
}

// NewPGAudit wraps an open database whose migrations have been applied.
func NewPGAudit(db *sql.DB) *PGAudit {
	return &PGAudit{db: db}
}

// RecordSave inserts ev, filling ID and CreatedAt when empty.
func (a *PGAudit) RecordSave(ctx context.Context, ev SaveEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO save_events (
			id, created_at, filename, size_bytes, sha256_hex,
			success, error_msg, client_ip, request_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		ev.ID,
		ev.CreatedAt,
		ev.Filename,
		ev.SizeBytes,
		nullString(ev.SHA256),
		ev.Success,
		nullString(ev.ErrorMsg),
		nullString(ev.ClientIP),
		nullString(ev.RequestID),
	)
	return err
}

// RecentSaves returns the newest events first.
func (a *PGAudit) RecentSaves(ctx context.Context, limit int) ([]SaveEvent, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, created_at, filename, size_bytes, sha256_hex,
		       success, error_msg, client_ip, request_id
		FROM save_events
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]SaveEvent, 0, limit)
	for rows.Next() {
		var ev SaveEvent
		var sha, errMsg, ip, rid sql.NullString
		if err := rows.Scan(
			&ev.ID,
			&ev.CreatedAt,
			&ev.Filename,
			&ev.SizeBytes,
			&sha,
			&ev.Success,
			&errMsg,
			&ip,
			&rid,
		); err != nil {
			return nil, err
		}
		ev.SHA256 = sha.String
		ev.ErrorMsg = errMsg.String
		ev.ClientIP = ip.String
		ev.RequestID = rid.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PruneSaves deletes events created before the cutoff.
func (a *PGAudit) PruneSaves(ctx context.Context, before time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM save_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ping checks the database is reachable.
func (a *PGAudit) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// nullString helper for nullable strings
func nullString(s string) sql.NullString {
	return sql.NullString{
		String: s,
		Valid:  s != "",
	}
}

// recordAudit writes the outcome of a store attempt. Failures are logged and
// counted; they never change the response.
func (s *Server) recordAudit(r *http.Request, filename string, stored StoredFile, storeErr error) {
	if s.audit == nil {
		return
	}

	ev := SaveEvent{
		Filename:  filename,
		Success:   storeErr == nil,
		ClientIP:  getClientIP(r),
		RequestID: RequestIDFromContext(r.Context()),
	}
	if storeErr != nil {
		ev.ErrorMsg = storeErr.Error()
	} else {
		ev.SizeBytes = stored.Size
		ev.SHA256 = stored.SHA256
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 3*time.Second)
	defer cancel()

	err := s.auditBreaker.Execute(func() error {
		return s.audit.RecordSave(ctx, ev)
	})
	s.metrics.RecordSideEffect("audit", err)
	if err != nil {
		logging.Warn("audit_write_failed", map[string]any{
			"rid":      ev.RequestID,
			"filename": filename,
			"error":    err.Error(),
		})
	}
}

// savesHandler handles GET /saves?limit=N.
func (s *Server) savesHandler(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		notFound(w, r)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 500 {
		limit = 500
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	events, err := s.audit.RecentSaves(ctx, limit)
	if err != nil {
		logging.Error("audit_query_failed", map[string]any{"rid": RequestIDFromContext(r.Context())}, err)
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"saves": events,
		"count": len(events),
	})
}
