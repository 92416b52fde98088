package server

import (
	"context"
	"net/http"

	"app-catalog-drop/internal/logging"
	"app-catalog-drop/internal/updater"
)

// UpdateRunner runs the external update script.
type UpdateRunner interface {
	Run(ctx context.Context) (updater.Result, error)
}

// updateResp always carries output, even when the script printed nothing.
type updateResp struct {
	Status string `json:"status"`
	Output string `json:"output"`
}

// runUpdateHandler handles POST /run-update.
//
// Exit 0 returns 200 {"status":"success","output": stdout}. A non-zero exit
// returns 500 {"status":"error","output": stderr, or stdout if stderr is
// empty}. Failing to start the script returns 500 with the error message as
// output.
func (s *Server) runUpdateHandler(w http.ResponseWriter, r *http.Request) {
	rid := RequestIDFromContext(r.Context())

	if s.updater == nil {
		s.metrics.RecordUpdate(updateResultError)
		writeJSON(w, http.StatusInternalServerError, updateResp{Status: "error", Output: updater.ErrNotConfigured.Error()})
		return
	}

	res, err := s.updater.Run(r.Context())
	if err != nil {
		s.metrics.RecordUpdate(updateResultError)
		logging.Error("run_update_failed", map[string]any{"rid": rid}, err)
		writeJSON(w, http.StatusInternalServerError, updateResp{Status: "error", Output: err.Error()})
		return
	}

	if !res.Success() {
		s.metrics.RecordUpdate(updateResultFailed)
		logging.Warn("run_update_nonzero_exit", map[string]any{
			"rid":       rid,
			"exit_code": res.ExitCode,
		})
		writeJSON(w, http.StatusInternalServerError, updateResp{Status: "error", Output: res.Output()})
		return
	}

	s.metrics.RecordUpdate(updateResultSuccess)
	writeJSON(w, http.StatusOK, updateResp{Status: "success", Output: res.Output()})
}
