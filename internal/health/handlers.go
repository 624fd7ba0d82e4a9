package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	serrors "github.com/devrev/screenhub/internal/errors"
	"github.com/devrev/screenhub/internal/model"
)

// LivenessHandler handles HTTP liveness probe requests
func (e *Engine) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	status := e.GetStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy": true,
		"status":  status.Status,
	}, e.logger)
}

// ReadinessHandler handles HTTP readiness probe requests
func (e *Engine) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := e.IsReady()
	status := e.GetStatus()

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"ready":  ready,
		"status": status.Status,
	}, e.logger)
}

// StatusHandler returns the full status. ?refresh=true runs a manual cycle first.
func (e *Engine) StatusHandler(w http.ResponseWriter, r *http.Request) {
	status := e.GetStatus()
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		s, err := e.RunManualHealthCheck(r.Context())
		if errors.Is(err, ErrCycleInProgress) {
			err = serrors.NewServiceError(serrors.ErrCodeConflict, "health cycle already in progress", err)
		}
		if err != nil {
			writeError(w, err, e.logger)
			return
		}
		status = s
	}

	code := http.StatusOK
	if status.Status == model.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status, e.logger)
}

// AlertsHandler returns alert history; ?days=N defaults to 1
func (e *Engine) AlertsHandler(w http.ResponseWriter, r *http.Request) {
	days := 1
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, serrors.ValidationFailure("days", "must be an integer"), e.logger)
			return
		}
		days = n
	}

	history, err := e.GetAlertHistory(r.Context(), days)
	if err != nil {
		writeError(w, err, e.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":  e.ActiveAlerts(),
		"history": history,
	}, e.logger)
}

// writeError renders err with the HTTP status its error code maps to
func writeError(w http.ResponseWriter, err error, logger *zap.Logger) {
	body := map[string]interface{}{
		"error": err.Error(),
		"code":  serrors.GetCode(err).String(),
	}
	var se *serrors.ServiceError
	if errors.As(err, &se) && len(se.Details) > 0 {
		body["details"] = se.Details
	}
	writeJSON(w, serrors.HTTPStatus(err), body, logger)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to encode response", zap.Error(err))
	}
}
