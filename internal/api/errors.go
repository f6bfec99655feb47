package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/jobtrack/internal/pipeline"
	"github.com/kalambet/jobtrack/internal/remote"
	"github.com/kalambet/jobtrack/internal/storage"
	"github.com/kalambet/jobtrack/internal/tracker"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// errorKind names the failure class of err for responses and metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, tracker.ErrMissingCompany):
		return "missing_company"
	case errors.Is(err, tracker.ErrUnknownCompany):
		return "unknown_company"
	case errors.Is(err, tracker.ErrRemoteUnavailable):
		return "remote_unavailable"
	case errors.Is(err, tracker.ErrRemoteMissing):
		return "remote_missing"
	case errors.Is(err, remote.ErrRejected):
		return "remote_rejected"
	case errors.Is(err, pipeline.ErrLocalOnly):
		return "local_only"
	case errors.Is(err, storage.ErrCorruptState):
		return "corrupt_state"
	}
	return "api_error"
}

// writeTrackerError maps tracker failures onto HTTP status codes.
func writeTrackerError(w http.ResponseWriter, err error) {
	kind := errorKind(err)
	code := http.StatusInternalServerError
	switch kind {
	case "missing_company":
		code = http.StatusUnprocessableEntity
	case "unknown_company":
		code = http.StatusNotFound
	case "remote_unavailable", "remote_rejected":
		code = http.StatusBadGateway
	case "remote_missing", "local_only":
		code = http.StatusConflict
	}
	httpError(w, code, kind, "%v", err)
}
