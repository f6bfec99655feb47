package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kalambet/jobtrack/internal/evidence"
	"github.com/kalambet/jobtrack/internal/pipeline"
	"github.com/kalambet/jobtrack/internal/tracker"
)

const maxEvidenceBodySize = 1 << 20 // 1MB

// TrackRequest is the body of POST /evidence.
type TrackRequest struct {
	Kind    string `json:"kind" validate:"required,oneof=call email"`
	Text    string `json:"text" validate:"required,max=200000"`
	Company string `json:"company" validate:"max=200"`
	Summary string `json:"summary"`
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	// At is when the interaction happened; free-form dates are accepted.
	At string `json:"at"`
}

// SetStatusRequest is the body of PUT /companies/{name}/status.
type SetStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=2000"`
}

type AppDeps struct {
	Tracker *pipeline.Tracker
	Metrics *Metrics // optional
	Token   string
	// FollowUpAfter is the default follow-up threshold.
	FollowUpAfter time.Duration
	Log           *slog.Logger
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewAppHandler returns the authenticated JSON API.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.FollowUpAfter <= 0 {
		deps.FollowUpAfter = 7 * 24 * time.Hour
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "local_only": deps.Tracker.LocalOnly()})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		if deps.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
		}
		r.Post("/evidence", handleTrack(deps))
		r.Get("/companies", handleListCompanies(deps))
		r.Get("/companies/{name}", handleGetCompany(deps))
		r.Put("/companies/{name}/status", handleSetStatus(deps))
		r.Get("/followups", handleFollowUps(deps))
		r.Get("/stats", handleStats(deps))
		r.Post("/sync", handleSync(deps))
	})
	return r
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxEvidenceBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	if err := validate.Struct(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return strings.Join(msgs, "; ")
}

func handleTrack(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TrackRequest
		if !decodeBody(w, r, &req) {
			return
		}
		kind, err := tracker.ParseSourceKind(req.Kind)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		var at time.Time
		if req.At != "" {
			if at, err = evidence.ParseWhen(req.At, time.Local); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid at: %v", err)
				return
			}
		}

		start := time.Now()
		res, err := deps.Tracker.Track(r.Context(), evidence.Input{
			Kind:    kind,
			Text:    req.Text,
			Company: req.Company,
			Summary: req.Summary,
			Sender:  req.Sender,
			Subject: req.Subject,
		}, at)
		if err != nil {
			deps.Metrics.observe(kind, start, nil, err)
			writeTrackerError(w, err)
			return
		}
		deps.Metrics.observe(kind, start, &res.Record, nil)

		code := http.StatusOK
		if res.Created {
			code = http.StatusCreated
		}
		writeJSON(w, code, toTrackView(res))
	}
}

func handleListCompanies(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var statuses []tracker.Status
		for _, raw := range r.URL.Query()["status"] {
			st, err := tracker.ParseStatus(raw)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			statuses = append(statuses, st)
		}
		recs, err := deps.Tracker.List(r.Context(), statuses...)
		if err != nil {
			writeTrackerError(w, err)
			return
		}
		out := make([]companyView, 0, len(recs))
		for _, rec := range recs {
			out = append(out, toCompanyView(rec, false))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetCompany(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Tracker.Get(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			writeTrackerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toCompanyView(rec, true))
	}
}

func handleSetStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetStatusRequest
		if !decodeBody(w, r, &req) {
			return
		}
		st, err := tracker.ParseStatus(req.Status)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		res, err := deps.Tracker.SetStatus(r.Context(), chi.URLParam(r, "name"), st, req.Reason)
		if err != nil {
			writeTrackerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTrackView(res))
	}
}

func handleFollowUps(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after := deps.FollowUpAfter
		if raw := r.URL.Query().Get("days"); raw != "" {
			days, err := strconv.Atoi(raw)
			if err != nil || days < 1 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "days must be a positive integer")
				return
			}
			after = time.Duration(days) * 24 * time.Hour
		}
		recs, err := deps.Tracker.FollowUps(r.Context(), after)
		if err != nil {
			writeTrackerError(w, err)
			return
		}
		out := make([]companyView, 0, len(recs))
		for _, rec := range recs {
			out = append(out, toCompanyView(rec, false))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Tracker.Stats(r.Context())
		if err != nil {
			writeTrackerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toStatsView(st))
	}
}

func handleSync(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := deps.Tracker.Sync(r.Context())
		if errors.Is(err, pipeline.ErrLocalOnly) {
			writeTrackerError(w, err)
			return
		}
		failed := make(map[string]string, len(rep.Failed))
		for name, ferr := range rep.Failed {
			failed[name] = ferr.Error()
		}
		code := http.StatusOK
		if err != nil && len(rep.Failed) == 0 {
			writeTrackerError(w, err)
			return
		}
		if len(failed) > 0 {
			code = http.StatusMultiStatus
		}
		writeJSON(w, code, map[string]any{"pushed": rep.Pushed, "failed": failed})
	}
}
