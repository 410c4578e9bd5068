package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"autolog/pkg/bus"
	"autolog/pkg/db"
	"autolog/pkg/runlog"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (a *API) handleIngestRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID           string         `json:"id"`
		AutomationID int64          `json:"automation_id"`
		StartedAt    time.Time      `json:"started_at"`
		EndedAt      time.Time      `json:"ended_at"`
		DurationMS   int64          `json:"duration_ms"`
		Origin       string         `json:"origin"`
		Context      map[string]any `json:"context"`
		Status       string         `json:"status"`
		Outputs      []any          `json:"outputs"`
		Flags        []any          `json:"flags"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	if req.AutomationID == 0 {
		respondError(w, http.StatusBadRequest, errors.New("automation_id is required"))
		return
	}

	id := uuid.New()
	if strings.TrimSpace(req.ID) != "" {
		parsed, err := uuid.Parse(req.ID)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("invalid run id: %w", err))
			return
		}
		id = parsed
	}

	status := runlog.Status(strings.TrimSpace(req.Status))
	if status == "" {
		status = runlog.StatusSuccess
	}
	if status != runlog.StatusSuccess && status != runlog.StatusFailure {
		respondError(w, http.StatusBadRequest, fmt.Errorf("status %q must be success or failure", req.Status))
		return
	}

	now := time.Now().UTC()
	if req.StartedAt.IsZero() {
		req.StartedAt = now
	}
	if req.EndedAt.IsZero() {
		req.EndedAt = req.StartedAt
	}
	if req.EndedAt.Before(req.StartedAt) {
		respondError(w, http.StatusBadRequest, errors.New("ended_at must not precede started_at"))
		return
	}
	if req.DurationMS == 0 {
		req.DurationMS = req.EndedAt.Sub(req.StartedAt).Milliseconds()
	}
	if req.Context == nil {
		req.Context = map[string]any{}
	}

	rec := runlog.Record{
		ID:           id,
		AutomationID: req.AutomationID,
		StartedAt:    req.StartedAt.UTC(),
		EndedAt:      req.EndedAt.UTC(),
		DurationMS:   req.DurationMS,
		Origin:       req.Origin,
		Context:      req.Context,
		Status:       status,
		Outputs:      req.Outputs,
		Flags:        req.Flags,
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.sink.Append(ctx, &rec); err != nil {
		appendFailures.Inc()
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	runsRecorded.WithLabelValues(string(status)).Inc()

	a.publishRecorded(r, rec)

	respondJSON(w, http.StatusCreated, map[string]any{"run": recordToView(rec)})
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		if parsed > maxListLimit {
			parsed = maxListLimit
		}
		limit = parsed
	}

	conditions := []string{}
	args := []any{}

	if v := strings.TrimSpace(r.URL.Query().Get("automation_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("invalid automation_id %q", v))
			return
		}
		args = append(args, id)
		conditions = append(conditions, fmt.Sprintf("automation_id = $%d", len(args)))
	}
	if v := strings.TrimSpace(r.URL.Query().Get("status")); v != "" {
		if v != string(runlog.StatusSuccess) && v != string(runlog.StatusFailure) {
			respondError(w, http.StatusBadRequest, fmt.Errorf("status %q must be success or failure", v))
			return
		}
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
        SELECT id, automation_id, started_at, ended_at, duration_ms, origin, context, status, outputs, flags
        FROM %s %s
        ORDER BY started_at DESC
        LIMIT $%d
    `, a.queryTable(), where, len(args))

	var rows []runRow
	if err := db.Select(r.Context(), a.store.DB, &rows, query, args...); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.toAPI()
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		runs = append(runs, run)
	}

	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (a *API) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid run id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var row runRow
	err = a.store.ORM.WithContext(ctx).Table(a.queryTable()).First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("run %s not found", id))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	run, err := row.toAPI()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := db.Ping(r.Context(), a.store.DB); err != nil {
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) queryTable() string {
	return a.config.Schema + "." + a.config.Table
}

// publishRecorded announces a persisted run: one message per row, nothing
// when no bus is configured.
func (a *API) publishRecorded(r *http.Request, rec runlog.Record) {
	if a.store.Bus == nil {
		return
	}
	_ = a.store.Bus.Publish(r.Context(), bus.RecordedSubject, map[string]any{
		"run_id":        rec.ID,
		"automation_id": rec.AutomationID,
		"status":        rec.Status,
		"origin":        rec.Origin,
		"ended_at":      rec.EndedAt,
	})
}

func recordToView(rec runlog.Record) Run {
	view := Run{
		ID:           rec.ID.String(),
		AutomationID: rec.AutomationID,
		StartedAt:    rec.StartedAt,
		EndedAt:      rec.EndedAt,
		DurationMS:   rec.DurationMS,
		Origin:       rec.Origin,
		Context:      rec.Context,
		Status:       string(rec.Status),
		Outputs:      rec.Outputs,
		Flags:        rec.Flags,
	}
	if view.Context == nil {
		view.Context = map[string]any{}
	}
	if view.Outputs == nil {
		view.Outputs = []any{}
	}
	if view.Flags == nil {
		view.Flags = []any{}
	}
	return view
}
