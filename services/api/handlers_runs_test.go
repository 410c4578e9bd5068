package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"autolog/pkg/runlog"
)

type captureSink struct {
	mu   sync.Mutex
	recs []runlog.Record
	err  error
}

func (s *captureSink) Append(_ context.Context, rec *runlog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, *rec)
	return nil
}

func newTestAPI(s runlog.Sink) *API {
	return &API{
		store:  &Store{},
		sink:   s,
		config: Config{Schema: "automations", Table: "run_log"},
	}
}

func TestHandleIngestRun(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "minimal record",
			body:       `{"automation_id": 77}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "full record",
			body:       `{"automation_id": 77, "status": "failure", "started_at": "2026-03-01T08:00:00Z", "ended_at": "2026-03-01T08:01:30Z", "origin": "worker-01", "outputs": ["step one"], "flags": ["needs review"]}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "missing automation id",
			body:       `{"origin": "worker-01"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown status",
			body:       `{"automation_id": 77, "status": "crashed"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "end before start",
			body:       `{"automation_id": 77, "started_at": "2026-03-01T08:00:00Z", "ended_at": "2026-03-01T07:00:00Z"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed run id",
			body:       `{"automation_id": 77, "id": "not-a-uuid"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field rejected",
			body:       `{"automation_id": 77, "machine": "m-1"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snk := &captureSink{}
			a := newTestAPI(snk)

			req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			a.handleIngestRun(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantStatus != http.StatusCreated {
				if len(snk.recs) != 0 {
					t.Fatalf("rejected request persisted %d records", len(snk.recs))
				}
				return
			}

			if len(snk.recs) != 1 {
				t.Fatalf("persisted %d records, want 1", len(snk.recs))
			}

			var resp struct {
				Run Run `json:"run"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Run.AutomationID != 77 {
				t.Fatalf("automation_id = %d, want 77", resp.Run.AutomationID)
			}
			if resp.Run.ID == "" {
				t.Fatal("response run has no id")
			}
			if resp.Run.Outputs == nil || resp.Run.Flags == nil || resp.Run.Context == nil {
				t.Fatal("response run has nil collections")
			}
		})
	}
}

func TestHandleIngestRunSinkFailure(t *testing.T) {
	snk := &captureSink{err: &runlog.PersistenceError{Err: context.DeadlineExceeded}}
	a := newTestAPI(snk)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(`{"automation_id": 5}`))
	rr := httptest.NewRecorder()
	a.handleIngestRun(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestHandleIngestRunDefaultsDuration(t *testing.T) {
	snk := &captureSink{}
	a := newTestAPI(snk)

	body := `{"automation_id": 9, "started_at": "2026-03-01T08:00:00Z", "ended_at": "2026-03-01T08:00:45Z"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(body))
	rr := httptest.NewRecorder()
	a.handleIngestRun(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if got := snk.recs[0].DurationMS; got != 45_000 {
		t.Fatalf("duration_ms = %d, want 45000", got)
	}
}
