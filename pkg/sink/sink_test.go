package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"autolog/pkg/runlog"
)

func TestNewPostgresDestinationValidation(t *testing.T) {
	tests := []struct {
		name    string
		schema  string
		table   string
		wantErr bool
	}{
		{name: "defaults kept", schema: "", table: ""},
		{name: "valid override", schema: "etl", table: "job_runs"},
		{name: "quoted injection", schema: `automations"; DROP TABLE x; --`, table: "run_log", wantErr: true},
		{name: "dotted table", table: "a.b", wantErr: true},
		{name: "leading digit", schema: "1bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A nil pool fails construction too, so distinguish by message.
			_, err := NewPostgres(nil, WithDestination(tt.schema, tt.table))
			if err == nil {
				t.Fatal("expected error for nil pool")
			}
			gotInvalid := strings.Contains(err.Error(), "invalid destination")
			if gotInvalid != tt.wantErr {
				t.Fatalf("identifier validation = %v (%v), want %v", gotInvalid, err, tt.wantErr)
			}
		})
	}
}

func TestHTTPAppend(t *testing.T) {
	var got runlog.Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/runs" {
			t.Errorf("path = %s, want /v1/runs", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	h, err := NewHTTP(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTP() error: %v", err)
	}

	rec := runlog.Record{
		ID:           uuid.New(),
		AutomationID: 1234,
		StartedAt:    time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		EndedAt:      time.Date(2026, 3, 1, 8, 0, 5, 0, time.UTC),
		DurationMS:   5000,
		Origin:       "worker-1",
		Status:       runlog.StatusSuccess,
		Outputs:      []any{"a", "b"},
		Flags:        []any{"check me"},
	}
	if err := h.Append(context.Background(), &rec); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	if got.AutomationID != rec.AutomationID || got.Status != rec.Status || got.Origin != rec.Origin {
		t.Fatalf("collector received %+v, want %+v", got, rec)
	}
	if len(got.Outputs) != 2 || len(got.Flags) != 1 {
		t.Fatalf("collector received outputs/flags %v/%v", got.Outputs, got.Flags)
	}
}

func TestHTTPAppendRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h, err := NewHTTP(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTP() error: %v", err)
	}

	rec := runlog.Record{ID: uuid.New(), AutomationID: 1, Status: runlog.StatusFailure}
	err = h.Append(context.Background(), &rec)
	if err == nil {
		t.Fatal("expected error for rejected write")
	}
	var pe *runlog.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *runlog.PersistenceError, got %T", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error %v does not mention status", err)
	}
}

func TestNewHTTPValidation(t *testing.T) {
	if _, err := NewHTTP("not-a-url"); err == nil {
		t.Fatal("expected error for relative url")
	}
	if _, err := NewHTTP(""); err == nil {
		t.Fatal("expected error for empty url")
	}
}
