package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"autolog/pkg/bus"
	"autolog/pkg/runlog"
)

// Run is the API view of one persisted automation run.
type Run struct {
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

// Store holds external dependencies required by the collector.
type Store struct {
	DB  *pgxpool.Pool
	ORM *gorm.DB
	Bus *bus.Bus
}

// Config controls runtime behaviour for the collector handlers.
type Config struct {
	Schema string
	Table  string
}

// API wires dependencies and configuration for the collector's HTTP surface.
type API struct {
	store  *Store
	sink   runlog.Sink
	config Config
}

// New initialises the collector API. The sink receives every record accepted
// by the ingest endpoint.
func New(store *Store, s runlog.Sink, cfg Config) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.DB == nil {
		return nil, errors.New("store DB is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}
	if s == nil {
		return nil, errors.New("sink is required")
	}

	if cfg.Schema == "" {
		cfg.Schema = "automations"
	}
	if cfg.Table == "" {
		cfg.Table = "run_log"
	}

	return &API{store: store, sink: s, config: cfg}, nil
}

// Routes constructs the chi router containing all collector endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/runs", a.handleIngestRun)
		r.Get("/runs", a.handleListRuns)
		r.Get("/runs/{id}", a.handleGetRun)
	})

	return r, nil
}
