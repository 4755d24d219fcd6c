package api

import (
	"context"
	"html/template"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/plantwatch/internal/advice"
	"github.com/lox/plantwatch/internal/catalog"
	"github.com/lox/plantwatch/internal/dashboard"
	"github.com/lox/plantwatch/internal/models"
	"github.com/lox/plantwatch/internal/series"
	"github.com/lox/plantwatch/internal/store"
)

// Dashboard is the controller surface the HTTP layer drives.
type Dashboard interface {
	View() dashboard.View
	Changed() <-chan struct{}
	SelectEntity(plantID int) error
	ManualRefresh() bool
	Retry(ctx context.Context) bool
}

// History serves locally recorded readings and push statistics.
type History interface {
	GetReadings(plantID int, start, end time.Time) ([]models.ReadingRecord, error)
	GetLatestReading(plantID int) (*models.ReadingRecord, error)
	PushEventCounts(since time.Time) ([]store.PushEventCount, error)
}

// Forecaster serves the extended forecast window on demand.
type Forecaster interface {
	DetailedForecast(ctx context.Context, plantID int) (*models.Forecast, error)
}

type Config struct {
	Addr      string
	Dashboard Dashboard
	Catalog   catalog.Catalog
	Advisor   advice.Advisor
	// History is optional; history endpoints return 503 without it.
	History History
	// Forecaster is optional; ?window=detailed returns 503 without it.
	Forecaster Forecaster
}

type Server struct {
	addr       string
	dash       Dashboard
	catalog    catalog.Catalog
	advisor    advice.Advisor
	history    History
	forecaster Forecaster
	reconciler *series.Reconciler
	tmpl       *template.Template
	now        func() time.Time
}

func NewServer(cfg Config) *Server {
	if cfg.Advisor == nil {
		cfg.Advisor = advice.Static{}
	}
	reconciler := series.NewReconciler()
	return &Server{
		addr:       cfg.Addr,
		dash:       cfg.Dashboard,
		catalog:    cfg.Catalog,
		advisor:    cfg.Advisor,
		history:    cfg.History,
		forecaster: cfg.Forecaster,
		reconciler: reconciler,
		tmpl:       newTemplates(reconciler.Registry),
		now:        time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/plants", s.handleAPIPlants).Methods(http.MethodGet)
	r.HandleFunc("/api/plants/{id:[0-9]+}/select", s.handleAPISelect).Methods(http.MethodPost)
	r.HandleFunc("/api/view", s.handleAPIView).Methods(http.MethodGet)
	r.HandleFunc("/api/refresh", s.handleAPIRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/retry", s.handleAPIRetry).Methods(http.MethodPost)
	r.HandleFunc("/api/chart", s.handleAPIChart).Methods(http.MethodGet)
	r.HandleFunc("/api/chart.png", s.handleChartImage).Methods(http.MethodGet)
	r.HandleFunc("/api/history", s.handleAPIHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/history/latest", s.handleAPILatest).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.handleAPIEvents).Methods(http.MethodGet)

	var h http.Handler = r
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(h)
	h = handlers.CombinedLoggingHandler(os.Stdout, h)
	return h
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("api: shutdown: %v", err)
		}
	}()

	log.Printf("api: listening on %s", s.addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
