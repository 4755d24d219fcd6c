package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/lox/plantwatch/internal/dashboard"
	"github.com/lox/plantwatch/internal/models"
	"github.com/lox/plantwatch/internal/render"
	"github.com/lox/plantwatch/internal/series"
)

const (
	maxWait         = 60 * time.Second
	detailedTimeout = 15 * time.Second
	defaultHours    = 24
	maxHistoryHours = 30 * 24
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func (s *Server) handleAPIPlants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.List())
}

// handleAPIView returns the current view. With ?since=<seq>&wait=<duration>
// it blocks until the view moves past seq or the wait expires.
func (s *Server) handleAPIView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if since := q.Get("since"); since != "" {
		seq, err := strconv.ParseUint(since, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		wait := 25 * time.Second
		if ws := q.Get("wait"); ws != "" {
			if wait, err = time.ParseDuration(ws); err != nil || wait < 0 {
				http.Error(w, "invalid wait", http.StatusBadRequest)
				return
			}
		}
		s.waitForChange(r.Context(), seq, min(wait, maxWait))
	}
	writeJSON(w, http.StatusOK, s.buildView(r.Context(), s.dash.View()))
}

func (s *Server) waitForChange(ctx context.Context, seq uint64, wait time.Duration) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		changed := s.dash.Changed()
		if s.dash.View().Seq != seq {
			return
		}
		select {
		case <-changed:
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) buildView(ctx context.Context, v dashboard.View) ViewResponse {
	resp := ViewResponse{
		View:       v,
		Available:  !v.Unavailable(),
		UpdatedAgo: dashboard.FormatTimeAgo(v.LastUpdated, s.now()),
		Metrics:    series.AvailableMetrics(v.Forecast),
	}
	if v.Health != nil {
		resp.HealthClass = v.Health.PredictedHealth.Class()
		resp.ConfidenceLabel, resp.Confidence = v.Health.TopConfidence()
		plant, _ := s.catalog.Get(v.PlantID)
		resp.Suggestions = s.advisor.Suggest(ctx, v.Health.PredictedHealth, plant)
	}
	return resp
}

func (s *Server) handleAPISelect(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid plant id", http.StatusBadRequest)
		return
	}
	switch err := s.dash.SelectEntity(id); {
	case errors.Is(err, dashboard.ErrUnknownPlant):
		writeJSON(w, http.StatusNotFound, actionResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusServiceUnavailable, actionResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusAccepted, actionResponse{Accepted: true})
	}
}

func (s *Server) handleAPIRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.dash.ManualRefresh() {
		writeJSON(w, http.StatusConflict, actionResponse{Error: "refresh not available"})
		return
	}
	writeJSON(w, http.StatusAccepted, actionResponse{Accepted: true})
}

func (s *Server) handleAPIRetry(w http.ResponseWriter, r *http.Request) {
	if !s.dash.Retry(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, actionResponse{Error: "backend still unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Accepted: true})
}

// selectedMetrics parses ?metrics=a,b. An absent or empty parameter selects all.
func (s *Server) selectedMetrics(r *http.Request) []series.MetricID {
	raw := r.URL.Query().Get("metrics")
	if raw == "" {
		return nil
	}
	ids := s.reconciler.Registry.ParseMetricIDs(strings.Split(raw, ","))
	if ids == nil {
		ids = []series.MetricID{}
	}
	return ids
}

// chartForecast returns the displayed forecast, or with ?window=detailed the
// extended forecast for the displayed plant, fetched on demand.
func (s *Server) chartForecast(w http.ResponseWriter, r *http.Request) (*models.Forecast, bool) {
	v := s.dash.View()
	switch r.URL.Query().Get("window") {
	case "", "default":
		return v.Forecast, true
	case "detailed":
	default:
		http.Error(w, "invalid window", http.StatusBadRequest)
		return nil, false
	}
	if s.forecaster == nil || v.PlantID == 0 {
		http.Error(w, "detailed forecast not available", http.StatusServiceUnavailable)
		return nil, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), detailedTimeout)
	defer cancel()
	f, err := s.forecaster.DetailedForecast(ctx, v.PlantID)
	if err != nil {
		log.Printf("api: detailed forecast plant %d: %v", v.PlantID, err)
		http.Error(w, "detailed forecast failed", http.StatusBadGateway)
		return nil, false
	}
	return f, true
}

func (s *Server) handleAPIChart(w http.ResponseWriter, r *http.Request) {
	f, ok := s.chartForecast(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ChartResponse{
		Model:     s.reconciler.Reconcile(f, s.selectedMetrics(r)),
		Available: series.AvailableMetrics(f),
	})
}

func (s *Server) handleChartImage(w http.ResponseWriter, r *http.Request) {
	width, _ := strconv.Atoi(r.URL.Query().Get("w"))
	height, _ := strconv.Atoi(r.URL.Query().Get("h"))
	if width > 2000 || height > 2000 {
		http.Error(w, "image too large", http.StatusBadRequest)
		return
	}

	f, ok := s.chartForecast(w, r)
	if !ok {
		return
	}
	data, err := render.PNG(s.reconciler.Reconcile(f, s.selectedMetrics(r)), width, height)
	if err != nil {
		log.Printf("api: render chart: %v", err)
		http.Error(w, "chart rendering failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// historyPlant resolves ?plant=, defaulting to the displayed plant.
func (s *Server) historyPlant(w http.ResponseWriter, r *http.Request) (int, bool) {
	if s.history == nil {
		http.Error(w, "history not configured", http.StatusServiceUnavailable)
		return 0, false
	}
	plantID := s.dash.View().PlantID
	if p := r.URL.Query().Get("plant"); p != "" {
		id, err := strconv.Atoi(p)
		if err != nil {
			http.Error(w, "invalid plant", http.StatusBadRequest)
			return 0, false
		}
		plantID = id
	}
	if _, ok := s.catalog.Get(plantID); !ok {
		http.Error(w, "unknown plant", http.StatusNotFound)
		return 0, false
	}
	return plantID, true
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	plantID, ok := s.historyPlant(w, r)
	if !ok {
		return
	}

	hours, err := parseHours(r.URL.Query().Get("hours"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	end := s.now()
	start := end.Add(-time.Duration(hours) * time.Hour)
	records, err := s.history.GetReadings(plantID, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.ReadingRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAPILatest(w http.ResponseWriter, r *http.Request) {
	plantID, ok := s.historyPlant(w, r)
	if !ok {
		return
	}
	rec, err := s.history.GetLatestReading(plantID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "no readings recorded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history not configured", http.StatusServiceUnavailable)
		return
	}
	hours, err := parseHours(r.URL.Query().Get("hours"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	counts, err := s.history.PushEventCounts(s.now().Add(-time.Duration(hours) * time.Hour))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func parseHours(raw string) (int, error) {
	if raw == "" {
		return defaultHours, nil
	}
	h, err := strconv.Atoi(raw)
	if err != nil || h <= 0 {
		return 0, errors.New("invalid hours")
	}
	return min(h, maxHistoryHours), nil
}
