package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/plantwatch/internal/api"
	"github.com/lox/plantwatch/internal/catalog"
	"github.com/lox/plantwatch/internal/dashboard"
	"github.com/lox/plantwatch/internal/models"
	"github.com/lox/plantwatch/internal/store"
)

type fakeDashboard struct {
	mu        sync.Mutex
	view      dashboard.View
	changed   chan struct{}
	selected  []int
	refreshOK bool
	retryOK   bool
}

func newFakeDashboard(v dashboard.View) *fakeDashboard {
	return &fakeDashboard{view: v, changed: make(chan struct{})}
}

func (f *fakeDashboard) View() dashboard.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeDashboard) Changed() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changed
}

func (f *fakeDashboard) SelectEntity(id int) error {
	if _, ok := catalog.New().Get(id); !ok {
		return fmt.Errorf("select plant %d: %w", id, dashboard.ErrUnknownPlant)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, id)
	return nil
}

func (f *fakeDashboard) ManualRefresh() bool        { return f.refreshOK }
func (f *fakeDashboard) Retry(context.Context) bool { return f.retryOK }

// bump publishes a new view and wakes waiters.
func (f *fakeDashboard) bump() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.view.Seq++
	close(f.changed)
	f.changed = make(chan struct{})
}

func readyView() dashboard.View {
	plant, _ := catalog.New().Get(1)
	base := time.Now().Add(-time.Minute)
	return dashboard.View{
		PlantID: 1,
		Plant:   &plant,
		Phase:   dashboard.Ready,
		Health: &models.HealthAssessment{
			PlantID:         1,
			PredictedHealth: "Healthy",
			Confidence:      map[string]float64{"Healthy": 0.82, "Warning": 0.18},
			CurrentReadings: models.Reading{SoilMoisture: models.Float(65)},
		},
		Forecast: &models.Forecast{
			PlantID: 1,
			Points: []models.ForecastPoint{
				{Date: models.Timestamp{Time: base}, Reading: models.Reading{SoilMoisture: models.Float(40), Humidity: models.Float(60)}, PredictedHealth: "Healthy"},
				{Date: models.Timestamp{Time: base.Add(4 * time.Hour)}, Reading: models.Reading{SoilMoisture: models.Float(45)}, PredictedHealth: "Warning"},
			},
		},
		LastUpdated: base,
		Backend:     dashboard.Online,
		Seq:         3,
	}
}

func newServer(t *testing.T, d *fakeDashboard, history api.History) http.Handler {
	t.Helper()
	return api.NewServer(api.Config{
		Dashboard: d,
		Catalog:   catalog.New(),
		History:   history,
	}).Handler()
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	d := newFakeDashboard(readyView())
	w := do(t, newServer(t, d, nil), "GET", "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHealthEndpoint_BackendOffline(t *testing.T) {
	t.Parallel()
	v := readyView()
	v.Backend = dashboard.Offline
	w := do(t, newServer(t, newFakeDashboard(v), nil), "GET", "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"degraded"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestPlantsEndpoint(t *testing.T) {
	t.Parallel()
	w := do(t, newServer(t, newFakeDashboard(readyView()), nil), "GET", "/api/plants")
	var plants []models.Plant
	if err := json.NewDecoder(w.Body).Decode(&plants); err != nil {
		t.Fatal(err)
	}
	if len(plants) != 4 {
		t.Errorf("plants = %d, want 4", len(plants))
	}
}

func TestViewEndpoint(t *testing.T) {
	t.Parallel()
	w := do(t, newServer(t, newFakeDashboard(readyView()), nil), "GET", "/api/view")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var got struct {
		PlantID         int     `json:"plant_id"`
		Available       bool    `json:"available"`
		Phase           string  `json:"phase"`
		HealthClass     string  `json:"health_class"`
		ConfidenceLabel string  `json:"confidence_label"`
		Confidence      float64 `json:"confidence"`
		UpdatedAgo      string  `json:"updated_ago"`
		Suggestions     []struct {
			Text string `json:"text"`
		} `json:"suggestions"`
		Metrics []string `json:"metrics"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if !got.Available || got.PlantID != 1 || got.Phase != "ready" {
		t.Errorf("view = %+v", got)
	}
	if got.HealthClass != "healthy" || got.ConfidenceLabel != "Healthy" || got.Confidence != 0.82 {
		t.Errorf("health = %q %q %v", got.HealthClass, got.ConfidenceLabel, got.Confidence)
	}
	// Tomato is a vegetable: three general tips plus one category tip.
	if len(got.Suggestions) != 4 {
		t.Errorf("suggestions = %d, want 4", len(got.Suggestions))
	}
	if len(got.Metrics) != 3 || got.Metrics[0] != "soil_moisture" || got.Metrics[1] != "health" || got.Metrics[2] != "humidity" {
		t.Errorf("metrics = %v", got.Metrics)
	}
	if !strings.HasSuffix(got.UpdatedAgo, "ago") {
		t.Errorf("updated_ago = %q", got.UpdatedAgo)
	}
}

func TestViewEndpoint_Unavailable(t *testing.T) {
	t.Parallel()
	v := dashboard.View{PlantID: 1, Backend: dashboard.Offline, ErrorKind: dashboard.ErrUnavailable}
	w := do(t, newServer(t, newFakeDashboard(v), nil), "GET", "/api/view")
	if !strings.Contains(w.Body.String(), `"available":false`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestViewEndpoint_LongPoll(t *testing.T) {
	t.Parallel()
	d := newFakeDashboard(readyView())
	h := newServer(t, d, nil)

	// A stale seq returns immediately.
	start := time.Now()
	do(t, h, "GET", "/api/view?since=1&wait=5s")
	if time.Since(start) > time.Second {
		t.Error("stale since should not block")
	}

	// The current seq blocks until the view changes.
	go func() {
		time.Sleep(20 * time.Millisecond)
		d.bump()
	}()
	w := do(t, h, "GET", "/api/view?since=3&wait=5s")
	if !strings.Contains(w.Body.String(), `"seq":4`) {
		t.Errorf("body = %s", w.Body.String())
	}

	if w := do(t, h, "GET", "/api/view?since=x"); w.Code != http.StatusBadRequest {
		t.Errorf("invalid since: got %d", w.Code)
	}
}

func TestSelectEndpoint(t *testing.T) {
	t.Parallel()
	d := newFakeDashboard(readyView())
	h := newServer(t, d, nil)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{"POST", "/api/plants/2/select", http.StatusAccepted},
		{"POST", "/api/plants/99/select", http.StatusNotFound},
		{"GET", "/api/plants/2/select", http.StatusMethodNotAllowed},
		{"POST", "/api/plants/abc/select", http.StatusNotFound},
		{"GET", "/api/refresh", http.StatusMethodNotAllowed},
		{"POST", "/api/view", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		if w := do(t, h, tt.method, tt.path); w.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, w.Code, tt.want)
		}
	}
	if len(d.selected) != 1 || d.selected[0] != 2 {
		t.Errorf("selected = %v, want [2]", d.selected)
	}
}

func TestRefreshAndRetryEndpoints(t *testing.T) {
	t.Parallel()
	d := newFakeDashboard(readyView())
	h := newServer(t, d, nil)

	if w := do(t, h, "POST", "/api/refresh"); w.Code != http.StatusConflict {
		t.Errorf("refresh rejected: got %d, want 409", w.Code)
	}
	d.refreshOK = true
	if w := do(t, h, "POST", "/api/refresh"); w.Code != http.StatusAccepted {
		t.Errorf("refresh accepted: got %d, want 202", w.Code)
	}

	if w := do(t, h, "POST", "/api/retry"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("retry offline: got %d, want 503", w.Code)
	}
	d.retryOK = true
	if w := do(t, h, "POST", "/api/retry"); w.Code != http.StatusOK {
		t.Errorf("retry online: got %d, want 200", w.Code)
	}
}

func TestChartEndpoint(t *testing.T) {
	t.Parallel()
	h := newServer(t, newFakeDashboard(readyView()), nil)

	tests := []struct {
		query      string
		wantSeries []string
	}{
		{"", []string{"soil_moisture", "health", "humidity"}},
		{"?metrics=humidity", []string{"humidity"}},
		{"?metrics=soil_moisture,nope", []string{"soil_moisture"}},
		{"?metrics=nope", nil},
	}
	for _, tt := range tests {
		w := do(t, h, "GET", "/api/chart"+tt.query)
		var got struct {
			Empty  bool `json:"empty"`
			Series []struct {
				Metric string `json:"metric"`
			} `json:"series"`
			Segments []struct {
				Dashed bool `json:"dashed"`
			} `json:"segments"`
			Available []string `json:"available_metrics"`
		}
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatalf("%q: %v", tt.query, err)
		}
		if len(got.Series) != len(tt.wantSeries) {
			t.Errorf("%q: series = %+v, want %v", tt.query, got.Series, tt.wantSeries)
			continue
		}
		for i, s := range got.Series {
			if s.Metric != tt.wantSeries[i] {
				t.Errorf("%q: series[%d] = %s, want %s", tt.query, i, s.Metric, tt.wantSeries[i])
			}
		}
		if len(got.Segments) != 1 || !got.Segments[0].Dashed {
			t.Errorf("%q: segments = %+v", tt.query, got.Segments)
		}
		if len(got.Available) != 3 {
			t.Errorf("%q: available = %v", tt.query, got.Available)
		}
	}
}

type fakeForecaster struct {
	mu    sync.Mutex
	calls []int
	err   error
}

func (f *fakeForecaster) DetailedForecast(ctx context.Context, plantID int) (*models.Forecast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, plantID)
	if f.err != nil {
		return nil, f.err
	}
	base := time.Now()
	points := make([]models.ForecastPoint, 42)
	for i := range points {
		points[i] = models.ForecastPoint{
			Date:            models.Timestamp{Time: base.Add(time.Duration(4*i) * time.Hour)},
			Reading:         models.Reading{SoilPH: models.Float(6.5)},
			PredictedHealth: "Healthy",
		}
	}
	return &models.Forecast{PlantID: plantID, Days: 7, Points: points}, nil
}

func TestChartEndpoint_DetailedWindow(t *testing.T) {
	t.Parallel()
	fc := &fakeForecaster{}
	h := api.NewServer(api.Config{
		Dashboard:  newFakeDashboard(readyView()),
		Catalog:    catalog.New(),
		Forecaster: fc,
	}).Handler()

	w := do(t, h, "GET", "/api/chart?window=detailed&metrics=soil_ph")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	var got struct {
		Days   int `json:"days"`
		Series []struct {
			Metric string `json:"metric"`
		} `json:"series"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Days != 7 || len(got.Series) != 1 || got.Series[0].Metric != "soil_ph" {
		t.Errorf("detailed chart = %+v", got)
	}
	if len(fc.calls) != 1 || fc.calls[0] != 1 {
		t.Errorf("forecaster calls = %v, want [1]", fc.calls)
	}

	if w := do(t, h, "GET", "/api/chart?window=weekly"); w.Code != http.StatusBadRequest {
		t.Errorf("invalid window: got %d, want 400", w.Code)
	}

	fc.err = errors.New("backend down")
	if w := do(t, h, "GET", "/api/chart.png?window=detailed"); w.Code != http.StatusBadGateway {
		t.Errorf("failed detailed fetch: got %d, want 502", w.Code)
	}

	noForecaster := newServer(t, newFakeDashboard(readyView()), nil)
	if w := do(t, noForecaster, "GET", "/api/chart?window=detailed"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("without forecaster: got %d, want 503", w.Code)
	}
}

func TestChartImageEndpoint(t *testing.T) {
	t.Parallel()
	h := newServer(t, newFakeDashboard(dashboard.View{PlantID: 1, Backend: dashboard.Online}), nil)

	w := do(t, h, "GET", "/api/chart.png?w=300&h=200")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.HasPrefix(w.Body.String(), "\x89PNG") {
		t.Error("body is not a PNG")
	}

	if w := do(t, h, "GET", "/api/chart.png?w=5000"); w.Code != http.StatusBadRequest {
		t.Errorf("oversized image: got %d", w.Code)
	}
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestHistoryEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()
	s.InsertReading(ctx, 1, now.Add(-2*time.Hour), models.Reading{SoilMoisture: models.Float(41)}, "push")
	s.InsertReading(ctx, 1, now.Add(-48*time.Hour), models.Reading{SoilMoisture: models.Float(50)}, "push")
	s.InsertReading(ctx, 2, now.Add(-time.Hour), models.Reading{SoilMoisture: models.Float(30)}, "push")

	h := newServer(t, newFakeDashboard(readyView()), s)

	tests := []struct {
		query string
		code  int
		count int
	}{
		{"", http.StatusOK, 1},
		{"?hours=72", http.StatusOK, 2},
		{"?plant=2", http.StatusOK, 1},
		{"?plant=4", http.StatusOK, 0},
		{"?plant=9", http.StatusNotFound, 0},
		{"?hours=-1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		w := do(t, h, "GET", "/api/history"+tt.query)
		if w.Code != tt.code {
			t.Errorf("%q: code = %d, want %d", tt.query, w.Code, tt.code)
			continue
		}
		if tt.code != http.StatusOK {
			continue
		}
		var records []models.ReadingRecord
		if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
			t.Fatalf("%q: %v", tt.query, err)
		}
		if len(records) != tt.count {
			t.Errorf("%q: records = %d, want %d", tt.query, len(records), tt.count)
		}
	}
}

func TestLatestReadingEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()
	s.InsertReading(ctx, 1, now.Add(-2*time.Hour), models.Reading{SoilMoisture: models.Float(41)}, "push")
	s.InsertReading(ctx, 1, now.Add(-time.Hour), models.Reading{SoilMoisture: models.Float(38)}, "push")

	h := newServer(t, newFakeDashboard(readyView()), s)

	w := do(t, h, "GET", "/api/history/latest")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	var rec models.ReadingRecord
	if err := json.NewDecoder(w.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.PlantID != 1 || rec.SoilMoisture == nil || *rec.SoilMoisture != 38 {
		t.Errorf("latest = %+v", rec)
	}

	if w := do(t, h, "GET", "/api/history/latest?plant=3"); w.Code != http.StatusNotFound {
		t.Errorf("plant without readings: got %d, want 404", w.Code)
	}
}

func TestHistoryEndpoint_NotConfigured(t *testing.T) {
	t.Parallel()
	h := newServer(t, newFakeDashboard(readyView()), nil)
	if w := do(t, h, "GET", "/api/history"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503", w.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	s.RecordPushEvent(context.Background(), "sensor_reading", 1, true)
	h := newServer(t, newFakeDashboard(readyView()), s)

	w := do(t, h, "GET", "/api/events")
	var counts []store.PushEventCount
	if err := json.NewDecoder(w.Body).Decode(&counts); err != nil {
		t.Fatal(err)
	}
	if len(counts) != 1 || counts[0].Applied != 1 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestIndexPage(t *testing.T) {
	t.Parallel()
	h := newServer(t, newFakeDashboard(readyView()), nil)
	w := do(t, h, "GET", "/")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"Tomato Plant", "Snake Plant", "Healthy", "Care suggestions", `id="chart"`,
		`data-metrics="soil_moisture">Soil Moisture</a>`} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(body, "Prediction service unavailable") {
		t.Error("unexpected unavailable banner")
	}
}

func TestIndexPage_Unavailable(t *testing.T) {
	t.Parallel()
	v := dashboard.View{PlantID: 1, Backend: dashboard.Offline}
	w := do(t, newServer(t, newFakeDashboard(v), nil), "GET", "/")
	body := w.Body.String()
	if !strings.Contains(body, "Prediction service unavailable") {
		t.Error("expected unavailable banner")
	}
	if strings.Contains(body, `id="chart"`) {
		t.Error("chart should not render while unavailable")
	}
}

func TestIndexPage_Loading(t *testing.T) {
	t.Parallel()
	v := dashboard.View{PlantID: 1, Phase: dashboard.Loading, Backend: dashboard.Checking}
	w := do(t, newServer(t, newFakeDashboard(v), nil), "GET", "/")
	if !strings.Contains(w.Body.String(), "Loading plant data") {
		t.Error("expected loading state")
	}
}
