package api

import (
	"log"
	"net/http"
	"time"

	"github.com/lox/plantwatch/internal/dashboard"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := IndexData{
		ViewResponse: s.buildView(r.Context(), s.dash.View()),
		Plants:       s.catalog.List(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "dashboard.html", data); err != nil {
		log.Printf("template error: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	v := s.dash.View()
	health := HealthStatus{
		Status:     "ok",
		Backend:    v.Backend,
		Connection: v.Connection,
		PlantID:    v.PlantID,
	}
	if !v.LastUpdated.IsZero() {
		health.LastUpdated = v.LastUpdated.Format(time.RFC3339)
	}

	status := http.StatusOK
	if v.Backend == dashboard.Offline {
		health.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
