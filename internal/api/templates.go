package api

import (
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/lox/plantwatch/internal/models"
	"github.com/lox/plantwatch/internal/series"
)

//go:embed templates/*
var templateFS embed.FS

// newTemplates creates and parses the HTML templates with custom functions.
func newTemplates(registry *series.Registry) *template.Template {
	funcs := template.FuncMap{
		"deref": func(f *float64) string {
			if f == nil {
				return "-"
			}
			return fmt.Sprintf("%.1f", *f)
		},
		"percent": func(f float64) string {
			return fmt.Sprintf("%.0f%%", f*100)
		},
		"metricName": func(id string) string {
			if m, ok := registry.Lookup(series.MetricID(id)); ok {
				return m.Label
			}
			return strings.ReplaceAll(id, "_", " ")
		},
		"healthClass": func(l models.HealthLabel) string {
			return string(l.Class())
		},
	}
	return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}
