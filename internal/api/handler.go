package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// maxBodyBytes caps the size of an application payload.
const maxBodyBytes = 64 << 10

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *pipeline.Service
	checks  map[string]Pinger
	version string
	started time.Time
}

// NewHandler creates a new API handler.
func NewHandler(svc *pipeline.Service, checks map[string]Pinger, version string) *Handler {
	return &Handler{
		svc:     svc,
		checks:  checks,
		version: version,
		started: time.Now(),
	}
}

// ReportAccepted is the response for POST /predictions/{id}/report.
type ReportAccepted struct {
	PredictionID string `json:"prediction_id"`
	Status       string `json:"status"`
	ReportURL    string `json:"report_url"`
}

// Predict handles POST /predict.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return
	}

	app, err := domain.ParseApplication(body)
	if err != nil {
		writeError(w, err)
		return
	}

	pred, err := h.svc.Predict(r.Context(), app)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pred)
}

// GetPrediction handles GET /predictions/{id}.
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	pred, err := h.svc.Prediction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

// GetExplanation handles GET /predictions/{id}/explanation.
func (h *Handler) GetExplanation(w http.ResponseWriter, r *http.Request) {
	exp, err := h.svc.Explain(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// GetReport handles GET /predictions/{id}/report, rendering synchronously
// when no report is stored yet.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writePNG(w, report)
}

// RequestReport handles POST /predictions/{id}/report.
func (h *Handler) RequestReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.RequestReport(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ReportAccepted{
		PredictionID: id,
		Status:       "queued",
		ReportURL:    "/reports/" + id,
	})
}

// GetStoredReport handles GET /reports/{id}. It never renders.
func (h *Handler) GetStoredReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.StoredReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writePNG(w, report)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	components := make(map[string]string, len(h.checks))

	for name, c := range h.checks {
		if err := c.Ping(r.Context()); err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}
	if !h.svc.Ready() {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"model_loaded":  h.svc.Ready(),
		"model_version": h.svc.ModelVersion(),
		"risk_rules":    h.svc.RiskRules(),
		"version":       h.version,
		"uptime_s":      int64(time.Since(h.started).Seconds()),
		"components":    components,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.svc.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
			"error": domain.ErrModelUnavailable.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// statusFor maps a pipeline error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSchemaMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writePNG(w http.ResponseWriter, report *domain.Report) {
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(report.Len()))
	w.Header().Set("Content-Disposition", `inline; filename="loan_report_`+report.PredictionID+`.png"`)
	w.WriteHeader(http.StatusOK)
	w.Write(report.Data)
}
