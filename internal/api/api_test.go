package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/predictor"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/testutil"
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

// createTestServer creates a server over the fixture model.
func createTestServer(t *testing.T, eventBus domain.EventBus, opts Options) *Server {
	t.Helper()
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	bundle, err := model.FromBytes(testutil.ModelJSON, testutil.EncoderJSON)
	if err != nil {
		t.Fatalf("failed to load fixture model: %v", err)
	}
	engine, err := rules.NewDefaultEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	p := predictor.FromBundle(bundle, engine, decision.NewProcessor(0.5))

	svc, err := pipeline.New(pipeline.Config{
		Predictor:            p,
		Explainer:            explain.New(p, explain.Options{NumSamples: 1000, Workers: 4}),
		Store:                cache.NewStore(cache.NewLRUCache(100), time.Hour),
		Bus:                  eventBus,
		MaxConcurrentRenders: 1,
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	if opts.Version == "" {
		opts.Version = "test-v1"
	}
	return NewServer(cfg, svc, opts)
}

func do(server *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func predict(t *testing.T, server *Server, app *domain.Application) domain.Prediction {
	t.Helper()
	body, _ := json.Marshal(app)
	rr := do(server, http.MethodPost, "/predict", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var pred domain.Prediction
	if err := json.Unmarshal(rr.Body.Bytes(), &pred); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return pred
}

func TestPredictEndpoint(t *testing.T) {
	server := createTestServer(t, nil, Options{})

	t.Run("Approved", func(t *testing.T) {
		pred := predict(t, server, testutil.ApprovedApplication())

		if pred.ID == "" {
			t.Error("expected id in response")
		}
		if pred.Decision != domain.DecisionApproved {
			t.Errorf("expected decision 1, got %d", pred.Decision)
		}
		if len(pred.RiskFactors) != 0 {
			t.Errorf("expected no risk factors, got %v", pred.RiskFactors)
		}
		if pred.Metadata.TraceID == "" {
			t.Error("expected trace_id in metadata")
		}
	})

	t.Run("RiskFactors", func(t *testing.T) {
		pred := predict(t, server, testutil.RiskyApplication())

		if pred.Decision != domain.DecisionRejected {
			t.Errorf("expected decision 0, got %d", pred.Decision)
		}
		if len(pred.RiskFactors) != 5 {
			t.Errorf("expected 5 risk factors, got %v", pred.RiskFactors)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/predict", []byte("not-json"))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingField", func(t *testing.T) {
		rr := do(server, http.MethodPost, "/predict", []byte(`{"person_age": 30}`))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ZeroIncome", func(t *testing.T) {
		app := testutil.ApprovedApplication()
		app.PersonIncome = 0
		body, _ := json.Marshal(app)

		rr := do(server, http.MethodPost, "/predict", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if !strings.Contains(resp["error"], "invalid input") {
			t.Errorf("expected invalid input error, got '%s'", resp["error"])
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		body, _ := json.Marshal(testutil.ApprovedApplication())
		req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(body))
		req.Header.Set(TraceIDHeader, "trace-from-client")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") != "trace-from-client" {
			t.Errorf("expected client trace ID, got '%s'", rr.Header().Get("X-Trace-ID"))
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestPredictionEndpoints(t *testing.T) {
	server := createTestServer(t, nil, Options{})
	pred := predict(t, server, testutil.ApprovedApplication())

	t.Run("GetPrediction", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/predictions/"+pred.ID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var got domain.Prediction
		json.Unmarshal(rr.Body.Bytes(), &got)
		if got.ID != pred.ID || got.Probability != pred.Probability {
			t.Errorf("stored prediction differs: %+v", got)
		}
	})

	t.Run("GetExplanation", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/predictions/"+pred.ID+"/explanation", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var exp domain.Explanation
		if err := json.Unmarshal(rr.Body.Bytes(), &exp); err != nil {
			t.Fatalf("failed to parse explanation: %v", err)
		}
		if len(exp.Attributions) == 0 {
			t.Error("expected attributions")
		}
		if len(exp.Positive)+len(exp.Negative) != len(exp.Attributions) {
			t.Error("positive and negative factors should partition the attributions")
		}
	})

	t.Run("StoredReportMissing", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/reports/"+pred.ID, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("GetReport", func(t *testing.T) {
		rr := do(server, http.MethodGet, "/predictions/"+pred.ID+"/report", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if rr.Header().Get("Content-Type") != domain.ContentTypePNG {
			t.Errorf("expected image/png, got %s", rr.Header().Get("Content-Type"))
		}
		cfg, err := png.DecodeConfig(bytes.NewReader(rr.Body.Bytes()))
		if err != nil {
			t.Fatalf("response is not a PNG: %v", err)
		}
		if cfg.Width != 2481 || cfg.Height != 3507 {
			t.Errorf("expected 2481x3507, got %dx%d", cfg.Width, cfg.Height)
		}

		stored := do(server, http.MethodGet, "/reports/"+pred.ID, nil)
		if stored.Code != http.StatusOK {
			t.Errorf("expected stored report, got %d", stored.Code)
		}
		if !bytes.Equal(stored.Body.Bytes(), rr.Body.Bytes()) {
			t.Error("stored report differs from rendered report")
		}
	})

	t.Run("UnknownID", func(t *testing.T) {
		for _, path := range []string{"/predictions/nope", "/predictions/nope/explanation", "/predictions/nope/report"} {
			rr := do(server, http.MethodGet, path, nil)
			if rr.Code != http.StatusNotFound {
				t.Errorf("%s: expected status 404, got %d", path, rr.Code)
			}
		}
	})
}

func TestRequestReport(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()
	server := createTestServer(t, eventBus, Options{})

	requested := make(chan domain.ReportRequest, 1)
	eventBus.Subscribe(context.Background(), domain.TopicReportRequested, func(ctx context.Context, msg *domain.Message) error {
		var req domain.ReportRequest
		json.Unmarshal(msg.Payload, &req)
		requested <- req
		return nil
	})

	pred := predict(t, server, testutil.RiskyApplication())

	rr := do(server, http.MethodPost, "/predictions/"+pred.ID+"/report", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp ReportAccepted
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.ReportURL != "/reports/"+pred.ID {
		t.Errorf("unexpected report url %s", resp.ReportURL)
	}

	select {
	case req := <-requested:
		if req.PredictionID != pred.ID {
			t.Errorf("expected prediction %s, got %s", pred.ID, req.PredictionID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for report request")
	}

	rr = do(server, http.MethodPost, "/predictions/unknown/report", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestReportRateLimit(t *testing.T) {
	server := createTestServer(t, nil, Options{
		Report: domain.ReportConfig{RateLimit: 0.001, RateBurst: 1},
	})

	first := do(server, http.MethodGet, "/reports/any", nil)
	if first.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", first.Code)
	}

	second := do(server, http.MethodGet, "/reports/any", nil)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", second.Code)
	}

	// Scoring routes are not limited.
	predict(t, server, testutil.ApprovedApplication())
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		server := createTestServer(t, nil, Options{})
		rr := do(server, http.MethodGet, "/health", nil)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]any
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%v'", resp["status"])
		}
		if resp["model_loaded"] != true {
			t.Errorf("expected model_loaded true, got %v", resp["model_loaded"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %v", resp["version"])
		}

		ruleIDs, _ := resp["risk_rules"].([]any)
		want := []any{"low-credit-score", "previous-defaults", "high-debt-to-income", "no-employment", "short-credit-history"}
		if !reflect.DeepEqual(ruleIDs, want) {
			t.Errorf("expected risk rules %v, got %v", want, resp["risk_rules"])
		}
	})

	t.Run("Degraded", func(t *testing.T) {
		server := createTestServer(t, nil, Options{
			Checks: map[string]Pinger{"cache": failingPinger{}},
		})
		rr := do(server, http.MethodGet, "/health", nil)

		var resp map[string]any
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "degraded" {
			t.Errorf("expected status 'degraded', got '%v'", resp["status"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		server := createTestServer(t, nil, Options{})
		rr := do(server, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestModelNotLoaded(t *testing.T) {
	svc, err := pipeline.New(pipeline.Config{
		Predictor: predictor.FromBundle(nil, nil, nil),
		Store:     cache.NewStore(cache.NewLRUCache(10), 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	server := NewServer(domain.ServerConfig{Port: 8080}, svc, Options{})

	rr := do(server, http.MethodGet, "/ready", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}

	body, _ := json.Marshal(testutil.ApprovedApplication())
	rr = do(server, http.MethodPost, "/predict", body)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := createTestServer(t, nil, Options{})
	predict(t, server, testutil.ApprovedApplication())

	rr := do(server, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `kestrel_predictions_total{decision="APPROVED"} 1`) {
		t.Error("expected approved prediction counter")
	}
	if !strings.Contains(body, `route="/predict"`) {
		t.Error("expected request metrics labelled by route")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrModelUnavailable, http.StatusServiceUnavailable},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrSchemaMismatch, http.StatusUnprocessableEntity},
		{domain.ErrExplanationFailed, http.StatusInternalServerError},
		{domain.ErrRenderFailed, http.StatusInternalServerError},
		{domain.ErrNotFound, http.StatusNotFound},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
