// Package pipeline runs the predict, explain and report stages against the
// keyed store, publishing events for each completed prediction.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/observability"
	"github.com/opensource-finance/kestrel/internal/predictor"
	"github.com/opensource-finance/kestrel/internal/report"
)

// Service wires the scoring components together. It is safe for
// concurrent use.
type Service struct {
	predictor *predictor.Predictor
	explainer *explain.Explainer
	renderer  *report.Renderer
	store     *cache.Store
	bus       domain.EventBus
	metrics   *observability.Metrics

	renders *semaphore.Weighted
	timeout time.Duration
}

// Config holds the collaborators of a Service. Bus and Metrics are optional.
type Config struct {
	Predictor *predictor.Predictor
	Explainer *explain.Explainer
	Renderer  *report.Renderer
	Store     *cache.Store
	Bus       domain.EventBus
	Metrics   *observability.Metrics

	// MaxConcurrentRenders bounds simultaneous report renders.
	MaxConcurrentRenders int

	// RenderTimeout bounds how long a report request waits for a render slot.
	RenderTimeout time.Duration
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Predictor == nil || cfg.Store == nil {
		return nil, errors.New("pipeline requires a predictor and a store")
	}
	if cfg.Explainer == nil {
		cfg.Explainer = explain.New(cfg.Predictor, explain.Options{})
	}
	if cfg.Renderer == nil {
		r, err := report.NewRenderer()
		if err != nil {
			return nil, err
		}
		cfg.Renderer = r
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics()
	}
	if cfg.MaxConcurrentRenders <= 0 {
		cfg.MaxConcurrentRenders = 1
	}

	return &Service{
		predictor: cfg.Predictor,
		explainer: cfg.Explainer,
		renderer:  cfg.Renderer,
		store:     cfg.Store,
		bus:       cfg.Bus,
		metrics:   cfg.Metrics,
		renders:   semaphore.NewWeighted(int64(cfg.MaxConcurrentRenders)),
		timeout:   cfg.RenderTimeout,
	}, nil
}

// Ready reports whether the model is loaded.
func (s *Service) Ready() bool {
	return s.predictor.Ready()
}

// ModelVersion identifies the loaded model.
func (s *Service) ModelVersion() string {
	return s.predictor.Version()
}

// RiskRules returns the IDs of the active risk rules.
func (s *Service) RiskRules() []string {
	return s.predictor.RiskRules()
}

// Metrics returns the collectors the service records to.
func (s *Service) Metrics() *observability.Metrics {
	return s.metrics
}

// Predict scores app, stores the prediction and announces it on the bus.
func (s *Service) Predict(ctx context.Context, app *domain.Application) (pred *domain.Prediction, err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.Predict")
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	pred, err = s.predictor.Predict(ctx, app)
	if err != nil {
		s.metrics.ObserveFailure("predict")
		return nil, err
	}
	s.metrics.ObservePrediction(decision.DecisionLabel(pred.Decision), time.Since(start))
	span.SetAttributes(
		attribute.String("prediction.id", pred.ID),
		attribute.Int("prediction.decision", pred.Decision),
		attribute.Float64("prediction.probability", pred.Probability),
	)

	if err := s.store.PutPrediction(ctx, pred); err != nil {
		s.metrics.ObserveFailure("store")
		return nil, fmt.Errorf("failed to store prediction: %w", err)
	}

	s.publish(ctx, domain.TopicPredictionCompleted, pred)
	return pred, nil
}

// Prediction returns a stored prediction or ErrNotFound.
func (s *Service) Prediction(ctx context.Context, id string) (*domain.Prediction, error) {
	pred, err := s.store.GetPrediction(ctx, id)
	s.metrics.ObserveLookup("prediction", err == nil)
	return pred, err
}

// Explain returns the explanation of a stored prediction, building and
// storing it on first request.
func (s *Service) Explain(ctx context.Context, id string) (*domain.Explanation, error) {
	exp, err := s.store.GetExplanation(ctx, id)
	s.metrics.ObserveLookup("explanation", err == nil)
	if err == nil {
		return exp, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	pred, err := s.Prediction(ctx, id)
	if err != nil {
		return nil, err
	}
	exp, err = s.ExplainPrediction(ctx, pred)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutExplanation(ctx, exp); err != nil {
		slog.Warn("failed to store explanation",
			"prediction_id", id,
			"error", err,
		)
	}
	return exp, nil
}

// ExplainPrediction explains pred without touching the store.
func (s *Service) ExplainPrediction(ctx context.Context, pred *domain.Prediction) (exp *domain.Explanation, err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.Explain")
	defer func() { observability.EndSpan(span, err) }()

	start := time.Now()
	exp, err = s.explainer.Explain(ctx, pred)
	if err != nil {
		s.metrics.ObserveFailure("explain")
		return nil, err
	}
	s.metrics.ObserveExplanation(time.Since(start))
	span.SetAttributes(
		attribute.Int("explanation.attributions", len(exp.Attributions)),
		attribute.Float64("explanation.score", exp.Score),
	)
	return exp, nil
}

// Report returns the rendered report of a stored prediction, explaining
// and rendering it on first request.
func (s *Service) Report(ctx context.Context, id string) (*domain.Report, error) {
	r, err := s.store.GetReport(ctx, id)
	s.metrics.ObserveLookup("report", err == nil)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	exp, err := s.Explain(ctx, id)
	if err != nil {
		return nil, err
	}
	r, err = s.RenderExplanation(ctx, exp)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutReport(ctx, r); err != nil {
		slog.Warn("failed to store report",
			"prediction_id", id,
			"error", err,
		)
	}
	return r, nil
}

// StoredReport returns an already rendered report or ErrNotFound.
func (s *Service) StoredReport(ctx context.Context, id string) (*domain.Report, error) {
	r, err := s.store.GetReport(ctx, id)
	s.metrics.ObserveLookup("report", err == nil)
	return r, err
}

// RenderExplanation draws exp once a render slot is free.
func (s *Service) RenderExplanation(ctx context.Context, exp *domain.Explanation) (r *domain.Report, err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.Render")
	defer func() { observability.EndSpan(span, err) }()

	if exp == nil {
		return nil, fmt.Errorf("%w: explanation is required", domain.ErrInvalidInput)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.renders.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: waiting for render slot: %w", domain.ErrRenderFailed, err)
	}
	defer s.renders.Release(1)

	start := time.Now()
	buf, err := s.renderer.Render(exp, &exp.Application)
	if err != nil {
		s.metrics.ObserveFailure("render")
		return nil, err
	}
	s.metrics.ObserveRender(time.Since(start), buf.Len())
	span.SetAttributes(attribute.Int("report.bytes", buf.Len()))

	return &domain.Report{
		PredictionID: exp.ID,
		ContentType:  domain.ContentTypePNG,
		Data:         buf.Bytes(),
	}, nil
}

// RequestReport asks the report worker to render asynchronously. The
// prediction must exist.
func (s *Service) RequestReport(ctx context.Context, id string) error {
	if s.bus == nil {
		return errors.New("no event bus configured")
	}
	if _, err := s.Prediction(ctx, id); err != nil {
		return err
	}
	payload, err := json.Marshal(domain.ReportRequest{
		PredictionID: id,
		RequestedAt:  time.Now().UnixNano(),
	})
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, domain.TopicReportRequested, payload)
}

// publish sends v on topic. Failures are logged; events are advisory.
func (s *Service) publish(ctx context.Context, topic string, v any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal event", "topic", topic, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish event",
			"topic", topic,
			"error", err,
		)
	}
}
