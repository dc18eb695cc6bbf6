// Package predictor scores loan applications with the loaded classifier.
package predictor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/codec"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Predictor owns the classifier and feature schema for the process lifetime.
// It holds no mutable state and is safe for concurrent use.
type Predictor struct {
	classifier domain.Classifier
	codec      *codec.Codec
	rules      *rules.Engine
	processor  *decision.Processor
	version    string
}

// New creates a predictor. classifier or c may be nil, in which case every
// call fails with ErrModelUnavailable.
func New(classifier domain.Classifier, c *codec.Codec, engine *rules.Engine, processor *decision.Processor, version string) *Predictor {
	if processor == nil {
		processor = decision.NewProcessor(decision.DefaultThreshold)
	}
	return &Predictor{
		classifier: classifier,
		codec:      c,
		rules:      engine,
		processor:  processor,
		version:    version,
	}
}

// FromBundle creates a predictor over a loaded model bundle.
func FromBundle(bundle *model.Bundle, engine *rules.Engine, processor *decision.Processor) *Predictor {
	if bundle == nil {
		return New(nil, nil, engine, processor, "")
	}
	return New(bundle.Classifier, bundle.Codec, engine, processor, bundle.Version)
}

// Ready reports whether a model is loaded.
func (p *Predictor) Ready() bool {
	return p != nil && p.classifier != nil && p.codec != nil
}

// Codec returns the feature schema.
func (p *Predictor) Codec() *codec.Codec {
	return p.codec
}

// Threshold returns the decision threshold.
func (p *Predictor) Threshold() float64 {
	return p.processor.Threshold
}

// Version identifies the loaded model.
func (p *Predictor) Version() string {
	return p.version
}

// RiskRules returns the IDs of the loaded risk rules in reporting order.
func (p *Predictor) RiskRules() []string {
	if p == nil || p.rules == nil {
		return []string{}
	}
	loaded := p.rules.GetLoadedRules()
	ids := make([]string, len(loaded))
	for i, r := range loaded {
		ids[i] = r.ID
	}
	return ids
}

// Predict validates, scores and flags one application.
func (p *Predictor) Predict(ctx context.Context, app *domain.Application) (*domain.Prediction, error) {
	start := time.Now()

	if !p.Ready() {
		return nil, domain.ErrModelUnavailable
	}
	if app == nil {
		return nil, fmt.Errorf("%w: application is required", domain.ErrInvalidInput)
	}
	if err := app.Validate(); err != nil {
		return nil, err
	}

	features, err := p.codec.EncodeApplication(app)
	if err != nil {
		return nil, err
	}
	probability, err := p.classifier.PredictProbability(features)
	if err != nil {
		return nil, fmt.Errorf("classifier failed: %w", err)
	}

	rulesStart := time.Now()
	var factors []string
	if p.rules != nil {
		factors, err = p.rules.RiskFactors(ctx, app)
		if err != nil {
			return nil, fmt.Errorf("risk rules failed: %w", err)
		}
	}
	rulesMs := time.Since(rulesStart).Milliseconds()

	pred := p.processor.Process(ctx, &decision.DecisionInput{
		TraceID:      domain.TraceID(ctx),
		Application:  app,
		Probability:  probability,
		RiskFactors:  factors,
		ModelVersion: p.version,
		RulesMs:      rulesMs,
		StartTime:    start,
	})

	slog.Debug("prediction completed",
		"prediction_id", pred.ID,
		"probability", pred.Probability,
		"decision", pred.Decision,
		"risk_factors", len(pred.RiskFactors),
	)

	return pred, nil
}

// Probability scores an instance that may not come from a validated
// application, such as a perturbed neighbour built by the explainer.
func (p *Predictor) Probability(in codec.Instance) (float64, error) {
	if !p.Ready() {
		return 0, domain.ErrModelUnavailable
	}
	features, err := p.codec.Encode(in)
	if err != nil {
		return 0, err
	}
	return p.classifier.PredictProbability(features)
}
