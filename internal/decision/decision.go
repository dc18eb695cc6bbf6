// Package decision turns a class-1 probability into the final loan decision.
package decision

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultThreshold is the probability at and above which a loan is approved.
const DefaultThreshold = 0.5

// EngineVersion is stamped into prediction metadata.
const EngineVersion = "kestrel-1.0"

// Processor applies the decision threshold and builds the prediction.
type Processor struct {
	// Threshold at or above which an application is approved
	Threshold float64
}

// NewProcessor creates a processor. Thresholds outside (0, 1] fall back to
// DefaultThreshold.
func NewProcessor(threshold float64) *Processor {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Processor{Threshold: threshold}
}

// DecisionInput contains all data needed for a decision.
type DecisionInput struct {
	TraceID      string
	Application  *domain.Application
	Probability  float64
	RiskFactors  []string
	ModelVersion string
	RulesMs      int64
	StartTime    time.Time
}

// Decide returns DecisionApproved iff probability >= Threshold.
func (p *Processor) Decide(probability float64) int {
	if probability >= p.Threshold {
		return domain.DecisionApproved
	}
	return domain.DecisionRejected
}

// Process produces the prediction for one scored application.
func (p *Processor) Process(ctx context.Context, input *DecisionInput) *domain.Prediction {
	factors := input.RiskFactors
	if factors == nil {
		factors = []string{}
	}

	pred := &domain.Prediction{
		ID:          uuid.New().String(),
		Decision:    p.Decide(input.Probability),
		Probability: input.Probability,
		RiskFactors: factors,
		Application: *input.Application,
		CreatedAt:   time.Now().UTC(),
	}

	var totalMs int64
	if !input.StartTime.IsZero() {
		totalMs = time.Since(input.StartTime).Milliseconds()
	}

	pred.Metadata = domain.PredictionMetadata{
		TraceID:       input.TraceID,
		ModelVersion:  input.ModelVersion,
		Threshold:     p.Threshold,
		RulesMs:       input.RulesMs,
		TotalMs:       totalMs,
		EngineVersion: EngineVersion,
	}

	return pred
}

// DecisionLabel returns "APPROVED" or "REJECTED".
func DecisionLabel(decision int) string {
	if decision == domain.DecisionApproved {
		return "APPROVED"
	}
	return "REJECTED"
}
