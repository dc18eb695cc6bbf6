package decision

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/testutil"
)

func TestProcessor(t *testing.T) {
	proc := NewProcessor(0)
	ctx := context.Background()

	if proc.Threshold != DefaultThreshold {
		t.Fatalf("expected default threshold, got %v", proc.Threshold)
	}

	t.Run("Approved", func(t *testing.T) {
		pred := proc.Process(ctx, &DecisionInput{
			TraceID:      "trace-001",
			Application:  testutil.ApprovedApplication(),
			Probability:  0.86,
			ModelVersion: "v1",
			StartTime:    time.Now(),
		})

		if pred.Decision != domain.DecisionApproved {
			t.Errorf("expected approval, got %d", pred.Decision)
		}
		if pred.ID == "" {
			t.Error("expected prediction ID")
		}
		if pred.RiskFactors == nil {
			t.Error("risk factors must be an empty list, not nil")
		}
		if pred.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID 'trace-001', got '%s'", pred.Metadata.TraceID)
		}
		if pred.Metadata.Threshold != 0.5 {
			t.Errorf("expected threshold 0.5 in metadata, got %v", pred.Metadata.Threshold)
		}
		if pred.Application.CreditScore != 720 {
			t.Errorf("expected application copied, got %+v", pred.Application)
		}
	})

	t.Run("Rejected", func(t *testing.T) {
		pred := proc.Process(ctx, &DecisionInput{
			Application: testutil.RiskyApplication(),
			Probability: 0.07,
			RiskFactors: []string{"Previous loan defaults on file"},
		})

		if pred.Decision != domain.DecisionRejected {
			t.Errorf("expected rejection, got %d", pred.Decision)
		}
		if len(pred.RiskFactors) != 1 {
			t.Errorf("expected 1 risk factor, got %d", len(pred.RiskFactors))
		}
	})

	t.Run("UniqueIDs", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{Application: testutil.ApprovedApplication()})
		b := proc.Process(ctx, &DecisionInput{Application: testutil.ApprovedApplication()})
		if a.ID == b.ID {
			t.Error("expected distinct prediction IDs")
		}
	})
}

func TestDecideBoundary(t *testing.T) {
	proc := NewProcessor(0.5)

	tests := []struct {
		p    float64
		want int
	}{
		{0, domain.DecisionRejected},
		{0.4999999, domain.DecisionRejected},
		{0.5, domain.DecisionApproved},
		{0.5000001, domain.DecisionApproved},
		{1, domain.DecisionApproved},
	}
	for _, tt := range tests {
		if got := proc.Decide(tt.p); got != tt.want {
			t.Errorf("Decide(%v) = %d, want %d", tt.p, got, tt.want)
		}
	}
}

func TestDecideProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	proc := NewProcessor(DefaultThreshold)

	properties.Property("decision is 1 iff probability >= 0.5", prop.ForAll(
		func(p float64) bool {
			return (proc.Decide(p) == domain.DecisionApproved) == (p >= 0.5)
		},
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

func TestNewProcessorThreshold(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.35, 0.35},
		{1, 1},
		{-1, DefaultThreshold},
		{1.5, DefaultThreshold},
	}
	for _, tt := range tests {
		if got := NewProcessor(tt.in).Threshold; got != tt.want {
			t.Errorf("NewProcessor(%v).Threshold = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecisionLabel(t *testing.T) {
	if DecisionLabel(domain.DecisionApproved) != "APPROVED" {
		t.Error("expected APPROVED")
	}
	if DecisionLabel(domain.DecisionRejected) != "REJECTED" {
		t.Error("expected REJECTED")
	}
}
