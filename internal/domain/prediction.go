package domain

import (
	"time"
)

// Decision values.
const (
	DecisionRejected = 0
	DecisionApproved = 1
)

// Prediction is the outcome of scoring one application.
type Prediction struct {
	ID          string             `json:"id"`
	Decision    int                `json:"prediction"`
	Probability float64            `json:"probability"`
	RiskFactors []string           `json:"risk_factors"`
	Application Application        `json:"application_data"`
	CreatedAt   time.Time          `json:"created_at"`
	Metadata    PredictionMetadata `json:"metadata"`
}

// Approved reports whether the decision is an approval.
func (p *Prediction) Approved() bool {
	return p.Decision == DecisionApproved
}

// PredictionMetadata contains processing information.
type PredictionMetadata struct {
	TraceID       string  `json:"trace_id,omitempty"`
	ModelVersion  string  `json:"model_version"`
	Threshold     float64 `json:"threshold"`
	RulesMs       int64   `json:"rules_ms"`
	TotalMs       int64   `json:"total_ms"`
	EngineVersion string  `json:"engine_version"`
}

// Attribution is one feature contribution of the local surrogate model.
// Feature is a human readable condition such as "credit_score > 717.25"
// or "loan_intent=PERSONAL".
type Attribution struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// Explanation attributes a prediction to individual feature conditions.
// Positive weights push towards approval (class 1).
type Explanation struct {
	Prediction
	Attributions    []Attribution `json:"explanation"`
	Positive        []Attribution `json:"positive_factors"`
	Negative        []Attribution `json:"negative_factors"`
	Intercept       float64       `json:"intercept"`
	Score           float64       `json:"score"`
	LocalPrediction float64       `json:"local_prediction"`
	ExplainedAt     time.Time     `json:"explained_at"`
}

// Report is a rendered PNG report, held in memory only.
type Report struct {
	PredictionID string `json:"prediction_id"`
	ContentType  string `json:"content_type"`
	Data         []byte `json:"-"`
}

// ContentTypePNG is the content type of rendered reports.
const ContentTypePNG = "image/png"

// Len returns the byte length of the image.
func (r *Report) Len() int {
	return len(r.Data)
}

// ReportRequest is published when a report should be generated asynchronously.
type ReportRequest struct {
	PredictionID string `json:"prediction_id"`
	RequestedAt  int64  `json:"requested_at"`
}

// ReportReady is published once a report is stored.
type ReportReady struct {
	PredictionID string `json:"prediction_id"`
	Bytes        int    `json:"bytes"`
	Error        string `json:"error,omitempty"`
}
