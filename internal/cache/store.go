package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Key prefixes.
const (
	prefixPrediction  = "prediction:"
	prefixExplanation = "explanation:"
	prefixReport      = "report:"
)

// Store keeps predictions, explanations and rendered reports by
// prediction ID on top of a byte cache.
type Store struct {
	cache domain.Cache
	ttl   time.Duration
}

// NewStore wraps c. Entries expire after ttl; zero keeps them until evicted.
func NewStore(c domain.Cache, ttl time.Duration) *Store {
	return &Store{cache: c, ttl: ttl}
}

// Cache returns the underlying byte cache.
func (s *Store) Cache() domain.Cache {
	return s.cache
}

// PutPrediction stores pred under its ID.
func (s *Store) PutPrediction(ctx context.Context, pred *domain.Prediction) error {
	return s.putJSON(ctx, prefixPrediction+pred.ID, pred)
}

// GetPrediction returns ErrNotFound when id is unknown or expired.
func (s *Store) GetPrediction(ctx context.Context, id string) (*domain.Prediction, error) {
	var pred domain.Prediction
	if err := s.getJSON(ctx, prefixPrediction+id, &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

// PutExplanation stores exp under its prediction ID.
func (s *Store) PutExplanation(ctx context.Context, exp *domain.Explanation) error {
	return s.putJSON(ctx, prefixExplanation+exp.ID, exp)
}

// GetExplanation returns ErrNotFound when no explanation is stored for id.
func (s *Store) GetExplanation(ctx context.Context, id string) (*domain.Explanation, error) {
	var exp domain.Explanation
	if err := s.getJSON(ctx, prefixExplanation+id, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

// PutReport stores the rendered image.
func (s *Store) PutReport(ctx context.Context, r *domain.Report) error {
	return s.cache.Set(ctx, prefixReport+r.PredictionID, r.Data, s.ttl)
}

// GetReport returns ErrNotFound when no report is stored for id.
func (s *Store) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	data, err := s.cache.Get(ctx, prefixReport+id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: report %s", domain.ErrNotFound, id)
	}
	return &domain.Report{PredictionID: id, ContentType: domain.ContentTypePNG, Data: data}, nil
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return s.cache.Set(ctx, key, data, s.ttl)
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}
