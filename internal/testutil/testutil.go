// Package testutil holds fixtures shared by package tests: a small
// four-tree loan model, its encoder and a few applications with known
// outcomes.
package testutil

import (
	"context"
	_ "embed"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ModelJSON is an XGBoost JSON model with four trees:
//
//	previous default           -> +0.8 / -2.0
//	credit_score < 650          -> -0.6, else ratio < 0.3 -> +0.7 / -0.9
//	person_income < 40000       -> -0.3 / +0.4
//	history < 2                 -> -0.4, else not RENT -> +0.2 / -0.1
//
//go:embed testdata/loan_model.json
var ModelJSON []byte

// EncoderJSON is the matching one-hot encoder export.
//
//go:embed testdata/loan_encoder.json
var EncoderJSON []byte

// ApprovedProbability is the fixture model's probability for ApprovedApplication,
// sigmoid(0.8 + 0.7 + 0.4 - 0.1). Leaves are stored as float32, so compare
// with a tolerance.
const ApprovedProbability = 0.8581489

// ApprovedApplication clears every risk rule and is approved by the fixture model.
func ApprovedApplication() *domain.Application {
	return &domain.Application{
		PersonAge:                  30,
		PersonGender:               "male",
		PersonEducation:            "Bachelor",
		PersonIncome:               50000,
		PersonEmpExp:               5,
		PersonHomeOwnership:        "RENT",
		LoanAmount:                 10000,
		LoanIntent:                 "PERSONAL",
		CreditHistoryLength:        3,
		CreditScore:                720,
		PreviousLoanDefaultsOnFile: "No",
	}
}

// RiskyApplication triggers all five risk rules and is rejected.
func RiskyApplication() *domain.Application {
	return &domain.Application{
		PersonAge:                  24,
		PersonGender:               "female",
		PersonEducation:            "High School",
		PersonIncome:               80000,
		PersonEmpExp:               0,
		PersonHomeOwnership:        "RENT",
		LoanAmount:                 40000,
		LoanIntent:                 "VENTURE",
		CreditHistoryLength:        1,
		CreditScore:                550,
		PreviousLoanDefaultsOnFile: "Yes",
	}
}

// MemoryStore is an in-memory domain.ArtifactStore.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*domain.Artifact
}

// NewMemoryStore returns a store holding the fixture model and encoder.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{items: make(map[string]*domain.Artifact)}
	_, _ = s.Put(context.Background(), domain.ArtifactModel, ModelJSON)
	_, _ = s.Put(context.Background(), domain.ArtifactEncoder, EncoderJSON)
	return s
}

func (s *MemoryStore) Get(_ context.Context, name string) (*domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) Put(_ context.Context, name string, data []byte) (*domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &domain.Artifact{Name: name, Checksum: "sha256:fixture-" + name, Size: int64(len(data)), Data: data}
	s.items[name] = a
	return a, nil
}

func (s *MemoryStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, name)
}

func (s *MemoryStore) List(_ context.Context) ([]*domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Artifact, 0, len(s.items))
	for _, a := range s.items {
		out = append(out, &domain.Artifact{Name: a.Name, Checksum: a.Checksum, Size: a.Size})
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }
