package pricing

import (
	"context"
	"sync"
)

// MemStore is a mutex-guarded in-memory ObservationStore. It enforces the
// same invariants as the Postgres store and backs the CLI and tests.
type MemStore struct {
	mu      sync.RWMutex
	history map[string][]Observation
}

// NewMemStore creates an empty in-memory observation store.
func NewMemStore() *MemStore {
	return &MemStore{history: make(map[string][]Observation)}
}

// Insert appends an observation. Non-positive prices and timestamps that
// move backwards for a product are rejected.
func (s *MemStore) Insert(ctx context.Context, obs Observation) error {
	if obs.ProductCode == "" {
		return ErrInvalidObservation{ProductCode: obs.ProductCode, Reason: "product code cannot be empty"}
	}
	if obs.PricePerUnit <= 0 {
		return ErrInvalidObservation{ProductCode: obs.ProductCode, Reason: "price must be positive"}
	}
	if obs.ObservedAt.IsZero() {
		return ErrInvalidObservation{ProductCode: obs.ProductCode, Reason: "observation timestamp cannot be zero"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hist := s.history[obs.ProductCode]
	if n := len(hist); n > 0 && obs.ObservedAt.Before(hist[n-1].ObservedAt) {
		return ErrInvalidObservation{ProductCode: obs.ProductCode, Reason: "observation timestamp precedes latest"}
	}
	s.history[obs.ProductCode] = append(hist, obs)
	return nil
}

// Latest returns the freshest observation for a product, or nil when none
// exists.
func (s *MemStore) Latest(ctx context.Context, productCode string) (*Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := s.history[productCode]
	if len(hist) == 0 {
		return nil, nil
	}
	obs := hist[len(hist)-1]
	return &obs, nil
}

// LatestBatch returns the freshest observation for each requested product
// that has one.
func (s *MemStore) LatestBatch(ctx context.Context, productCodes []string) (map[string]Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Observation, len(productCodes))
	for _, code := range productCodes {
		if hist := s.history[code]; len(hist) > 0 {
			out[code] = hist[len(hist)-1]
		}
	}
	return out, nil
}

// History returns the full observation history for a product, oldest first.
func (s *MemStore) History(productCode string) []Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := s.history[productCode]
	out := make([]Observation, len(hist))
	copy(out, hist)
	return out
}
