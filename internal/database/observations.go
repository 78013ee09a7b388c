package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/croptimal/blend-service/internal/pricing"
)

// ObservationStore persists price observations in Postgres. History is
// append-only per product, ordered by observation time.
type ObservationStore struct {
	pool *pgxpool.Pool
}

// NewObservationStore creates a store over the given pool. Pass nil to use
// the package-level pool.
func NewObservationStore(p *pgxpool.Pool) *ObservationStore {
	return &ObservationStore{pool: p}
}

func (s *ObservationStore) db() *pgxpool.Pool {
	if s.pool != nil {
		return s.pool
	}
	return Pool()
}

// EnsureSchema creates the observation table and indexes if missing.
func (s *ObservationStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db().Exec(ctx, `
		CREATE TABLE IF NOT EXISTS price_observations (
			product_code   TEXT NOT NULL,
			price_per_unit DOUBLE PRECISION NOT NULL CHECK (price_per_unit > 0),
			currency       TEXT NOT NULL,
			provider       TEXT NOT NULL,
			observed_at    TIMESTAMPTZ NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (product_code, observed_at)
		)`)
	if err != nil {
		return fmt.Errorf("error creating price_observations table: %w", err)
	}
	return nil
}

// Insert appends one observation. Observations that would rewind a
// product's history are rejected so readers always see monotonically
// increasing observation times.
func (s *ObservationStore) Insert(ctx context.Context, obs pricing.Observation) error {
	if obs.ProductCode == "" {
		return pricing.ErrInvalidObservation{ProductCode: obs.ProductCode, Reason: "product code cannot be empty"}
	}
	if obs.PricePerUnit <= 0 {
		return pricing.ErrInvalidObservation{ProductCode: obs.ProductCode, Reason: "price must be positive"}
	}
	if obs.ObservedAt.IsZero() {
		return pricing.ErrInvalidObservation{ProductCode: obs.ProductCode, Reason: "observation timestamp cannot be zero"}
	}

	tag, err := s.db().Exec(ctx, `
		INSERT INTO price_observations (product_code, price_per_unit, currency, provider, observed_at)
		SELECT $1, $2, $3, $4, $5
		WHERE NOT EXISTS (
			SELECT 1 FROM price_observations
			WHERE product_code = $1 AND observed_at > $5
		)
		ON CONFLICT (product_code, observed_at) DO NOTHING`,
		obs.ProductCode, obs.PricePerUnit, obs.Currency, obs.Provider, obs.ObservedAt)
	if err != nil {
		return fmt.Errorf("error inserting price observation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pricing.ErrInvalidObservation{ProductCode: obs.ProductCode, Reason: "observation timestamp precedes latest"}
	}
	return nil
}

// Latest returns the most recent observation for a product, or nil when
// none exists.
func (s *ObservationStore) Latest(ctx context.Context, productCode string) (*pricing.Observation, error) {
	var obs pricing.Observation
	err := s.db().QueryRow(ctx, `
		SELECT product_code, price_per_unit, currency, provider, observed_at
		FROM price_observations
		WHERE product_code = $1
		ORDER BY observed_at DESC
		LIMIT 1`, productCode).Scan(
		&obs.ProductCode, &obs.PricePerUnit, &obs.Currency, &obs.Provider, &obs.ObservedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying latest observation: %w", err)
	}
	return &obs, nil
}

// LatestBatch returns the most recent observation per requested product.
// Products with no history are absent from the result.
func (s *ObservationStore) LatestBatch(ctx context.Context, productCodes []string) (map[string]pricing.Observation, error) {
	result := make(map[string]pricing.Observation, len(productCodes))
	if len(productCodes) == 0 {
		return result, nil
	}

	rows, err := s.db().Query(ctx, `
		SELECT DISTINCT ON (product_code)
			product_code, price_per_unit, currency, provider, observed_at
		FROM price_observations
		WHERE product_code = ANY($1)
		ORDER BY product_code, observed_at DESC`, productCodes)
	if err != nil {
		return nil, fmt.Errorf("error querying latest observations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var obs pricing.Observation
		if err := rows.Scan(&obs.ProductCode, &obs.PricePerUnit, &obs.Currency, &obs.Provider, &obs.ObservedAt); err != nil {
			return nil, fmt.Errorf("error scanning observation: %w", err)
		}
		result[obs.ProductCode] = obs
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading observations: %w", err)
	}
	return result, nil
}

// History returns all observations for a product, oldest first.
func (s *ObservationStore) History(ctx context.Context, productCode string, limit int) ([]pricing.Observation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db().Query(ctx, `
		SELECT product_code, price_per_unit, currency, provider, observed_at
		FROM price_observations
		WHERE product_code = $1
		ORDER BY observed_at ASC
		LIMIT $2`, productCode, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying observation history: %w", err)
	}
	defer rows.Close()

	var history []pricing.Observation
	for rows.Next() {
		var obs pricing.Observation
		if err := rows.Scan(&obs.ProductCode, &obs.PricePerUnit, &obs.Currency, &obs.Provider, &obs.ObservedAt); err != nil {
			return nil, fmt.Errorf("error scanning observation: %w", err)
		}
		history = append(history, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading observation history: %w", err)
	}
	return history, nil
}
