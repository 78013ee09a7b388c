package blend

import "time"

// Config holds the blend engine and ranker tuning knobs. Tolerances and
// windows are configuration rather than hard-coded constants; the defaults
// below are starting points, not agronomic truth.
type Config struct {
	// DeficitTolerance is the allowed fractional under-delivery per
	// nutrient (0 = full satisfaction required).
	DeficitTolerance float64 `mapstructure:"deficit_tolerance"`

	// DedupeTolerance is the per-product rate difference (units/acre)
	// under which two strategies count as the same blend.
	DedupeTolerance float64 `mapstructure:"dedupe_tolerance"`

	// Balanced objective weights for the middle strategy.
	BalancedCostWeight float64 `mapstructure:"balanced_cost_weight"`
	BalancedEnvWeight  float64 `mapstructure:"balanced_env_weight"`

	// RankTimeout bounds a full strategy-ranking request, including
	// opportunistic price refreshes. Past it the ranking proceeds with
	// whatever prices it has.
	RankTimeout time.Duration `mapstructure:"rank_timeout"`

	// MaxProducts caps the candidate catalog per request.
	MaxProducts int `mapstructure:"max_products"`

	// Solver settings. SolverEps is the pivot tolerance; RelaxedEps is
	// used for the single retry after an iteration blow-up.
	SolverMaxIters int     `mapstructure:"solver_max_iters"`
	SolverEps      float64 `mapstructure:"solver_eps"`
	RelaxedEps     float64 `mapstructure:"relaxed_eps"`

	// TieTolerance is the relative objective slack within which alternate
	// optima are considered ties for the deterministic tie-break passes.
	TieTolerance float64 `mapstructure:"tie_tolerance"`
}

// DefaultConfig returns the default blend configuration.
func DefaultConfig() *Config {
	return &Config{
		DeficitTolerance:   0,
		DedupeTolerance:    0.01,
		BalancedCostWeight: 0.5,
		BalancedEnvWeight:  0.5,
		RankTimeout:        10 * time.Second,
		MaxProducts:        200,
		SolverMaxIters:     5000,
		SolverEps:          1e-9,
		RelaxedEps:         1e-7,
		TieTolerance:       1e-6,
	}
}

// Validate validates the blend configuration.
func (c *Config) Validate() error {
	if c.DeficitTolerance < 0 || c.DeficitTolerance >= 1 {
		return ErrInvalidConfig{Field: "deficit_tolerance", Reason: "must be in [0, 1)"}
	}
	if c.DedupeTolerance < 0 {
		return ErrInvalidConfig{Field: "dedupe_tolerance", Reason: "cannot be negative"}
	}
	if c.BalancedCostWeight < 0 || c.BalancedEnvWeight < 0 {
		return ErrInvalidConfig{Field: "balanced_cost_weight", Reason: "weights cannot be negative"}
	}
	if c.BalancedCostWeight+c.BalancedEnvWeight <= 0 {
		return ErrInvalidConfig{Field: "balanced_cost_weight", Reason: "weights cannot both be zero"}
	}
	if c.RankTimeout <= 0 {
		return ErrInvalidConfig{Field: "rank_timeout", Reason: "must be positive"}
	}
	if c.MaxProducts < 1 {
		return ErrInvalidConfig{Field: "max_products", Reason: "must be at least 1"}
	}
	if c.SolverMaxIters < 100 {
		return ErrInvalidConfig{Field: "solver_max_iters", Reason: "must be at least 100"}
	}
	if c.SolverEps <= 0 || c.RelaxedEps <= 0 || c.RelaxedEps < c.SolverEps {
		return ErrInvalidConfig{Field: "solver_eps", Reason: "need 0 < solver_eps <= relaxed_eps"}
	}
	if c.TieTolerance < 0 {
		return ErrInvalidConfig{Field: "tie_tolerance", Reason: "cannot be negative"}
	}
	return nil
}

// ErrInvalidConfig is returned when the blend configuration is invalid.
type ErrInvalidConfig struct {
	Field  string
	Reason string
}

func (e ErrInvalidConfig) Error() string {
	return e.Field + ": " + e.Reason
}
