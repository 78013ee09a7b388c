package blend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEps = 1e-9

func TestSolveLPSingleVariableLowerBound(t *testing.T) {
	// min 2x subject to x >= 5
	x, obj, err := solveLP(
		[]float64{2},
		[]constraint{{coeffs: []float64{1}, op: conGE, rhs: 5}},
		1000, testEps,
	)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, x[0], 1e-6)
	assert.InDelta(t, 10.0, obj, 1e-6)
}

func TestSolveLPPicksCheaperVariable(t *testing.T) {
	// min 3x + y subject to x + y >= 10; y alone is cheapest
	x, obj, err := solveLP(
		[]float64{3, 1},
		[]constraint{{coeffs: []float64{1, 1}, op: conGE, rhs: 10}},
		1000, testEps,
	)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, x[0], 1e-6)
	assert.InDelta(t, 10.0, x[1], 1e-6)
	assert.InDelta(t, 10.0, obj, 1e-6)
}

func TestSolveLPMixedConstraints(t *testing.T) {
	// min x + 4y subject to x + 2y >= 8, x <= 4
	x, obj, err := solveLP(
		[]float64{1, 4},
		[]constraint{
			{coeffs: []float64{1, 2}, op: conGE, rhs: 8},
			{coeffs: []float64{1, 0}, op: conLE, rhs: 4},
		},
		1000, testEps,
	)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, x[0], 1e-6)
	assert.InDelta(t, 2.0, x[1], 1e-6)
	assert.InDelta(t, 12.0, obj, 1e-6)
}

func TestSolveLPInfeasible(t *testing.T) {
	// x <= 1 and x >= 2 cannot both hold
	_, _, err := solveLP(
		[]float64{1},
		[]constraint{
			{coeffs: []float64{1}, op: conLE, rhs: 1},
			{coeffs: []float64{1}, op: conGE, rhs: 2},
		},
		1000, testEps,
	)
	assert.ErrorIs(t, err, errInfeasible)
}

func TestSolveLPZeroRequirementIsFree(t *testing.T) {
	// All constraints satisfied at the origin
	x, obj, err := solveLP(
		[]float64{1, 1},
		[]constraint{{coeffs: []float64{1, 1}, op: conGE, rhs: 0}},
		1000, testEps,
	)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, x[0], 1e-6)
	assert.InDelta(t, 0.0, x[1], 1e-6)
	assert.InDelta(t, 0.0, obj, 1e-6)
}

func TestSolveLPNegativeRHSNormalized(t *testing.T) {
	// -x <= -3 is x >= 3 after normalization
	x, _, err := solveLP(
		[]float64{1},
		[]constraint{{coeffs: []float64{-1}, op: conLE, rhs: -3}},
		1000, testEps,
	)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, x[0], 1e-6)
}

func TestSolveLPEmptyProblem(t *testing.T) {
	x, obj, err := solveLP(nil, nil, 1000, testEps)
	require.NoError(t, err)
	assert.Empty(t, x)
	assert.Zero(t, obj)
}

func TestSolveLPDeterministicAcrossRuns(t *testing.T) {
	c := []float64{2, 2, 1}
	cons := []constraint{
		{coeffs: []float64{1, 1, 0}, op: conGE, rhs: 6},
		{coeffs: []float64{0, 1, 1}, op: conGE, rhs: 4},
		{coeffs: []float64{1, 0, 0}, op: conLE, rhs: 10},
	}

	first, firstObj, err := solveLP(c, cons, 1000, testEps)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		x, obj, err := solveLP(c, cons, 1000, testEps)
		require.NoError(t, err)
		assert.Equal(t, first, x)
		assert.Equal(t, firstObj, obj)
	}
}
