package blend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/croptimal/blend-service/internal/catalog"
)

func TestScoreBreakevenYield(t *testing.T) {
	strategies := []Strategy{
		{Label: LabelCostMinimal, Feasible: true, CostPerAcre: 47.56},
	}
	req := &Request{CropPrice: 4.75}

	NewScorer().Score(strategies, req)

	require.NotNil(t, strategies[0].BreakevenYield)
	// 47.56 / 4.75 = 10.012..., rounded to one decimal.
	assert.InDelta(t, 10.0, *strategies[0].BreakevenYield, 1e-9)
}

func TestScoreBreakevenSkippedWithoutCropPrice(t *testing.T) {
	strategies := []Strategy{
		{Label: LabelCostMinimal, Feasible: true, CostPerAcre: 47.56},
	}

	NewScorer().Score(strategies, &Request{})

	assert.Nil(t, strategies[0].BreakevenYield)
	assert.Nil(t, strategies[0].ROI)
}

func TestScoreROIFromYieldResponse(t *testing.T) {
	strategies := []Strategy{
		{
			Label:       LabelCostMinimal,
			Feasible:    true,
			CostPerAcre: 50,
			Delivered:   map[catalog.Nutrient]float64{catalog.NutrientN: 150},
		},
	}
	req := &Request{
		YieldResponse: func(delivered map[catalog.Nutrient]float64) float64 {
			return delivered[catalog.NutrientN] // $150 revenue per acre
		},
	}

	NewScorer().Score(strategies, req)

	require.NotNil(t, strategies[0].ROI)
	assert.InDelta(t, 2.0, *strategies[0].ROI, 1e-9) // (150-50)/50
}

func TestScoreEnvImpactIndexNormalized(t *testing.T) {
	strategies := []Strategy{
		{Label: LabelCostMinimal, Feasible: true, CostPerAcre: 40, EnvRisk: 0.3},
		{Label: LabelEcoMinimal, Feasible: true, CostPerAcre: 60, EnvRisk: 0.1},
		{Label: LabelBalanced, Feasible: true, CostPerAcre: 50, EnvRisk: 0.2},
	}

	NewScorer().Score(strategies, &Request{})

	assert.InDelta(t, 1.0, strategies[0].EnvImpactIndex, 1e-9)
	assert.InDelta(t, 0.0, strategies[1].EnvImpactIndex, 1e-9)
	assert.InDelta(t, 0.5, strategies[2].EnvImpactIndex, 1e-9)
}

func TestScoreSingleStrategyIndexIsZero(t *testing.T) {
	strategies := []Strategy{
		{Label: LabelCostMinimal, Feasible: true, CostPerAcre: 40, EnvRisk: 0.3},
	}

	NewScorer().Score(strategies, &Request{})

	assert.Zero(t, strategies[0].EnvImpactIndex)
}

func TestScoreSkipsInfeasibleStrategies(t *testing.T) {
	strategies := []Strategy{
		{Label: LabelCostMinimal, Feasible: false},
		{Label: LabelEcoMinimal, Feasible: true, CostPerAcre: 50, EnvRisk: 0.2},
	}
	req := &Request{CropPrice: 5}

	NewScorer().Score(strategies, req)

	assert.Nil(t, strategies[0].BreakevenYield)
	assert.Zero(t, strategies[0].EnvImpactIndex)
	require.NotNil(t, strategies[1].BreakevenYield)
}

func TestScoreDoesNotMutateBlend(t *testing.T) {
	strategies := []Strategy{
		{
			Label:       LabelCostMinimal,
			Feasible:    true,
			CostPerAcre: 47.56,
			EnvRisk:     0.27,
			Lines: []Line{
				{ProductCode: "ANHYD-82", Rate: 0.1, Cost: 4756.10},
			},
		},
	}

	NewScorer().Score(strategies, &Request{CropPrice: 4.75})

	assert.Equal(t, 47.56, strategies[0].CostPerAcre)
	assert.Equal(t, 0.27, strategies[0].EnvRisk)
	assert.Equal(t, 0.1, strategies[0].Lines[0].Rate)
	assert.Equal(t, 4756.10, strategies[0].Lines[0].Cost)
}
