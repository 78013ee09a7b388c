package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/croptimal/blend-service/internal/blend"
	"github.com/croptimal/blend-service/internal/catalog"
)

var (
	optimizeAcres      float64
	optimizeBudget     float64
	optimizeNitrogen   float64
	optimizePhosphate  float64
	optimizePotash     float64
	optimizePreference string
	optimizeCropPrice  float64
	optimizeCatalog    string
)

// optimizeCmd represents the optimize command
var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Rank fertilizer blend strategies for a field",
	Long: `Compute cost-minimal, eco-minimal, and balanced fertilizer blend
strategies for the given per-acre nutrient targets, using current provider
prices. Strategies are printed best first; infeasible strategies report the
minimum budget that would have worked.`,
	Example: `  blend-service optimize --acres 100 --n 150 --p 60 --k 40
  blend-service optimize --acres 250 --n 180 --budget 20000 --preference environment`,
	RunE: runOptimize,
}

func init() {
	rootCmd.AddCommand(optimizeCmd)

	optimizeCmd.Flags().Float64Var(&optimizeAcres, "acres", 0, "Field size in acres (required)")
	optimizeCmd.Flags().Float64Var(&optimizeNitrogen, "n", 0, "Nitrogen target, lbs/acre")
	optimizeCmd.Flags().Float64Var(&optimizePhosphate, "p", 0, "Phosphate target, lbs/acre")
	optimizeCmd.Flags().Float64Var(&optimizePotash, "k", 0, "Potash target, lbs/acre")
	optimizeCmd.Flags().Float64Var(&optimizeBudget, "budget", 0, "Total budget for the field, 0 for unconstrained")
	optimizeCmd.Flags().StringVar(&optimizePreference, "preference", "", "Ranking preference: cost or environment")
	optimizeCmd.Flags().Float64Var(&optimizeCropPrice, "crop-price", 0, "Expected crop sale price per yield unit, for breakeven reporting")
	optimizeCmd.Flags().StringVar(&optimizeCatalog, "catalog", "", "Catalog file path (defaults to the configured path)")

	optimizeCmd.MarkFlagRequired("acres")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if optimizeCatalog != "" {
		refreshCatalog = optimizeCatalog
	}
	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	repo, err := buildRepository()
	if err != nil {
		return err
	}

	blendCfg := cfg.BlendConfig()
	engine := blend.NewEngine(blendCfg)
	ranker := blend.NewRanker(engine, repo, blendCfg)

	req := &blend.Request{
		Acres:      optimizeAcres,
		Products:   cat.Products(),
		Preference: optimizePreference,
		CropPrice:  optimizeCropPrice,
	}
	if optimizeBudget > 0 {
		req.Budget = &optimizeBudget
	}
	targets := []struct {
		nutrient catalog.Nutrient
		rate     float64
	}{
		{catalog.NutrientN, optimizeNitrogen},
		{catalog.NutrientP, optimizePhosphate},
		{catalog.NutrientK, optimizePotash},
	}
	for _, t := range targets {
		if t.rate > 0 {
			req.Requirements = append(req.Requirements, blend.Requirement{Nutrient: t.nutrient, Rate: t.rate})
		}
	}

	ranking, err := ranker.Rank(ctx, req)
	if err != nil {
		return err
	}

	printRanking(ranking)
	return nil
}

func printRanking(ranking *blend.Ranking) {
	for _, s := range ranking.Strategies {
		marker := ""
		if s.Recommended {
			marker = " (recommended)"
		}
		fmt.Printf("\n=== %s%s ===\n", s.Label, marker)

		if !s.Feasible {
			fmt.Printf("infeasible: %s\n", s.InfeasibleReason)
			if s.MinFeasibleBudget != nil {
				fmt.Printf("minimum feasible budget: $%.2f\n", *s.MinFeasibleBudget)
			}
			continue
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PRODUCT\tRATE/ACRE\tQUANTITY\tPRICE\tCOST")
		for _, line := range s.Lines {
			stale := ""
			if line.PriceStale {
				stale = " (stale)"
			}
			fmt.Fprintf(w, "%s\t%.1f %s\t%.1f %s\t$%.2f%s\t$%.2f\n",
				line.ProductCode, line.Rate, line.Unit, line.Quantity, line.Unit,
				line.PricePerUnit, stale, line.Cost)
		}
		w.Flush()

		fmt.Printf("cost: $%.2f/acre, $%.2f total; environmental risk %.2f (index %.2f)\n",
			s.CostPerAcre, s.TotalCost, s.EnvRisk, s.EnvImpactIndex)
		if s.BreakevenYield != nil {
			fmt.Printf("breakeven yield: %.1f units/acre\n", *s.BreakevenYield)
		}
		if s.ROI != nil {
			fmt.Printf("ROI: %.2f\n", *s.ROI)
		}
	}

	if len(ranking.Exclusions) > 0 {
		fmt.Println("\nExcluded products:")
		for _, ex := range ranking.Exclusions {
			fmt.Printf("  %s: %s\n", ex.ProductCode, ex.Reason)
		}
	}
}
