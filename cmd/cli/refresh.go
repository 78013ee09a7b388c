package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/croptimal/blend-service/internal/catalog"
	"github.com/croptimal/blend-service/internal/database"
	"github.com/croptimal/blend-service/internal/pricing"
	"github.com/croptimal/blend-service/internal/providers"
)

var (
	refreshCategory string
	refreshCatalog  string
)

// refreshCmd represents the refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh [productCode...]",
	Short: "Refresh prices from the configured providers",
	Long: `Fetch current prices for catalog products from the configured providers and
store the observations. Without arguments the whole catalog is refreshed;
pass product codes to refresh a subset, or --category to refresh one
product category.`,
	Example: `  blend-service refresh
  blend-service refresh UREA-46 DAP-18-46
  blend-service refresh --category nitrogen`,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)

	refreshCmd.Flags().StringVar(&refreshCategory, "category", "", "Refresh only products in this category")
	refreshCmd.Flags().StringVar(&refreshCatalog, "catalog", "", "Catalog file path (defaults to the configured path)")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	codes, err := refreshCodes(cat, args)
	if err != nil {
		return err
	}

	repo, err := buildRepository()
	if err != nil {
		return err
	}

	logger.Info().Int("products", len(codes)).Msg("Refreshing prices")
	summary := repo.RefreshAll(ctx, codes)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRODUCT\tSTATUS\tDETAIL")
	for _, code := range summary.Refreshed {
		fmt.Fprintf(w, "%s\trefreshed\t\n", code)
	}
	failedCodes := make([]string, 0, len(summary.Failed))
	for code := range summary.Failed {
		failedCodes = append(failedCodes, code)
	}
	sort.Strings(failedCodes)
	for _, code := range failedCodes {
		fmt.Fprintf(w, "%s\tfailed\t%s\n", code, summary.Failed[code])
	}
	w.Flush()

	fmt.Printf("\nRun %s: %d requested, %d refreshed, %d failed in %s\n",
		summary.RunID, summary.Requested, len(summary.Refreshed), len(summary.Failed), summary.Duration)

	if len(summary.Failed) == summary.Requested && summary.Requested > 0 {
		return fmt.Errorf("all %d refreshes failed", summary.Requested)
	}
	return nil
}

func loadCatalog() (*catalog.Catalog, error) {
	path := refreshCatalog
	if path == "" && cfg != nil {
		path = cfg.Catalog.Path
	}
	if path == "" {
		return nil, fmt.Errorf("no catalog path configured, pass --catalog")
	}
	return catalog.LoadFile(path)
}

func refreshCodes(cat *catalog.Catalog, args []string) ([]string, error) {
	if len(args) > 0 {
		for _, code := range args {
			if _, ok := cat.Get(code); !ok {
				return nil, fmt.Errorf("unknown product code: %s", code)
			}
		}
		return args, nil
	}
	if refreshCategory != "" {
		filtered := cat.FilterCategory(refreshCategory)
		if len(filtered) == 0 {
			return nil, fmt.Errorf("no products in category %s", refreshCategory)
		}
		codes := make([]string, len(filtered))
		for i, p := range filtered {
			codes[i] = p.Code
		}
		return codes, nil
	}
	return cat.Codes(), nil
}

// buildRepository wires the observation store and provider chain the same
// way the server does, backed by Postgres when DATABASE_URL is set.
func buildRepository() (*pricing.Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	var store pricing.ObservationStore
	if pool := database.Pool(); pool != nil {
		dbStore := database.NewObservationStore(pool)
		if err := dbStore.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to ensure observation schema: %w", err)
		}
		store = dbStore
	} else {
		store = pricing.NewMemStore()
	}

	registry := providers.NewRegistry()
	if cfg.Providers.AgMarket.BaseURL != "" {
		registry.Register(providers.NewAgMarketProvider(providers.AgMarketConfig{
			BaseURL: cfg.Providers.AgMarket.BaseURL,
			APIKey:  cfg.Providers.AgMarket.APIKey,
		}), 10)
	}
	if cfg.Providers.PriceSheet.Source != "" {
		registry.Register(providers.NewPriceSheetProvider(providers.PriceSheetConfig{
			Source:         cfg.Providers.PriceSheet.Source,
			ReloadInterval: cfg.Providers.PriceSheet.ReloadInterval,
		}), 20)
	}
	if registry.Len() == 0 {
		return nil, fmt.Errorf("no price providers configured")
	}

	return pricing.NewRepository(store, registry.Providers(), cfg.PricingConfig()), nil
}
