package providers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/croptimal/blend-service/internal/httpx"
	"github.com/croptimal/blend-service/internal/pricing"
)

// PriceSheetConfig configures the distributor price sheet adapter.
type PriceSheetConfig struct {
	// Source is a local path or an http(s) URL to an XLSX price sheet with
	// columns: product code, price per unit, currency.
	Source string

	// ReloadInterval is how long a loaded sheet is served before the source
	// is re-read. Zero means reload on every fetch miss.
	ReloadInterval time.Duration
}

// PriceSheetProvider serves quotes from a distributor XLSX price sheet.
// The sheet is parsed once and cached; distributors publish daily, so a
// short reload interval is plenty.
type PriceSheetProvider struct {
	cfg    PriceSheetConfig
	client *httpx.Client

	mu       sync.Mutex
	prices   map[string]sheetEntry
	loadedAt time.Time
}

type sheetEntry struct {
	price    float64
	currency string
}

// NewPriceSheetProvider creates a price sheet adapter for the given source.
func NewPriceSheetProvider(cfg PriceSheetConfig) *PriceSheetProvider {
	if cfg.ReloadInterval == 0 {
		cfg.ReloadInterval = time.Hour
	}
	return &PriceSheetProvider{
		cfg:    cfg,
		client: httpx.NewClientDefault(),
	}
}

// Slug returns the provider identifier.
func (p *PriceSheetProvider) Slug() string {
	return "pricesheet"
}

// FetchPrice looks up the product in the cached sheet, reloading the source
// when the cache has expired.
func (p *PriceSheetProvider) FetchPrice(ctx context.Context, productCode string) (*pricing.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.prices == nil || time.Since(p.loadedAt) > p.cfg.ReloadInterval {
		if err := p.reload(ctx); err != nil {
			return nil, &pricing.ProviderError{Provider: p.Slug(), ProductCode: productCode, Err: err}
		}
	}

	entry, ok := p.prices[productCode]
	if !ok {
		return nil, &pricing.ProviderError{
			Provider:    p.Slug(),
			ProductCode: productCode,
			Err:         fmt.Errorf("product not in price sheet"),
		}
	}

	return &pricing.Quote{
		ProductCode:  productCode,
		PricePerUnit: entry.price,
		Currency:     entry.currency,
		ObservedAt:   p.loadedAt,
		Provider:     p.Slug(),
	}, nil
}

// reload fetches and parses the sheet. Caller holds p.mu.
func (p *PriceSheetProvider) reload(ctx context.Context) error {
	var data []byte
	var err error

	if strings.HasPrefix(p.cfg.Source, "http://") || strings.HasPrefix(p.cfg.Source, "https://") {
		data, err = p.client.GetBytes(ctx, p.cfg.Source)
	} else {
		data, err = os.ReadFile(p.cfg.Source)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch price sheet: %w", err)
	}

	prices, err := parseSheet(data)
	if err != nil {
		return err
	}

	p.prices = prices
	p.loadedAt = time.Now()
	return nil
}

func parseSheet(data []byte) (map[string]sheetEntry, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open price sheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("price sheet has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read price sheet rows: %w", err)
	}

	prices := make(map[string]sheetEntry)
	for i, row := range rows {
		if i == 0 || len(row) < 2 {
			continue // header or short row
		}
		code := strings.TrimSpace(row[0])
		if code == "" {
			continue
		}
		price, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(row[1]), ",", "."), 64)
		if err != nil || price <= 0 {
			// Malformed rows are skipped, not fatal to the sheet.
			continue
		}
		currency := "USD"
		if len(row) > 2 && strings.TrimSpace(row[2]) != "" {
			currency = strings.ToUpper(strings.TrimSpace(row[2]))
		}
		prices[code] = sheetEntry{price: price, currency: currency}
	}

	if len(prices) == 0 {
		return nil, fmt.Errorf("price sheet contains no usable rows")
	}
	return prices, nil
}
