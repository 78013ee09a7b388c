package catalog

import (
	"fmt"
	"sort"
)

// Nutrient identifies one of the three macronutrients tracked by the blend
// engine. Phosphorus and potassium are expressed on the oxide basis
// (P as P2O5, K as K2O), matching how fertilizer grades are labeled.
type Nutrient string

const (
	NutrientN Nutrient = "N"
	NutrientP Nutrient = "P"
	NutrientK Nutrient = "K"
)

// Nutrients lists all nutrient kinds in canonical order.
var Nutrients = []Nutrient{NutrientN, NutrientP, NutrientK}

// Valid reports whether n is a known nutrient kind.
func (n Nutrient) Valid() bool {
	return n == NutrientN || n == NutrientP || n == NutrientK
}

// Analysis holds the nutrient content of a product in lbs of nutrient per
// purchase unit. A 46-0-0 urea sold by the ton carries N: 920 (46% of 2000 lbs).
type Analysis struct {
	N float64 `json:"n"`
	P float64 `json:"p"`
	K float64 `json:"k"`
}

// Of returns the content for a single nutrient kind.
func (a Analysis) Of(n Nutrient) float64 {
	switch n {
	case NutrientN:
		return a.N
	case NutrientP:
		return a.P
	case NutrientK:
		return a.K
	}
	return 0
}

// Total returns the combined nutrient content per unit.
func (a Analysis) Total() float64 {
	return a.N + a.P + a.K
}

// Product categories. Reference data only; the optimizer does not interpret
// them beyond category filtering for batch refreshes.
const (
	CategoryNitrogen  = "nitrogen"
	CategoryPhosphate = "phosphate"
	CategoryPotash    = "potash"
	CategoryBlended   = "blended"
)

// Product is an immutable fertilizer product reference record. It is loaded
// from an external catalog (XLSX/CSV) or supplied inline on a request and is
// never mutated by this service.
type Product struct {
	Code     string   `json:"code"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Unit     string   `json:"unit"`
	Analysis Analysis `json:"analysis"`

	// RiskCoeff is the volatilization/runoff risk coefficient per unit
	// applied, dimensionless and >= 0.
	RiskCoeff float64 `json:"riskCoeff"`

	// MinRate and MaxRate bound the practical application rate in units
	// per acre. Zero means unbounded.
	MinRate float64 `json:"minRate,omitempty"`
	MaxRate float64 `json:"maxRate,omitempty"`
}

// Validate checks a product record for numeric sanity. Agronomic correctness
// is the catalog owner's problem, not ours.
func (p *Product) Validate() error {
	if p.Code == "" {
		return ErrInvalidProduct{Code: p.Code, Field: "code", Reason: "cannot be empty"}
	}
	if p.Unit == "" {
		return ErrInvalidProduct{Code: p.Code, Field: "unit", Reason: "cannot be empty"}
	}
	if p.Analysis.N < 0 || p.Analysis.P < 0 || p.Analysis.K < 0 {
		return ErrInvalidProduct{Code: p.Code, Field: "analysis", Reason: "nutrient content cannot be negative"}
	}
	if p.Analysis.Total() <= 0 {
		return ErrInvalidProduct{Code: p.Code, Field: "analysis", Reason: "at least one nutrient must be positive"}
	}
	if p.RiskCoeff < 0 {
		return ErrInvalidProduct{Code: p.Code, Field: "riskCoeff", Reason: "cannot be negative"}
	}
	if p.MinRate < 0 || p.MaxRate < 0 {
		return ErrInvalidProduct{Code: p.Code, Field: "minRate", Reason: "application rates cannot be negative"}
	}
	if p.MinRate > 0 && p.MaxRate > 0 && p.MinRate > p.MaxRate {
		return ErrInvalidProduct{Code: p.Code, Field: "minRate", Reason: "minRate cannot exceed maxRate"}
	}
	return nil
}

// ErrInvalidProduct is returned when a catalog record fails validation.
type ErrInvalidProduct struct {
	Code   string
	Field  string
	Reason string
}

func (e ErrInvalidProduct) Error() string {
	return fmt.Sprintf("product %q: %s: %s", e.Code, e.Field, e.Reason)
}

// Catalog is an in-memory product catalog keyed by product code.
// It is built once at startup (or per request) and treated read-only after.
type Catalog struct {
	products map[string]Product
	codes    []string
}

// New creates a catalog from the given products. Records failing validation
// or duplicating an earlier code are rejected.
func New(products []Product) (*Catalog, error) {
	c := &Catalog{products: make(map[string]Product, len(products))}
	for i := range products {
		if err := c.add(products[i]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) add(p Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, dup := c.products[p.Code]; dup {
		return ErrInvalidProduct{Code: p.Code, Field: "code", Reason: "duplicate product code"}
	}
	c.products[p.Code] = p
	c.codes = append(c.codes, p.Code)
	sort.Strings(c.codes)
	return nil
}

// Get returns the product with the given code.
func (c *Catalog) Get(code string) (Product, bool) {
	p, ok := c.products[code]
	return p, ok
}

// Codes returns all product codes in sorted order.
func (c *Catalog) Codes() []string {
	out := make([]string, len(c.codes))
	copy(out, c.codes)
	return out
}

// Products returns all products sorted by code.
func (c *Catalog) Products() []Product {
	out := make([]Product, 0, len(c.codes))
	for _, code := range c.codes {
		out = append(out, c.products[code])
	}
	return out
}

// FilterCategory returns the products in the given category, sorted by code.
// An empty filter returns everything.
func (c *Catalog) FilterCategory(category string) []Product {
	if category == "" {
		return c.Products()
	}
	var out []Product
	for _, code := range c.codes {
		if p := c.products[code]; p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of products in the catalog.
func (c *Catalog) Len() int {
	return len(c.codes)
}
