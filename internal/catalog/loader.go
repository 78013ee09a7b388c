package catalog

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Loader column layout, shared by the XLSX and CSV loaders:
//
//	code, name, category, unit, n_pct, p_pct, k_pct, risk_coeff, min_rate, max_rate
//
// Nutrient columns are grade percentages (46 for 46% N); the loader converts
// them to lbs per unit assuming a 2000 lb (one US ton) purchase unit.

const defaultUnitWeightLbs = 2000.0

// LoadFile loads a catalog from an XLSX or CSV file based on extension.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return ParseXLSX(data)
	}
	return ParseCSV(data)
}

// ParseXLSX parses catalog rows from the first sheet of an XLSX workbook.
// The first row is treated as a header and skipped.
func ParseXLSX(data []byte) (*Catalog, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx contains no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return buildFromRows(rows)
}

// ParseCSV parses catalog rows from CSV content. Distributor exports are
// frequently Windows-1252 encoded; non-UTF-8 input is transcoded first.
func ParseCSV(data []byte) (*Catalog, error) {
	if !utf8.Valid(data) {
		decoded, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode catalog csv: %w", err)
		}
		log.Debug().Msg("Transcoded catalog CSV from windows-1252")
		data = decoded
	}
	// Strip UTF-8 BOM if present
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse catalog csv: %w", err)
		}
		rows = append(rows, record)
	}
	return buildFromRows(rows)
}

func buildFromRows(rows [][]string) (*Catalog, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("catalog has no data rows")
	}

	products := make([]Product, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if isEmptyRow(row) {
			continue
		}
		p, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("catalog row %d: %w", i+2, err)
		}
		products = append(products, p)
	}

	c, err := New(products)
	if err != nil {
		return nil, err
	}
	log.Info().Int("products", c.Len()).Msg("Loaded fertilizer catalog")
	return c, nil
}

func parseRow(row []string) (Product, error) {
	if len(row) < 7 {
		return Product{}, fmt.Errorf("expected at least 7 columns, got %d", len(row))
	}

	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	p := Product{
		Code:     cell(0),
		Name:     cell(1),
		Category: strings.ToLower(cell(2)),
		Unit:     strings.ToLower(cell(3)),
	}

	unitWeight := defaultUnitWeightLbs
	nPct, err := parseFloat(cell(4))
	if err != nil {
		return Product{}, fmt.Errorf("n_pct: %w", err)
	}
	pPct, err := parseFloat(cell(5))
	if err != nil {
		return Product{}, fmt.Errorf("p_pct: %w", err)
	}
	kPct, err := parseFloat(cell(6))
	if err != nil {
		return Product{}, fmt.Errorf("k_pct: %w", err)
	}

	p.Analysis = Analysis{
		N: nPct / 100 * unitWeight,
		P: pPct / 100 * unitWeight,
		K: kPct / 100 * unitWeight,
	}

	if v := cell(7); v != "" {
		if p.RiskCoeff, err = parseFloat(v); err != nil {
			return Product{}, fmt.Errorf("risk_coeff: %w", err)
		}
	}
	if v := cell(8); v != "" {
		if p.MinRate, err = parseFloat(v); err != nil {
			return Product{}, fmt.Errorf("min_rate: %w", err)
		}
	}
	if v := cell(9); v != "" {
		if p.MaxRate, err = parseFloat(v); err != nil {
			return Product{}, fmt.Errorf("max_rate: %w", err)
		}
	}

	return p, nil
}

func parseFloat(s string) (float64, error) {
	// Tolerate comma decimal separators from European spreadsheet exports.
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}

func isEmptyRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
