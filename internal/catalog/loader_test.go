package catalog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var catalogHeader = []string{"code", "name", "category", "unit", "n_pct", "p_pct", "k_pct", "risk_coeff", "min_rate", "max_rate"}

func xlsxBytes(t *testing.T, rows [][]string) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		for j, cell := range row {
			ref, err := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, ref, cell))
		}
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestParseXLSXCatalog(t *testing.T) {
	data := xlsxBytes(t, [][]string{
		catalogHeader,
		{"UREA-46", "Urea 46-0-0", "Nitrogen", "Ton", "46", "0", "0", "1.2", "", ""},
		{"DAP-18-46", "DAP 18-46-0", "phosphate", "ton", "18", "46", "0", "1.8", "0.02", "0.5"},
	})

	cat, err := ParseXLSX(data)
	require.NoError(t, err)
	require.Equal(t, 2, cat.Len())

	urea, ok := cat.Get("UREA-46")
	require.True(t, ok)
	assert.Equal(t, "nitrogen", urea.Category)
	assert.Equal(t, "ton", urea.Unit)
	// 46% of a 2000 lb ton.
	assert.InDelta(t, 920.0, urea.Analysis.N, 1e-9)
	assert.Equal(t, 1.2, urea.RiskCoeff)

	dap, ok := cat.Get("DAP-18-46")
	require.True(t, ok)
	assert.InDelta(t, 360.0, dap.Analysis.N, 1e-9)
	assert.InDelta(t, 920.0, dap.Analysis.P, 1e-9)
	assert.Equal(t, 0.02, dap.MinRate)
	assert.Equal(t, 0.5, dap.MaxRate)
}

func TestParseCSVCatalog(t *testing.T) {
	csv := "code,name,category,unit,n_pct,p_pct,k_pct,risk_coeff,min_rate,max_rate\n" +
		"UREA-46,Urea 46-0-0,nitrogen,ton,46,0,0,1.2,,\n" +
		"MOP-60,Muriate of Potash,potash,ton,0,0,60,0.9,,\n"

	cat, err := ParseCSV([]byte(csv))
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Len())

	mop, ok := cat.Get("MOP-60")
	require.True(t, ok)
	assert.InDelta(t, 1200.0, mop.Analysis.K, 1e-9)
}

func TestParseCSVCommaDecimals(t *testing.T) {
	csv := "code,name,category,unit,n_pct,p_pct,k_pct,risk_coeff\n" +
		`UREA-46,Urea,nitrogen,ton,"46,0",0,0,"1,2"` + "\n"

	cat, err := ParseCSV([]byte(csv))
	require.NoError(t, err)

	urea, _ := cat.Get("UREA-46")
	assert.InDelta(t, 920.0, urea.Analysis.N, 1e-9)
	assert.Equal(t, 1.2, urea.RiskCoeff)
}

func TestParseCSVWindows1252(t *testing.T) {
	utf8CSV := "code,name,category,unit,n_pct,p_pct,k_pct,risk_coeff\n" +
		"CAN-27,Kalkammonsalpeter 27% köüß,nitrogen,ton,27,0,0,1.1\n"

	encoded, _, err := transform.Bytes(charmap.Windows1252.NewEncoder(), []byte(utf8CSV))
	require.NoError(t, err)
	require.False(t, bytes.Equal([]byte(utf8CSV), encoded))

	cat, err := ParseCSV(encoded)
	require.NoError(t, err)

	can, ok := cat.Get("CAN-27")
	require.True(t, ok)
	assert.Contains(t, can.Name, "köüß")
}

func TestParseCSVStripsBOM(t *testing.T) {
	csv := "\xEF\xBB\xBFcode,name,category,unit,n_pct,p_pct,k_pct\n" +
		"UREA-46,Urea,nitrogen,ton,46,0,0\n"

	cat, err := ParseCSV([]byte(csv))
	require.NoError(t, err)
	_, ok := cat.Get("UREA-46")
	assert.True(t, ok)
}

func TestParseCSVSkipsEmptyRows(t *testing.T) {
	csv := "code,name,category,unit,n_pct,p_pct,k_pct\n" +
		"UREA-46,Urea,nitrogen,ton,46,0,0\n" +
		",,,,,,\n"

	cat, err := ParseCSV([]byte(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, cat.Len())
}

func TestParseCSVRejectsMalformedRow(t *testing.T) {
	csv := "code,name,category,unit,n_pct,p_pct,k_pct\n" +
		"UREA-46,Urea,nitrogen,ton,forty-six,0,0\n"

	_, err := ParseCSV([]byte(csv))
	assert.Error(t, err)
}

func TestParseCSVRejectsDuplicateCodes(t *testing.T) {
	csv := "code,name,category,unit,n_pct,p_pct,k_pct\n" +
		"UREA-46,Urea,nitrogen,ton,46,0,0\n" +
		"UREA-46,Urea again,nitrogen,ton,46,0,0\n"

	_, err := ParseCSV([]byte(csv))
	assert.Error(t, err)
}

func TestParseCSVNoDataRows(t *testing.T) {
	_, err := ParseCSV([]byte("code,name,category,unit,n_pct,p_pct,k_pct\n"))
	assert.Error(t, err)
}

func TestCatalogAccessors(t *testing.T) {
	cat, err := New([]Product{
		{Code: "MOP-60", Name: "Potash", Category: CategoryPotash, Unit: "ton", Analysis: Analysis{K: 1200}},
		{Code: "UREA-46", Name: "Urea", Category: CategoryNitrogen, Unit: "ton", Analysis: Analysis{N: 920}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"MOP-60", "UREA-46"}, cat.Codes())
	assert.Len(t, cat.FilterCategory(CategoryNitrogen), 1)
	assert.Empty(t, cat.FilterCategory(CategoryBlended))

	products := cat.Products()
	require.Len(t, products, 2)
	assert.Equal(t, "MOP-60", products[0].Code)
}
