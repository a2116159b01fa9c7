package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/ordermatch/internal/model"
)

func sampleRows() []model.GuessedOrder {
	return []model.GuessedOrder{
		{
			OrderID:             100,
			OrderDate:           "2025-01-02T10:00:00",
			UserName:            "Ali Rezaei",
			ProviderToken:       "tok-100",
			TransactionID:       "txn-1",
			GuessedPhone:        "09120000000",
			Confidence:          model.ConfidenceHigh,
			MatchingOrdersCount: 3,
			UniquePhoneCount:    1,
			Tier:                model.TierBulk,
			Billing:             model.Contact{FirstName: "Ali", LastName: "Rezaei", City: "Tehran"},
			Total:               "1250000",
			Status:              "completed",
		},
		{
			OrderID:             101,
			UserName:            "Sara, Ahmadi",
			ProviderToken:       "tok-101",
			GuessedPhone:        "09350000000",
			Confidence:          model.ConfidenceLow,
			MatchingOrdersCount: 2,
			UniquePhoneCount:    2,
			Shipping:            model.Contact{City: "Shiraz"},
		},
	}
}

func TestParseFormats(t *testing.T) {
	t.Parallel()

	got, err := ParseFormats(" JSON,csv,,json ,xlsx")
	require.NoError(t, err)
	assert.Equal(t, []string{"json", "csv", "xlsx"}, got)

	_, err = ParseFormats("json,html")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "html")

	_, err = ParseFormats(" , ")
	require.Error(t, err)
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, WriteJSON(path, sampleRows()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "high", got[0]["match_confidence"])
	assert.Equal(t, "tok-100", got[0]["provider_token"])

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, WriteJSON(empty, nil))
	data, err = os.ReadFile(empty)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteCSV(path, sampleRows()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, columns, records[0])
	assert.Equal(t, "100", records[1][0])
	assert.Equal(t, "Tehran", records[1][9])
	assert.Equal(t, "Sara, Ahmadi", records[2][2])
	assert.Equal(t, "Shiraz", records[2][9], "city falls back to shipping")
}

func TestWriteXLSX(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, WriteXLSX(path, sampleRows()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet[SheetName]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "Order ID", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "100", sheet.Rows[1].Cells[0].String())
	assert.Equal(t, "09120000000", sheet.Rows[1].Cells[3].String())
	assert.Equal(t, "high", sheet.Rows[1].Cells[6].String())

	total, err := sheet.Rows[1].Cells[10].Float()
	require.NoError(t, err)
	assert.Equal(t, 1250000.0, total)
	assert.Equal(t, "", sheet.Rows[2].Cells[10].String())
}

func TestWriteAll(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "reports")
	paths, err := WriteAll(context.Background(), dir, "guessed-orders", []string{FormatJSON, FormatCSV, FormatXLSX}, sampleRows())
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dir, "guessed-orders.json"), paths[0])
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	_, err = WriteAll(context.Background(), dir, "bad", []string{"html"}, nil)
	require.Error(t, err)
}
