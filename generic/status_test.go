package generic

import (
	"bytes"
	"encoding/csv"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestClassifyStatus(t *testing.T) {
	tests := map[string]StatusCategory{
		"Sold":             StatusClosed,
		"  CLOSED ":        StatusClosed,
		"Under   Contract": StatusPipeline,
		"Pending":          StatusPipeline,
		"Active Listings":  StatusActive,
		"Withdrawn":        StatusDead,
		"Something Else":   StatusUnknown,
		"":                 StatusUnknown,
	}
	for in, want := range tests {
		assert.Equal(t, want, ClassifyStatus(in), in)
	}
	assert.False(t, StatusUnknown.IsDeterminable())
	assert.True(t, StatusDead.IsDeterminable())
}

func TestRegisterStatus(t *testing.T) {
	// GIVEN: A brokerage-specific status alias
	// WHEN: Registering it as closed
	// THEN: Lookups are case-insensitive and it is listed with the other closed aliases

	RegisterStatus("Closed - Paid", StatusClosed)
	assert.Equal(t, StatusClosed, ClassifyStatus("closed - paid"))
	assert.Contains(t, ListStatuses(StatusClosed), "closed - paid")
	assert.Contains(t, ListStatuses(StatusClosed), "sold")
}

// =============================================================================
// TABLE EXPORT TESTS
// =============================================================================

func sampleTable() Table {
	return Table{
		Sheet:  "Audit: 2025/Q1",
		Header: []string{"Loop ID", "Agent", "Difference"},
		Rows: [][]string{
			{"L1", "Alice Smith", "0.00"},
			{"L2", "Bob, Jr.", "-250.00"},
		},
	}
}

func TestTable_WriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleTable().WriteCSV(&buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Loop ID", "Agent", "Difference"}, rows[0])
	assert.Equal(t, "Bob, Jr.", rows[2][1])
}

func TestTable_WriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleTable().WriteXLSX(&buf))

	xl, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer xl.Close()

	sheet := xl.GetSheetName(0)
	assert.Equal(t, "Audit_ 2025_Q1", sheet)
	rows, err := xl.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "L2", rows[2][0])
	assert.Equal(t, "-250.00", rows[2][2])
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "Sheet1", sheetName("  "))
	assert.Len(t, sheetName("a very long sheet name that keeps going"), 31)

	// Truncation counts characters, not bytes.
	long := sheetName("Écarts de commission régionales à Zürich")
	assert.True(t, utf8.ValidString(long))
	assert.Equal(t, 31, utf8.RuneCountInString(long))
	assert.Equal(t, "Écarts de commission régionales", long)
}
