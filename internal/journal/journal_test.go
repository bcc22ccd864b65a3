package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"signal-relay/internal/models"
)

func sampleJournal() *Journal {
	j := New()
	j.RecordExecution(models.Signal{
		ID: "sig-1", Instrument: "EURUSD", Side: models.SideBuy,
		Kind: models.OrderKindMarket, Volume: 0.10,
	})
	j.RecordClose(models.Deal{
		Ticket: 1, PositionTicket: 100, Instrument: "EURUSD",
		Side: models.SideSell, Entry: models.DealEntryOut,
		Volume: 0.10, Price: 1.105, Profit: 25.40,
	})
	return j
}

// TestExportXLSX tests that the workbook lands on disk with both sheets filled
func TestExportXLSX(t *testing.T) {
	j := sampleJournal()

	path := filepath.Join(t.TempDir(), "nested", "session.xlsx")
	require.NoError(t, j.ExportXLSX(path))

	_, err := os.Stat(path)
	require.NoError(t, err)

	fx, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer fx.Close()

	sig, err := fx.GetCellValue("Signals", "B2")
	require.NoError(t, err)
	assert.Equal(t, "sig-1", sig)

	profit, err := fx.GetCellValue("Closed Trades", "H2")
	require.NoError(t, err)
	assert.Equal(t, "25.4", profit)
}

// TestPrintSummary only checks that rendering an empty and a filled journal
// does not panic
func TestPrintSummary(t *testing.T) {
	New().PrintSummary()
	sampleJournal().PrintSummary()
}
