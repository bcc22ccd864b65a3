package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-relay/internal/models"
)

func writeFeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signals.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestFetch_HeaderDrivenAnyOrder tests that columns are matched by name,
// case-insensitively, regardless of order
func TestFetch_HeaderDrivenAnyOrder(t *testing.T) {
	path := writeFeed(t, `Side,ID,instrument,STOPLOSS,OrderKind,price,takeProfit,volume,comment
buy,s1,EURUSD,1.0900,limit,1.1000,1.1200,0.10,breakout
sell,s2,XAUUSD,,market,,,,
`)

	signals, err := NewCSVSource(path).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 2)

	assert.Equal(t, models.Signal{
		ID: "s1", Instrument: "EURUSD", Side: models.SideBuy,
		Kind: models.OrderKindLimit, Price: 1.1, StopLoss: 1.09,
		TakeProfit: 1.12, Volume: 0.10, Comment: "breakout",
	}, signals[0])

	assert.Equal(t, "s2", signals[1].ID)
	assert.Equal(t, models.SideSell, signals[1].Side)
	assert.Equal(t, models.OrderKindMarket, signals[1].Kind)
	assert.Zero(t, signals[1].Price)
	assert.Zero(t, signals[1].Volume)
}

// TestFetch_UnknownColumnsIgnored tests tolerance of extra columns
func TestFetch_UnknownColumnsIgnored(t *testing.T) {
	path := writeFeed(t, `id,instrument,side,strategy,confidence
s1,EURUSD,buy,trend,0.9
`)

	signals, err := NewCSVSource(path).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "s1", signals[0].ID)
}

// TestFetch_BadRowSkipped tests that one malformed row does not fail the fetch
func TestFetch_BadRowSkipped(t *testing.T) {
	path := writeFeed(t, `id,instrument,side,price
s1,EURUSD,buy,1.1000
s2,GBPUSD,sideways,1.2500
s3,EURUSD,sell,not-a-number
s4,USDJPY,sell,150.00
`)

	signals, err := NewCSVSource(path).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, "s1", signals[0].ID)
	assert.Equal(t, "s4", signals[1].ID)
}

// TestFetch_MissingIDColumnFails tests the one structural requirement
func TestFetch_MissingIDColumnFails(t *testing.T) {
	path := writeFeed(t, `instrument,side
EURUSD,buy
`)

	_, err := NewCSVSource(path).Fetch(context.Background())
	assert.Error(t, err)
}

// TestFetch_EmptyFile tests the empty feed edge
func TestFetch_EmptyFile(t *testing.T) {
	path := writeFeed(t, "")

	signals, err := NewCSVSource(path).Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, signals)
}
