package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-relay/internal/models"
	"signal-relay/internal/risk"
	"signal-relay/internal/symbols"
	"signal-relay/internal/venue"
	"signal-relay/internal/venue/paper"
)

func testInstrument() models.InstrumentInfo {
	return models.InstrumentInfo{
		Symbol:              "EURUSD",
		Digits:              5,
		Point:               0.00001,
		VolumeMin:           0.01,
		VolumeMax:           100,
		VolumeStep:          0.01,
		MoneyPerPointPerLot: 1.0,
		TradingEnabled:      true,
		FillPolicies: []models.FillPolicy{
			models.FillPolicyIOC,
			models.FillPolicyFOK,
			models.FillPolicyReturn,
		},
	}
}

func testEngine(t *testing.T) (*Engine, *paper.Gateway) {
	t.Helper()
	gw := paper.New(models.AccountInfo{
		ID: "acc1", Balance: 10000, Equity: 10000, FreeMargin: 10000,
	})
	gw.AddInstrument(testInstrument(), paper.Quote{Bid: 1.09998, Ask: 1.10002})

	resolver := symbols.NewResolver(symbols.ModeAuto, []string{"EURUSD"}, nil)
	sizer := risk.NewEngine(risk.Config{
		LotMode:  risk.LotModeFixed,
		FixedLot: 0.10,
		StopMode: risk.DistanceFixedPips,
		StopPips: 50,
	}, gw)

	return New(Config{MaxMarginUtilization: 50}, gw, resolver, sizer, 10), gw
}

func marketSignal() *models.Signal {
	return &models.Signal{
		ID:         "sig-1",
		Instrument: "EURUSD",
		Side:       models.SideBuy,
		Kind:       models.OrderKindMarket,
	}
}

// TestExecute_MarketOrderWithStops tests the happy path end to end
func TestExecute_MarketOrderWithStops(t *testing.T) {
	engine, gw := testEngine(t)

	res, err := engine.Execute(context.Background(), marketSignal())
	require.NoError(t, err)
	require.NotZero(t, res.PositionTicket)
	assert.InDelta(t, 0.10, res.FilledVolume, 1e-9)
	assert.InDelta(t, 1.10002, res.FilledPrice, 1e-9)

	positions, err := gw.OpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	// 50 pips = 500 points below the ask.
	assert.InDelta(t, 1.09502, positions[0].StopLoss, 1e-9)
}

// TestExecute_PendingOrderUsesSignalPrice tests limit order placement
func TestExecute_PendingOrderUsesSignalPrice(t *testing.T) {
	engine, gw := testEngine(t)

	sig := marketSignal()
	sig.Kind = models.OrderKindLimit
	sig.Price = 1.09000

	res, err := engine.Execute(context.Background(), sig)
	require.NoError(t, err)
	require.NotZero(t, res.OrderTicket)
	assert.Zero(t, res.PositionTicket)

	orders, err := gw.OpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.InDelta(t, 1.09000, orders[0].EntryPrice, 1e-9)
}

// TestExecute_FallbackToNextFillPolicy tests the first ladder rungs
func TestExecute_FallbackToNextFillPolicy(t *testing.T) {
	engine, gw := testEngine(t)
	gw.RejectNext = 2

	res, err := engine.Execute(context.Background(), marketSignal())
	require.NoError(t, err)
	assert.NotZero(t, res.PositionTicket)
	assert.Zero(t, gw.RejectNext, "both rejections must have been consumed")
}

// TestExecute_WidenedStopsRung tests the rung that retries with stops pushed
// one buffer unit further out
func TestExecute_WidenedStopsRung(t *testing.T) {
	engine, gw := testEngine(t)
	gw.RejectNext = 3 // all three fill policies rejected

	_, err := engine.Execute(context.Background(), marketSignal())
	require.NoError(t, err)

	positions, err := gw.OpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	// Original stop 1.09502, widened by 10 points.
	assert.InDelta(t, 1.09492, positions[0].StopLoss, 1e-9)
}

// TestExecute_ProtectionlessRungAttachesStopsAfter tests the last rung: a
// bare market submit followed by a modify carrying the computed stops
func TestExecute_ProtectionlessRungAttachesStopsAfter(t *testing.T) {
	engine, gw := testEngine(t)
	gw.RejectNext = 4 // three policies plus the widened rung

	res, err := engine.Execute(context.Background(), marketSignal())
	require.NoError(t, err)
	require.NotZero(t, res.PositionTicket)

	positions, err := gw.OpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 1.09502, positions[0].StopLoss, 1e-9,
		"follow-up modify must attach the original stop")
}

// TestExecute_AllRungsRejected tests giving up after the full ladder
func TestExecute_AllRungsRejected(t *testing.T) {
	engine, gw := testEngine(t)
	gw.RejectNext = 5

	_, err := engine.Execute(context.Background(), marketSignal())
	require.Error(t, err)
	assert.True(t, venue.IsRejected(err))
	assert.True(t, Skippable(err))
}

// recordingGateway keeps the last submitted spec for inspection
type recordingGateway struct {
	*paper.Gateway
	last venue.OrderSpec
}

func (g *recordingGateway) SubmitOrder(ctx context.Context, spec venue.OrderSpec) (*venue.SubmitResult, error) {
	g.last = spec
	return g.Gateway.SubmitOrder(ctx, spec)
}

// TestExecute_SlippageToleranceOnMarketOrders tests that the configured
// tolerance rides along on immediate submissions only
func TestExecute_SlippageToleranceOnMarketOrders(t *testing.T) {
	gw := &recordingGateway{Gateway: paper.New(models.AccountInfo{
		ID: "acc1", Balance: 10000, Equity: 10000, FreeMargin: 10000,
	})}
	gw.AddInstrument(testInstrument(), paper.Quote{Bid: 1.09998, Ask: 1.10002})
	sizer := risk.NewEngine(risk.Config{
		LotMode:  risk.LotModeFixed,
		FixedLot: 0.10,
		StopMode: risk.DistanceFixedPips,
		StopPips: 50,
	}, gw)
	engine := New(Config{MaxMarginUtilization: 50, SlippageTolerance: 20}, gw,
		symbols.NewResolver(symbols.ModeAuto, []string{"EURUSD"}, nil), sizer, 10)

	_, err := engine.Execute(context.Background(), marketSignal())
	require.NoError(t, err)
	assert.InDelta(t, 20, gw.last.SlippageTolerance, 1e-9)

	sig := marketSignal()
	sig.ID = "sig-2"
	sig.Kind = models.OrderKindLimit
	sig.Price = 1.09000
	_, err = engine.Execute(context.Background(), sig)
	require.NoError(t, err)
	assert.Zero(t, gw.last.SlippageTolerance, "pending orders carry no tolerance")
}

// TestExecute_MarginCapReducesLot tests scaling the lot to the margin budget
func TestExecute_MarginCapReducesLot(t *testing.T) {
	engine, gw := testEngine(t)
	// 40,000 per lot against a 5,000 budget caps at 0.12 lots.
	gw.MarginPerLot = 40000

	sig := marketSignal()
	sig.Volume = 1.0

	res, err := engine.Execute(context.Background(), sig)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, res.FilledVolume, 1e-9, "fixed lot already fits the budget")

	// From-signal sizing wants a full lot; the cap bites.
	gw2 := paper.New(models.AccountInfo{ID: "acc1", Balance: 10000, Equity: 10000, FreeMargin: 10000})
	gw2.AddInstrument(testInstrument(), paper.Quote{Bid: 1.09998, Ask: 1.10002})
	gw2.MarginPerLot = 40000
	sizer := risk.NewEngine(risk.Config{
		LotMode:  risk.LotModeFromSignal,
		FixedLot: 0.10,
		StopMode: risk.DistanceFixedPips,
		StopPips: 50,
	}, gw2)
	engine2 := New(Config{MaxMarginUtilization: 50}, gw2,
		symbols.NewResolver(symbols.ModeAuto, []string{"EURUSD"}, nil), sizer, 10)

	res, err = engine2.Execute(context.Background(), sig)
	require.NoError(t, err)
	assert.InDelta(t, 0.12, res.FilledVolume, 1e-9)
}

// TestExecute_InsufficientMargin tests failing when even the minimum lot
// cannot be covered
func TestExecute_InsufficientMargin(t *testing.T) {
	engine, gw := testEngine(t)
	gw.MarginPerLot = 600000

	_, err := engine.Execute(context.Background(), marketSignal())
	require.Error(t, err)
	assert.ErrorIs(t, err, venue.ErrInsufficientMargin)
	assert.True(t, Skippable(err))
}

// TestExecute_TradingDisabledSkipped tests the disabled-instrument guard
func TestExecute_TradingDisabledSkipped(t *testing.T) {
	engine, gw := testEngine(t)
	inst := testInstrument()
	inst.TradingEnabled = false
	gw.AddInstrument(inst, paper.Quote{Bid: 1.09998, Ask: 1.10002})

	_, err := engine.Execute(context.Background(), marketSignal())
	require.Error(t, err)
	assert.ErrorIs(t, err, venue.ErrTradingDisabled)
	assert.True(t, Skippable(err))
}

// TestExecute_UnresolvedSymbolSkipped tests the resolution failure path
func TestExecute_UnresolvedSymbolSkipped(t *testing.T) {
	engine, _ := testEngine(t)

	sig := marketSignal()
	sig.Instrument = "NO_SUCH"

	_, err := engine.Execute(context.Background(), sig)
	require.Error(t, err)
	assert.ErrorIs(t, err, symbols.ErrNotResolved)
	assert.True(t, Skippable(err))
}
