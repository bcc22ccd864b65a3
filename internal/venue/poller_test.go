package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signal-relay/internal/models"
)

type snapshotGateway struct {
	Gateway
	orders    []models.PendingOrder
	positions []models.Position
	states    map[int64]models.OrderState
	bid, ask  float64
	inst      *models.InstrumentInfo
}

func (g *snapshotGateway) OpenOrders(ctx context.Context) ([]models.PendingOrder, error) {
	return g.orders, nil
}

func (g *snapshotGateway) OpenPositions(ctx context.Context) ([]models.Position, error) {
	return g.positions, nil
}

func (g *snapshotGateway) OrderState(ctx context.Context, ticket int64) (models.OrderState, error) {
	if s, ok := g.states[ticket]; ok {
		return s, nil
	}
	return "", ErrOrderNotFound
}

func (g *snapshotGateway) Quote(ctx context.Context, symbol string) (float64, float64, error) {
	if g.bid == 0 && g.ask == 0 {
		return 0, 0, errors.New("no quote")
	}
	return g.bid, g.ask, nil
}

func (g *snapshotGateway) Instrument(ctx context.Context, symbol string) (*models.InstrumentInfo, error) {
	if g.inst == nil {
		return nil, errors.New("unknown instrument")
	}
	return g.inst, nil
}

func newPollerOver(gw *snapshotGateway) *SnapshotPoller {
	return NewSnapshotPoller(gw, time.Second, zap.NewNop().Sugar())
}

func order(ticket int64, price float64) models.PendingOrder {
	return models.PendingOrder{
		Ticket: ticket, Instrument: "EURUSD", Kind: models.OrderKindLimit,
		Side: models.SideBuy, EntryPrice: price,
		VolumeInitial: 0.10, VolumeRemaining: 0.10,
	}
}

// TestPoller_FirstPollPrimesWithoutEvents tests the restart baseline
func TestPoller_FirstPollPrimesWithoutEvents(t *testing.T) {
	gw := &snapshotGateway{
		orders:    []models.PendingOrder{order(1, 1.1)},
		positions: []models.Position{{Ticket: 9, Instrument: "EURUSD", Side: models.SideBuy, Volume: 0.2}},
	}
	p := newPollerOver(gw)

	var events []models.Transaction
	require.NoError(t, p.poll(context.Background(), func(tx models.Transaction) {
		events = append(events, tx)
	}))
	assert.Empty(t, events, "the first poll must only prime the baseline")
}

// TestPoller_DiffEmitsLifecycleEvents tests add, update, fill and cancel
func TestPoller_DiffEmitsLifecycleEvents(t *testing.T) {
	gw := &snapshotGateway{states: map[int64]models.OrderState{
		1: models.OrderStateFilled,
		2: models.OrderStateCancelled,
	}}
	p := newPollerOver(gw)

	collect := func() []models.Transaction {
		var events []models.Transaction
		require.NoError(t, p.poll(context.Background(), func(tx models.Transaction) {
			events = append(events, tx)
		}))
		return events
	}

	require.Empty(t, collect()) // prime empty

	// Two orders appear.
	gw.orders = []models.PendingOrder{order(1, 1.10), order(2, 1.20)}
	events := collect()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, models.TxOrderAdded, e.Type)
	}

	// Order 1 moves.
	gw.orders = []models.PendingOrder{order(1, 1.11), order(2, 1.20)}
	events = collect()
	require.Len(t, events, 1)
	assert.Equal(t, models.TxOrderUpdated, events[0].Type)
	assert.Equal(t, int64(1), events[0].Order.Ticket)

	// Order 1 fills into a position, order 2 is cancelled.
	gw.orders = nil
	gw.positions = []models.Position{{
		Ticket: 100, Instrument: "EURUSD", Side: models.SideBuy,
		Volume: 0.10, EntryPrice: 1.11, OriginatingOrder: 1,
	}}
	events = collect()
	require.Len(t, events, 3)

	byType := map[models.TransactionType][]models.Transaction{}
	for _, e := range events {
		byType[e.Type] = append(byType[e.Type], e)
	}
	require.Len(t, byType[models.TxOrderRemoved], 2)
	require.Len(t, byType[models.TxDealAdded], 1)

	deal := byType[models.TxDealAdded][0].Deal
	require.NotNil(t, deal)
	assert.Equal(t, models.DealEntryIn, deal.Entry)
	assert.Equal(t, int64(1), deal.OrderTicket)
	assert.Equal(t, int64(100), deal.PositionTicket)

	states := map[int64]models.OrderState{}
	for _, e := range byType[models.TxOrderRemoved] {
		states[e.Order.Ticket] = e.State
	}
	assert.Equal(t, models.OrderStateFilled, states[1])
	assert.Equal(t, models.OrderStateCancelled, states[2])
}

// TestPoller_PositionShrinkEmitsExitDeal tests partial close synthesis
func TestPoller_PositionShrinkEmitsExitDeal(t *testing.T) {
	gw := &snapshotGateway{positions: []models.Position{{
		Ticket: 100, Instrument: "EURUSD", Side: models.SideBuy, Volume: 0.10,
	}}}
	p := newPollerOver(gw)

	require.NoError(t, p.poll(context.Background(), func(models.Transaction) {}))

	gw.positions = []models.Position{{
		Ticket: 100, Instrument: "EURUSD", Side: models.SideBuy, Volume: 0.04,
	}}
	var events []models.Transaction
	require.NoError(t, p.poll(context.Background(), func(tx models.Transaction) {
		events = append(events, tx)
	}))

	require.Len(t, events, 1)
	deal := events[0].Deal
	require.NotNil(t, deal)
	assert.Equal(t, models.DealEntryOut, deal.Entry)
	assert.InDelta(t, 0.06, deal.Volume, 1e-9)
	assert.Equal(t, models.SideSell, deal.Side)

	// Full disappearance closes the remainder.
	gw.positions = nil
	events = nil
	require.NoError(t, p.poll(context.Background(), func(tx models.Transaction) {
		events = append(events, tx)
	}))
	require.Len(t, events, 1)
	assert.InDelta(t, 0.04, events[0].Deal.Volume, 1e-9)
}

// TestPoller_ExitDealPricedFromQuote tests that synthesized closes carry the
// close-side quote and an estimated profit
func TestPoller_ExitDealPricedFromQuote(t *testing.T) {
	gw := &snapshotGateway{
		positions: []models.Position{{
			Ticket: 100, Instrument: "EURUSD", Side: models.SideBuy,
			Volume: 0.10, EntryPrice: 1.10000,
		}},
		bid: 1.10498, ask: 1.10502,
		inst: &models.InstrumentInfo{
			Symbol: "EURUSD", Digits: 5, Point: 0.00001, MoneyPerPointPerLot: 1.0,
		},
	}
	p := newPollerOver(gw)

	require.NoError(t, p.poll(context.Background(), func(models.Transaction) {}))

	gw.positions = nil
	var events []models.Transaction
	require.NoError(t, p.poll(context.Background(), func(tx models.Transaction) {
		events = append(events, tx)
	}))

	require.Len(t, events, 1)
	deal := events[0].Deal
	require.NotNil(t, deal)
	// A long closes at the bid; 498 points at 1.0 per point on 0.10 lots.
	assert.InDelta(t, 1.10498, deal.Price, 1e-9)
	assert.InDelta(t, 49.8, deal.Profit, 1e-6)
}

// TestPoller_UnclassifiableRemovalAssumesCancelled tests the fallback when
// the venue cannot report a terminal state
func TestPoller_UnclassifiableRemovalAssumesCancelled(t *testing.T) {
	gw := &snapshotGateway{states: map[int64]models.OrderState{}}
	p := newPollerOver(gw)

	require.NoError(t, p.poll(context.Background(), func(models.Transaction) {}))

	gw.orders = []models.PendingOrder{order(1, 1.10)}
	require.NoError(t, p.poll(context.Background(), func(models.Transaction) {}))

	gw.orders = nil
	var events []models.Transaction
	require.NoError(t, p.poll(context.Background(), func(tx models.Transaction) {
		events = append(events, tx)
	}))
	require.Len(t, events, 1)
	assert.Equal(t, models.TxOrderRemoved, events[0].Type)
	assert.Equal(t, models.OrderStateCancelled, events[0].State)
}
