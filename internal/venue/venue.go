package venue

import (
	"context"

	"signal-relay/internal/models"
)

// OrderSpec describes one order submission attempt
type OrderSpec struct {
	Instrument string
	Side       models.Side
	Kind       models.OrderKind
	Volume     float64
	Price      float64 // 0 for market orders
	StopLoss   float64 // 0 to omit
	TakeProfit float64 // 0 to omit
	FillPolicy models.FillPolicy
	// SlippageTolerance bounds the fill price deviation for immediate
	// orders, in points. 0 leaves it to the venue.
	SlippageTolerance float64
	Comment           string
}

// SubmitResult is the venue's answer to a successful submission
type SubmitResult struct {
	OrderTicket    int64
	PositionTicket int64 // set when the order filled immediately
	FilledVolume   float64
	FilledPrice    float64
}

// Gateway is the port to a single trading venue. Implementations exist per
// venue; everything above this interface is venue-agnostic.
type Gateway interface {
	// AccountInfo returns a current snapshot of balance, equity and margin.
	AccountInfo(ctx context.Context) (*models.AccountInfo, error)

	// Instruments lists all tradable instruments with their trading rules.
	Instruments(ctx context.Context) ([]models.InstrumentInfo, error)

	// Instrument returns the rules for one symbol.
	Instrument(ctx context.Context, symbol string) (*models.InstrumentInfo, error)

	// Quote returns the current bid/ask for a symbol.
	Quote(ctx context.Context, symbol string) (bid, ask float64, err error)

	// Candles returns the most recent count bars for a symbol, oldest first.
	Candles(ctx context.Context, symbol string, count int) ([]models.Candle, error)

	// OpenOrders enumerates currently resting orders.
	OpenOrders(ctx context.Context) ([]models.PendingOrder, error)

	// OpenPositions enumerates currently open positions.
	OpenPositions(ctx context.Context) ([]models.Position, error)

	// OrderState reports the state of an order that may no longer be open.
	OrderState(ctx context.Context, ticket int64) (models.OrderState, error)

	// MarginRequired returns the margin needed to hold volume lots of symbol
	// at the given price.
	MarginRequired(ctx context.Context, symbol string, side models.Side, volume, price float64) (float64, error)

	// SubmitOrder sends one order to the venue. A venue-side rejection is
	// returned as a *RejectError so callers can walk their fallback ladder.
	SubmitOrder(ctx context.Context, spec OrderSpec) (*SubmitResult, error)

	// ModifyOrder changes price and/or protective levels of a resting order.
	// Zero values leave the corresponding field unchanged.
	ModifyOrder(ctx context.Context, ticket int64, price, stopLoss, takeProfit float64) error

	// ModifyPosition changes the protective levels of an open position.
	ModifyPosition(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error

	// CancelOrder cancels a resting order.
	CancelOrder(ctx context.Context, ticket int64) error
}

// Feed delivers the venue's transaction stream. Events must be delivered
// one at a time, in venue order; the engine serializes them with its tick.
type Feed interface {
	// Subscribe registers the handler and starts delivery. Delivery stops
	// when ctx is done.
	Subscribe(ctx context.Context, handler func(models.Transaction)) error
}
