// Package paper is an in-memory venue for dry runs and tests. It fills
// market orders instantly at the configured quote, rests pending orders
// without simulating triggers, and reports state through the same snapshot
// calls the live gateway offers.
package paper

import (
	"context"
	"fmt"
	"sync"

	"signal-relay/internal/models"
	"signal-relay/internal/venue"
)

// Quote is the current market for one instrument
type Quote struct {
	Bid, Ask float64
}

var _ venue.Gateway = (*Gateway)(nil)

// Gateway is the in-memory venue. Safe for concurrent use.
type Gateway struct {
	mu sync.Mutex

	account     models.AccountInfo
	instruments map[string]*models.InstrumentInfo
	quotes      map[string]Quote
	candles     map[string][]models.Candle

	orders    map[int64]*models.PendingOrder
	positions map[int64]*models.Position
	states    map[int64]models.OrderState
	nextTick  int64

	// RejectNext makes the next N submissions fail with a venue rejection
	RejectNext int
	// MarginPerLot overrides the margin model; 0 means price-proportional
	MarginPerLot float64
}

// New creates a paper gateway over the given account snapshot
func New(account models.AccountInfo) *Gateway {
	return &Gateway{
		account:     account,
		instruments: make(map[string]*models.InstrumentInfo),
		quotes:      make(map[string]Quote),
		candles:     make(map[string][]models.Candle),
		orders:      make(map[int64]*models.PendingOrder),
		positions:   make(map[int64]*models.Position),
		states:      make(map[int64]models.OrderState),
		nextTick:    1000,
	}
}

// AddInstrument registers an instrument with its current quote
func (g *Gateway) AddInstrument(inst models.InstrumentInfo, q Quote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.instruments[inst.Symbol] = &inst
	g.quotes[inst.Symbol] = q
}

// SetQuote updates the market for an instrument
func (g *Gateway) SetQuote(symbol string, q Quote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quotes[symbol] = q
}

// SetCandles sets the candle history returned for an instrument
func (g *Gateway) SetCandles(symbol string, candles []models.Candle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.candles[symbol] = candles
}

// SetAccount replaces the account snapshot
func (g *Gateway) SetAccount(account models.AccountInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.account = account
}

func (g *Gateway) AccountInfo(ctx context.Context) (*models.AccountInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a := g.account
	return &a, nil
}

func (g *Gateway) Instruments(ctx context.Context) ([]models.InstrumentInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.InstrumentInfo, 0, len(g.instruments))
	for _, i := range g.instruments {
		out = append(out, *i)
	}
	return out, nil
}

func (g *Gateway) Instrument(ctx context.Context, symbol string) (*models.InstrumentInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	inst, ok := g.instruments[symbol]
	if !ok {
		return nil, fmt.Errorf("unknown instrument %s", symbol)
	}
	i := *inst
	return &i, nil
}

func (g *Gateway) Quote(ctx context.Context, symbol string) (float64, float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.quotes[symbol]
	if !ok {
		return 0, 0, fmt.Errorf("no quote for %s", symbol)
	}
	return q.Bid, q.Ask, nil
}

func (g *Gateway) Candles(ctx context.Context, symbol string, count int) ([]models.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.candles[symbol]
	if len(c) > count {
		c = c[len(c)-count:]
	}
	return append([]models.Candle(nil), c...), nil
}

func (g *Gateway) OpenOrders(ctx context.Context) ([]models.PendingOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.PendingOrder, 0, len(g.orders))
	for _, o := range g.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (g *Gateway) OpenPositions(ctx context.Context) ([]models.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.Position, 0, len(g.positions))
	for _, p := range g.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (g *Gateway) OrderState(ctx context.Context, ticket int64) (models.OrderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, open := g.orders[ticket]; open {
		return models.OrderStateOpen, nil
	}
	if s, ok := g.states[ticket]; ok {
		return s, nil
	}
	return "", venue.ErrOrderNotFound
}

func (g *Gateway) MarginRequired(ctx context.Context, symbol string, side models.Side, volume, price float64) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.MarginPerLot > 0 {
		return g.MarginPerLot * volume, nil
	}
	// Simple 1:100 leverage model on the notional value
	inst, ok := g.instruments[symbol]
	if !ok {
		return 0, fmt.Errorf("unknown instrument %s", symbol)
	}
	contract := 100000.0
	if inst.Digits <= 2 {
		contract = 100
	}
	return price * contract * volume / 100, nil
}

func (g *Gateway) SubmitOrder(ctx context.Context, spec venue.OrderSpec) (*venue.SubmitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.RejectNext > 0 {
		g.RejectNext--
		return nil, &venue.RejectError{Code: 10001, Reason: "rejected by test harness"}
	}

	inst, ok := g.instruments[spec.Instrument]
	if !ok {
		return nil, fmt.Errorf("unknown instrument %s", spec.Instrument)
	}
	if !inst.TradingEnabled {
		return nil, venue.ErrTradingDisabled
	}

	g.nextTick++
	ticket := g.nextTick

	if spec.Kind.IsImmediate() {
		q := g.quotes[spec.Instrument]
		price := q.Ask
		if spec.Side == models.SideSell {
			price = q.Bid
		}
		g.states[ticket] = models.OrderStateFilled
		g.positions[ticket] = &models.Position{
			Ticket:           ticket,
			Instrument:       spec.Instrument,
			Side:             spec.Side,
			Volume:           spec.Volume,
			EntryPrice:       price,
			StopLoss:         spec.StopLoss,
			TakeProfit:       spec.TakeProfit,
			OriginatingOrder: ticket,
		}
		return &venue.SubmitResult{
			OrderTicket:    ticket,
			PositionTicket: ticket,
			FilledVolume:   spec.Volume,
			FilledPrice:    price,
		}, nil
	}

	g.orders[ticket] = &models.PendingOrder{
		Ticket:          ticket,
		Instrument:      spec.Instrument,
		Kind:            spec.Kind,
		Side:            spec.Side,
		EntryPrice:      spec.Price,
		VolumeInitial:   spec.Volume,
		VolumeRemaining: spec.Volume,
		StopLoss:        spec.StopLoss,
		TakeProfit:      spec.TakeProfit,
	}
	return &venue.SubmitResult{OrderTicket: ticket}, nil
}

func (g *Gateway) ModifyOrder(ctx context.Context, ticket int64, price, sl, tp float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[ticket]
	if !ok {
		return venue.ErrOrderNotFound
	}
	if price > 0 {
		o.EntryPrice = price
	}
	o.StopLoss = sl
	o.TakeProfit = tp
	return nil
}

func (g *Gateway) ModifyPosition(ctx context.Context, ticket int64, sl, tp float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.positions[ticket]
	if !ok {
		return venue.ErrOrderNotFound
	}
	p.StopLoss = sl
	p.TakeProfit = tp
	return nil
}

func (g *Gateway) CancelOrder(ctx context.Context, ticket int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.orders[ticket]; !ok {
		return venue.ErrOrderNotFound
	}
	delete(g.orders, ticket)
	g.states[ticket] = models.OrderStateCancelled
	return nil
}

// FillPending converts a resting order into a position, as a triggered fill
// would. Used by tests and dry-run scenarios.
func (g *Gateway) FillPending(ticket int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[ticket]
	if !ok {
		return venue.ErrOrderNotFound
	}
	delete(g.orders, ticket)
	g.states[ticket] = models.OrderStateFilled
	g.positions[ticket] = &models.Position{
		Ticket:           ticket,
		Instrument:       o.Instrument,
		Side:             o.Side,
		Volume:           o.VolumeInitial,
		EntryPrice:       o.EntryPrice,
		StopLoss:         o.StopLoss,
		TakeProfit:       o.TakeProfit,
		OriginatingOrder: ticket,
	}
	return nil
}

// ClosePosition removes volume from a position, as an exit fill would
func (g *Gateway) ClosePosition(ticket int64, volume float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.positions[ticket]
	if !ok {
		return venue.ErrOrderNotFound
	}
	p.Volume -= volume
	if p.Volume <= 1e-9 {
		delete(g.positions, ticket)
	}
	return nil
}
