package venue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"signal-relay/internal/models"
)

// SnapshotPoller turns repeated gateway snapshots into a transaction stream
// for venues that expose no push feed. It diffs consecutive open-order and
// open-position listings and synthesizes OrderAdded / OrderUpdated /
// OrderRemoved / DealAdded events in a stable order.
type SnapshotPoller struct {
	gateway  Gateway
	interval time.Duration
	logger   *zap.SugaredLogger

	prevOrders    map[int64]models.PendingOrder
	prevPositions map[int64]models.Position
	instruments   map[string]models.InstrumentInfo
	primed        bool
	dealSeq       int64
}

// NewSnapshotPoller creates a poller over the given gateway
func NewSnapshotPoller(gw Gateway, interval time.Duration, logger *zap.SugaredLogger) *SnapshotPoller {
	return &SnapshotPoller{
		gateway:       gw,
		interval:      interval,
		logger:        logger,
		prevOrders:    make(map[int64]models.PendingOrder),
		prevPositions: make(map[int64]models.Position),
		instruments:   make(map[string]models.InstrumentInfo),
	}
}

// Subscribe implements Feed. The first poll primes the baseline without
// emitting events, so a restart does not replay the whole book as "added".
func (p *SnapshotPoller) Subscribe(ctx context.Context, handler func(models.Transaction)) error {
	if err := p.poll(ctx, handler); err != nil {
		return err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.poll(ctx, handler); err != nil {
				p.logger.Warnf("venue poll failed, keeping previous snapshot: %v", err)
			}
		}
	}
}

func (p *SnapshotPoller) poll(ctx context.Context, handler func(models.Transaction)) error {
	orders, err := p.gateway.OpenOrders(ctx)
	if err != nil {
		return err
	}
	positions, err := p.gateway.OpenPositions(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	curOrders := make(map[int64]models.PendingOrder, len(orders))
	for _, o := range orders {
		curOrders[o.Ticket] = o
	}
	curPositions := make(map[int64]models.Position, len(positions))
	for _, pos := range positions {
		curPositions[pos.Ticket] = pos
	}

	if !p.primed {
		p.prevOrders = curOrders
		p.prevPositions = curPositions
		p.primed = true
		return nil
	}

	p.diffOrders(ctx, curOrders, now, handler)
	p.diffPositions(ctx, curPositions, now, handler)

	p.prevOrders = curOrders
	p.prevPositions = curPositions
	return nil
}

func (p *SnapshotPoller) diffOrders(ctx context.Context, cur map[int64]models.PendingOrder, now time.Time, handler func(models.Transaction)) {
	for ticket, o := range cur {
		prev, ok := p.prevOrders[ticket]
		if !ok {
			oc := o
			handler(models.Transaction{Type: models.TxOrderAdded, Order: &oc, Time: now})
			continue
		}
		if prev.EntryPrice != o.EntryPrice || prev.StopLoss != o.StopLoss ||
			prev.TakeProfit != o.TakeProfit || prev.VolumeRemaining != o.VolumeRemaining {
			oc := o
			handler(models.Transaction{Type: models.TxOrderUpdated, Order: &oc, Time: now})
		}
	}

	for ticket, prev := range p.prevOrders {
		if _, ok := cur[ticket]; ok {
			continue
		}
		state, err := p.gateway.OrderState(ctx, ticket)
		if err != nil {
			p.logger.Warnf("cannot classify removed order %d, assuming cancelled: %v", ticket, err)
			state = models.OrderStateCancelled
		}
		oc := prev
		handler(models.Transaction{Type: models.TxOrderRemoved, Order: &oc, State: state, Time: now})
	}
}

func (p *SnapshotPoller) diffPositions(ctx context.Context, cur map[int64]models.Position, now time.Time, handler func(models.Transaction)) {
	for ticket, pos := range cur {
		prev, ok := p.prevPositions[ticket]
		if !ok {
			handler(models.Transaction{Type: models.TxDealAdded, Deal: p.entryDeal(pos, now), Time: now})
			continue
		}
		if pos.Volume < prev.Volume {
			handler(models.Transaction{Type: models.TxDealAdded, Deal: p.exitDeal(ctx, prev, prev.Volume-pos.Volume, now), Time: now})
		}
	}

	for ticket, prev := range p.prevPositions {
		if _, ok := cur[ticket]; !ok {
			handler(models.Transaction{Type: models.TxDealAdded, Deal: p.exitDeal(ctx, prev, prev.Volume, now), Time: now})
		}
	}
}

func (p *SnapshotPoller) entryDeal(pos models.Position, now time.Time) *models.Deal {
	p.dealSeq++
	return &models.Deal{
		Ticket:         p.dealSeq,
		OrderTicket:    pos.OriginatingOrder,
		PositionTicket: pos.Ticket,
		Instrument:     pos.Instrument,
		Side:           pos.Side,
		Entry:          models.DealEntryIn,
		Volume:         pos.Volume,
		Price:          pos.EntryPrice,
		Time:           now,
	}
}

// exitDeal synthesizes a closing deal for a shrunken or vanished position.
// The snapshot carries no fill price, so the current quote stands in for it;
// when no quote is available the deal goes out unpriced.
func (p *SnapshotPoller) exitDeal(ctx context.Context, prev models.Position, volume float64, now time.Time) *models.Deal {
	p.dealSeq++
	deal := &models.Deal{
		Ticket:         p.dealSeq,
		PositionTicket: prev.Ticket,
		Instrument:     prev.Instrument,
		Side:           prev.Side.Opposite(),
		Entry:          models.DealEntryOut,
		Volume:         volume,
		Time:           now,
	}

	bid, ask, err := p.gateway.Quote(ctx, prev.Instrument)
	if err != nil {
		p.logger.Debugf("no quote for %s, exit deal #%d unpriced: %v", prev.Instrument, deal.Ticket, err)
		return deal
	}
	if deal.Side == models.SideSell {
		deal.Price = bid
	} else {
		deal.Price = ask
	}

	inst, err := p.instrument(ctx, prev.Instrument)
	if err == nil && inst.Point > 0 {
		points := (deal.Price - prev.EntryPrice) / inst.Point
		if prev.Side == models.SideSell {
			points = -points
		}
		deal.Profit = points * inst.MoneyPerPointPerLot * volume
	}
	return deal
}

func (p *SnapshotPoller) instrument(ctx context.Context, symbol string) (models.InstrumentInfo, error) {
	if inst, ok := p.instruments[symbol]; ok {
		return inst, nil
	}
	inst, err := p.gateway.Instrument(ctx, symbol)
	if err != nil {
		return models.InstrumentInfo{}, err
	}
	p.instruments[symbol] = *inst
	return *inst, nil
}
