// Package reconciler mirrors the venue's order and position lifecycle as a
// threaded notification conversation. It consumes venue transactions in
// arrival order on a single loop, keeps per-ticket state, and persists thread
// mappings so restarts thread into the same conversations.
package reconciler

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"signal-relay/internal/logger"
	"signal-relay/internal/models"
	"signal-relay/internal/notify"
	"signal-relay/internal/persistence"
	"signal-relay/internal/venue"
)

const (
	// cancelGrace delays cancellation notices so a fill deal racing the
	// order-removed event can suppress them.
	cancelGrace = 2 * time.Second

	// fillEdgeTTL bounds how long a recent fill edge is remembered
	fillEdgeTTL = 18 * time.Second

	// halfCloseTolerance classifies a partial close as "closed half" when
	// the closed volume is within this fraction of half the prior volume.
	halfCloseTolerance = 0.05

	volumeEpsilon = 1e-8
)

// deferredCancel is a cancellation notice waiting out its grace delay
type deferredCancel struct {
	ticket   int64
	state    models.OrderState
	order    models.PendingOrder
	notifyAt time.Time
}

// Reconciler is the lifecycle state machine for one account. All methods
// must be called from a single goroutine; Run provides that loop.
type Reconciler struct {
	gateway   venue.Gateway
	store     persistence.Store
	messenger notify.Messenger
	account   string

	orders    map[int64]*models.PendingOrder
	positions map[int64]*models.Position

	recentFills map[int64]time.Time // order ticket -> when the fill edge was seen
	deferred    []deferredCancel

	// OnClosedTrade, when set, receives every fully or partially closed
	// deal for journaling.
	OnClosedTrade func(deal models.Deal)

	// OnTick, when set, runs once per tick before deferred cancellations
	// are flushed. An error from it stops Run.
	OnTick func(now time.Time) error
}

// New creates a reconciler. Call Bootstrap before feeding it transactions.
func New(gw venue.Gateway, store persistence.Store, messenger notify.Messenger, accountID string) *Reconciler {
	return &Reconciler{
		gateway:     gw,
		store:       store,
		messenger:   messenger,
		account:     accountID,
		orders:      make(map[int64]*models.PendingOrder),
		positions:   make(map[int64]*models.Position),
		recentFills: make(map[int64]time.Time),
	}
}

// Bootstrap primes the state tables from the venue's current snapshot and
// restores persisted thread mappings, without sending any notifications.
func (r *Reconciler) Bootstrap(ctx context.Context) error {
	orders, err := r.gateway.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("listing open orders: %w", err)
	}
	for _, o := range orders {
		o := o
		o.ThreadMessageID = r.loadThread(orderThreadKey(o.Ticket))
		r.orders[o.Ticket] = &o
	}

	positions, err := r.gateway.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("listing open positions: %w", err)
	}
	for _, p := range positions {
		p := p
		p.ThreadMessageID = r.loadThread(positionThreadKey(p.Ticket))
		r.positions[p.Ticket] = &p
	}

	logger.S().Infof("reconciler bootstrapped: %d open orders, %d open positions",
		len(r.orders), len(r.positions))
	return nil
}

// Run consumes transactions and ticks until the context ends. Returned
// errors are persistence failures and are fatal to the caller.
func (r *Reconciler) Run(ctx context.Context, txCh <-chan models.Transaction, tickInterval time.Duration) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tx, ok := <-txCh:
			if !ok {
				return nil
			}
			if err := r.OnTransaction(ctx, tx); err != nil {
				return err
			}
		case now := <-ticker.C:
			if r.OnTick != nil {
				if err := r.OnTick(now); err != nil {
					return err
				}
			}
			r.Tick(ctx, now)
		}
	}
}

// OnTransaction applies one venue transaction to the state machine
func (r *Reconciler) OnTransaction(ctx context.Context, tx models.Transaction) error {
	switch tx.Type {
	case models.TxOrderAdded:
		return r.orderAdded(ctx, tx)
	case models.TxOrderUpdated:
		return r.orderUpdated(ctx, tx)
	case models.TxOrderRemoved:
		r.orderRemoved(tx)
		return nil
	case models.TxDealAdded:
		return r.dealAdded(ctx, tx)
	default:
		logger.S().Warnf("unknown transaction type %v ignored", tx.Type)
		return nil
	}
}

// Tick flushes deferred cancellations whose grace elapsed and prunes stale
// fill edges.
func (r *Reconciler) Tick(ctx context.Context, now time.Time) {
	kept := r.deferred[:0]
	for _, dc := range r.deferred {
		if now.Before(dc.notifyAt) {
			kept = append(kept, dc)
			continue
		}
		if _, filled := r.recentFills[dc.ticket]; filled {
			// The fill beat the removal event; this was never a cancel.
			continue
		}
		r.reply(ctx, dc.order.ThreadMessageID,
			fmt.Sprintf("%s order #%d %s %s @ %s: %s",
				dc.order.Kind, dc.ticket, dc.order.Side, dc.order.Instrument,
				formatPrice(dc.order.EntryPrice), terminalLabel(dc.state)))
	}
	r.deferred = kept

	for ticket, seen := range r.recentFills {
		if now.Sub(seen) > fillEdgeTTL {
			delete(r.recentFills, ticket)
		}
	}
}

func (r *Reconciler) orderAdded(ctx context.Context, tx models.Transaction) error {
	if tx.Order == nil {
		return nil
	}
	o := *tx.Order
	if _, exists := r.orders[o.Ticket]; exists {
		return nil
	}

	text := fmt.Sprintf("New %s order #%d: %s %v %s @ %s%s",
		o.Kind, o.Ticket, o.Side, o.VolumeInitial, o.Instrument,
		formatPrice(o.EntryPrice), stopsSuffix(o.StopLoss, o.TakeProfit))
	o.ThreadMessageID = r.send(ctx, text)
	r.orders[o.Ticket] = &o

	if o.ThreadMessageID != 0 {
		if err := r.saveThread(orderThreadKey(o.Ticket), o.ThreadMessageID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) orderUpdated(ctx context.Context, tx models.Transaction) error {
	if tx.Order == nil {
		return nil
	}
	cached, ok := r.orders[tx.Order.Ticket]
	if !ok {
		return r.orderAdded(ctx, tx)
	}

	changed := cached.EntryPrice != tx.Order.EntryPrice ||
		cached.StopLoss != tx.Order.StopLoss ||
		cached.TakeProfit != tx.Order.TakeProfit
	if changed {
		r.reply(ctx, cached.ThreadMessageID,
			fmt.Sprintf("Order #%d modified: price %s, SL %s, TP %s",
				cached.Ticket, formatPrice(tx.Order.EntryPrice),
				formatPrice(tx.Order.StopLoss), formatPrice(tx.Order.TakeProfit)))
	}

	cached.EntryPrice = tx.Order.EntryPrice
	cached.StopLoss = tx.Order.StopLoss
	cached.TakeProfit = tx.Order.TakeProfit
	cached.VolumeRemaining = tx.Order.VolumeRemaining
	return nil
}

func (r *Reconciler) orderRemoved(tx models.Transaction) {
	if tx.Order == nil {
		return
	}
	ticket := tx.Order.Ticket
	cached, ok := r.orders[ticket]
	if !ok {
		cached = tx.Order
	}
	delete(r.orders, ticket)

	if tx.State == models.OrderStateFilled {
		// The position's open notification will carry the fill; only
		// remember the edge so no cancellation slips out.
		r.recentFills[ticket] = tx.Time
		return
	}
	r.deferred = append(r.deferred, deferredCancel{
		ticket:   ticket,
		state:    tx.State,
		order:    *cached,
		notifyAt: tx.Time.Add(cancelGrace),
	})
}

func (r *Reconciler) dealAdded(ctx context.Context, tx models.Transaction) error {
	if tx.Deal == nil {
		return nil
	}
	if tx.Deal.Entry == models.DealEntryIn {
		return r.dealEntry(ctx, *tx.Deal)
	}
	return r.dealExit(ctx, *tx.Deal)
}

func (r *Reconciler) dealEntry(ctx context.Context, deal models.Deal) error {
	// A fill deal always suppresses any pending cancellation for its order.
	if deal.OrderTicket != 0 {
		r.recentFills[deal.OrderTicket] = deal.Time
	}

	if pos, ok := r.positions[deal.PositionTicket]; ok {
		pos.Volume = round8(pos.Volume + deal.Volume)
		r.reply(ctx, pos.ThreadMessageID,
			fmt.Sprintf("Position #%d added %v lots @ %s, now %v lots",
				pos.Ticket, deal.Volume, formatPrice(deal.Price), pos.Volume))
		return nil
	}

	pos := &models.Position{
		Ticket:           deal.PositionTicket,
		Instrument:       deal.Instrument,
		Side:             deal.Side,
		Volume:           deal.Volume,
		EntryPrice:       deal.Price,
		OriginatingOrder: deal.OrderTicket,
	}

	text := fmt.Sprintf("Position #%d opened: %s %v %s @ %s",
		pos.Ticket, pos.Side, pos.Volume, pos.Instrument, formatPrice(pos.EntryPrice))

	if origin := r.originThread(deal.OrderTicket); origin != 0 {
		pos.ThreadMessageID = origin
		r.reply(ctx, origin, text)
	} else {
		pos.ThreadMessageID = r.send(ctx, text)
	}
	r.positions[pos.Ticket] = pos

	if pos.ThreadMessageID != 0 {
		if err := r.saveThread(positionThreadKey(pos.Ticket), pos.ThreadMessageID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) dealExit(ctx context.Context, deal models.Deal) error {
	pos, ok := r.positions[deal.PositionTicket]
	if !ok {
		logger.S().Warnf("exit deal #%d for unknown position #%d", deal.Ticket, deal.PositionTicket)
		return nil
	}

	prior := pos.Volume
	remaining := round8(prior - deal.Volume)
	if remaining < 0 {
		remaining = 0
	}
	pos.Volume = remaining

	label := classifyClose(deal.Volume, prior, remaining)
	text := fmt.Sprintf("Position #%d %s: %v lots", pos.Ticket, label, deal.Volume)
	if deal.Price != 0 {
		text += fmt.Sprintf(" @ %s, profit %.2f", formatPrice(deal.Price), deal.Profit)
	}
	r.reply(ctx, pos.ThreadMessageID, text)

	if r.OnClosedTrade != nil {
		r.OnClosedTrade(deal)
	}

	if remaining <= volumeEpsilon {
		delete(r.positions, deal.PositionTicket)
	}
	return nil
}

// originThread finds the root message of the order that produced a position,
// first in the live table, then in the persisted mappings.
func (r *Reconciler) originThread(orderTicket int64) int64 {
	if orderTicket == 0 {
		return 0
	}
	if o, ok := r.orders[orderTicket]; ok && o.ThreadMessageID != 0 {
		return o.ThreadMessageID
	}
	return r.loadThread(orderThreadKey(orderTicket))
}

// classifyClose labels an exit deal against the position's prior volume
func classifyClose(closed, prior, remaining float64) string {
	if remaining <= volumeEpsilon {
		return "closed all"
	}
	if prior > 0 {
		half := prior / 2
		if math.Abs(closed-half) <= half*halfCloseTolerance {
			return "closed half"
		}
	}
	return "closed partial"
}

// send delivers a root notification, best effort. Returns the thread id or 0.
func (r *Reconciler) send(ctx context.Context, text string) int64 {
	id, err := r.messenger.Send(ctx, text)
	if err != nil {
		logger.S().Errorf("notification send failed: %v", err)
		return 0
	}
	return id
}

// reply delivers a threaded notification, best effort. Falls back to a root
// message when no thread exists.
func (r *Reconciler) reply(ctx context.Context, threadID int64, text string) {
	var err error
	if threadID != 0 {
		_, err = r.messenger.Reply(ctx, threadID, text)
	} else {
		_, err = r.messenger.Send(ctx, text)
	}
	if err != nil {
		logger.S().Errorf("notification reply failed: %v", err)
	}
}

func (r *Reconciler) saveThread(key string, messageID int64) error {
	if err := r.store.SetInt64(r.account, key, messageID); err != nil {
		return fmt.Errorf("persisting thread mapping %s: %w", key, err)
	}
	return nil
}

func (r *Reconciler) loadThread(key string) int64 {
	id, found, err := r.store.GetInt64(r.account, key)
	if err != nil {
		logger.S().Warnf("loading thread mapping %s: %v", key, err)
		return 0
	}
	if !found {
		return 0
	}
	return id
}

func orderThreadKey(ticket int64) string {
	return "thread:order:" + strconv.FormatInt(ticket, 10)
}

func positionThreadKey(ticket int64) string {
	return "thread:position:" + strconv.FormatInt(ticket, 10)
}

func terminalLabel(s models.OrderState) string {
	switch s {
	case models.OrderStateCancelled:
		return "cancelled"
	case models.OrderStateExpired:
		return "expired"
	case models.OrderStateRejected:
		return "rejected"
	default:
		return "removed"
	}
}

func stopsSuffix(sl, tp float64) string {
	out := ""
	if sl > 0 {
		out += ", SL " + formatPrice(sl)
	}
	if tp > 0 {
		out += ", TP " + formatPrice(tp)
	}
	return out
}

func formatPrice(p float64) string {
	if p == 0 {
		return "-"
	}
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}
