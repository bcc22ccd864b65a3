package models

import "time"

// Side represents the direction of a trade
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderKind represents how an order enters the market
type OrderKind string

const (
	OrderKindMarket    OrderKind = "Market"    // fill immediately at current price
	OrderKindLimit     OrderKind = "Limit"     // rest at a better-than-market price
	OrderKindStop      OrderKind = "Stop"      // trigger at a worse-than-market price
	OrderKindStopLimit OrderKind = "StopLimit" // trigger, then rest as a limit
)

// IsImmediate returns true for orders that execute at the current price
func (k OrderKind) IsImmediate() bool {
	return k == OrderKindMarket
}

// FillPolicy is a venue-accepted matching mode for an order submission
type FillPolicy string

const (
	FillPolicyIOC    FillPolicy = "IOC"    // immediate or cancel
	FillPolicyFOK    FillPolicy = "FOK"    // fill or kill
	FillPolicyReturn FillPolicy = "Return" // return unfilled remainder to the book
)

// OrderState is the terminal state of an order as reported by the venue
type OrderState string

const (
	OrderStateOpen      OrderState = "Open"
	OrderStateFilled    OrderState = "Filled"
	OrderStateCancelled OrderState = "Cancelled"
	OrderStateExpired   OrderState = "Expired"
	OrderStateRejected  OrderState = "Rejected"
)

// IsTerminal returns true once an order can no longer change
func (s OrderState) IsTerminal() bool {
	return s != OrderStateOpen
}

// DealEntry classifies a deal as opening or closing exposure
type DealEntry string

const (
	DealEntryIn  DealEntry = "In"
	DealEntryOut DealEntry = "Out"
)

// Signal is an external instruction to open a trade, arriving via the feed.
// Optional numeric fields use zero for "not provided".
type Signal struct {
	ID         string    `json:"id"`
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Kind       OrderKind `json:"order_kind"`
	Price      float64   `json:"price,omitempty"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Volume     float64   `json:"volume,omitempty"`
	Comment    string    `json:"comment,omitempty"`
}

// PendingOrder is a not-yet-triggered instruction resting at the venue
type PendingOrder struct {
	Ticket          int64     `json:"ticket"`
	Instrument      string    `json:"instrument"`
	Kind            OrderKind `json:"kind"`
	Side            Side      `json:"side"`
	EntryPrice      float64   `json:"entry_price"`
	VolumeInitial   float64   `json:"volume_initial"`
	VolumeRemaining float64   `json:"volume_remaining"`
	StopLoss        float64   `json:"stop_loss"`
	TakeProfit      float64   `json:"take_profit"`
	ThreadMessageID int64     `json:"thread_message_id,omitempty"`
}

// Position is a filled, currently open exposure
type Position struct {
	Ticket           int64   `json:"ticket"`
	Instrument       string  `json:"instrument"`
	Side             Side    `json:"side"`
	Volume           float64 `json:"volume"`
	EntryPrice       float64 `json:"entry_price"`
	StopLoss         float64 `json:"stop_loss"`
	TakeProfit       float64 `json:"take_profit"`
	ThreadMessageID  int64   `json:"thread_message_id,omitempty"`
	OriginatingOrder int64   `json:"originating_order,omitempty"`
}

// Deal is an atomic fill event (entry or exit) reported by the venue
type Deal struct {
	Ticket         int64     `json:"ticket"`
	OrderTicket    int64     `json:"order_ticket"`
	PositionTicket int64     `json:"position_ticket"`
	Instrument     string    `json:"instrument"`
	Side           Side      `json:"side"`
	Entry          DealEntry `json:"entry"`
	Volume         float64   `json:"volume"`
	Price          float64   `json:"price"`
	Profit         float64   `json:"profit"`
	Time           time.Time `json:"time"`
}

// TransactionType identifies a venue transaction event
type TransactionType int

const (
	TxOrderAdded TransactionType = iota
	TxOrderUpdated
	TxOrderRemoved
	TxDealAdded
)

// String returns the event name used in logs
func (t TransactionType) String() string {
	switch t {
	case TxOrderAdded:
		return "ORDER_ADDED"
	case TxOrderUpdated:
		return "ORDER_UPDATED"
	case TxOrderRemoved:
		return "ORDER_REMOVED"
	case TxDealAdded:
		return "DEAL_ADDED"
	default:
		return "UNKNOWN"
	}
}

// Transaction is one event on the venue's order/deal feed. Order carries the
// order fields as of the event for add/update, and the last known fields for
// remove. State is only meaningful for TxOrderRemoved; Deal only for
// TxDealAdded.
type Transaction struct {
	Type  TransactionType
	Order *PendingOrder
	State OrderState
	Deal  *Deal
	Time  time.Time
}

// InstrumentInfo holds the trading rules for a single venue instrument
type InstrumentInfo struct {
	Symbol              string       `json:"symbol"`
	Digits              int          `json:"digits"`
	Point               float64      `json:"point"`                   // smallest price increment
	VolumeMin           float64      `json:"volume_min"`
	VolumeMax           float64      `json:"volume_max"`
	VolumeStep          float64      `json:"volume_step"`
	StopLevelPoints     float64      `json:"stop_level_points"`       // venue-enforced minimum stop distance
	MoneyPerPointPerLot float64      `json:"money_per_point_per_lot"` // tick value for one lot, account currency
	TradingEnabled      bool         `json:"trading_enabled"`
	FillPolicies        []FillPolicy `json:"fill_policies"` // accepted policies, priority order
}

// PipPoints returns how many points make up one pip. Venues quoting
// fractional pips (5/3 digit pricing) use 10 points per pip.
func (i InstrumentInfo) PipPoints() float64 {
	if i.Digits == 5 || i.Digits == 3 {
		return 10
	}
	return 1
}

// AccountInfo is a snapshot of the trading account
type AccountInfo struct {
	ID         string  `json:"id"`
	Currency   string  `json:"currency"`
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	FreeMargin float64 `json:"free_margin"`
}

// Candle is a single OHLC bar used for volatility-based stop sizing
type Candle struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}
