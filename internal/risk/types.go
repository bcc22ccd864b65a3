package risk

import "errors"

// LotMode selects how the order volume is determined
type LotMode string

const (
	LotModeFixed       LotMode = "fixed"        // configured constant
	LotModeRiskPercent LotMode = "risk-percent" // size from equity at risk
	LotModeFromSignal  LotMode = "from-signal"  // use the signal's volume
)

// DistanceMode selects how a stop-loss or take-profit distance is computed
type DistanceMode string

const (
	DistanceNone           DistanceMode = "none"
	DistanceFixedPips      DistanceMode = "fixed-pips"
	DistanceATR            DistanceMode = "atr"
	DistancePercentBalance DistanceMode = "percent-balance"
	DistanceFixedMoney     DistanceMode = "fixed-money"
	DistanceRMultiple      DistanceMode = "r-multiple" // take-profit only
)

// ErrLotBelowMinimum means the computed lot quantized to zero or fell under
// the instrument's minimum volume
var ErrLotBelowMinimum = errors.New("computed lot is below the instrument minimum")

// ErrNoStopDistance means a mode needed a stop distance that came out
// non-positive
var ErrNoStopDistance = errors.New("stop distance could not be determined")

// Config holds every sizing knob. Stop-loss and take-profit modes are
// independent and money- and balance-based settings carry separate amounts
// for each side.
type Config struct {
	LotMode     LotMode `json:"lot_mode"`
	FixedLot    float64 `json:"fixed_lot"`
	RiskPercent float64 `json:"risk_percent"`

	StopMode           DistanceMode `json:"stop_mode"`
	StopPips           float64      `json:"stop_pips"`
	StopATRMultiplier  float64      `json:"stop_atr_multiplier"`
	StopBalancePercent float64      `json:"stop_balance_percent"`
	StopMoney          float64      `json:"stop_money"`

	TakeProfitMode           DistanceMode `json:"take_profit_mode"`
	TakeProfitPips           float64      `json:"take_profit_pips"`
	TakeProfitATRMultiplier  float64      `json:"take_profit_atr_multiplier"`
	TakeProfitBalancePercent float64      `json:"take_profit_balance_percent"`
	TakeProfitMoney          float64      `json:"take_profit_money"`
	RMultiple                float64      `json:"r_multiple"`

	ATRPeriod        int     `json:"atr_period"`
	StopBufferPoints float64 `json:"stop_buffer_points"`
}

// Result is a fully sized order: volume plus final protective prices
type Result struct {
	Lot              float64
	StopLoss         float64 // price, 0 when no stop is attached
	TakeProfit       float64 // price, 0 when no target is attached
	StopPoints       float64
	TakeProfitPoints float64
}

// Validate rejects configurations that cannot produce a size
func (c Config) Validate() error {
	switch c.LotMode {
	case LotModeFixed:
		if c.FixedLot <= 0 {
			return errors.New("fixed lot mode needs a positive fixed_lot")
		}
	case LotModeRiskPercent:
		if c.RiskPercent <= 0 {
			return errors.New("risk-percent lot mode needs a positive risk_percent")
		}
	case LotModeFromSignal:
		if c.FixedLot <= 0 {
			return errors.New("from-signal lot mode needs a positive fixed_lot fallback")
		}
	default:
		return errors.New("unknown lot mode: " + string(c.LotMode))
	}
	if c.StopMode == DistanceRMultiple {
		return errors.New("r-multiple applies to the take-profit side only")
	}
	if (c.StopMode == DistanceATR || c.TakeProfitMode == DistanceATR) && c.ATRPeriod <= 0 {
		return errors.New("atr distance mode needs a positive atr_period")
	}
	if c.TakeProfitMode == DistanceRMultiple && c.RMultiple <= 0 {
		return errors.New("r-multiple take-profit needs a positive r_multiple")
	}
	return nil
}
