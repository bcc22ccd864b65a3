package risk

import (
	"context"
	"fmt"
	"math"

	"signal-relay/internal/models"
)

// CandleSource supplies recent candles for ATR-based distances. The venue
// gateway satisfies it.
type CandleSource interface {
	Candles(ctx context.Context, symbol string, count int) ([]models.Candle, error)
}

// Engine sizes orders in two passes. Pass one derives a provisional stop
// distance (from the signal's own stop when present, otherwise from the
// configured stop mode with a placeholder lot) and uses it to settle the lot.
// Pass two recomputes both protective distances with the final lot, which
// matters for the money- and balance-based modes whose distance depends on
// the lot itself.
type Engine struct {
	cfg     Config
	candles CandleSource
}

// NewEngine creates a sizing engine. candles may be nil when neither
// distance mode is ATR-based.
func NewEngine(cfg Config, candles CandleSource) *Engine {
	return &Engine{cfg: cfg, candles: candles}
}

// Size computes the lot and final stop-loss/take-profit prices for a signal
// at the given entry reference price.
func (e *Engine) Size(ctx context.Context, inst *models.InstrumentInfo, acct *models.AccountInfo, sig *models.Signal, entry float64) (Result, error) {
	if entry <= 0 {
		return Result{}, fmt.Errorf("entry price must be positive, got %v", entry)
	}

	atrValue, err := e.atrIfNeeded(ctx, inst)
	if err != nil {
		return Result{}, err
	}

	// Pass one: provisional stop distance for lot sizing.
	provisionalLot := e.cfg.FixedLot
	if provisionalLot <= 0 {
		provisionalLot = inst.VolumeMin
	}
	stopPts, err := e.stopDistance(inst, acct, sig, entry, provisionalLot, atrValue)
	if err != nil {
		return Result{}, err
	}

	lot, err := e.lot(inst, acct, sig, stopPts)
	if err != nil {
		return Result{}, err
	}

	// Pass two: final distances with the settled lot.
	stopPts, err = e.stopDistance(inst, acct, sig, entry, lot, atrValue)
	if err != nil {
		return Result{}, err
	}
	tpPts, err := e.takeProfitDistance(inst, acct, sig, entry, lot, stopPts, atrValue)
	if err != nil {
		return Result{}, err
	}

	minPts := inst.StopLevelPoints + e.cfg.StopBufferPoints
	if stopPts > 0 && stopPts < minPts {
		stopPts = minPts
	}
	if tpPts > 0 && tpPts < minPts {
		tpPts = minPts
	}

	res := Result{Lot: lot, StopPoints: stopPts, TakeProfitPoints: tpPts}
	if stopPts > 0 {
		res.StopLoss = protectivePrice(inst, sig.Side, entry, stopPts, true)
	}
	if tpPts > 0 {
		res.TakeProfit = protectivePrice(inst, sig.Side, entry, tpPts, false)
	}
	return res, nil
}

// lot settles the final volume, quantized down to the instrument's step and
// clamped into [VolumeMin, VolumeMax].
func (e *Engine) lot(inst *models.InstrumentInfo, acct *models.AccountInfo, sig *models.Signal, stopPts float64) (float64, error) {
	var raw float64
	switch e.cfg.LotMode {
	case LotModeFixed:
		raw = e.cfg.FixedLot
	case LotModeFromSignal:
		raw = sig.Volume
		if raw <= 0 {
			raw = e.cfg.FixedLot
		}
	case LotModeRiskPercent:
		if stopPts <= 0 {
			return 0, fmt.Errorf("risk-percent sizing for %s: %w", inst.Symbol, ErrNoStopDistance)
		}
		riskMoney := acct.Equity * e.cfg.RiskPercent / 100
		perLot := inst.MoneyPerPointPerLot * stopPts
		if perLot <= 0 {
			return 0, fmt.Errorf("risk-percent sizing for %s: zero money per point", inst.Symbol)
		}
		raw = riskMoney / perLot
	default:
		return 0, fmt.Errorf("unknown lot mode %q", e.cfg.LotMode)
	}

	lot := quantizeLot(raw, inst.VolumeStep)
	if lot > inst.VolumeMax {
		lot = quantizeLot(inst.VolumeMax, inst.VolumeStep)
	}
	if lot < inst.VolumeMin {
		return 0, fmt.Errorf("%s: %v < min %v: %w", inst.Symbol, lot, inst.VolumeMin, ErrLotBelowMinimum)
	}
	return lot, nil
}

// stopDistance returns the stop-loss distance in points. A stop supplied on
// the signal itself always wins over the configured mode.
func (e *Engine) stopDistance(inst *models.InstrumentInfo, acct *models.AccountInfo, sig *models.Signal, entry, lot, atrValue float64) (float64, error) {
	if sig.StopLoss > 0 {
		return math.Abs(entry-sig.StopLoss) / inst.Point, nil
	}
	return e.modeDistance(e.cfg.StopMode, inst, acct, lot, atrValue,
		e.cfg.StopPips, e.cfg.StopATRMultiplier, e.cfg.StopBalancePercent, e.cfg.StopMoney)
}

// takeProfitDistance returns the take-profit distance in points, or 0 when
// no target is wanted.
func (e *Engine) takeProfitDistance(inst *models.InstrumentInfo, acct *models.AccountInfo, sig *models.Signal, entry, lot, stopPts, atrValue float64) (float64, error) {
	if sig.TakeProfit > 0 {
		return math.Abs(entry-sig.TakeProfit) / inst.Point, nil
	}
	if e.cfg.TakeProfitMode == DistanceRMultiple {
		if stopPts <= 0 {
			return 0, fmt.Errorf("r-multiple target for %s: %w", inst.Symbol, ErrNoStopDistance)
		}
		return stopPts * e.cfg.RMultiple, nil
	}
	return e.modeDistance(e.cfg.TakeProfitMode, inst, acct, lot, atrValue,
		e.cfg.TakeProfitPips, e.cfg.TakeProfitATRMultiplier, e.cfg.TakeProfitBalancePercent, e.cfg.TakeProfitMoney)
}

func (e *Engine) modeDistance(mode DistanceMode, inst *models.InstrumentInfo, acct *models.AccountInfo, lot, atrValue, pips, atrMult, balancePct, money float64) (float64, error) {
	switch mode {
	case DistanceNone, "":
		return 0, nil
	case DistanceFixedPips:
		return pips * inst.PipPoints(), nil
	case DistanceATR:
		return atrValue / inst.Point * atrMult, nil
	case DistancePercentBalance:
		money = acct.Balance * balancePct / 100
		fallthrough
	case DistanceFixedMoney:
		perPoint := inst.MoneyPerPointPerLot * lot
		if perPoint <= 0 {
			return 0, fmt.Errorf("money distance for %s: zero money per point", inst.Symbol)
		}
		return money / perPoint, nil
	default:
		return 0, fmt.Errorf("unknown distance mode %q", mode)
	}
}

func (e *Engine) atrIfNeeded(ctx context.Context, inst *models.InstrumentInfo) (float64, error) {
	if e.cfg.StopMode != DistanceATR && e.cfg.TakeProfitMode != DistanceATR {
		return 0, nil
	}
	if e.candles == nil {
		return 0, fmt.Errorf("atr distance mode configured without a candle source")
	}
	candles, err := e.candles.Candles(ctx, inst.Symbol, e.cfg.ATRPeriod*3+1)
	if err != nil {
		return 0, fmt.Errorf("fetching candles for %s: %w", inst.Symbol, err)
	}
	return atr(candles, e.cfg.ATRPeriod)
}

// protectivePrice places a stop or target at the given distance on the
// correct side of the entry and rounds it to the instrument's digits.
func protectivePrice(inst *models.InstrumentInfo, side models.Side, entry, points float64, isStop bool) float64 {
	delta := points * inst.Point
	below := (side == models.SideBuy) == isStop
	price := entry + delta
	if below {
		price = entry - delta
	}
	return roundToDigits(price, inst.Digits)
}

// quantizeLot truncates toward zero to a whole number of volume steps
func quantizeLot(lot, step float64) float64 {
	if step <= 0 {
		return lot
	}
	steps := math.Floor(lot/step + 1e-9)
	return math.Round(steps*step*1e8) / 1e8
}

func roundToDigits(v float64, digits int) float64 {
	scale := math.Pow10(digits)
	return math.Round(v*scale) / scale
}
