// Package executor turns sized signals into venue orders. Submission runs an
// ordered fallback ladder so a rejection of one fill policy or stop placement
// does not immediately lose the trade.
package executor

import (
	"context"
	"errors"
	"fmt"

	"signal-relay/internal/logger"
	"signal-relay/internal/models"
	"signal-relay/internal/monitoring"
	"signal-relay/internal/risk"
	"signal-relay/internal/symbols"
	"signal-relay/internal/venue"
)

// Config holds execution limits
type Config struct {
	// MaxMarginUtilization caps how much of free margin an order may
	// consume, as a percentage.
	MaxMarginUtilization float64 `json:"max_margin_utilization"`
	// SlippageTolerance is the acceptable price deviation for immediate
	// orders, in points.
	SlippageTolerance float64 `json:"slippage_tolerance"`
	// StopWidenPoints is how far stops are widened on the second ladder
	// rung. Zero means reuse the sizing stop buffer.
	StopWidenPoints float64 `json:"stop_widen_points"`
}

// Engine executes one signal end to end: resolve, size, margin-cap, submit
type Engine struct {
	cfg      Config
	gateway  venue.Gateway
	resolver *symbols.Resolver
	sizer    *risk.Engine
	buffer   float64 // widening unit for the fallback ladder
}

// New creates an execution engine. bufferPoints is the stop buffer used as
// the widening unit in the fallback ladder.
func New(cfg Config, gw venue.Gateway, resolver *symbols.Resolver, sizer *risk.Engine, bufferPoints float64) *Engine {
	if cfg.StopWidenPoints > 0 {
		bufferPoints = cfg.StopWidenPoints
	}
	return &Engine{cfg: cfg, gateway: gw, resolver: resolver, sizer: sizer, buffer: bufferPoints}
}

// Execute resolves, sizes and submits one signal. Errors are classified per
// the package sentinels so the ingestion loop can log and continue.
func (e *Engine) Execute(ctx context.Context, sig *models.Signal) (*venue.SubmitResult, error) {
	symbol, err := e.resolver.Resolve(sig.Instrument)
	if err != nil {
		return nil, err
	}

	inst, err := e.gateway.Instrument(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("loading instrument %s: %w", symbol, err)
	}
	if !inst.TradingEnabled {
		return nil, fmt.Errorf("%s: %w", symbol, venue.ErrTradingDisabled)
	}

	acct, err := e.gateway.AccountInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading account: %w", err)
	}

	entry, err := e.entryPrice(ctx, inst, sig)
	if err != nil {
		return nil, err
	}

	sized, err := e.sizer.Size(ctx, inst, acct, sig, entry)
	if err != nil {
		return nil, fmt.Errorf("sizing %s signal %s: %w", symbol, sig.ID, err)
	}

	lot, err := e.capLotByMargin(ctx, inst, acct, sig.Side, sized.Lot, entry)
	if err != nil {
		return nil, err
	}
	if lot < sized.Lot {
		logger.S().Warnf("signal %s: lot capped by margin from %v to %v", sig.ID, sized.Lot, lot)
	}

	spec := venue.OrderSpec{
		Instrument: symbol,
		Side:       sig.Side,
		Kind:       sig.Kind,
		Volume:     lot,
		Price:      entry,
		StopLoss:   sized.StopLoss,
		TakeProfit: sized.TakeProfit,
		Comment:    sig.Comment,
	}
	if spec.Kind.IsImmediate() {
		spec.Price = 0 // venue fills at market
		spec.SlippageTolerance = e.cfg.SlippageTolerance
	}
	return e.submitWithFallback(ctx, inst, spec, sized)
}

// entryPrice picks the sizing reference: the signal's own price for pending
// orders, the current market quote for immediate ones.
func (e *Engine) entryPrice(ctx context.Context, inst *models.InstrumentInfo, sig *models.Signal) (float64, error) {
	if !sig.Kind.IsImmediate() {
		if sig.Price <= 0 {
			return 0, fmt.Errorf("pending order signal %s has no price", sig.ID)
		}
		return sig.Price, nil
	}
	bid, ask, err := e.gateway.Quote(ctx, inst.Symbol)
	if err != nil {
		return 0, fmt.Errorf("quoting %s: %w", inst.Symbol, err)
	}
	if sig.Side == models.SideBuy {
		return ask, nil
	}
	return bid, nil
}

// capLotByMargin scales the lot so its required margin stays within the
// configured fraction of free margin. Fails with ErrInsufficientMargin when
// even the minimum lot does not fit.
func (e *Engine) capLotByMargin(ctx context.Context, inst *models.InstrumentInfo, acct *models.AccountInfo, side models.Side, lot, price float64) (float64, error) {
	perLot, err := e.gateway.MarginRequired(ctx, inst.Symbol, side, 1.0, price)
	if err != nil {
		return 0, fmt.Errorf("querying margin for %s: %w", inst.Symbol, err)
	}
	if perLot <= 0 {
		return lot, nil
	}

	budget := acct.FreeMargin * e.cfg.MaxMarginUtilization / 100
	maxLot := budget / perLot
	if lot <= maxLot {
		return lot, nil
	}

	capped := quantizeDown(maxLot, inst.VolumeStep)
	if capped < inst.VolumeMin {
		return 0, fmt.Errorf("%s needs %.2f margin per lot, budget %.2f: %w",
			inst.Symbol, perLot, budget, venue.ErrInsufficientMargin)
	}
	return capped, nil
}

// attempt is one rung of the submission ladder
type attempt struct {
	label string
	spec  venue.OrderSpec
	// followUpSL/TP are attached with a modify after a protectionless fill
	followUpSL, followUpTP float64
}

// submitWithFallback runs the ordered attempt list, moving to the next rung
// only on a venue rejection. Other errors abort immediately.
func (e *Engine) submitWithFallback(ctx context.Context, inst *models.InstrumentInfo, spec venue.OrderSpec, sized risk.Result) (*venue.SubmitResult, error) {
	ladder := e.buildLadder(inst, spec)

	var lastErr error
	for _, a := range ladder {
		res, err := e.gateway.SubmitOrder(ctx, a.spec)
		if err == nil {
			logger.S().Infof("order accepted via %s: %s %s %v lots",
				a.label, a.spec.Side, a.spec.Instrument, a.spec.Volume)
			monitoring.RecordOrderSubmitted(a.spec.Instrument, string(a.spec.Side))
			e.attachFollowUpStops(ctx, a, res)
			return res, nil
		}
		if !venue.IsRejected(err) {
			return nil, err
		}
		monitoring.RecordOrderRejection(a.label)
		logger.S().Warnf("submission rejected (%s), trying next rung: %v", a.label, err)
		lastErr = err
	}
	return nil, fmt.Errorf("all submission attempts rejected: %w", lastErr)
}

// buildLadder produces the ordered attempt list: every supported fill policy
// with full stops, then widened stops, then (market orders only) a
// protectionless submit with a follow-up modify.
func (e *Engine) buildLadder(inst *models.InstrumentInfo, spec venue.OrderSpec) []attempt {
	policies := inst.FillPolicies
	if len(policies) == 0 {
		policies = []models.FillPolicy{models.FillPolicyReturn}
	}

	var ladder []attempt
	for _, p := range policies {
		s := spec
		s.FillPolicy = p
		ladder = append(ladder, attempt{label: "policy " + string(p), spec: s})
	}

	widened := spec
	widened.FillPolicy = policies[0]
	widened.StopLoss = widen(inst, spec.Side, spec.StopLoss, e.buffer, true)
	widened.TakeProfit = widen(inst, spec.Side, spec.TakeProfit, e.buffer, false)
	ladder = append(ladder, attempt{label: "widened stops", spec: widened})

	if spec.Kind.IsImmediate() {
		bare := spec
		bare.FillPolicy = policies[0]
		bare.StopLoss = 0
		bare.TakeProfit = 0
		ladder = append(ladder, attempt{
			label:      "protectionless",
			spec:       bare,
			followUpSL: spec.StopLoss,
			followUpTP: spec.TakeProfit,
		})
	}
	return ladder
}

// attachFollowUpStops modifies a protectionless fill to carry the originally
// computed stops. A failed modify is logged, not fatal; the trade stands.
func (e *Engine) attachFollowUpStops(ctx context.Context, a attempt, res *venue.SubmitResult) {
	if a.followUpSL == 0 && a.followUpTP == 0 {
		return
	}
	var err error
	if res.PositionTicket != 0 {
		err = e.gateway.ModifyPosition(ctx, res.PositionTicket, a.followUpSL, a.followUpTP)
	} else {
		err = e.gateway.ModifyOrder(ctx, res.OrderTicket, 0, a.followUpSL, a.followUpTP)
	}
	if err != nil {
		logger.S().Errorf("failed to attach stops after protectionless fill (ticket %d): %v",
			res.OrderTicket, err)
	}
}

// widen pushes a protective price one unit further from the entry
func widen(inst *models.InstrumentInfo, side models.Side, price, points float64, isStop bool) float64 {
	if price == 0 {
		return 0
	}
	delta := points * inst.Point
	below := (side == models.SideBuy) == isStop
	if below {
		return price - delta
	}
	return price + delta
}

func quantizeDown(lot, step float64) float64 {
	if step <= 0 {
		return lot
	}
	steps := int(lot/step + 1e-9)
	return float64(steps) * step
}

// Skippable reports whether an execution error is the expected per-signal
// kind the ingestion loop should log and move past.
func Skippable(err error) bool {
	return errors.Is(err, symbols.ErrNotResolved) ||
		errors.Is(err, venue.ErrInsufficientMargin) ||
		errors.Is(err, venue.ErrTradingDisabled) ||
		venue.IsRejected(err)
}
