package risk

import (
	"errors"
	"math"

	"signal-relay/internal/models"
)

// atr computes the Average True Range over the given candles using Wilder's
// smoothing. Candles must be ordered oldest first and there must be at least
// period+1 of them so every true range has a prior close.
func atr(candles []models.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("atr period must be positive")
	}
	if len(candles) < period+1 {
		return 0, errors.New("not enough candles for atr")
	}

	trueRange := func(cur, prev models.Candle) float64 {
		hl := cur.High - cur.Low
		hc := math.Abs(cur.High - prev.Close)
		lc := math.Abs(cur.Low - prev.Close)
		return math.Max(hl, math.Max(hc, lc))
	}

	// Seed with a simple average of the first period true ranges, then smooth.
	var sum float64
	for i := 1; i <= period; i++ {
		sum += trueRange(candles[i], candles[i-1])
	}
	value := sum / float64(period)

	for i := period + 1; i < len(candles); i++ {
		tr := trueRange(candles[i], candles[i-1])
		value = (value*float64(period-1) + tr) / float64(period)
	}
	return value, nil
}
