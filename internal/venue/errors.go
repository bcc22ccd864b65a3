package venue

import (
	"errors"
	"fmt"
)

// ErrInsufficientMargin means even the minimum lot cannot be margined
var ErrInsufficientMargin = errors.New("insufficient free margin")

// ErrTradingDisabled means the instrument exists but cannot be traded
var ErrTradingDisabled = errors.New("trading disabled for instrument")

// ErrOrderNotFound means the ticket is unknown to the venue
var ErrOrderNotFound = errors.New("order not found")

// RejectError is a venue-side refusal of an order submission. Rejections are
// the signal to try the next step of the execution fallback ladder; any other
// submission error aborts the trade.
type RejectError struct {
	Code   int
	Reason string
}

func (e *RejectError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("order rejected by venue (code %d): %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("order rejected by venue: %s", e.Reason)
}

// IsRejected reports whether err is a venue rejection
func IsRejected(err error) bool {
	var re *RejectError
	return errors.As(err, &re)
}
