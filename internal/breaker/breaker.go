// Package breaker implements the drawdown circuit breaker. It watches equity
// against a daily high-water mark and an overall balance baseline, halts
// outbound notifications when a threshold is breached, and resumes after a
// cooldown. Every state field is persisted so a restart lands in the same
// state, halt window included.
package breaker

import (
	"fmt"
	"time"

	"signal-relay/internal/logger"
	"signal-relay/internal/monitoring"
	"signal-relay/internal/persistence"
)

// Persisted field keys, scoped per account by the store
const (
	keyStopped         = "cb:stopped"
	keyStopStartedAt   = "cb:stop_started_at"
	keyDailyHigh       = "cb:daily_high_equity"
	keyInitialBaseline = "cb:initial_balance_baseline"
	keyDayMarker       = "cb:day_marker"
)

// stopAlertDedupe suppresses duplicate stop alerts from repeated threshold
// breaches within this window
const stopAlertDedupe = 60 * time.Second

// thresholdEpsilon absorbs float rounding in the drawdown percentage so an
// equity exactly at the threshold still counts as reaching it
const thresholdEpsilon = 1e-9

// Config holds the breaker thresholds
type Config struct {
	Enabled             bool    `json:"enabled"`
	DailyThresholdPct   float64 `json:"daily_threshold_pct"`
	OverallThresholdPct float64 `json:"overall_threshold_pct"`
	CooldownHours       float64 `json:"cooldown_hours"`
}

// AccountReader supplies the equity and balance the breaker evaluates. The
// venue gateway is adapted onto it in main.
type AccountReader func() (equity, balance float64, err error)

// Breaker is the drawdown circuit breaker for one account. It is driven from
// the engine's single event loop and performs no locking of its own.
type Breaker struct {
	cfg     Config
	store   persistence.Store
	account string
	read    AccountReader

	// OnStopped and OnResumed fire on state transitions, at most once per
	// transition. Stop alerts are deduplicated for stopAlertDedupe.
	OnStopped func(reason string)
	OnResumed func()

	stopped       bool
	stopStartedAt time.Time
	dailyHigh     float64
	baseline      float64
	dayMarker     string
	lastStopAlert time.Time
}

// New creates a breaker and restores its persisted state
func New(cfg Config, store persistence.Store, accountID string, read AccountReader) (*Breaker, error) {
	b := &Breaker{cfg: cfg, store: store, account: accountID, read: read}
	if err := b.restore(); err != nil {
		return nil, fmt.Errorf("restoring circuit breaker state: %w", err)
	}
	return b, nil
}

func (b *Breaker) restore() error {
	stopped, found, err := b.store.GetInt64(b.account, keyStopped)
	if err != nil {
		return err
	}
	if found {
		b.stopped = stopped != 0
	}
	startedAt, found, err := b.store.GetInt64(b.account, keyStopStartedAt)
	if err != nil {
		return err
	}
	if found && startedAt > 0 {
		b.stopStartedAt = time.Unix(startedAt, 0)
	}
	if b.dailyHigh, _, err = b.getFloat(keyDailyHigh); err != nil {
		return err
	}
	if b.baseline, _, err = b.getFloat(keyInitialBaseline); err != nil {
		return err
	}
	if b.dayMarker, _, err = b.store.GetString(b.account, keyDayMarker); err != nil {
		return err
	}
	if b.stopped {
		logger.S().Warnf("circuit breaker restored in Stopped state, halt began %s",
			b.stopStartedAt.Format(time.RFC3339))
	}
	return nil
}

func (b *Breaker) getFloat(key string) (float64, bool, error) {
	return b.store.GetFloat64(b.account, key)
}

// Stopped reports whether the breaker is currently in the Stopped state
func (b *Breaker) Stopped() bool { return b.stopped }

// Allow implements the notification gate. It re-runs the evaluation so a
// cooldown expiry is detected on the next send attempt, not only on the next
// tick.
func (b *Breaker) Allow() bool {
	if !b.cfg.Enabled {
		return true
	}
	if err := b.Evaluate(time.Now()); err != nil {
		logger.S().Warnf("circuit breaker gate evaluation failed: %v", err)
	}
	return !b.stopped
}

// Tick is the periodic entry point from the engine loop
func (b *Breaker) Tick(now time.Time) error {
	if !b.cfg.Enabled {
		return nil
	}
	return b.Evaluate(now)
}

// Evaluate advances the state machine one step: day rollover, high-water
// update, threshold check or cooldown check. Persistence errors are returned
// to the caller; they are fatal upstream.
func (b *Breaker) Evaluate(now time.Time) error {
	equity, balance, err := b.read()
	if err != nil {
		logger.S().Warnf("circuit breaker: account read failed, keeping state: %v", err)
		return nil
	}

	if b.baseline <= 0 {
		b.baseline = balance
		if err := b.store.SetFloat64(b.account, keyInitialBaseline, b.baseline); err != nil {
			return err
		}
		logger.S().Infof("circuit breaker baseline set to %.2f", b.baseline)
	}

	day := now.Format("2006-01-02")
	switch {
	case day != b.dayMarker:
		b.dayMarker = day
		b.dailyHigh = equity
		if err := b.store.SetString(b.account, keyDayMarker, day); err != nil {
			return err
		}
		if err := b.store.SetFloat64(b.account, keyDailyHigh, b.dailyHigh); err != nil {
			return err
		}
	case equity > b.dailyHigh:
		b.dailyHigh = equity
		if err := b.store.SetFloat64(b.account, keyDailyHigh, b.dailyHigh); err != nil {
			return err
		}
	}

	dailyDD := drawdownPct(b.dailyHigh, equity)
	overallDD := drawdownPct(b.baseline, equity)
	monitoring.UpdateAccount(equity, dailyDD, overallDD)
	defer func() { monitoring.UpdateBreakerState(b.stopped) }()

	if b.stopped {
		return b.maybeResume(now)
	}

	switch {
	case dailyDD >= b.cfg.DailyThresholdPct-thresholdEpsilon && b.cfg.DailyThresholdPct > 0:
		return b.trip(now, fmt.Sprintf("daily drawdown %.2f%% reached threshold %.2f%%",
			dailyDD, b.cfg.DailyThresholdPct))
	case overallDD >= b.cfg.OverallThresholdPct-thresholdEpsilon && b.cfg.OverallThresholdPct > 0:
		return b.trip(now, fmt.Sprintf("overall drawdown %.2f%% reached threshold %.2f%%",
			overallDD, b.cfg.OverallThresholdPct))
	}
	return nil
}

func (b *Breaker) trip(now time.Time, reason string) error {
	b.stopped = true
	b.stopStartedAt = now
	if err := b.store.SetInt64(b.account, keyStopped, 1); err != nil {
		return err
	}
	if err := b.store.SetInt64(b.account, keyStopStartedAt, now.Unix()); err != nil {
		return err
	}
	logger.S().Errorf("circuit breaker tripped: %s", reason)

	if b.OnStopped != nil && now.Sub(b.lastStopAlert) >= stopAlertDedupe {
		b.lastStopAlert = now
		b.OnStopped(reason)
	}
	return nil
}

func (b *Breaker) maybeResume(now time.Time) error {
	cooldown := time.Duration(b.cfg.CooldownHours * float64(time.Hour))
	if now.Sub(b.stopStartedAt) < cooldown {
		return nil
	}
	b.stopped = false
	b.stopStartedAt = time.Time{}
	if err := b.store.SetInt64(b.account, keyStopped, 0); err != nil {
		return err
	}
	if err := b.store.SetInt64(b.account, keyStopStartedAt, 0); err != nil {
		return err
	}
	logger.S().Infof("circuit breaker cooldown elapsed, resuming")
	if b.OnResumed != nil {
		b.OnResumed()
	}
	return nil
}

// Rebaseline resets the overall drawdown reference, for example after a
// deposit changed the account balance.
func (b *Breaker) Rebaseline(balance float64) error {
	b.baseline = balance
	if err := b.store.SetFloat64(b.account, keyInitialBaseline, balance); err != nil {
		return err
	}
	logger.S().Infof("circuit breaker rebaselined to %.2f", balance)
	return nil
}

func drawdownPct(reference, equity float64) float64 {
	if reference <= 0 {
		return 0
	}
	return (reference - equity) / reference * 100
}
