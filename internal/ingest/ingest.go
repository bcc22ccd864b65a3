// Package ingest polls the signal feed and drives execution. Each signal id
// is attempted at most once per process lifetime, success or failure, and a
// bad row never halts the loop.
package ingest

import (
	"context"
	"time"

	"signal-relay/internal/executor"
	"signal-relay/internal/feed"
	"signal-relay/internal/logger"
	"signal-relay/internal/models"
	"signal-relay/internal/monitoring"
	"signal-relay/internal/venue"
)

// Executor submits one signal to the venue. The execution engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, sig *models.Signal) (*venue.SubmitResult, error)
}

// Registry tracks signal ids already attempted this run. In-memory only: a
// restart re-reads the feed, so the feed itself should be pruned of executed
// rows externally.
type Registry struct {
	seen map[string]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{seen: make(map[string]struct{})}
}

// Processed reports whether the id was already attempted
func (r *Registry) Processed(id string) bool {
	_, ok := r.seen[id]
	return ok
}

// Mark records an attempt for the id
func (r *Registry) Mark(id string) {
	r.seen[id] = struct{}{}
}

// Loop polls the feed and hands new signals to the execution engine
type Loop struct {
	source   feed.Source
	engine   Executor
	registry *Registry
	interval time.Duration

	// OnExecuted, when set, receives every successfully submitted signal
	// for journaling.
	OnExecuted func(sig models.Signal)

	// OnPolled, when set, is called after every successful feed fetch,
	// for health reporting.
	OnPolled func(now time.Time)
}

// New creates an ingestion loop polling at the given interval
func New(source feed.Source, engine Executor, interval time.Duration) *Loop {
	return &Loop{
		source:   source,
		engine:   engine,
		registry: NewRegistry(),
		interval: interval,
	}
}

// Run polls until the context ends
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Poll(ctx)
		}
	}
}

// Poll runs one fetch-and-execute pass
func (l *Loop) Poll(ctx context.Context) {
	signals, err := l.source.Fetch(ctx)
	if err != nil {
		logger.S().Warnf("signal feed fetch failed: %v", err)
		return
	}
	if l.OnPolled != nil {
		l.OnPolled(time.Now())
	}

	for i := range signals {
		sig := signals[i]
		if l.registry.Processed(sig.ID) {
			continue
		}
		// Marked before the outcome is known: failed signals are not
		// retried on later polls.
		l.registry.Mark(sig.ID)

		res, err := l.engine.Execute(ctx, &sig)
		if err != nil {
			if executor.Skippable(err) {
				monitoring.RecordSignal("skipped")
				logger.S().Warnf("signal %s (%s) skipped: %v", sig.ID, sig.Instrument, err)
			} else {
				monitoring.RecordSignal("failed")
				monitoring.RecordError("signal_execution")
				logger.S().Errorf("signal %s (%s) failed: %v", sig.ID, sig.Instrument, err)
			}
			continue
		}
		monitoring.RecordSignal("executed")
		logger.S().Infof("signal %s executed: order #%d, %v lots filled",
			sig.ID, res.OrderTicket, res.FilledVolume)
		if l.OnExecuted != nil {
			l.OnExecuted(sig)
		}
	}
}
