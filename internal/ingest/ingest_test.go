package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-relay/internal/models"
	"signal-relay/internal/venue"
)

type fakeSource struct {
	signals []models.Signal
	err     error
}

func (f *fakeSource) Fetch(ctx context.Context) ([]models.Signal, error) {
	return f.signals, f.err
}

type fakeExecutor struct {
	calls  []string
	failOn map[string]error
}

func (f *fakeExecutor) Execute(ctx context.Context, sig *models.Signal) (*venue.SubmitResult, error) {
	f.calls = append(f.calls, sig.ID)
	if err, ok := f.failOn[sig.ID]; ok {
		return nil, err
	}
	return &venue.SubmitResult{OrderTicket: 1, FilledVolume: sig.Volume}, nil
}

func signal(id string) models.Signal {
	return models.Signal{ID: id, Instrument: "EURUSD", Side: models.SideBuy, Kind: models.OrderKindMarket}
}

// TestPoll_ExecutesEachSignalOnce tests dedupe across repeated polls
func TestPoll_ExecutesEachSignalOnce(t *testing.T) {
	source := &fakeSource{signals: []models.Signal{signal("s1"), signal("s2")}}
	exec := &fakeExecutor{}
	loop := New(source, exec, 0)

	loop.Poll(context.Background())
	loop.Poll(context.Background())
	loop.Poll(context.Background())

	assert.Equal(t, []string{"s1", "s2"}, exec.calls)
}

// TestPoll_FailedSignalNotRetried tests that a failure still marks the id
// processed, so later polls skip it
func TestPoll_FailedSignalNotRetried(t *testing.T) {
	source := &fakeSource{signals: []models.Signal{signal("s1"), signal("s2")}}
	exec := &fakeExecutor{failOn: map[string]error{
		"s1": venue.ErrInsufficientMargin,
	}}
	loop := New(source, exec, 0)

	loop.Poll(context.Background())
	loop.Poll(context.Background())

	assert.Equal(t, []string{"s1", "s2"}, exec.calls,
		"the failed signal must not be attempted again")
}

// TestPoll_OneBadRowDoesNotHaltTheRest tests per-row error isolation
func TestPoll_OneBadRowDoesNotHaltTheRest(t *testing.T) {
	source := &fakeSource{signals: []models.Signal{signal("s1"), signal("s2"), signal("s3")}}
	exec := &fakeExecutor{failOn: map[string]error{
		"s2": errors.New("venue timeout"),
	}}
	loop := New(source, exec, 0)

	var executed []string
	loop.OnExecuted = func(sig models.Signal) { executed = append(executed, sig.ID) }

	loop.Poll(context.Background())

	assert.Equal(t, []string{"s1", "s2", "s3"}, exec.calls)
	assert.Equal(t, []string{"s1", "s3"}, executed)
}

// TestPoll_FetchErrorKeepsRegistryIntact tests that a feed outage changes
// nothing
func TestPoll_FetchErrorKeepsRegistryIntact(t *testing.T) {
	source := &fakeSource{signals: []models.Signal{signal("s1")}}
	exec := &fakeExecutor{}
	loop := New(source, exec, 0)

	loop.Poll(context.Background())
	require.Equal(t, []string{"s1"}, exec.calls)

	source.err = errors.New("feed unreachable")
	loop.Poll(context.Background())
	assert.Equal(t, []string{"s1"}, exec.calls)

	// Feed recovers with a new row; only the new row runs.
	source.err = nil
	source.signals = append(source.signals, signal("s2"))
	loop.Poll(context.Background())
	assert.Equal(t, []string{"s1", "s2"}, exec.calls)
}

// TestPoll_ReportsSuccessfulFetches tests the health hook: it fires once per
// successful poll and stays quiet on a feed outage
func TestPoll_ReportsSuccessfulFetches(t *testing.T) {
	source := &fakeSource{signals: []models.Signal{signal("s1")}}
	loop := New(source, &fakeExecutor{}, 0)

	polls := 0
	loop.OnPolled = func(time.Time) { polls++ }

	loop.Poll(context.Background())
	loop.Poll(context.Background())
	assert.Equal(t, 2, polls)

	source.err = errors.New("feed unreachable")
	loop.Poll(context.Background())
	assert.Equal(t, 2, polls, "a failed fetch is not a completed poll")
}

// TestRegistry tests the processed-id set directly
func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Processed("a"))
	r.Mark("a")
	assert.True(t, r.Processed("a"))
	assert.False(t, r.Processed("b"))
}
