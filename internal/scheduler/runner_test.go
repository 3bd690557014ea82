package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasuryarena/internal/arena"
	"treasuryarena/internal/models"
)

func TestAddRejectsBadSpec(t *testing.T) {
	r := New(context.Background(), nil)
	_, err := r.Add("evolution", "not a spec", func(context.Context) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evolution")
}

func TestRunnerFiresJobWithBaseContext(t *testing.T) {
	type key struct{}
	base := context.WithValue(context.Background(), key{}, "arena")
	r := New(base, nil)

	var calls atomic.Int32
	var seen atomic.Value
	_, err := r.Add("tick", "* * * * * *", func(ctx context.Context) {
		seen.Store(ctx.Value(key{}))
		calls.Add(1)
	})
	require.NoError(t, err)

	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool { return calls.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "arena", seen.Load())
}

type fakeEvolver struct {
	calls int
	err   error
}

func (f *fakeEvolver) SafeRunEvolution(context.Context) (arena.CycleReport, error) {
	f.calls++
	return arena.CycleReport{Cycle: f.calls}, f.err
}

func TestEvolutionJob(t *testing.T) {
	e := &fakeEvolver{}
	job := EvolutionJob(e, nil)
	job(context.Background())

	e.err = errors.New("boom")
	job(context.Background())
	assert.Equal(t, 2, e.calls)
}

type fakeDay struct {
	market   models.MarketSnapshot
	calls    int
	recorded []arena.DayResult
	closes   int
}

func (f *fakeDay) RunDay(_ context.Context, market models.MarketSnapshot) []arena.DayResult {
	f.calls++
	f.market = market
	return []arena.DayResult{{AgentID: "agent-1", Submitted: []string{"trade-1"}}, {AgentID: "agent-2", Error: "no assets"}}
}

func (f *fakeDay) RecordDay(_ context.Context, results []arena.DayResult) int {
	f.closes++
	f.recorded = results
	return len(results)
}

func TestTradingDayJob(t *testing.T) {
	day := &fakeDay{}
	feed := func(context.Context) (models.MarketSnapshot, error) {
		return models.MarketSnapshot{ProtocolAPYs: map[string]float64{"aave": 0.08}}, nil
	}
	TradingDayJob(day, feed, nil)(context.Background())
	assert.Equal(t, 1, day.calls)
	assert.Equal(t, 0.08, day.market.ProtocolAPYs["aave"])
	assert.Equal(t, 1, day.closes)
	require.Len(t, day.recorded, 2)
	assert.Equal(t, "agent-1", day.recorded[0].AgentID)

	broken := func(context.Context) (models.MarketSnapshot, error) {
		return models.MarketSnapshot{}, errors.New("feed down")
	}
	TradingDayJob(day, broken, nil)(context.Background())
	assert.Equal(t, 1, day.calls)
	assert.Equal(t, 1, day.closes)
}
