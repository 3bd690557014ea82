package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasuryarena/internal/agent"
	"treasuryarena/internal/config"
	"treasuryarena/internal/exchange"
	"treasuryarena/internal/ledger/memory"
	"treasuryarena/internal/models"
	"treasuryarena/internal/validation"
)

type fakeVenue struct {
	name string

	mu      sync.Mutex
	calls   int
	respond func(call int, amount decimal.Decimal) (exchange.Outcome, error)
	release chan struct{}
}

func (v *fakeVenue) call(amount decimal.Decimal) (exchange.Outcome, error) {
	if v.release != nil {
		<-v.release
	}
	v.mu.Lock()
	v.calls++
	n := v.calls
	v.mu.Unlock()
	return v.respond(n, amount)
}

func (v *fakeVenue) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func (v *fakeVenue) Name() string { return v.name }
func (v *fakeVenue) Deposit(_ context.Context, _ string, amount decimal.Decimal) (exchange.Outcome, error) {
	return v.call(amount)
}
func (v *fakeVenue) Withdraw(_ context.Context, _ string, amount decimal.Decimal) (exchange.Outcome, error) {
	return v.call(amount)
}
func (v *fakeVenue) Swap(_ context.Context, req exchange.SwapRequest) (exchange.Outcome, error) {
	return v.call(req.InputAmount)
}
func (v *fakeVenue) GetAPY(context.Context, string) (float64, bool, error) { return 0, false, nil }
func (v *fakeVenue) EstimateFee(exchange.Operation) decimal.Decimal      { return decimal.Zero }
func (v *fakeVenue) SupportsAsset(string) bool                           { return true }
func (v *fakeVenue) Health(context.Context) exchange.Health {
	return exchange.Health{Healthy: true, Venue: v.name}
}

func settleAt(output, fee string) func(int, decimal.Decimal) (exchange.Outcome, error) {
	return func(_ int, amount decimal.Decimal) (exchange.Outcome, error) {
		return exchange.Outcome{
			Success:        true,
			InputAmount:    amount,
			OutputAmount:   decimal.RequireFromString(output),
			ExecutionPrice: decimal.NewFromInt(1),
			Fee:            decimal.RequireFromString(fee),
			Reference:      "ref-1",
		}, nil
	}
}

type harness struct {
	engine *Engine
	trades *memory.TradeStore
	audit  *memory.AuditLog
	venue  *fakeVenue
	clock  *fakeClock
}

func newHarness(t *testing.T, respond func(int, decimal.Decimal) (exchange.Outcome, error)) *harness {
	t.Helper()
	trades := memory.NewTradeStore()
	audit := memory.NewAuditLog()
	clock := &fakeClock{}
	cfg := config.TradingConfig{
		Enabled:      true,
		MaxAttempts:  3,
		BackoffBase:  time.Second,
		BackoffMax:   10 * time.Second,
		RecentTrades: 10,
	}
	pipeline := validation.NewStandard(validation.DefaultConfig(), trades, memory.NewPositionLimitStore())
	e := New(cfg, pipeline, trades, audit, nil, WithSleep(clock.sleep))
	venue := &fakeVenue{name: "simulation", respond: respond}
	e.RegisterVenue(venue)
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return &harness{engine: e, trades: trades, audit: audit, venue: venue, clock: clock}
}

func fundedAgent(t *testing.T, capital float64) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.StrategyTacticalTrader, nil, 10000)
	require.NoError(t, err)
	require.NoError(t, a.Promote(agent.StatusProving, 1000))
	require.NoError(t, a.SetRealCapital(capital, agent.TierActive))
	return a
}

func swap(amount string) models.TradeIntent {
	return models.TradeIntent{
		Kind:        models.TradeKindSwap,
		Venue:       "simulation",
		InputAsset:  "USDC",
		InputAmount: decimal.RequireFromString(amount),
		OutputAsset: "DAI",
	}
}

func wait(t *testing.T, r Receipt) (*models.Trade, error) {
	t.Helper()
	require.NotNil(t, r.Handle)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	trade, err := r.Handle.Wait(ctx)
	require.NotNil(t, trade)
	return trade, err
}

func TestSubmit_RejectedTradeNeverReachesVenue(t *testing.T) {
	h := newHarness(t, settleAt("6000", "0"))
	a := fundedAgent(t, 5000)

	r, err := h.engine.Submit(context.Background(), a, swap("6000"))
	require.ErrorIs(t, err, validation.ErrValidationFailed)
	assert.Equal(t, models.SubmissionRejected, r.Status)
	assert.Contains(t, r.Reason, "capital: insufficient capital")
	assert.Nil(t, r.Handle)
	assert.Equal(t, 0, h.venue.Calls())

	stored, err := h.engine.Trade(context.Background(), r.TradeID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusFailed, stored.Status)
	assert.Equal(t, r.Reason, stored.Error)
	assert.Equal(t, 1, h.audit.Count(models.AuditKindValidationRejected, r.TradeID))
	assert.Equal(t, 5000.0, a.RealCapital())
}

func TestSubmit_ThreeVenueErrorsFailTheTrade(t *testing.T) {
	h := newHarness(t, func(int, decimal.Decimal) (exchange.Outcome, error) {
		return exchange.Outcome{}, errors.New("connection reset")
	})
	a := fundedAgent(t, 5000)

	r, err := h.engine.Submit(context.Background(), a, swap("1000"))
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionSubmitted, r.Status)

	trade, execErr := wait(t, r)
	assert.ErrorIs(t, execErr, ErrVenueExecutionFailed)
	assert.Equal(t, models.TradeStatusFailed, trade.Status)
	assert.Equal(t, 3, trade.Attempts)
	assert.Contains(t, trade.Error, "connection reset")
	assert.Equal(t, 3, h.venue.Calls())
	assert.Equal(t, 3, h.audit.Count(models.AuditKindExecutionAttempt, r.TradeID))
	assert.Equal(t, 1, h.audit.Count(models.AuditKindExecutionFailed, r.TradeID))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.clock.waits)
	assert.Equal(t, 5000.0, a.RealCapital())
}

func TestSubmit_VenueRejectionIsNotRetried(t *testing.T) {
	h := newHarness(t, func(int, decimal.Decimal) (exchange.Outcome, error) {
		return exchange.Failed("simulated network failure"), nil
	})
	a := fundedAgent(t, 5000)

	r, err := h.engine.Submit(context.Background(), a, swap("1000"))
	require.NoError(t, err)

	trade, execErr := wait(t, r)
	assert.ErrorIs(t, execErr, ErrVenueExecutionFailed)
	assert.Equal(t, models.TradeStatusFailed, trade.Status)
	assert.Equal(t, "simulated network failure", trade.Error)
	assert.Equal(t, 1, h.venue.Calls())
	assert.Empty(t, h.clock.waits)
}

func TestSubmit_SuccessCreditsPnL(t *testing.T) {
	h := newHarness(t, settleAt("1100", "10"))
	a := fundedAgent(t, 5000)

	r, err := h.engine.Submit(context.Background(), a, swap("1000"))
	require.NoError(t, err)

	trade, execErr := wait(t, r)
	require.NoError(t, execErr)
	assert.Equal(t, models.TradeStatusSuccess, trade.Status)
	assert.Equal(t, "ref-1", trade.Reference)
	require.NotNil(t, trade.PnL)
	assert.True(t, trade.PnL.Equal(decimal.NewFromInt(90)), "pnl=%s", trade.PnL)
	require.NotNil(t, trade.ActualReturn)
	assert.True(t, trade.ActualReturn.Equal(decimal.NewFromInt(1100)))
	assert.NotNil(t, trade.CompletedAt)
	assert.InDelta(t, 5090.0, a.RealCapital(), 1e-9)
	assert.Equal(t, 1, h.audit.Count(models.AuditKindExecutionSuccess, r.TradeID))

	// the successful trade now counts toward the DAI position
	pos, err := h.trades.PositionInAsset(context.Background(), a.ID(), "DAI")
	require.NoError(t, err)
	assert.True(t, pos.Equal(decimal.NewFromInt(1100)))
}

func TestSubmit_GuardViolationFailsTrade(t *testing.T) {
	h := newHarness(t, settleAt("90000", "0"))
	a := fundedAgent(t, 5000)

	r, err := h.engine.Submit(context.Background(), a, swap("1000"))
	require.NoError(t, err)

	trade, execErr := wait(t, r)
	assert.ErrorIs(t, execErr, agent.ErrCapitalGuard)
	assert.Equal(t, models.TradeStatusFailed, trade.Status)
	assert.Equal(t, 5000.0, a.RealCapital())
}

func TestEmergencyStopBlocksEverySubmission(t *testing.T) {
	h := newHarness(t, settleAt("1000", "0"))
	a := fundedAgent(t, 5000)
	ctx := context.Background()

	h.engine.EmergencyStop(ctx, "test")
	assert.False(t, h.engine.Enabled())

	intents := []models.TradeIntent{
		swap("10"),
		swap("999999"),
		{Kind: models.TradeKindDeposit, Venue: "simulation", InputAsset: "USDC", InputAmount: decimal.NewFromInt(1)},
		{Kind: "teleport", Venue: "nowhere"},
	}
	for _, intent := range intents {
		r, err := h.engine.Submit(ctx, a, intent)
		assert.ErrorIs(t, err, ErrTradingDisabled)
		assert.Equal(t, models.SubmissionRejected, r.Status)
		assert.Equal(t, ErrTradingDisabled.Error(), r.Reason)
	}
	assert.Equal(t, 0, h.venue.Calls())
	assert.Equal(t, 1, h.audit.Count(models.AuditKindEmergencyStop, ""))

	events, err := h.audit.ListAudit(ctx, 0)
	require.NoError(t, err)
	var stop models.AuditEvent
	for _, e := range events {
		if e.Kind == models.AuditKindEmergencyStop {
			stop = e
		}
	}
	assert.Equal(t, models.AuditLevelCritical, stop.Level)

	h.engine.EmergencyResume(ctx, "ops")
	r, err := h.engine.Submit(ctx, a, swap("10"))
	require.NoError(t, err)
	_, err = wait(t, r)
	require.NoError(t, err)
	assert.Equal(t, 1, h.audit.Count(models.AuditKindEmergencyResume, ""))
}

func TestEmergencyStopDoesNotCancelInFlight(t *testing.T) {
	h := newHarness(t, settleAt("1000", "0"))
	h.venue.release = make(chan struct{})
	a := fundedAgent(t, 5000)
	ctx := context.Background()

	r, err := h.engine.Submit(ctx, a, swap("1000"))
	require.NoError(t, err)

	status, err := h.engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.PendingCount)
	assert.Equal(t, []string{"simulation"}, status.Venues)

	h.engine.EmergencyStop(ctx, "")
	close(h.venue.release)

	trade, err := wait(t, r)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusSuccess, trade.Status)

	status, err = h.engine.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.Equal(t, 0, status.PendingCount)
	require.Len(t, status.RecentTrades, 1)
	assert.Equal(t, r.TradeID, status.RecentTrades[0].ID)
}

func TestSubmit_UnknownVenueAndKind(t *testing.T) {
	h := newHarness(t, settleAt("1000", "0"))
	a := fundedAgent(t, 5000)
	ctx := context.Background()

	intent := swap("10")
	intent.Venue = "nowhere"
	r, err := h.engine.Submit(ctx, a, intent)
	assert.ErrorIs(t, err, ErrUnknownVenue)
	assert.Equal(t, models.SubmissionRejected, r.Status)

	intent = swap("10")
	intent.Kind = "teleport"
	_, err = h.engine.Submit(ctx, a, intent)
	assert.ErrorIs(t, err, ErrUnknownTradeKind)
	assert.Equal(t, 0, h.venue.Calls())
}

func TestShutdownClosesSubmission(t *testing.T) {
	h := newHarness(t, settleAt("1000", "0"))
	a := fundedAgent(t, 5000)
	ctx := context.Background()

	require.NoError(t, h.engine.Shutdown(ctx))
	h.engine.EmergencyResume(ctx, "ops")

	r, err := h.engine.Submit(ctx, a, swap("10"))
	assert.ErrorIs(t, err, ErrEngineClosed)
	assert.Equal(t, models.SubmissionRejected, r.Status)
	assert.Nil(t, r.Handle)
	assert.Equal(t, 0, h.venue.Calls())

	status, err := h.engine.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.PendingCount)
}

func TestShutdownWaitsForEveryAcceptedTrade(t *testing.T) {
	h := newHarness(t, settleAt("1000", "0"))
	a := fundedAgent(t, 5000)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		accepted []Receipt
		wg       sync.WaitGroup
	)
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			r, err := h.engine.Submit(ctx, a, swap("1000"))
			if err != nil {
				return
			}
			mu.Lock()
			accepted = append(accepted, r)
			mu.Unlock()
		}()
	}
	close(start)
	require.NoError(t, h.engine.Shutdown(ctx))
	wg.Wait()

	for _, r := range accepted {
		select {
		case <-r.Handle.Done():
		default:
			t.Fatalf("trade %s still running after shutdown", r.TradeID)
		}
	}
	assert.Equal(t, len(accepted), h.venue.Calls())
}
