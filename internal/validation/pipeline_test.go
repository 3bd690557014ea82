package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasuryarena/internal/ledger/memory"
	"treasuryarena/internal/models"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func swapRequest(capital, amount string) Request {
	return Request{
		AgentID:     "agent-1",
		RealCapital: d(capital),
		Intent: models.TradeIntent{
			Kind:        models.TradeKindSwap,
			Venue:       "simulation",
			InputAsset:  "USDC",
			InputAmount: d(amount),
			OutputAsset: "DAI",
		},
		Now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func standard() (*Pipeline, *memory.TradeStore, *memory.PositionLimitStore) {
	trades := memory.NewTradeStore()
	limits := memory.NewPositionLimitStore()
	return NewStandard(DefaultConfig(), trades, limits), trades, limits
}

func rejection(t *testing.T, err error) *Error {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrValidationFailed)
	var verr *Error
	require.True(t, errors.As(err, &verr))
	return verr
}

func TestPipeline_InsufficientCapital(t *testing.T) {
	p, _, _ := standard()

	verr := rejection(t, p.Validate(context.Background(), swapRequest("5000", "6000")))
	assert.Equal(t, "capital", verr.Check)
	assert.Contains(t, verr.Reason, "insufficient capital")
	assert.Contains(t, verr.Error(), "capital: insufficient capital")
}

func TestPipeline_FeeCountsTowardCapital(t *testing.T) {
	p, _, _ := standard()
	req := swapRequest("5000", "4990")
	req.Intent.Fee = d("20")

	verr := rejection(t, p.Validate(context.Background(), req))
	assert.Equal(t, "capital", verr.Check)
}

func TestPipeline_MinimumBalance(t *testing.T) {
	p, _, _ := standard()

	verr := rejection(t, p.Validate(context.Background(), swapRequest("5000", "4500")))
	assert.Equal(t, "capital", verr.Check)
	assert.Contains(t, verr.Reason, "below minimum")

	assert.NoError(t, p.Validate(context.Background(), swapRequest("5000", "4000")))
}

func TestPipeline_Slippage(t *testing.T) {
	p, _, _ := standard()
	req := swapRequest("50000", "1000")
	req.Intent.Slippage = d("0.02")

	verr := rejection(t, p.Validate(context.Background(), req))
	assert.Equal(t, "slippage", verr.Check)

	// deposits are not market trades
	req.Intent.Kind = models.TradeKindDeposit
	assert.NoError(t, p.Validate(context.Background(), req))
}

func TestPipeline_PositionLimits(t *testing.T) {
	p, trades, limits := standard()
	ctx := context.Background()

	verr := rejection(t, p.Validate(ctx, swapRequest("200000", "60000")))
	assert.Equal(t, "position_limit", verr.Check)
	assert.Contains(t, verr.Reason, "trade size")

	ret := d("700")
	require.NoError(t, trades.Insert(ctx, &models.Trade{
		ID:           "prior",
		AgentID:      "agent-1",
		Kind:         models.TradeKindSwap,
		OutputAsset:  "DAI",
		Status:       models.TradeStatusSuccess,
		ActualReturn: &ret,
		SubmittedAt:  time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, limits.Set(ctx, models.PositionLimit{AgentID: "agent-1", Asset: "DAI", MaxPosition: d("1000"), MaxTradeSize: d("500")}))

	verr = rejection(t, p.Validate(ctx, swapRequest("50000", "400")))
	assert.Equal(t, "position_limit", verr.Check)
	assert.Contains(t, verr.Reason, "exceeds max 1000.00")

	assert.NoError(t, p.Validate(ctx, swapRequest("50000", "300")))
}

func TestPipeline_RateLimit(t *testing.T) {
	trades := memory.NewTradeStore()
	cfg := DefaultConfig()
	cfg.MaxDailyTrades = 2
	p := NewStandard(cfg, trades, nil)
	ctx := context.Background()
	req := swapRequest("50000", "100")

	for i, ts := range []time.Time{req.Now.Add(-13 * time.Hour), req.Now.Add(-time.Hour), req.Now.Add(-time.Minute)} {
		require.NoError(t, trades.Insert(ctx, &models.Trade{
			ID:          string(rune('a' + i)),
			AgentID:     "agent-1",
			Status:      models.TradeStatusFailed,
			SubmittedAt: ts,
		}))
	}

	verr := rejection(t, p.Validate(ctx, req))
	assert.Equal(t, "rate_limit", verr.Check)
	assert.Contains(t, verr.Reason, "2/2")

	req.AgentID = "agent-2"
	req.Intent.Kind = models.TradeKindDeposit
	assert.NoError(t, p.Validate(ctx, req))
}

type countingCheck struct {
	name   string
	reason string
	calls  int
}

func (c *countingCheck) Name() string { return c.name }

func (c *countingCheck) Check(context.Context, Request) (string, error) {
	c.calls++
	return c.reason, nil
}

type brokenCheck struct{}

func (brokenCheck) Name() string { return "broken" }

func (brokenCheck) Check(context.Context, Request) (string, error) {
	return "", errors.New("store down")
}

func TestPipeline_ShortCircuits(t *testing.T) {
	first := &countingCheck{name: "first", reason: "nope"}
	second := &countingCheck{name: "second"}
	p := New(first, second)

	verr := rejection(t, p.Validate(context.Background(), Request{}))
	assert.Equal(t, "first: nope", verr.Error())
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls)
	assert.Equal(t, []string{"first", "second"}, p.Checks())

	verr = rejection(t, New(brokenCheck{}).Validate(context.Background(), Request{}))
	assert.Equal(t, "broken", verr.Check)
	assert.Contains(t, verr.Reason, "store down")
}
