package simulation

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasuryarena/internal/config"
	"treasuryarena/internal/exchange"
)

func reliable() config.SimulationConfig {
	return config.SimulationConfig{Slippage: 0.002, Seed: 42}
}

func TestVenue_DepositUsesMockFee(t *testing.T) {
	v := New("aave", reliable(), nil)

	out, err := v.Deposit(context.Background(), "usdc", decimal.NewFromInt(1000))
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.True(t, out.OutputAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, out.Fee.Equal(decimal.RequireFromString("3.5")))
	assert.Equal(t, "aUSDC", out.ReceiptToken)
	assert.NotEmpty(t, out.Reference)
	assert.Equal(t, int64(1), v.Calls())
}

func TestVenue_SwapAppliesRateAndSlippage(t *testing.T) {
	v := New("", reliable(), nil)

	out, err := v.Swap(context.Background(), exchange.SwapRequest{
		InputAsset:  "USDC",
		InputAmount: decimal.NewFromInt(1000),
		OutputAsset: "DAI",
	})
	require.NoError(t, err)
	require.True(t, out.Success)

	// 1000 * 1.0005 * (1 - 0.002)
	want := decimal.RequireFromString("998.499")
	assert.True(t, out.OutputAmount.Sub(want).Abs().LessThan(decimal.RequireFromString("0.000001")), "output=%s", out.OutputAmount)
	assert.True(t, out.Fee.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, out.Slippage.Equal(decimal.RequireFromString("0.002")))
}

func TestVenue_SwapBelowMinimumOutputFails(t *testing.T) {
	v := New("", reliable(), nil)
	floor := decimal.NewFromInt(1000)

	out, err := v.Swap(context.Background(), exchange.SwapRequest{
		InputAsset:  "USDC",
		InputAmount: decimal.NewFromInt(1000),
		OutputAsset: "BTC",
		MinOutput:   &floor,
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "below minimum")
}

func TestVenue_FailureAndTransportRates(t *testing.T) {
	cfg := reliable()
	cfg.FailureRate = 1
	v := New("", cfg, nil)

	out, err := v.Withdraw(context.Background(), "USDC", decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "simulated insufficient liquidity", out.Error)

	cfg.ErrorRate = 1
	v = New("", cfg, nil)
	_, err = v.Deposit(context.Background(), "USDC", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrTransport)
}

func TestVenue_Extras(t *testing.T) {
	cfg := reliable()
	cfg.APYs = map[string]float64{"SOL": 0.07}
	v := New("", cfg, nil)
	ctx := context.Background()

	apy, ok, err := v.GetAPY(ctx, "usdc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 0.08, apy, 1e-12)

	apy, ok, err = v.GetAPY(ctx, "sol")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 0.07, apy, 1e-12)

	_, ok, err = v.GetAPY(ctx, "DOGE")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, v.SupportsAsset("ETH"))
	assert.False(t, v.SupportsAsset("DOGE"))
	assert.True(t, v.EstimateFee("bridge").Equal(decimal.NewFromInt(5)))
	assert.True(t, v.Health(ctx).Healthy)

	out, err := exchange.Stake(ctx, v, "ETH", decimal.NewFromInt(5), 30)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.True(t, out.Fee.Equal(decimal.NewFromInt(8)))
}

type plainVenue struct{ exchange.Venue }

func TestStake_UnsupportedVenue(t *testing.T) {
	out, err := exchange.Stake(context.Background(), plainVenue{}, "ETH", decimal.NewFromInt(1), 0)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, exchange.ErrUnsupported.Error(), out.Error)
}
