package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"treasuryarena/internal/ledger"
	"treasuryarena/internal/models"
)

// TradeReader is the part of the trade store the checks read.
type TradeReader interface {
	CountSubmittedSince(ctx context.Context, agentID string, since time.Time) (int, error)
	PositionInAsset(ctx context.Context, agentID, asset string) (decimal.Decimal, error)
}

type LimitReader interface {
	Limit(ctx context.Context, agentID, asset string) (*models.PositionLimit, error)
}

// CapitalCheck requires input plus fee to be covered and leaves at least
// MinBalance behind.
type CapitalCheck struct {
	MinBalance decimal.Decimal
}

func (CapitalCheck) Name() string { return "capital" }

func (c CapitalCheck) Check(_ context.Context, req Request) (string, error) {
	need := req.Intent.InputAmount.Add(req.Intent.Fee)
	if req.RealCapital.LessThan(need) {
		return fmt.Sprintf("insufficient capital: need %s, have %s", need.StringFixed(2), req.RealCapital.StringFixed(2)), nil
	}
	remaining := req.RealCapital.Sub(need)
	if remaining.LessThan(c.MinBalance) {
		return fmt.Sprintf("remaining balance %s below minimum %s", remaining.StringFixed(2), c.MinBalance.StringFixed(2)), nil
	}
	return "", nil
}

// SlippageCheck only applies to market trades. Slippage is a fraction.
type SlippageCheck struct {
	Max decimal.Decimal
}

func (SlippageCheck) Name() string { return "slippage" }

func (c SlippageCheck) Check(_ context.Context, req Request) (string, error) {
	if !req.Intent.Kind.IsMarket() {
		return "", nil
	}
	if req.Intent.Slippage.GreaterThan(c.Max) {
		return fmt.Sprintf("slippage %s exceeds maximum %s", req.Intent.Slippage.String(), c.Max.String()), nil
	}
	return "", nil
}

// PositionLimitCheck only applies to market trades. A stored per-agent limit
// overrides the defaults.
type PositionLimitCheck struct {
	Trades              TradeReader
	Limits              LimitReader
	DefaultMaxPosition  decimal.Decimal
	DefaultMaxTradeSize decimal.Decimal
}

func (PositionLimitCheck) Name() string { return "position_limit" }

func (c PositionLimitCheck) Check(ctx context.Context, req Request) (string, error) {
	if !req.Intent.Kind.IsMarket() {
		return "", nil
	}
	asset := req.Intent.OutputAsset

	maxPosition, maxTrade := c.DefaultMaxPosition, c.DefaultMaxTradeSize
	if c.Limits != nil {
		limit, err := c.Limits.Limit(ctx, req.AgentID, asset)
		switch {
		case err == nil:
			maxPosition, maxTrade = limit.MaxPosition, limit.MaxTradeSize
		case errors.Is(err, ledger.ErrNotFound):
		default:
			return "", err
		}
	}

	amount := TradeAmount(req.Intent)
	if amount.GreaterThan(maxTrade) {
		return fmt.Sprintf("trade size %s exceeds max %s", amount.StringFixed(2), maxTrade.StringFixed(2)), nil
	}

	current := decimal.Zero
	if c.Trades != nil {
		pos, err := c.Trades.PositionInAsset(ctx, req.AgentID, asset)
		if err != nil {
			return "", err
		}
		current = pos
	}
	if current.Add(amount).GreaterThan(maxPosition) {
		return fmt.Sprintf("position %s + %s in %s exceeds max %s",
			current.StringFixed(2), amount.StringFixed(2), asset, maxPosition.StringFixed(2)), nil
	}
	return "", nil
}

// TradeAmount is the size a trade adds to the output position: the expected
// return, or the input amount when none is given.
func TradeAmount(intent models.TradeIntent) decimal.Decimal {
	if intent.ExpectedReturn.IsPositive() {
		return intent.ExpectedReturn
	}
	return intent.InputAmount
}

// RateLimitCheck caps submissions per agent per UTC calendar day.
type RateLimitCheck struct {
	Trades   TradeReader
	MaxDaily int
}

func (RateLimitCheck) Name() string { return "rate_limit" }

func (c RateLimitCheck) Check(ctx context.Context, req Request) (string, error) {
	if c.Trades == nil || c.MaxDaily <= 0 {
		return "", nil
	}
	now := req.Now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	count, err := c.Trades.CountSubmittedSince(ctx, req.AgentID, dayStart)
	if err != nil {
		return "", err
	}
	if count >= c.MaxDaily {
		return fmt.Sprintf("daily trade limit reached: %d/%d", count, c.MaxDaily), nil
	}
	return "", nil
}
