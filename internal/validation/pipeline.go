package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"treasuryarena/internal/config"
	"treasuryarena/internal/models"
)

var ErrValidationFailed = errors.New("validation failed")

// Error names the check that rejected the trade.
type Error struct {
	Check  string
	Reason string
}

func (e *Error) Error() string {
	return e.Check + ": " + e.Reason
}

func (e *Error) Unwrap() error {
	return ErrValidationFailed
}

// Request is everything a check may look at. Checks never mutate it.
type Request struct {
	AgentID     string
	RealCapital decimal.Decimal
	Intent      models.TradeIntent
	Now         time.Time
}

// Check returns an empty reason when the request passes. A non-nil error
// means the check could not decide.
type Check interface {
	Name() string
	Check(ctx context.Context, req Request) (reason string, err error)
}

// Pipeline runs checks in order and stops at the first rejection.
type Pipeline struct {
	checks []Check
}

func New(checks ...Check) *Pipeline {
	return &Pipeline{checks: checks}
}

func (p *Pipeline) Checks() []string {
	names := make([]string, 0, len(p.checks))
	for _, c := range p.checks {
		names = append(names, c.Name())
	}
	return names
}

// Validate returns nil or a *Error. A check that cannot reach its data
// rejects the trade.
func (p *Pipeline) Validate(ctx context.Context, req Request) error {
	if req.Now.IsZero() {
		req.Now = time.Now().UTC()
	}
	for _, c := range p.checks {
		reason, err := c.Check(ctx, req)
		if err != nil {
			return &Error{Check: c.Name(), Reason: fmt.Sprintf("check unavailable: %v", err)}
		}
		if reason != "" {
			return &Error{Check: c.Name(), Reason: reason}
		}
	}
	return nil
}

// Config holds the limits shared by the standard checks.
type Config struct {
	MinBalance          decimal.Decimal
	MaxSlippage         decimal.Decimal
	DefaultMaxPosition  decimal.Decimal
	DefaultMaxTradeSize decimal.Decimal
	MaxDailyTrades      int
}

func ConfigFrom(cfg config.TradingConfig) Config {
	return Config{
		MinBalance:          decimal.NewFromFloat(cfg.MinBalance),
		MaxSlippage:         decimal.NewFromFloat(cfg.MaxSlippage),
		DefaultMaxPosition:  decimal.NewFromFloat(cfg.DefaultMaxPosition),
		DefaultMaxTradeSize: decimal.NewFromFloat(cfg.DefaultMaxTradeSize),
		MaxDailyTrades:      cfg.MaxDailyTrades,
	}
}

func DefaultConfig() Config {
	return Config{
		MinBalance:          decimal.NewFromInt(1000),
		MaxSlippage:         decimal.RequireFromString("0.01"),
		DefaultMaxPosition:  decimal.NewFromInt(100000),
		DefaultMaxTradeSize: decimal.NewFromInt(50000),
		MaxDailyTrades:      100,
	}
}

// NewStandard builds capital, slippage, position limit and rate limit checks
// in that order.
func NewStandard(cfg Config, trades TradeReader, limits LimitReader) *Pipeline {
	return New(
		CapitalCheck{MinBalance: cfg.MinBalance},
		SlippageCheck{Max: cfg.MaxSlippage},
		PositionLimitCheck{
			Trades:              trades,
			Limits:              limits,
			DefaultMaxPosition:  cfg.DefaultMaxPosition,
			DefaultMaxTradeSize: cfg.DefaultMaxTradeSize,
		},
		RateLimitCheck{Trades: trades, MaxDaily: cfg.MaxDailyTrades},
	)
}
