package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Operation string

const (
	OperationDeposit  Operation = "deposit"
	OperationWithdraw Operation = "withdraw"
	OperationSwap     Operation = "swap"
	OperationStake    Operation = "stake"
)

var ErrUnsupported = errors.New("operation not supported by venue")

// Outcome is what a venue reports back for one settlement call. A venue that
// refuses the operation returns Success=false with Error set and a nil error;
// a returned error means the call itself did not go through.
type Outcome struct {
	Success        bool
	InputAmount    decimal.Decimal
	OutputAmount   decimal.Decimal
	ExecutionPrice decimal.Decimal
	Slippage       decimal.Decimal
	Fee            decimal.Decimal
	Reference      string
	ReceiptToken   string
	Error          string
}

func Failed(reason string) Outcome {
	return Outcome{Success: false, Error: reason}
}

type SwapRequest struct {
	InputAsset  string
	InputAmount decimal.Decimal
	OutputAsset string
	MinOutput   *decimal.Decimal
}

type Health struct {
	Healthy   bool          `json:"healthy"`
	Venue     string        `json:"venue"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
	Error     string        `json:"error,omitempty"`
}

// Venue is the only boundary the trading engine settles through.
type Venue interface {
	Name() string
	Deposit(ctx context.Context, asset string, amount decimal.Decimal) (Outcome, error)
	Withdraw(ctx context.Context, asset string, amount decimal.Decimal) (Outcome, error)
	Swap(ctx context.Context, req SwapRequest) (Outcome, error)
	// GetAPY returns false when the venue has no rate for asset.
	GetAPY(ctx context.Context, asset string) (float64, bool, error)
	EstimateFee(op Operation) decimal.Decimal
	SupportsAsset(asset string) bool
	Health(ctx context.Context) Health
}

// Staker is implemented by venues that support staking.
type Staker interface {
	Stake(ctx context.Context, asset string, amount decimal.Decimal, lockDays int) (Outcome, error)
}

// Stake calls v.Stake when the venue supports it and reports a failed outcome
// otherwise.
func Stake(ctx context.Context, v Venue, asset string, amount decimal.Decimal, lockDays int) (Outcome, error) {
	s, ok := v.(Staker)
	if !ok {
		return Failed(ErrUnsupported.Error()), nil
	}
	return s.Stake(ctx, asset, amount, lockDays)
}
