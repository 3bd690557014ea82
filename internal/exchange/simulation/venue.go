package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"treasuryarena/internal/config"
	"treasuryarena/internal/exchange"
	"treasuryarena/internal/logger"
)

// ErrTransport is returned for simulated transport failures; callers retry it.
var ErrTransport = errors.New("simulated transport error")

var defaultAPYs = map[string]float64{
	"USDC": 0.08,
	"ETH":  0.05,
	"BTC":  0.03,
	"DAI":  0.075,
}

// Rates are value ratios between assets already quoted in the common unit.
var defaultRates = map[string]float64{
	"DAI_USDC": 0.9995,
	"USDC_DAI": 1.0005,
}

var defaultFees = map[string]float64{
	"DEPOSIT":  3.50,
	"WITHDRAW": 4.00,
	"SWAP":     12.50,
	"STAKE":    8.00,
}

const unknownOperationFee = 5.00

// Venue settles every call locally with mock rates and fees. No network.
type Venue struct {
	name        string
	failureRate float64
	errorRate   float64
	slippage    decimal.Decimal
	apys        map[string]float64
	rates       map[string]float64
	fees        map[string]float64
	log         *logger.Logger

	rndMu sync.Mutex
	rnd   *rand.Rand

	calls atomic.Int64
}

func New(name string, cfg config.SimulationConfig, log *logger.Logger) *Venue {
	if log == nil {
		log = logger.Discard()
	}
	if name == "" {
		name = "simulation"
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Venue{
		name:        name,
		failureRate: cfg.FailureRate,
		errorRate:   cfg.ErrorRate,
		slippage:    decimal.NewFromFloat(cfg.Slippage),
		apys:        withDefaults(cfg.APYs, defaultAPYs),
		rates:       withDefaults(cfg.Rates, defaultRates),
		fees:        withDefaults(cfg.Fees, defaultFees),
		log:         log,
		rnd:         rand.New(rand.NewSource(seed)),
	}
}

func withDefaults(override, defaults map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(defaults)+len(override))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range override {
		out[strings.ToUpper(k)] = v
	}
	return out
}

func (v *Venue) Name() string {
	return v.name
}

// Calls counts settlement calls, including failed ones.
func (v *Venue) Calls() int64 {
	return v.calls.Load()
}

func (v *Venue) logEntry() *logrus.Entry {
	return v.log.WithVenue(v.name).WithField("component", "simulation")
}

// roll decides the fate of one call: a transport error, a venue-reported
// failure, or success.
func (v *Venue) roll() (transportErr bool, failed bool) {
	v.rndMu.Lock()
	defer v.rndMu.Unlock()
	if v.errorRate > 0 && v.rnd.Float64() < v.errorRate {
		return true, false
	}
	if v.failureRate > 0 && v.rnd.Float64() < v.failureRate {
		return false, true
	}
	return false, false
}

func (v *Venue) begin(ctx context.Context) error {
	v.calls.Add(1)
	return ctx.Err()
}

func (v *Venue) Deposit(ctx context.Context, asset string, amount decimal.Decimal) (exchange.Outcome, error) {
	if err := v.begin(ctx); err != nil {
		return exchange.Outcome{}, err
	}
	v.logEntry().WithFields(logrus.Fields{"asset": asset, "amount": amount.String()}).Info("[SIMULATION] Депозит.")

	if !amount.IsPositive() {
		return exchange.Failed("amount must be positive"), nil
	}
	transportErr, failed := v.roll()
	if transportErr {
		return exchange.Outcome{}, ErrTransport
	}
	if failed {
		return exchange.Failed("simulated network failure"), nil
	}
	return exchange.Outcome{
		Success:        true,
		InputAmount:    amount,
		OutputAmount:   amount,
		ExecutionPrice: decimal.NewFromInt(1),
		Fee:            v.EstimateFee(exchange.OperationDeposit),
		Reference:      v.reference("deposit"),
		ReceiptToken:   "a" + strings.ToUpper(asset),
	}, nil
}

func (v *Venue) Withdraw(ctx context.Context, asset string, amount decimal.Decimal) (exchange.Outcome, error) {
	if err := v.begin(ctx); err != nil {
		return exchange.Outcome{}, err
	}
	v.logEntry().WithFields(logrus.Fields{"asset": asset, "amount": amount.String()}).Info("[SIMULATION] Вывод.")

	if !amount.IsPositive() {
		return exchange.Failed("amount must be positive"), nil
	}
	transportErr, failed := v.roll()
	if transportErr {
		return exchange.Outcome{}, ErrTransport
	}
	if failed {
		return exchange.Failed("simulated insufficient liquidity"), nil
	}
	return exchange.Outcome{
		Success:        true,
		InputAmount:    amount,
		OutputAmount:   amount,
		ExecutionPrice: decimal.NewFromInt(1),
		Fee:            v.EstimateFee(exchange.OperationWithdraw),
		Reference:      v.reference("withdraw"),
	}, nil
}

func (v *Venue) Swap(ctx context.Context, req exchange.SwapRequest) (exchange.Outcome, error) {
	if err := v.begin(ctx); err != nil {
		return exchange.Outcome{}, err
	}
	v.logEntry().WithFields(logrus.Fields{
		"input_asset":  req.InputAsset,
		"input_amount": req.InputAmount.String(),
		"output_asset": req.OutputAsset,
	}).Info("[SIMULATION] Обмен.")

	if !req.InputAmount.IsPositive() {
		return exchange.Failed("amount must be positive"), nil
	}
	transportErr, failed := v.roll()
	if transportErr {
		return exchange.Outcome{}, ErrTransport
	}
	if failed {
		return exchange.Outcome{
			Success:     false,
			InputAmount: req.InputAmount,
			Error:       "simulated slippage exceeded tolerance",
		}, nil
	}

	base := decimal.NewFromFloat(v.Rate(req.InputAsset, req.OutputAsset))
	rate := base.Mul(decimal.NewFromInt(1).Sub(v.slippage))
	output := req.InputAmount.Mul(rate)

	if req.MinOutput != nil && output.LessThan(*req.MinOutput) {
		return exchange.Outcome{
			Success:     false,
			InputAmount: req.InputAmount,
			Slippage:    v.slippage,
			Error:       fmt.Sprintf("output %s below minimum %s", output.StringFixed(8), req.MinOutput.String()),
		}, nil
	}

	return exchange.Outcome{
		Success:        true,
		InputAmount:    req.InputAmount,
		OutputAmount:   output,
		ExecutionPrice: rate,
		Slippage:       v.slippage,
		Fee:            v.EstimateFee(exchange.OperationSwap),
		Reference:      v.reference("swap"),
	}, nil
}

// Stake locks the deposit; the simulation treats it as a deposit with the
// staking fee.
func (v *Venue) Stake(ctx context.Context, asset string, amount decimal.Decimal, lockDays int) (exchange.Outcome, error) {
	if lockDays < 0 {
		return exchange.Failed("lock period cannot be negative"), nil
	}
	out, err := v.Deposit(ctx, asset, amount)
	if err != nil || !out.Success {
		return out, err
	}
	out.Fee = v.EstimateFee(exchange.OperationStake)
	out.Reference = v.reference("stake")
	out.ReceiptToken = "st" + strings.ToUpper(asset)
	return out, nil
}

// Rate returns the mock conversion ratio, 1.0 for unknown pairs.
func (v *Venue) Rate(from, to string) float64 {
	if r, ok := v.rates[strings.ToUpper(from)+"_"+strings.ToUpper(to)]; ok {
		return r
	}
	return 1.0
}

func (v *Venue) GetAPY(ctx context.Context, asset string) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	apy, ok := v.apys[strings.ToUpper(asset)]
	return apy, ok, nil
}

func (v *Venue) EstimateFee(op exchange.Operation) decimal.Decimal {
	if fee, ok := v.fees[strings.ToUpper(string(op))]; ok {
		return decimal.NewFromFloat(fee)
	}
	return decimal.NewFromFloat(unknownOperationFee)
}

func (v *Venue) SupportsAsset(asset string) bool {
	_, ok := v.apys[strings.ToUpper(asset)]
	return ok
}

func (v *Venue) Health(ctx context.Context) exchange.Health {
	start := time.Now()
	h := exchange.Health{Healthy: true, Venue: v.name}
	if err := ctx.Err(); err != nil {
		h.Healthy = false
		h.Error = err.Error()
	}
	h.Latency = time.Since(start)
	h.CheckedAt = time.Now().UTC()
	return h
}

func (v *Venue) reference(op string) string {
	return fmt.Sprintf("sim-%s-%s", op, uuid.NewString())
}
