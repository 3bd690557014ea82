package agent

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"treasuryarena/internal/models"
)

type StrategyTag string

const (
	StrategyDeFiYieldFarmer StrategyTag = "DeFi-Yield-Farmer"
	StrategyTacticalTrader  StrategyTag = "Tactical-Trader"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy turns a market snapshot into trade intents for one agent.
type Strategy interface {
	Tag() StrategyTag
	DefaultParams() Params
	Execute(a *Agent, market models.MarketSnapshot) ([]models.TradeIntent, error)
}

var strategies = map[StrategyTag]Strategy{
	StrategyDeFiYieldFarmer: yieldFarmer{},
	StrategyTacticalTrader:  tacticalTrader{},
}

func LookupStrategy(tag StrategyTag) (Strategy, error) {
	s, ok := strategies[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, tag)
	}
	return s, nil
}

// StrategyTags lists the known strategies in a stable order.
func StrategyTags() []StrategyTag {
	tags := make([]StrategyTag, 0, len(strategies))
	for tag := range strategies {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// yieldFarmer moves capital to the protocol with the best APY once the gap
// over the current protocol passes the rebalance threshold.
type yieldFarmer struct{}

func (yieldFarmer) Tag() StrategyTag { return StrategyDeFiYieldFarmer }

func (yieldFarmer) DefaultParams() Params {
	return Params{
		"target_apy":              0.08,
		"rebalance_threshold":     0.02,
		"protocols":               []string{"aave", "pendle", "curve"},
		"max_protocol_allocation": 0.4,
		"asset":                   "USDC",
	}
}

func (yieldFarmer) Execute(a *Agent, market models.MarketSnapshot) ([]models.TradeIntent, error) {
	params := a.Params()
	allowed := map[string]bool{}
	for _, p := range params.Strings("protocols") {
		allowed[p] = true
	}

	best, bestAPY := "", 0.0
	for protocol, apy := range market.ProtocolAPYs {
		if len(allowed) > 0 && !allowed[protocol] {
			continue
		}
		if best == "" || apy > bestAPY || (apy == bestAPY && protocol < best) {
			best, bestAPY = protocol, apy
		}
	}
	if best == "" || best == market.CurrentProtocol {
		return nil, nil
	}
	if bestAPY < params.FloatOr("target_apy", 0) {
		return nil, nil
	}
	currentAPY := market.ProtocolAPYs[market.CurrentProtocol]
	if bestAPY-currentAPY <= params.FloatOr("rebalance_threshold", 0) {
		return nil, nil
	}

	amount := a.CurrentCapital() * params.FloatOr("max_protocol_allocation", 1)
	if amount <= 0 {
		return nil, nil
	}
	asset := params.String("asset")
	if asset == "" {
		asset = "USDC"
	}
	value := decimal.NewFromFloat(amount)
	return []models.TradeIntent{{
		Kind:           models.TradeKindDeposit,
		Venue:          best,
		InputAsset:     asset,
		InputAmount:    value,
		OutputAsset:    asset,
		ExpectedReturn: value,
		Reason:         fmt.Sprintf("rebalance %s -> %s at %.4f APY", market.CurrentProtocol, best, bestAPY),
	}}, nil
}

// tacticalTrader buys on low MVRV and exits on high MVRV.
type tacticalTrader struct{}

func (tacticalTrader) Tag() StrategyTag { return StrategyTacticalTrader }

func (tacticalTrader) DefaultParams() Params {
	return Params{
		"mvrv_buy_threshold":  2.0,
		"mvrv_sell_threshold": 3.5,
		"position_size":       0.25,
		"max_leverage":        2.0,
		"assets":              []string{"BTC", "SOL"},
		"venue":               "simulation",
		"quote":               "USDC",
	}
}

func (tacticalTrader) Execute(a *Agent, market models.MarketSnapshot) ([]models.TradeIntent, error) {
	params := a.Params()
	assets := params.Strings("assets")
	if len(assets) == 0 {
		return nil, fmt.Errorf("strategy %s: no assets configured", StrategyTacticalTrader)
	}
	asset := assets[0]
	quote := params.String("quote")
	if quote == "" {
		quote = "USDC"
	}
	venue := params.String("venue")

	mvrv, ok := market.Indicators["btc_mvrv"]
	if !ok {
		mvrv = 2.5
	}
	position := market.Positions[asset]

	switch {
	case mvrv < params.FloatOr("mvrv_buy_threshold", 0) && position <= 0:
		amount := a.CurrentCapital() * params.FloatOr("position_size", 0)
		if amount <= 0 {
			return nil, nil
		}
		value := decimal.NewFromFloat(amount)
		return []models.TradeIntent{{
			Kind:           models.TradeKindBuy,
			Venue:          venue,
			InputAsset:     quote,
			InputAmount:    value,
			OutputAsset:    asset,
			ExpectedReturn: value,
			Reason:         fmt.Sprintf("MVRV %.2f below buy threshold", mvrv),
		}}, nil
	case mvrv > params.FloatOr("mvrv_sell_threshold", 0) && position > 0:
		value := decimal.NewFromFloat(position)
		return []models.TradeIntent{{
			Kind:           models.TradeKindSell,
			Venue:          venue,
			InputAsset:     asset,
			InputAmount:    value,
			OutputAsset:    quote,
			ExpectedReturn: value,
			Reason:         fmt.Sprintf("MVRV %.2f above sell threshold", mvrv),
		}}, nil
	}
	return nil, nil
}
