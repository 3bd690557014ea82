package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeKind string
type TradeStatus string
type SubmissionStatus string
type AuditLevel string
type AuditKind string

const (
	TradeKindDeposit  TradeKind = "deposit"
	TradeKindWithdraw TradeKind = "withdraw"
	TradeKindSwap     TradeKind = "swap"
	TradeKindBuy      TradeKind = "buy"
	TradeKindSell     TradeKind = "sell"

	TradeStatusPending   TradeStatus = "pending"
	TradeStatusExecuting TradeStatus = "executing"
	TradeStatusSuccess   TradeStatus = "success"
	TradeStatusFailed    TradeStatus = "failed"

	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionRejected  SubmissionStatus = "rejected"

	AuditLevelInfo     AuditLevel = "info"
	AuditLevelWarning  AuditLevel = "warning"
	AuditLevelError    AuditLevel = "error"
	AuditLevelCritical AuditLevel = "critical"

	AuditKindValidationRejected AuditKind = "validation_rejected"
	AuditKindTradingDisabled    AuditKind = "trading_disabled"
	AuditKindExecutionAttempt   AuditKind = "execution_attempt"
	AuditKindExecutionSuccess   AuditKind = "execution_success"
	AuditKindExecutionFailed    AuditKind = "execution_failed"
	AuditKindEmergencyStop      AuditKind = "emergency_stop"
	AuditKindEmergencyResume    AuditKind = "emergency_resume"
	AuditKindEvolutionCycle     AuditKind = "evolution_cycle"
	AuditKindAllocation         AuditKind = "allocation"
	AuditKindLifecycle          AuditKind = "lifecycle"
)

// IsMarket reports whether the kind trades one asset for another. Only these
// kinds are subject to slippage and position limits.
func (k TradeKind) IsMarket() bool {
	switch k {
	case TradeKindSwap, TradeKindBuy, TradeKindSell:
		return true
	}
	return false
}

func (k TradeKind) Valid() bool {
	switch k {
	case TradeKindDeposit, TradeKindWithdraw, TradeKindSwap, TradeKindBuy, TradeKindSell:
		return true
	}
	return false
}

func (s TradeStatus) Terminal() bool {
	return s == TradeStatusSuccess || s == TradeStatusFailed
}

// TradeIntent is what an agent (or the driver acting for it) asks the engine to do.
type TradeIntent struct {
	Kind           TradeKind        `json:"kind"`
	Venue          string           `json:"venue"`
	InputAsset     string           `json:"input_asset"`
	InputAmount    decimal.Decimal  `json:"input_amount"`
	OutputAsset    string           `json:"output_asset"`
	ExpectedReturn decimal.Decimal  `json:"expected_return"`
	Fee            decimal.Decimal  `json:"fee"`
	Slippage       decimal.Decimal  `json:"slippage"`
	MinOutput      *decimal.Decimal `json:"min_output,omitempty"`
	Reason         string           `json:"reason,omitempty"`
}

type Trade struct {
	ID             string           `json:"id" gorm:"primaryKey;type:varchar(64)"`
	AgentID        string           `json:"agent_id" gorm:"type:varchar(64);not null;index"`
	Kind           TradeKind        `json:"kind" gorm:"type:varchar(16);not null"`
	Venue          string           `json:"venue" gorm:"type:varchar(64);not null"`
	InputAsset     string           `json:"input_asset" gorm:"type:varchar(32)"`
	InputAmount    decimal.Decimal  `json:"input_amount" gorm:"type:numeric(30,10);not null"`
	OutputAsset    string           `json:"output_asset" gorm:"type:varchar(32);index"`
	ExpectedReturn decimal.Decimal  `json:"expected_return" gorm:"type:numeric(30,10)"`
	Fee            decimal.Decimal  `json:"fee" gorm:"type:numeric(30,10)"`
	Slippage       decimal.Decimal  `json:"slippage" gorm:"type:numeric(20,10)"`
	MinOutput      *decimal.Decimal `json:"min_output,omitempty" gorm:"type:numeric(30,10)"`
	Status         TradeStatus      `json:"status" gorm:"type:varchar(16);not null;index"`
	Error          string           `json:"error,omitempty" gorm:"type:text"`
	ExecutionPrice *decimal.Decimal `json:"execution_price,omitempty" gorm:"type:numeric(30,10)"`
	ActualReturn   *decimal.Decimal `json:"actual_return,omitempty" gorm:"type:numeric(30,10)"`
	PnL            *decimal.Decimal `json:"pnl,omitempty" gorm:"column:pnl;type:numeric(30,10)"`
	Reference      string           `json:"reference,omitempty" gorm:"type:varchar(128)"`
	Attempts       int              `json:"attempts"`
	SubmittedAt    time.Time        `json:"submitted_at" gorm:"type:timestamptz;not null;index"`
	ExecutedAt     *time.Time       `json:"executed_at,omitempty" gorm:"type:timestamptz"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty" gorm:"type:timestamptz"`
}

func (Trade) TableName() string {
	return "trades"
}

// NewTrade copies an intent into a fresh trade record.
func NewTrade(id, agentID string, intent TradeIntent, now time.Time) *Trade {
	return &Trade{
		ID:             id,
		AgentID:        agentID,
		Kind:           intent.Kind,
		Venue:          intent.Venue,
		InputAsset:     intent.InputAsset,
		InputAmount:    intent.InputAmount,
		OutputAsset:    intent.OutputAsset,
		ExpectedReturn: intent.ExpectedReturn,
		Fee:            intent.Fee,
		Slippage:       intent.Slippage,
		MinOutput:      intent.MinOutput,
		SubmittedAt:    now,
	}
}

// Clone returns a copy that shares no pointers with t.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	c := *t
	c.MinOutput = cloneDecimal(t.MinOutput)
	c.ExecutionPrice = cloneDecimal(t.ExecutionPrice)
	c.ActualReturn = cloneDecimal(t.ActualReturn)
	c.PnL = cloneDecimal(t.PnL)
	if t.ExecutedAt != nil {
		ts := *t.ExecutedAt
		c.ExecutedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// PositionLimit is read-only to the core. An empty Asset applies to every asset
// of the agent.
type PositionLimit struct {
	ID           uint64          `json:"id" gorm:"primaryKey;autoIncrement"`
	AgentID      string          `json:"agent_id" gorm:"type:varchar(64);not null;index:idx_position_limit,unique"`
	Asset        string          `json:"asset" gorm:"type:varchar(32);index:idx_position_limit,unique"`
	MaxPosition  decimal.Decimal `json:"max_position" gorm:"type:numeric(30,10);not null"`
	MaxTradeSize decimal.Decimal `json:"max_trade_size" gorm:"type:numeric(30,10);not null"`
}

func (PositionLimit) TableName() string {
	return "position_limits"
}

type AuditEvent struct {
	ID      uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Time    time.Time  `json:"time" gorm:"type:timestamptz;not null;index"`
	Level   AuditLevel `json:"level" gorm:"type:varchar(16);not null"`
	Kind    AuditKind  `json:"kind" gorm:"type:varchar(32);not null;index"`
	AgentID string     `json:"agent_id,omitempty" gorm:"type:varchar(64);index"`
	TradeID string     `json:"trade_id,omitempty" gorm:"type:varchar(64);index"`
	Message string     `json:"message" gorm:"type:text"`
}

func (AuditEvent) TableName() string {
	return "audit_log"
}

// MarketSnapshot is one simulated or live day of market data handed to strategies.
type MarketSnapshot struct {
	Date            time.Time          `json:"date"`
	Prices          map[string]float64 `json:"prices"`
	ProtocolAPYs    map[string]float64 `json:"protocol_apys"`
	Indicators      map[string]float64 `json:"indicators"`
	CurrentProtocol string             `json:"current_protocol"`
	Positions       map[string]float64 `json:"positions"`
}
