package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"treasuryarena/internal/agent"
	"treasuryarena/internal/exchange"
	"treasuryarena/internal/models"
)

// errVenueRejected marks an outcome the venue reported as failed. It is never
// retried.
var errVenueRejected = errors.New("venue rejected trade")

func (e *Engine) execute(a *agent.Agent, trade *models.Trade, h *Handle) {
	ctx := e.baseCtx
	var execErr error
	defer func() {
		e.mu.Lock()
		delete(e.inFlight, trade.ID)
		e.mu.Unlock()
		h.finish(trade, execErr)
	}()

	started := e.now()
	trade.Status = models.TradeStatusExecuting
	trade.ExecutedAt = &started
	e.saveTrade(ctx, trade)

	venue, ok := e.venue(trade.Venue)
	if !ok {
		execErr = fmt.Errorf("%w: %q", ErrUnknownVenue, trade.Venue)
		e.fail(ctx, trade, execErr.Error())
		return
	}

	retry := e.retry
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		e.tradeEntry(trade).WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait.String(),
		}).Warn("Ошибка исполнения, повторяем запрос.")
	}

	outcome, attempts, err := Retry(ctx, retry, func(attempt int) (exchange.Outcome, error) {
		e.record(ctx, models.AuditLevelInfo, models.AuditKindExecutionAttempt, trade.AgentID, trade.ID,
			fmt.Sprintf("attempt %d/%d on %s", attempt, retry.MaxAttempts, trade.Venue))
		out, err := e.dispatch(ctx, venue, trade)
		if err != nil {
			return out, err
		}
		if !out.Success {
			return out, Permanent(fmt.Errorf("%w: %s", errVenueRejected, out.Error))
		}
		return out, nil
	})
	trade.Attempts = attempts

	switch {
	case err == nil:
	case errors.Is(err, errVenueRejected):
		execErr = fmt.Errorf("%w: %s", ErrVenueExecutionFailed, outcome.Error)
		e.fail(ctx, trade, outcome.Error)
		return
	case errors.Is(err, ErrUnknownTradeKind):
		execErr = err
		e.fail(ctx, trade, err.Error())
		return
	default:
		execErr = fmt.Errorf("%w after %d attempts: %v", ErrVenueExecutionFailed, attempts, err)
		e.fail(ctx, trade, execErr.Error())
		return
	}

	execErr = e.settle(ctx, a, trade, outcome)
}

// dispatch maps the trade kind onto a venue operation.
func (e *Engine) dispatch(ctx context.Context, venue exchange.Venue, trade *models.Trade) (exchange.Outcome, error) {
	switch trade.Kind {
	case models.TradeKindDeposit:
		return venue.Deposit(ctx, settlementAsset(trade), trade.InputAmount)
	case models.TradeKindWithdraw:
		return venue.Withdraw(ctx, settlementAsset(trade), trade.InputAmount)
	case models.TradeKindSwap, models.TradeKindBuy, models.TradeKindSell:
		return venue.Swap(ctx, exchange.SwapRequest{
			InputAsset:  trade.InputAsset,
			InputAmount: trade.InputAmount,
			OutputAsset: trade.OutputAsset,
			MinOutput:   trade.MinOutput,
		})
	}
	return exchange.Outcome{}, Permanent(fmt.Errorf("%w: %q", ErrUnknownTradeKind, trade.Kind))
}

func settlementAsset(t *models.Trade) string {
	if t.OutputAsset != "" {
		return t.OutputAsset
	}
	return t.InputAsset
}

// settle credits realized P&L through the capital guard. A guard violation
// fails the trade and leaves capital untouched.
func (e *Engine) settle(ctx context.Context, a *agent.Agent, trade *models.Trade, out exchange.Outcome) error {
	input := out.InputAmount
	if input.IsZero() {
		input = trade.InputAmount
	}
	pnl := out.OutputAmount.Sub(input).Sub(out.Fee)

	balance, err := a.ApplyPnL(pnl.InexactFloat64())
	if err != nil {
		e.tradeEntry(trade).WithError(err).Error("Изменение капитала отклонено защитой.")
		e.fail(ctx, trade, err.Error())
		return err
	}

	now := e.now()
	price := out.ExecutionPrice
	actual := out.OutputAmount
	trade.Status = models.TradeStatusSuccess
	trade.ExecutionPrice = &price
	trade.ActualReturn = &actual
	trade.PnL = &pnl
	trade.Fee = out.Fee
	trade.Slippage = out.Slippage
	trade.Reference = out.Reference
	trade.CompletedAt = &now
	e.saveTrade(ctx, trade)

	e.tradeEntry(trade).WithFields(logrus.Fields{
		"pnl":       pnl.StringFixed(2),
		"balance":   decimal.NewFromFloat(balance).StringFixed(2),
		"reference": out.Reference,
		"attempts":  trade.Attempts,
	}).Info("Сделка исполнена.")
	e.record(ctx, models.AuditLevelInfo, models.AuditKindExecutionSuccess, trade.AgentID, trade.ID,
		fmt.Sprintf("settled on %s ref=%s pnl=%s", trade.Venue, out.Reference, pnl.StringFixed(2)))
	return nil
}

func (e *Engine) fail(ctx context.Context, trade *models.Trade, reason string) {
	now := e.now()
	trade.Status = models.TradeStatusFailed
	trade.Error = reason
	trade.CompletedAt = &now
	e.saveTrade(ctx, trade)

	e.tradeEntry(trade).WithField("reason", reason).WithField("attempts", trade.Attempts).Error("Сделка не исполнена.")
	e.record(ctx, models.AuditLevelError, models.AuditKindExecutionFailed, trade.AgentID, trade.ID, reason)
}
