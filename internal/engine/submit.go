package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"treasuryarena/internal/agent"
	"treasuryarena/internal/models"
	"treasuryarena/internal/validation"
)

// Receipt answers a submission. Handle is nil for rejected trades.
type Receipt struct {
	TradeID string                  `json:"trade_id,omitempty"`
	Status  models.SubmissionStatus `json:"status"`
	Reason  string                  `json:"reason,omitempty"`
	Handle  *Handle                 `json:"-"`
}

// Handle tracks one dispatched execution. It cannot cancel it.
type Handle struct {
	tradeID string
	done    chan struct{}
	result  *models.Trade
	err     error
}

func newHandle(tradeID string) *Handle {
	return &Handle{tradeID: tradeID, done: make(chan struct{})}
}

func (h *Handle) TradeID() string {
	return h.tradeID
}

// Done is closed once the trade reaches a terminal status.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the trade is terminal or ctx ends. The returned error is
// the execution failure, if any.
func (h *Handle) Wait(ctx context.Context) (*models.Trade, error) {
	select {
	case <-h.done:
		return h.result.Clone(), h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) finish(t *models.Trade, err error) {
	h.result = t.Clone()
	h.err = err
	close(h.done)
}

func newTradeID() string {
	return "trade-" + uuid.NewString()
}

// Submit validates intent for a and dispatches execution. It returns as soon as
// the trade is recorded; rejected trades come back with a non-nil error.
func (e *Engine) Submit(ctx context.Context, a *agent.Agent, intent models.TradeIntent) (Receipt, error) {
	if a == nil {
		return Receipt{Status: models.SubmissionRejected, Reason: "agent is required"}, errors.New("agent is required")
	}
	if !e.enabled.Load() {
		e.logEntry().WithField("agent_id", a.ID()).Warn("Сделка отклонена: торговля отключена.")
		e.record(ctx, models.AuditLevelWarning, models.AuditKindTradingDisabled, a.ID(), "", "submission rejected: trading disabled")
		return Receipt{Status: models.SubmissionRejected, Reason: ErrTradingDisabled.Error()}, ErrTradingDisabled
	}

	trade := models.NewTrade(newTradeID(), a.ID(), intent, e.now())

	if err := e.preflight(intent); err != nil {
		return e.reject(ctx, trade, err.Error(), err)
	}

	err := e.validator.Validate(ctx, validation.Request{
		AgentID:     a.ID(),
		RealCapital: decimal.NewFromFloat(a.RealCapital()),
		Intent:      intent,
		Now:         trade.SubmittedAt,
	})
	if err != nil {
		return e.reject(ctx, trade, err.Error(), err)
	}

	// registration and wg.Add happen under mu so Shutdown never waits on a
	// group that can still grow
	h := newHandle(trade.ID)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.tradeEntry(trade).Warn("Сделка отклонена: движок остановлен.")
		return Receipt{Status: models.SubmissionRejected, Reason: ErrEngineClosed.Error()}, ErrEngineClosed
	}
	e.wg.Add(1)
	e.inFlight[trade.ID] = h
	e.mu.Unlock()

	trade.Status = models.TradeStatusPending
	if err := e.trades.Insert(ctx, trade); err != nil {
		e.mu.Lock()
		delete(e.inFlight, trade.ID)
		e.mu.Unlock()
		e.wg.Done()
		return Receipt{Status: models.SubmissionRejected, Reason: err.Error()}, fmt.Errorf("store trade: %w", err)
	}

	e.tradeEntry(trade).WithField("amount", trade.InputAmount.String()).Info("Сделка принята к исполнению.")

	go func() {
		defer e.wg.Done()
		e.execute(a, trade, h)
	}()

	return Receipt{TradeID: trade.ID, Status: models.SubmissionSubmitted, Handle: h}, nil
}

// preflight catches configuration errors before the pipeline runs.
func (e *Engine) preflight(intent models.TradeIntent) error {
	if !intent.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTradeKind, intent.Kind)
	}
	if _, ok := e.venue(intent.Venue); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVenue, intent.Venue)
	}
	return nil
}

func (e *Engine) reject(ctx context.Context, trade *models.Trade, reason string, cause error) (Receipt, error) {
	now := e.now()
	trade.Status = models.TradeStatusFailed
	trade.Error = reason
	trade.CompletedAt = &now

	if err := e.trades.Insert(ctx, trade); err != nil {
		e.tradeEntry(trade).WithError(err).Error("Не удалось сохранить отклонённую сделку.")
	}
	e.tradeEntry(trade).WithField("reason", reason).Warn("Сделка отклонена.")
	e.record(ctx, models.AuditLevelWarning, models.AuditKindValidationRejected, trade.AgentID, trade.ID, reason)

	return Receipt{TradeID: trade.ID, Status: models.SubmissionRejected, Reason: reason}, cause
}
