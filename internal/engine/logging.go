package engine

import (
	"context"

	"github.com/sirupsen/logrus"

	"treasuryarena/internal/models"
)

func (e *Engine) logEntry() *logrus.Entry {
	return e.log.WithComponent("engine")
}

func (e *Engine) tradeEntry(t *models.Trade) *logrus.Entry {
	return e.log.WithTradeID(t.ID).WithFields(logrus.Fields{
		"component": "engine",
		"agent_id":  t.AgentID,
		"venue":     t.Venue,
		"kind":      t.Kind,
	})
}

// record appends to the audit log. Audit failures are logged, never returned:
// they must not change a trade's outcome.
func (e *Engine) record(ctx context.Context, level models.AuditLevel, kind models.AuditKind, agentID, tradeID, msg string) {
	if e.audit == nil {
		return
	}
	err := e.audit.Append(context.WithoutCancel(ctx), models.AuditEvent{
		Time:    e.now(),
		Level:   level,
		Kind:    kind,
		AgentID: agentID,
		TradeID: tradeID,
		Message: msg,
	})
	if err != nil {
		e.logEntry().WithError(err).WithField("kind", kind).Error("Не удалось записать событие аудита.")
	}
}

func (e *Engine) saveTrade(ctx context.Context, t *models.Trade) {
	if err := e.trades.Update(context.WithoutCancel(ctx), t); err != nil {
		e.tradeEntry(t).WithError(err).Error("Не удалось сохранить сделку.")
	}
}
