package memory

import (
	"context"
	"sync"

	"treasuryarena/internal/ledger"
	"treasuryarena/internal/models"
)

// AuditLog is an append-only in-memory audit trail.
type AuditLog struct {
	mu     sync.RWMutex
	events []models.AuditEvent
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (l *AuditLog) Append(_ context.Context, e models.AuditEvent) error {
	if e.Kind == "" {
		return ledger.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e.ID = uint64(len(l.events) + 1)
	l.events = append(l.events, e)
	return nil
}

// ListAudit returns up to limit events, newest first. limit <= 0 returns all.
func (l *AuditLog) ListAudit(_ context.Context, limit int) ([]models.AuditEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.AuditEvent, 0, n)
	for i := len(l.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.events[i])
	}
	return out, nil
}

// Count filters by kind and, when tradeID is set, by trade.
func (l *AuditLog) Count(kind models.AuditKind, tradeID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for _, e := range l.events {
		if e.Kind != kind {
			continue
		}
		if tradeID != "" && e.TradeID != tradeID {
			continue
		}
		count++
	}
	return count
}

// New builds a ledger backed entirely by memory.
func New() (*ledger.Ledger, *AuditLog) {
	audit := NewAuditLog()
	return &ledger.Ledger{
		Trades: NewTradeStore(),
		Limits: NewPositionLimitStore(),
		Audit:  audit,
	}, audit
}
