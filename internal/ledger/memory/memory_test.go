package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasuryarena/internal/ledger"
	"treasuryarena/internal/models"
)

func newTrade(id, agentID string, submitted time.Time) *models.Trade {
	return &models.Trade{
		ID:          id,
		AgentID:     agentID,
		Kind:        models.TradeKindSwap,
		Venue:       "simulation",
		InputAsset:  "USDC",
		InputAmount: decimal.NewFromInt(100),
		OutputAsset: "DAI",
		Status:      models.TradeStatusPending,
		SubmittedAt: submitted,
	}
}

func TestTradeStore_InsertAndGet(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()
	now := time.Now().UTC()

	tr := newTrade("t1", "a1", now)
	require.NoError(t, store.Insert(ctx, tr))

	// mutating the caller's copy must not leak into the store
	tr.Status = models.TradeStatusFailed

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusPending, got.Status)

	assert.ErrorIs(t, store.Insert(ctx, newTrade("t1", "a1", now)), ledger.ErrDuplicateKey)
	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.ErrorIs(t, store.Insert(ctx, nil), ledger.ErrInvalidInput)
}

func TestTradeStore_TerminalRecordsAreFinal(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	tr := newTrade("t1", "a1", time.Now().UTC())
	require.NoError(t, store.Insert(ctx, tr))

	tr.Status = models.TradeStatusExecuting
	require.NoError(t, store.Update(ctx, tr))
	tr.Status = models.TradeStatusSuccess
	require.NoError(t, store.Update(ctx, tr))

	tr.Status = models.TradeStatusFailed
	assert.ErrorIs(t, store.Update(ctx, tr), ledger.ErrInvalidInput)

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusSuccess, got.Status)

	assert.ErrorIs(t, store.Update(ctx, newTrade("nope", "a1", time.Now())), ledger.ErrNotFound)
}

func TestTradeStore_CountAndPosition(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	yesterday := newTrade("old", "a1", day.Add(-time.Hour))
	require.NoError(t, store.Insert(ctx, yesterday))

	for i, status := range []models.TradeStatus{models.TradeStatusSuccess, models.TradeStatusSuccess, models.TradeStatusFailed} {
		tr := newTrade(string(rune('a'+i)), "a1", day.Add(time.Duration(i+1)*time.Hour))
		tr.Status = status
		ret := decimal.NewFromInt(int64(100 * (i + 1)))
		tr.ActualReturn = &ret
		require.NoError(t, store.Insert(ctx, tr))
	}
	require.NoError(t, store.Insert(ctx, newTrade("other", "a2", day.Add(time.Hour))))

	count, err := store.CountSubmittedSince(ctx, "a1", day)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	pos, err := store.PositionInAsset(ctx, "a1", "DAI")
	require.NoError(t, err)
	assert.True(t, pos.Equal(decimal.NewFromInt(300)), "position=%s", pos)

	pos, err = store.PositionInAsset(ctx, "a1", "BTC")
	require.NoError(t, err)
	assert.True(t, pos.IsZero())
}

func TestTradeStore_Recent(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(ctx, newTrade(string(rune('a'+i)), "a1", base.Add(time.Duration(i)*time.Second))))
	}

	recent, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "e", recent[0].ID)
	assert.Equal(t, "d", recent[1].ID)

	all, err := store.ListByAgent(ctx, "a1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestPositionLimitStore_SpecificWins(t *testing.T) {
	store := NewPositionLimitStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, models.PositionLimit{AgentID: "a1", MaxPosition: decimal.NewFromInt(500), MaxTradeSize: decimal.NewFromInt(50)}))
	require.NoError(t, store.Set(ctx, models.PositionLimit{AgentID: "a1", Asset: "BTC", MaxPosition: decimal.NewFromInt(900), MaxTradeSize: decimal.NewFromInt(90)}))

	l, err := store.Limit(ctx, "a1", "BTC")
	require.NoError(t, err)
	assert.True(t, l.MaxTradeSize.Equal(decimal.NewFromInt(90)))

	l, err = store.Limit(ctx, "a1", "SOL")
	require.NoError(t, err)
	assert.True(t, l.MaxTradeSize.Equal(decimal.NewFromInt(50)))

	_, err = store.Limit(ctx, "a2", "BTC")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	assert.ErrorIs(t, store.Set(ctx, models.PositionLimit{}), ledger.ErrInvalidInput)
}

func TestAuditLog_AppendOnly(t *testing.T) {
	log := NewAuditLog()
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, models.AuditEvent{Kind: models.AuditKindExecutionAttempt, TradeID: "t1"}))
	require.NoError(t, log.Append(ctx, models.AuditEvent{Kind: models.AuditKindExecutionAttempt, TradeID: "t2"}))
	require.NoError(t, log.Append(ctx, models.AuditEvent{Kind: models.AuditKindEmergencyStop}))
	assert.ErrorIs(t, log.Append(ctx, models.AuditEvent{}), ledger.ErrInvalidInput)

	assert.Equal(t, 2, log.Count(models.AuditKindExecutionAttempt, ""))
	assert.Equal(t, 1, log.Count(models.AuditKindExecutionAttempt, "t1"))

	events, err := log.ListAudit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.AuditKindEmergencyStop, events[0].Kind)
	assert.Equal(t, uint64(3), events[0].ID)
}
