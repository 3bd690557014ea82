package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"treasuryarena/internal/ledger"
	"treasuryarena/internal/models"
)

// TradeStore is an in-memory implementation of ledger.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*models.Trade // keyed by trade id
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*models.Trade),
	}
}

// Insert adds a new trade. Returns ErrDuplicateKey if the id exists.
func (s *TradeStore) Insert(_ context.Context, t *models.Trade) error {
	if t == nil || t.ID == "" {
		return ledger.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.ID]; exists {
		return ledger.ErrDuplicateKey
	}
	s.data[t.ID] = t.Clone()
	return nil
}

// Update replaces a stored trade unless it already reached a terminal status.
func (s *TradeStore) Update(_ context.Context, t *models.Trade) error {
	if t == nil || t.ID == "" {
		return ledger.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.data[t.ID]
	if !exists {
		return ledger.ErrNotFound
	}
	if current.Status.Terminal() {
		return ledger.ErrInvalidInput
	}
	s.data[t.ID] = t.Clone()
	return nil
}

func (s *TradeStore) Get(_ context.Context, id string) (*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[id]
	if !exists {
		return nil, ledger.ErrNotFound
	}
	return t.Clone(), nil
}

func (s *TradeStore) Recent(_ context.Context, limit int) ([]*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Trade, 0, len(s.data))
	for _, t := range s.data {
		result = append(result, t.Clone())
	}
	return newestFirst(result, limit), nil
}

func (s *TradeStore) ListByAgent(_ context.Context, agentID string, limit int) ([]*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Trade
	for _, t := range s.data {
		if t.AgentID == agentID {
			result = append(result, t.Clone())
		}
	}
	return newestFirst(result, limit), nil
}

func (s *TradeStore) CountSubmittedSince(_ context.Context, agentID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, t := range s.data {
		if t.AgentID == agentID && !t.SubmittedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *TradeStore) PositionInAsset(_ context.Context, agentID, asset string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, t := range s.data {
		if t.AgentID != agentID || t.OutputAsset != asset || t.Status != models.TradeStatusSuccess {
			continue
		}
		if t.ActualReturn != nil {
			total = total.Add(*t.ActualReturn)
		}
	}
	return total, nil
}

func newestFirst(trades []*models.Trade, limit int) []*models.Trade {
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].SubmittedAt.Equal(trades[j].SubmittedAt) {
			return trades[i].ID > trades[j].ID
		}
		return trades[i].SubmittedAt.After(trades[j].SubmittedAt)
	})
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	return trades
}
