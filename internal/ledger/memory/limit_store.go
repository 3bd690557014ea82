package memory

import (
	"context"
	"sync"

	"treasuryarena/internal/ledger"
	"treasuryarena/internal/models"
)

// PositionLimitStore is an in-memory implementation of ledger.PositionLimitStore.
type PositionLimitStore struct {
	mu   sync.RWMutex
	data map[string]models.PositionLimit // keyed by agent id + asset
}

func NewPositionLimitStore() *PositionLimitStore {
	return &PositionLimitStore{
		data: make(map[string]models.PositionLimit),
	}
}

// Set stores a limit. An empty asset makes it agent-wide.
func (s *PositionLimitStore) Set(_ context.Context, l models.PositionLimit) error {
	if l.AgentID == "" || l.MaxPosition.IsNegative() || l.MaxTradeSize.IsNegative() {
		return ledger.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[limitKey(l.AgentID, l.Asset)] = l
	return nil
}

func (s *PositionLimitStore) Limit(_ context.Context, agentID, asset string) (*models.PositionLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if l, ok := s.data[limitKey(agentID, asset)]; ok {
		return &l, nil
	}
	if l, ok := s.data[limitKey(agentID, "")]; ok {
		return &l, nil
	}
	return nil, ledger.ErrNotFound
}

func limitKey(agentID, asset string) string {
	return agentID + "|" + asset
}
