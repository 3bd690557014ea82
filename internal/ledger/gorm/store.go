package gormledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"treasuryarena/internal/ledger"
	"treasuryarena/internal/models"
)

// Store implements the ledger interfaces on PostgreSQL.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Ledger exposes the store through the core's interfaces.
func (s *Store) Ledger() *ledger.Ledger {
	return &ledger.Ledger{Trades: s, Limits: s, Audit: s}
}

var terminalStatuses = []models.TradeStatus{models.TradeStatusSuccess, models.TradeStatusFailed}

func (s *Store) Insert(ctx context.Context, t *models.Trade) error {
	if t == nil || t.ID == "" {
		return ledger.ErrInvalidInput
	}
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.WithContext(ctx).Create(t.Clone()).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ledger.ErrDuplicateKey
	}
	return err
}

func (s *Store) Update(ctx context.Context, t *models.Trade) error {
	if t == nil || t.ID == "" {
		return ledger.ErrInvalidInput
	}
	if s == nil || s.db == nil {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("id = ?", t.ID).
		Where("status NOT IN ?", terminalStatuses).
		Select("*").
		Updates(t.Clone())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := s.Get(ctx, t.ID); err != nil {
		return err
	}
	return ledger.ErrInvalidInput
}

func (s *Store) Get(ctx context.Context, id string) (*models.Trade, error) {
	if s == nil || s.db == nil {
		return nil, ledger.ErrNotFound
	}
	var item models.Trade
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]*models.Trade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []*models.Trade
	err := s.db.WithContext(ctx).
		Order("submitted_at DESC").
		Order("id DESC").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	return items, err
}

func (s *Store) ListByAgent(ctx context.Context, agentID string, limit int) ([]*models.Trade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []*models.Trade
	err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("submitted_at DESC").
		Order("id DESC").
		Limit(normalizeLimit(limit, 500)).
		Find(&items).Error
	return items, err
}

func (s *Store) CountSubmittedSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Trade{}).
		Where("agent_id = ?", agentID).
		Where("submitted_at >= ?", since).
		Count(&count).Error
	return int(count), err
}

func (s *Store) PositionInAsset(ctx context.Context, agentID, asset string) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var row struct {
		Total decimal.Decimal
	}
	err := s.db.WithContext(ctx).
		Model(&models.Trade{}).
		Select("COALESCE(SUM(actual_return), 0) AS total").
		Where("agent_id = ?", agentID).
		Where("output_asset = ?", asset).
		Where("status = ?", models.TradeStatusSuccess).
		Scan(&row).Error
	return row.Total, err
}

// Limit prefers the asset specific row over the agent-wide one.
func (s *Store) Limit(ctx context.Context, agentID, asset string) (*models.PositionLimit, error) {
	if s == nil || s.db == nil {
		return nil, ledger.ErrNotFound
	}
	var item models.PositionLimit
	err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Where("asset IN ?", []string{asset, ""}).
		Order("asset DESC").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpsertLimit is used by operators and tests; the core never writes limits.
func (s *Store) UpsertLimit(ctx context.Context, item *models.PositionLimit) error {
	if item == nil || item.AgentID == "" {
		return ledger.ErrInvalidInput
	}
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "agent_id"}, {Name: "asset"}},
		DoUpdates: clause.AssignmentColumns([]string{"max_position", "max_trade_size"}),
	}).Create(item).Error
}

func (s *Store) Append(ctx context.Context, e models.AuditEvent) error {
	if e.Kind == "" {
		return ledger.ErrInvalidInput
	}
	if s == nil || s.db == nil {
		return nil
	}
	e.ID = 0
	return s.db.WithContext(ctx).Create(&e).Error
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.AuditEvent
	err := s.db.WithContext(ctx).
		Order("id DESC").
		Limit(normalizeLimit(limit, 200)).
		Find(&items).Error
	return items, err
}

func normalizeLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
