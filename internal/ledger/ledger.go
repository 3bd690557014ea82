package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"treasuryarena/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a record with the same key already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// TradeStore persists trade records. Terminal records are never rewritten.
type TradeStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, t *models.Trade) error

	// Update replaces a non-terminal trade. Returns ErrNotFound if absent and
	// ErrInvalidInput if the stored record is already terminal.
	Update(ctx context.Context, t *models.Trade) error

	// Get returns a trade by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*models.Trade, error)

	// Recent returns the newest trades by submission time.
	Recent(ctx context.Context, limit int) ([]*models.Trade, error)

	// ListByAgent returns an agent's trades, newest first.
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*models.Trade, error)

	// CountSubmittedSince counts every trade the agent submitted at or after since,
	// whatever its status.
	CountSubmittedSince(ctx context.Context, agentID string, since time.Time) (int, error)

	// PositionInAsset sums actual returns of the agent's successful trades into asset.
	PositionInAsset(ctx context.Context, agentID, asset string) (decimal.Decimal, error)
}

// PositionLimitStore is read-only to the core.
type PositionLimitStore interface {
	// Limit returns the most specific limit for agent and asset: an exact asset
	// match wins over the agent-wide entry. Returns ErrNotFound when neither exists.
	Limit(ctx context.Context, agentID, asset string) (*models.PositionLimit, error)
}

// AuditLog is append-only.
type AuditLog interface {
	Append(ctx context.Context, e models.AuditEvent) error
}

// AuditReader lists audit events, newest first.
type AuditReader interface {
	ListAudit(ctx context.Context, limit int) ([]models.AuditEvent, error)
}

// Ledger bundles the stores the core depends on.
type Ledger struct {
	Trades TradeStore
	Limits PositionLimitStore
	Audit  AuditLog
}
