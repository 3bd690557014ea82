package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"treasuryarena/internal/config"
	"treasuryarena/internal/exchange"
	"treasuryarena/internal/ledger"
	"treasuryarena/internal/logger"
	"treasuryarena/internal/models"
	"treasuryarena/internal/validation"
)

var (
	ErrTradingDisabled      = errors.New("trading disabled")
	ErrUnknownVenue         = errors.New("unknown venue")
	ErrUnknownTradeKind     = errors.New("unknown trade kind")
	ErrVenueExecutionFailed = errors.New("venue execution failed")
	ErrEngineClosed         = errors.New("engine is shut down")
)

// Validator is satisfied by *validation.Pipeline.
type Validator interface {
	Validate(ctx context.Context, req validation.Request) error
}

// Engine is the only component that moves real capital. Submissions are
// validated synchronously and executed on their own goroutine.
type Engine struct {
	cfg       config.TradingConfig
	validator Validator
	trades    ledger.TradeStore
	audit     ledger.AuditLog
	log       *logger.Logger
	retry     Retrier
	now       func() time.Time

	enabled atomic.Bool

	venuesMu sync.RWMutex
	venues   map[string]exchange.Venue

	mu       sync.Mutex
	inFlight map[string]*Handle
	closed   bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Engine)

// WithSleep replaces the backoff sleep, used by tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.retry.Sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(cfg config.TradingConfig, validator Validator, trades ledger.TradeStore, audit ledger.AuditLog, log *logger.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Second
	}
	if cfg.RecentTrades <= 0 {
		cfg.RecentTrades = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		validator: validator,
		trades:    trades,
		audit:     audit,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		venues:    make(map[string]exchange.Venue),
		inFlight:  make(map[string]*Handle),
		baseCtx:   ctx,
		cancel:    cancel,
	}
	e.retry = Retrier{
		MaxAttempts: cfg.MaxAttempts,
		Base:        cfg.BackoffBase,
		Max:         cfg.BackoffMax,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.enabled.Store(cfg.Enabled)
	return e
}

// RegisterVenue makes v available under its name. A later registration with
// the same name replaces the earlier one.
func (e *Engine) RegisterVenue(v exchange.Venue) {
	e.venuesMu.Lock()
	e.venues[v.Name()] = v
	e.venuesMu.Unlock()
	e.logEntry().WithField("venue", v.Name()).Info("Площадка зарегистрирована.")
}

func (e *Engine) venue(name string) (exchange.Venue, bool) {
	e.venuesMu.RLock()
	defer e.venuesMu.RUnlock()
	v, ok := e.venues[name]
	return v, ok
}

func (e *Engine) Venues() []string {
	e.venuesMu.RLock()
	defer e.venuesMu.RUnlock()
	names := make([]string, 0, len(e.venues))
	for name := range e.venues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) Enabled() bool {
	return e.enabled.Load()
}

// EmergencyStop blocks new submissions. Trades already executing run to
// completion.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) {
	e.enabled.Store(false)
	if reason == "" {
		reason = "operator request"
	}
	e.logEntry().WithField("critical", true).WithField("reason", reason).
		Error("АВАРИЙНАЯ ОСТАНОВКА: торговля отключена.")
	e.record(ctx, models.AuditLevelCritical, models.AuditKindEmergencyStop, "", "", "emergency stop: "+reason)
}

func (e *Engine) EmergencyResume(ctx context.Context, operator string) {
	e.enabled.Store(true)
	if operator == "" {
		operator = "unknown"
	}
	e.logEntry().WithField("operator", operator).Warn("Торговля возобновлена оператором.")
	e.record(ctx, models.AuditLevelWarning, models.AuditKindEmergencyResume, "", "", "trading resumed by "+operator)
}

type Status struct {
	Enabled      bool            `json:"enabled"`
	PendingCount int             `json:"pending_count"`
	RecentTrades []*models.Trade `json:"recent_trades"`
	Venues       []string        `json:"venues"`
}

func (e *Engine) Status(ctx context.Context) (Status, error) {
	e.mu.Lock()
	pending := len(e.inFlight)
	e.mu.Unlock()

	recent, err := e.trades.Recent(ctx, e.cfg.RecentTrades)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Enabled:      e.Enabled(),
		PendingCount: pending,
		RecentTrades: recent,
		Venues:       e.Venues(),
	}, nil
}

func (e *Engine) Trade(ctx context.Context, id string) (*models.Trade, error) {
	return e.trades.Get(ctx, id)
}

// Handle returns the in-flight handle for a trade, if it is still running.
func (e *Engine) Handle(id string) (*Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.inFlight[id]
	return h, ok
}

// Shutdown stops accepting trades and waits for in-flight executions. When
// ctx expires first, pending backoffs are abandoned and the trades end failed.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.enabled.Store(false)
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}
