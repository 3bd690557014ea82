package agent

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"treasuryarena/internal/models"
)

type Status string
type Tier string

const (
	StatusSimulation Status = "simulation"
	StatusProving    Status = "proving"
	StatusActive     Status = "active"
	StatusDead       Status = "dead"

	TierNone       Tier = "none"
	TierChallenger Tier = "challenger"
	TierActive     Tier = "active"
	TierElite      Tier = "elite"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// Agent is one trading strategy instance competing for capital. All state sits
// behind mu so the arena and concurrent trade executions never interleave a
// read-modify-write of capital.
type Agent struct {
	mu sync.Mutex

	id       string
	name     string
	strategy StrategyTag
	params   Params

	virtualCapital        float64
	initialVirtualCapital float64
	realCapital           float64
	initialRealCapital    float64

	// dayOpen is the capital the current day is measured from. Allocations
	// shift it so only trading moves show up as daily P&L.
	dayOpen float64

	history      []PerformanceRecord
	fitness      float64
	age          int
	daysNegative int

	status Status
	tier   Tier
	rank   int

	createdAt time.Time
	updatedAt time.Time
}

// New creates an agent in simulation status. params are merged over the
// strategy defaults.
func New(tag StrategyTag, params Params, virtualCapital float64) (*Agent, error) {
	strategy, err := LookupStrategy(tag)
	if err != nil {
		return nil, err
	}
	if err := ValidateCapitalChange(0, virtualCapital); err != nil {
		return nil, err
	}
	id := newAgentID()
	now := time.Now().UTC()
	return &Agent{
		id:                    id,
		name:                  "Agent-" + strings.TrimPrefix(id, "agent-"),
		strategy:              tag,
		params:                params.Merge(strategy.DefaultParams()),
		virtualCapital:        virtualCapital,
		initialVirtualCapital: virtualCapital,
		dayOpen:               virtualCapital,
		status:                StatusSimulation,
		tier:                  TierNone,
		createdAt:             now,
		updatedAt:             now,
	}, nil
}

func newAgentID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "agent-" + raw[:8]
}

func (a *Agent) ID() string {
	return a.id
}

func (a *Agent) Name() string {
	return a.name
}

func (a *Agent) Strategy() StrategyTag {
	return a.strategy
}

func (a *Agent) Params() Params {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params.Clone()
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Agent) Tier() Tier {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tier
}

func (a *Agent) Rank() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rank
}

func (a *Agent) Age() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.age
}

func (a *Agent) DaysNegative() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.daysNegative
}

func (a *Agent) VirtualCapital() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.virtualCapital
}

func (a *Agent) RealCapital() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realCapital
}

func (a *Agent) InitialRealCapital() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialRealCapital
}

// CurrentCapital is real capital once the agent trades real money, simulated
// capital before that.
func (a *Agent) CurrentCapital() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentCapitalLocked()
}

func (a *Agent) currentCapitalLocked() float64 {
	if a.status == StatusProving || a.status == StatusActive {
		return a.realCapital
	}
	return a.virtualCapital
}

func (a *Agent) History() []PerformanceRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]PerformanceRecord(nil), a.history...)
}

// FitnessScore is the last computed fitness.
func (a *Agent) FitnessScore() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fitness
}

// CalculateFitness recomputes and caches the fitness score.
func (a *Agent) CalculateFitness() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calculateFitnessLocked()
}

func (a *Agent) calculateFitnessLocked() float64 {
	score := Fitness(len(a.history), a.metricsLocked())
	a.fitness = score
	return score
}

func (a *Agent) Metrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metricsLocked()
}

func (a *Agent) metricsLocked() Metrics {
	current, initial := a.virtualCapital, a.initialVirtualCapital
	if a.status == StatusProving || a.status == StatusActive || (a.status == StatusDead && a.initialRealCapital > 0) {
		current, initial = a.realCapital, a.initialRealCapital
	}
	return ComputeMetrics(a.history, current, initial, a.age)
}

func (a *Agent) TotalReturn() float64      { return a.Metrics().TotalReturn }
func (a *Agent) AnnualizedReturn() float64 { return a.Metrics().AnnualizedReturn }
func (a *Agent) SharpeRatio() float64      { return a.Metrics().Sharpe }
func (a *Agent) MaxDrawdown() float64      { return a.Metrics().MaxDrawdown }
func (a *Agent) Volatility() float64       { return a.Metrics().Volatility }
func (a *Agent) WinRate() float64          { return a.Metrics().WinRate }

// RecordPerformance appends one day. Fitness is computed before the append and
// stored on the new record. Simulated agents take the reported capital as their
// new simulated capital.
func (a *Agent) RecordPerformance(date time.Time, capital, pnl float64, trades int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status == StatusSimulation {
		if err := ValidateCapitalChange(a.virtualCapital, capital); err != nil {
			return err
		}
	}
	return a.recordLocked(date, capital, pnl, trades)
}

// CloseDay records the day from the agent's own capital: P&L is whatever the
// current capital moved since the previous close.
func (a *Agent) CloseDay(date time.Time, trades int) (PerformanceRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	capital := a.currentCapitalLocked()
	if err := a.recordLocked(date, capital, capital-a.dayOpen, trades); err != nil {
		return PerformanceRecord{}, err
	}
	return a.history[len(a.history)-1], nil
}

func (a *Agent) recordLocked(date time.Time, capital, pnl float64, trades int) error {
	if a.status == StatusDead {
		return fmt.Errorf("%w: agent %s is dead", ErrInvalidTransition, a.id)
	}
	if a.status == StatusSimulation {
		a.virtualCapital = capital
	}

	fitness := a.calculateFitnessLocked()
	a.history = append(a.history, PerformanceRecord{
		Date:    date,
		Capital: capital,
		PnL:     pnl,
		Trades:  trades,
		Fitness: fitness,
	})

	if pnl < 0 {
		a.daysNegative++
	} else {
		a.daysNegative = 0
	}
	a.age++
	a.dayOpen = a.currentCapitalLocked()
	a.updatedAt = time.Now().UTC()
	return nil
}

// ApplyPnL adds realized profit or loss to real capital after the guard accepts
// the resulting balance. It returns the new balance.
func (a *Agent) ApplyPnL(pnl float64) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.realCapital + pnl
	if err := ValidateCapitalChange(a.realCapital, next); err != nil {
		return a.realCapital, err
	}
	a.realCapital = next
	a.updatedAt = time.Now().UTC()
	return next, nil
}

// SetRealCapital assigns a tier allocation.
func (a *Agent) SetRealCapital(amount float64, tier Tier) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ValidateCapitalChange(a.realCapital, amount); err != nil {
		return err
	}
	a.dayOpen += amount - a.realCapital
	a.realCapital = amount
	a.tier = tier
	a.updatedAt = time.Now().UTC()
	return nil
}

// Promote moves the agent one lifecycle step up and grants it a fresh real
// capital stake, which also becomes its initial real capital. The grant
// replaces the old stake rather than growing it, so only its sign is guarded.
func (a *Agent) Promote(to Status, grant float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.status == StatusSimulation && to == StatusProving:
	case a.status == StatusProving && to == StatusActive:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.status, to)
	}
	if err := ValidateCapitalChange(0, grant); err != nil {
		return err
	}
	a.realCapital = grant
	a.initialRealCapital = grant
	a.dayOpen = grant
	a.status = to
	a.updatedAt = time.Now().UTC()
	return nil
}

// Kill moves the agent to the terminal dead status.
func (a *Agent) Kill() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status == StatusDead {
		return fmt.Errorf("%w: agent %s already dead", ErrInvalidTransition, a.id)
	}
	a.status = StatusDead
	a.tier = TierNone
	a.updatedAt = time.Now().UTC()
	return nil
}

func (a *Agent) SetRank(rank int) {
	a.mu.Lock()
	a.rank = rank
	a.mu.Unlock()
}

// Penalize takes a one-off haircut of fraction off simulated capital. The
// loss lands in the next closed day like any other. It returns the amount cut.
func (a *Agent) Penalize(fraction float64) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cut := a.virtualCapital * fraction
	next := a.virtualCapital - cut
	if err := ValidateCapitalChange(a.virtualCapital, next); err != nil {
		return 0, err
	}
	a.virtualCapital = next
	a.updatedAt = time.Now().UTC()
	return cut, nil
}

// SafeExecute runs the strategy and turns both errors and panics into a
// returned error so one agent never takes the others down.
func (a *Agent) SafeExecute(market models.MarketSnapshot) (intents []models.TradeIntent, err error) {
	defer func() {
		if r := recover(); r != nil {
			intents = nil
			err = fmt.Errorf("strategy %s panicked: %v", a.strategy, r)
		}
	}()

	strategy, err := LookupStrategy(a.strategy)
	if err != nil {
		return nil, err
	}
	intents, err = strategy.Execute(a, market)
	if err != nil {
		return nil, err
	}
	return intents, nil
}

// View is a read-only snapshot for APIs and logs.
type View struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Strategy       StrategyTag `json:"strategy"`
	Status         Status      `json:"status"`
	Tier           Tier        `json:"tier"`
	Rank           int         `json:"rank"`
	VirtualCapital float64     `json:"virtual_capital"`
	RealCapital    float64     `json:"real_capital"`
	Fitness        float64     `json:"fitness_score"`
	Metrics
	AgeDays   int       `json:"age_days"`
	Params    Params    `json:"params"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Agent) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return View{
		ID:             a.id,
		Name:           a.name,
		Strategy:       a.strategy,
		Status:         a.status,
		Tier:           a.tier,
		Rank:           a.rank,
		VirtualCapital: a.virtualCapital,
		RealCapital:    a.realCapital,
		Fitness:        a.fitness,
		Metrics:        a.metricsLocked(),
		AgeDays:        a.age,
		Params:         a.params.Clone(),
		CreatedAt:      a.createdAt,
		UpdatedAt:      a.updatedAt,
	}
}

func (a *Agent) String() string {
	return fmt.Sprintf("%s (%s) capital=%.0f fitness=%.2f", a.id, a.strategy, a.CurrentCapital(), a.FitnessScore())
}
