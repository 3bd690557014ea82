package arena

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"treasuryarena/internal/agent"
	"treasuryarena/internal/config"
	"treasuryarena/internal/engine"
	"treasuryarena/internal/ledger"
	"treasuryarena/internal/logger"
	"treasuryarena/internal/models"
)

var (
	ErrUnknownAgent       = errors.New("unknown agent")
	ErrAllocationOverflow = errors.New("allocation exceeds arena capital")
	ErrAllocationRejected = errors.New("allocation rejected by capital guard")
)

// Trader is the part of the trading engine the arena submits through.
type Trader interface {
	Submit(ctx context.Context, a *agent.Agent, intent models.TradeIntent) (engine.Receipt, error)
}

// Manager owns the agent population. Every operation that touches the pools
// runs under mu, so an evolution cycle is never interleaved with a spawn.
type Manager struct {
	cfg    config.ArenaConfig
	log    *logger.Logger
	audit  ledger.AuditLog
	trader Trader
	now    func() time.Time

	mu    sync.Mutex
	pools map[agent.Status][]*agent.Agent
	rnd   *rand.Rand
	cycle int
}

func New(cfg config.ArenaConfig, trader Trader, audit ledger.AuditLog, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.DefaultVirtualCapital <= 0 {
		cfg.DefaultVirtualCapital = 10000
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	m := &Manager{
		cfg:    cfg,
		log:    log,
		audit:  audit,
		trader: trader,
		now:    func() time.Time { return time.Now().UTC() },
		pools:  make(map[agent.Status][]*agent.Agent),
		rnd:    rand.New(rand.NewSource(seed)),
	}
	m.logEntry().WithField("total_capital", cfg.TotalCapital).Info("Арена инициализирована.")
	return m
}

func (m *Manager) logEntry() *logrus.Entry {
	return m.log.WithComponent("arena")
}

func (m *Manager) agentEntry(agentID string) *logrus.Entry {
	return m.log.WithAgentID(agentID).WithField("component", "arena")
}

func (m *Manager) record(ctx context.Context, level models.AuditLevel, kind models.AuditKind, agentID, msg string) {
	if m.audit == nil {
		return
	}
	err := m.audit.Append(context.WithoutCancel(ctx), models.AuditEvent{
		Time:    m.now(),
		Level:   level,
		Kind:    kind,
		AgentID: agentID,
		Message: msg,
	})
	if err != nil {
		m.logEntry().WithError(err).Error("Не удалось записать событие аудита.")
	}
}

// Spawn adds a new agent in simulation. virtualCapital <= 0 uses the
// configured default.
func (m *Manager) Spawn(tag agent.StrategyTag, params agent.Params, virtualCapital float64) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spawnLocked(tag, params, virtualCapital)
}

func (m *Manager) spawnLocked(tag agent.StrategyTag, params agent.Params, virtualCapital float64) (*agent.Agent, error) {
	if virtualCapital <= 0 {
		virtualCapital = m.cfg.DefaultVirtualCapital
	}
	a, err := agent.New(tag, params, virtualCapital)
	if err != nil {
		return nil, err
	}
	m.pools[agent.StatusSimulation] = append(m.pools[agent.StatusSimulation], a)
	m.logEntry().WithFields(logrus.Fields{
		"agent_id":        a.ID(),
		"strategy":        tag,
		"virtual_capital": virtualCapital,
	}).Info("Агент создан.")
	return a, nil
}

// Populate spawns n agents cycling through the known strategies.
func (m *Manager) Populate(n int) ([]*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tags := agent.StrategyTags()
	out := make([]*agent.Agent, 0, n)
	for i := 0; i < n; i++ {
		a, err := m.spawnLocked(tags[i%len(tags)], nil, 0)
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Mutate spawns a child of parent's strategy with every numeric parameter
// scaled by an independent factor in [0.8, 1.2].
func (m *Manager) Mutate(parent *agent.Agent) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked(parent)
}

func (m *Manager) mutateLocked(parent *agent.Agent) (*agent.Agent, error) {
	params := parent.Params().Scale(m.mutationFactor)
	child, err := m.spawnLocked(parent.Strategy(), params, 0)
	if err != nil {
		return nil, err
	}
	m.logEntry().WithFields(logrus.Fields{
		"agent_id":  child.ID(),
		"parent_id": parent.ID(),
	}).Info("Агент мутирован.")
	return child, nil
}

func (m *Manager) mutationFactor() float64 {
	return 0.8 + m.rnd.Float64()*0.4
}

func (m *Manager) randomStrategy() agent.StrategyTag {
	tags := agent.StrategyTags()
	return tags[m.rnd.Intn(len(tags))]
}

// Agent finds an agent in any pool, dead ones included.
func (m *Manager) Agent(id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pool := range m.pools {
		for _, a := range pool {
			if a.ID() == id {
				return a, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
}

// Pool returns a copy of the agents with the given status.
func (m *Manager) Pool(status agent.Status) []*agent.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*agent.Agent(nil), m.pools[status]...)
}

func (m *Manager) live() []*agent.Agent {
	var out []*agent.Agent
	out = append(out, m.pools[agent.StatusSimulation]...)
	out = append(out, m.pools[agent.StatusProving]...)
	out = append(out, m.pools[agent.StatusActive]...)
	return out
}

// move relocates a between pools after its status has changed.
func (m *Manager) move(a *agent.Agent, from agent.Status) {
	pool := m.pools[from]
	for i, candidate := range pool {
		if candidate == a {
			m.pools[from] = append(pool[:i:i], pool[i+1:]...)
			break
		}
	}
	to := a.Status()
	m.pools[to] = append(m.pools[to], a)
}

// Capital split of the total pool.
func (m *Manager) ArenaCapital() float64 {
	return m.cfg.TotalCapital * m.cfg.ArenaFraction
}

func (m *Manager) StableReserve() float64 {
	return m.cfg.TotalCapital * m.cfg.ReserveFraction
}

func (m *Manager) ProvingCapital() float64 {
	return m.cfg.TotalCapital * m.cfg.ProvingFraction
}
