package arena

import (
	"treasuryarena/internal/agent"
)

const readyFitness = 2.0

type Stats struct {
	TotalCapital     float64      `json:"total_capital"`
	StableReserve    float64      `json:"stable_reserve"`
	ArenaCapital     float64      `json:"arena_capital"`
	ProvingCapital   float64      `json:"proving_capital"`
	AgentsActive     int          `json:"agents_active"`
	AgentsProving    int          `json:"agents_proving"`
	AgentsSimulating int          `json:"agents_simulating"`
	AgentsDead       int          `json:"agents_dead"`
	ArenaReturn      float64      `json:"arena_return"`
	ArenaSharpe      float64      `json:"arena_sharpe"`
	TopPerformers    []agent.View `json:"top_performers"`
	ReadyForProving  int          `json:"ready_for_proving"`
	Cycle            int          `json:"cycle"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := m.pools[agent.StatusActive]
	ranked := Rank(active)

	var capital, initial, sharpe float64
	for _, a := range active {
		capital += a.RealCapital()
		initial += a.InitialRealCapital()
		sharpe += a.SharpeRatio()
	}
	var arenaReturn, arenaSharpe float64
	if initial > 0 {
		arenaReturn = (capital - initial) / initial
	}
	if len(active) > 0 {
		arenaSharpe = sharpe / float64(len(active))
	}

	top := ranked
	if len(top) > 5 {
		top = top[:5]
	}
	views := make([]agent.View, 0, len(top))
	for _, a := range top {
		views = append(views, a.View())
	}

	ready := 0
	for _, a := range m.pools[agent.StatusSimulation] {
		if a.FitnessScore() > readyFitness {
			ready++
		}
	}

	return Stats{
		TotalCapital:     m.cfg.TotalCapital,
		StableReserve:    m.StableReserve(),
		ArenaCapital:     m.ArenaCapital(),
		ProvingCapital:   m.ProvingCapital(),
		AgentsActive:     len(active),
		AgentsProving:    len(m.pools[agent.StatusProving]),
		AgentsSimulating: len(m.pools[agent.StatusSimulation]),
		AgentsDead:       len(m.pools[agent.StatusDead]),
		ArenaReturn:      arenaReturn,
		ArenaSharpe:      arenaSharpe,
		TopPerformers:    views,
		ReadyForProving:  ready,
		Cycle:            m.cycle,
	}
}

// AllAgents ranks every live agent across the simulation, proving and active
// pools.
func (m *Manager) AllAgents() []agent.View {
	m.mu.Lock()
	ranked := Rank(m.live())
	m.mu.Unlock()

	out := make([]agent.View, 0, len(ranked))
	for _, a := range ranked {
		out = append(out, a.View())
	}
	return out
}
