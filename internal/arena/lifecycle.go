package arena

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"treasuryarena/internal/agent"
	"treasuryarena/internal/models"
)

const (
	provingGrant = 1000.0

	graduationFitness = 2.0
	graduationSharpe  = 1.5
	graduationAge     = 30

	provingWinRate     = 0.60
	provingMaxDrawdown = -0.20
	arenaMaxDrawdown   = -0.25

	arenaGrantUnit = 1000.0
	arenaGrantMin  = 5.0
	arenaGrantMax  = 20.0
)

// Promotion records one lifecycle step taken by CheckGraduations.
type Promotion struct {
	AgentID string       `json:"agent_id"`
	From    agent.Status `json:"from"`
	To      agent.Status `json:"to"`
	Grant   float64      `json:"grant"`
}

func readyForProving(a *agent.Agent) bool {
	m := a.Metrics()
	return a.CalculateFitness() > graduationFitness &&
		m.Sharpe > graduationSharpe &&
		m.WinRate > provingWinRate &&
		m.MaxDrawdown > provingMaxDrawdown &&
		a.Age() >= graduationAge
}

func readyForArena(a *agent.Agent) bool {
	m := a.Metrics()
	return a.RealCapital() > a.InitialRealCapital() &&
		a.CalculateFitness() > graduationFitness &&
		m.Sharpe > graduationSharpe &&
		a.Age() >= graduationAge &&
		m.MaxDrawdown > arenaMaxDrawdown
}

// ArenaGrant scales the active-tier stake with proving performance:
// clamp(total_return*100, 5, 20) thousand.
func ArenaGrant(totalReturn float64) float64 {
	return math.Min(arenaGrantMax, math.Max(arenaGrantMin, totalReturn*100)) * arenaGrantUnit
}

// CheckGraduations promotes simulation agents to proving and proving agents
// to active. A promotion the capital guard refuses is skipped.
func (m *Manager) CheckGraduations(ctx context.Context) []Promotion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graduateLocked(ctx)
}

func (m *Manager) graduateLocked(ctx context.Context) []Promotion {
	var out []Promotion

	for _, a := range append([]*agent.Agent(nil), m.pools[agent.StatusSimulation]...) {
		if !readyForProving(a) {
			continue
		}
		if p, ok := m.promote(ctx, a, agent.StatusSimulation, agent.StatusProving, provingGrant); ok {
			out = append(out, p)
		}
	}

	for _, a := range append([]*agent.Agent(nil), m.pools[agent.StatusProving]...) {
		if !readyForArena(a) {
			continue
		}
		grant := ArenaGrant(a.TotalReturn())
		if p, ok := m.promote(ctx, a, agent.StatusProving, agent.StatusActive, grant); ok {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) promote(ctx context.Context, a *agent.Agent, from, to agent.Status, grant float64) (Promotion, bool) {
	entry := m.logEntry().WithFields(logrus.Fields{
		"agent_id": a.ID(),
		"from":     from,
		"to":       to,
		"grant":    grant,
	})
	if err := a.Promote(to, grant); err != nil {
		entry.WithError(err).Warn("Повышение агента отклонено.")
		m.record(ctx, models.AuditLevelWarning, models.AuditKindLifecycle, a.ID(),
			fmt.Sprintf("promotion %s -> %s refused: %v", from, to, err))
		return Promotion{}, false
	}
	m.move(a, from)
	entry.Info("Агент повышен.")
	m.record(ctx, models.AuditLevelInfo, models.AuditKindLifecycle, a.ID(),
		fmt.Sprintf("promoted %s -> %s with %.2f real capital", from, to, grant))
	return Promotion{AgentID: a.ID(), From: from, To: to, Grant: grant}, true
}

// KillReason returns why a should die, or "" if it survives.
func KillReason(a *agent.Agent) string {
	m := a.Metrics()
	fitness := a.CalculateFitness()
	age := a.Age()
	switch {
	case fitness < 0 && a.DaysNegative() >= 30:
		return fmt.Sprintf("negative fitness for %d days", a.DaysNegative())
	case m.MaxDrawdown < -0.50:
		return fmt.Sprintf("drawdown %.2f beyond -0.50", m.MaxDrawdown)
	case m.TotalReturn < 0 && age >= 90:
		return fmt.Sprintf("negative return after %d days", age)
	case m.Sharpe < 0.5 && age >= 60:
		return fmt.Sprintf("sharpe %.2f below 0.5 after %d days", m.Sharpe, age)
	case age > 365:
		return "retired"
	}
	return ""
}

type Death struct {
	AgentID     string       `json:"agent_id"`
	Status      agent.Status `json:"status"`
	Reason      string       `json:"reason"`
	Replacement string       `json:"replacement,omitempty"`
}

// KillUnderperformers retires agents in every live pool. Simulation agents
// are replaced by a fresh spawn of the same strategy.
func (m *Manager) KillUnderperformers(ctx context.Context) []Death {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killLocked(ctx)
}

func (m *Manager) killLocked(ctx context.Context) []Death {
	var out []Death
	for _, status := range []agent.Status{agent.StatusSimulation, agent.StatusProving, agent.StatusActive} {
		for _, a := range append([]*agent.Agent(nil), m.pools[status]...) {
			reason := KillReason(a)
			if reason == "" {
				continue
			}
			if err := a.Kill(); err != nil {
				m.agentEntry(a.ID()).WithError(err).Error("Не удалось завершить агента.")
				continue
			}
			m.move(a, status)
			d := Death{AgentID: a.ID(), Status: status, Reason: reason}

			if status == agent.StatusSimulation {
				replacement, err := m.spawnLocked(a.Strategy(), nil, 0)
				if err != nil {
					m.logEntry().WithError(err).Error("Не удалось создать замену агенту.")
				} else {
					d.Replacement = replacement.ID()
				}
			}

			m.logEntry().WithFields(logrus.Fields{
				"agent_id": a.ID(),
				"status":   status,
				"reason":   reason,
				"fitness":  a.FitnessScore(),
			}).Info("Агент завершён.")
			m.record(ctx, models.AuditLevelInfo, models.AuditKindLifecycle, a.ID(),
				fmt.Sprintf("killed from %s: %s", status, reason))
			out = append(out, d)
		}
	}
	return out
}
