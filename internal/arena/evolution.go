package arena

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"treasuryarena/internal/agent"
	"treasuryarena/internal/models"
)

type CycleReport struct {
	Cycle       int          `json:"cycle"`
	Promotions  []Promotion  `json:"promotions"`
	Allocations []Allocation `json:"allocations"`
	// AllocationError is set when the allocation was aborted; the cycle still
	// runs to completion.
	AllocationError string   `json:"allocation_error,omitempty"`
	Deaths          []Death  `json:"deaths"`
	Spawned         []string `json:"spawned"`
	Mutated         []string `json:"mutated"`
	Active          int      `json:"active"`
	Proving         int      `json:"proving"`
	Simulating      int      `json:"simulating"`
}

// RunEvolutionCycle runs graduations, allocation, kills, the periodic spawn
// and mutation of the top active performers, in that order.
func (m *Manager) RunEvolutionCycle(ctx context.Context) (CycleReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cycle++
	report := CycleReport{Cycle: m.cycle}
	m.logEntry().WithField("cycle", m.cycle).Info("Запуск цикла эволюции.")

	report.Promotions = m.graduateLocked(ctx)

	allocations, err := m.allocateLocked(ctx)
	if err != nil {
		report.AllocationError = err.Error()
	}
	report.Allocations = allocations

	report.Deaths = m.killLocked(ctx)

	if every := m.cfg.SpawnEveryCycles; every > 0 && m.cycle%every == 0 {
		for i := 0; i < m.cfg.SpawnCount; i++ {
			a, err := m.spawnLocked(m.randomStrategy(), nil, 0)
			if err != nil {
				return report, err
			}
			report.Spawned = append(report.Spawned, a.ID())
		}
	}

	top := Rank(m.pools[agent.StatusActive])
	if len(top) > m.cfg.MutateTop {
		top = top[:m.cfg.MutateTop]
	}
	for _, parent := range top {
		child, err := m.mutateLocked(parent)
		if err != nil {
			return report, err
		}
		report.Mutated = append(report.Mutated, child.ID())
	}

	report.Active = len(m.pools[agent.StatusActive])
	report.Proving = len(m.pools[agent.StatusProving])
	report.Simulating = len(m.pools[agent.StatusSimulation])

	m.logEntry().WithFields(logrus.Fields{
		"cycle":      report.Cycle,
		"killed":     len(report.Deaths),
		"active":     report.Active,
		"proving":    report.Proving,
		"simulating": report.Simulating,
	}).Info("Цикл эволюции завершён.")
	m.record(ctx, models.AuditLevelInfo, models.AuditKindEvolutionCycle, "",
		fmt.Sprintf("cycle %d: %d promoted, %d killed, %d spawned, %d mutated",
			report.Cycle, len(report.Promotions), len(report.Deaths), len(report.Spawned), len(report.Mutated)))
	return report, nil
}

// SafeRunEvolution never panics. A failed cycle is logged and returned.
func (m *Manager) SafeRunEvolution(ctx context.Context) (report CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evolution cycle panicked: %v", r)
		}
		if err != nil {
			m.logEntry().WithError(err).Error("Цикл эволюции завершился с ошибкой.")
			m.record(ctx, models.AuditLevelError, models.AuditKindEvolutionCycle, "", "cycle failed: "+err.Error())
		}
	}()
	return m.RunEvolutionCycle(ctx)
}

// DayResult is one agent's outcome for a trading day.
type DayResult struct {
	AgentID   string               `json:"agent_id"`
	Status    agent.Status         `json:"status"`
	Intents   []models.TradeIntent `json:"intents"`
	Submitted []string             `json:"submitted,omitempty"`
	Rejected  []string             `json:"rejected,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// RunDay runs every live agent's strategy against market. A failing strategy
// yields a zero-trade result and a one-off haircut of simulated capital. Intents of agents holding
// real capital go to the trading engine; simulation agents only report them.
func (m *Manager) RunDay(ctx context.Context, market models.MarketSnapshot) []DayResult {
	m.mu.Lock()
	agents := m.live()
	m.mu.Unlock()

	results := make([]DayResult, 0, len(agents))
	for _, a := range agents {
		status := a.Status()
		res := DayResult{AgentID: a.ID(), Status: status}

		intents, err := a.SafeExecute(market)
		if err != nil {
			res.Error = err.Error()
			entry := m.agentEntry(a.ID()).WithError(err)
			if cut, perr := a.Penalize(m.cfg.CrashPenalty); perr != nil {
				entry = entry.WithField("penalty_error", perr.Error())
			} else {
				entry = entry.WithField("penalty", cut)
			}
			entry.Warn("Стратегия агента завершилась с ошибкой.")
			results = append(results, res)
			continue
		}
		res.Intents = intents

		if m.trader != nil && (status == agent.StatusProving || status == agent.StatusActive) {
			for _, intent := range intents {
				receipt, err := m.trader.Submit(ctx, a, intent)
				switch {
				case err == nil:
					res.Submitted = append(res.Submitted, receipt.TradeID)
				case errors.Is(err, context.Canceled):
					return append(results, res)
				default:
					res.Rejected = append(res.Rejected, receipt.Reason)
				}
			}
		}
		results = append(results, res)
	}
	return results
}

// RecordDay closes the trading day for every live agent, counting the trades
// each one got submitted in results. P&L of trades still settling lands in the
// next day. It returns the number of agents recorded.
func (m *Manager) RecordDay(ctx context.Context, results []DayResult) int {
	m.mu.Lock()
	agents := m.live()
	m.mu.Unlock()

	trades := make(map[string]int, len(results))
	for _, r := range results {
		trades[r.AgentID] += len(r.Submitted)
	}

	date := m.now().UTC().Truncate(24 * time.Hour)
	recorded := 0
	for _, a := range agents {
		if err := ctx.Err(); err != nil {
			break
		}
		rec, err := a.CloseDay(date, trades[a.ID()])
		if err != nil {
			m.agentEntry(a.ID()).WithError(err).Warn("Не удалось записать итоги дня.")
			continue
		}
		m.agentEntry(a.ID()).WithFields(logrus.Fields{
			"capital": rec.Capital,
			"pnl":     rec.PnL,
			"trades":  rec.Trades,
			"fitness": rec.Fitness,
		}).Debug("Итоги дня записаны.")
		recorded++
	}
	m.logEntry().WithFields(logrus.Fields{
		"date":     date.Format(time.DateOnly),
		"recorded": recorded,
	}).Info("Торговый день закрыт.")
	return recorded
}
