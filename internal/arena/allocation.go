package arena

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"treasuryarena/internal/agent"
	"treasuryarena/internal/models"
)

var (
	eliteShare      = decimal.RequireFromString("0.60")
	activeShare     = decimal.RequireFromString("0.30")
	challengerShare = decimal.RequireFromString("0.10")
)

// allocationPrecision keeps per-agent amounts at cent-of-a-cent resolution.
// Amounts are rounded down so the sum never exceeds the budget.
const allocationPrecision = 4

// Rank recomputes fitness and sorts descending, assigning ranks from 1.
// Ties keep their input order.
func Rank(agents []*agent.Agent) []*agent.Agent {
	scores := make(map[*agent.Agent]float64, len(agents))
	for _, a := range agents {
		scores[a] = a.CalculateFitness()
	}
	ranked := append([]*agent.Agent(nil), agents...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})
	for i, a := range ranked {
		a.SetRank(i + 1)
	}
	return ranked
}

// TierSizes splits n ranked agents: top 20% elite and the next 30% active,
// each at least one while agents remain; the rest are challengers.
func TierSizes(n int) (elite, active, challengers int) {
	if n <= 0 {
		return 0, 0, 0
	}
	elite = max(1, n/5)
	active = min(max(1, n*3/10), n-elite)
	challengers = n - elite - active
	return elite, active, challengers
}

type Allocation struct {
	AgentID string          `json:"agent_id"`
	Tier    agent.Tier      `json:"tier"`
	Amount  decimal.Decimal `json:"amount"`
}

type plannedAllocation struct {
	Allocation
	agent *agent.Agent
}

// planAllocation divides budget across ranked agents by tier.
func planAllocation(ranked []*agent.Agent, budget decimal.Decimal) []plannedAllocation {
	eliteN, activeN, challengerN := TierSizes(len(ranked))
	tiers := []struct {
		tier  agent.Tier
		share decimal.Decimal
		count int
	}{
		{agent.TierElite, eliteShare, eliteN},
		{agent.TierActive, activeShare, activeN},
		{agent.TierChallenger, challengerShare, challengerN},
	}

	plan := make([]plannedAllocation, 0, len(ranked))
	idx := 0
	for _, t := range tiers {
		if t.count == 0 {
			continue
		}
		each := budget.Mul(t.share).Div(decimal.NewFromInt(int64(t.count))).RoundFloor(allocationPrecision)
		for i := 0; i < t.count; i++ {
			a := ranked[idx]
			idx++
			plan = append(plan, plannedAllocation{
				Allocation: Allocation{AgentID: a.ID(), Tier: t.tier, Amount: each},
				agent:      a,
			})
		}
	}
	return plan
}

// refusal is one planned assignment the capital guard turned down.
type refusal struct {
	AgentID string
	Tier    agent.Tier
	Err     error
}

// commitAllocation checks the plan total against the budget before touching
// any agent; an overflow aborts the whole plan. Past that, each assignment
// stands alone: an agent the capital guard refuses keeps its current capital
// and tier while the rest of the plan lands.
func commitAllocation(plan []plannedAllocation, budget decimal.Decimal) ([]plannedAllocation, []refusal, error) {
	total := decimal.Zero
	for _, p := range plan {
		total = total.Add(p.Amount)
	}
	if total.GreaterThan(budget) {
		return nil, nil, fmt.Errorf("%w: %s > %s", ErrAllocationOverflow, total.StringFixed(2), budget.StringFixed(2))
	}

	committed := make([]plannedAllocation, 0, len(plan))
	var refused []refusal
	for _, p := range plan {
		if err := p.agent.SetRealCapital(p.Amount.InexactFloat64(), p.Tier); err != nil {
			refused = append(refused, refusal{
				AgentID: p.AgentID,
				Tier:    p.Tier,
				Err:     fmt.Errorf("%w: %s for %s tier: %v", ErrAllocationRejected, p.Amount.StringFixed(2), p.Tier, err),
			})
			continue
		}
		committed = append(committed, p)
	}
	return committed, refused, nil
}

// AllocateCapital distributes the arena capital across active agents:
// 60% to elite, 30% to active, 10% to challengers, split evenly per tier.
func (m *Manager) AllocateCapital(ctx context.Context) ([]Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocateLocked(ctx)
}

func (m *Manager) allocateLocked(ctx context.Context) ([]Allocation, error) {
	ranked := Rank(m.pools[agent.StatusActive])
	if len(ranked) == 0 {
		m.logEntry().Warn("Нет активных агентов для распределения капитала.")
		return nil, nil
	}

	budget := decimal.NewFromFloat(m.ArenaCapital())
	plan := planAllocation(ranked, budget)
	committed, refused, err := commitAllocation(plan, budget)
	if err != nil {
		m.logEntry().WithError(err).Error("Распределение капитала отменено.")
		m.record(ctx, models.AuditLevelError, models.AuditKindAllocation, "", "allocation aborted: "+err.Error())
		return nil, err
	}
	for _, r := range refused {
		m.agentEntry(r.AgentID).WithError(r.Err).Warn("Агент оставлен на прежнем капитале.")
		m.record(ctx, models.AuditLevelWarning, models.AuditKindAllocation, r.AgentID, "allocation refused: "+r.Err.Error())
	}

	out := make([]Allocation, 0, len(committed))
	counts := map[agent.Tier]int{}
	for _, p := range committed {
		out = append(out, p.Allocation)
		counts[p.Tier]++
	}
	m.logEntry().WithFields(logrus.Fields{
		"elite":       counts[agent.TierElite],
		"active":      counts[agent.TierActive],
		"challengers": counts[agent.TierChallenger],
		"refused":     len(refused),
		"budget":      budget.StringFixed(2),
	}).Info("Капитал распределён.")
	m.record(ctx, models.AuditLevelInfo, models.AuditKindAllocation, "",
		fmt.Sprintf("allocated %s across %d agents", budget.StringFixed(2), len(out)))
	return out, nil
}
