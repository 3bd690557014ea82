package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"treasuryarena/internal/arena"
	"treasuryarena/internal/logger"
	"treasuryarena/internal/models"
)

// Runner fires jobs on six-field cron specs (seconds first). A job still
// running when its next tick arrives is skipped.
type Runner struct {
	cron    *cron.Cron
	log     *logger.Logger
	baseCtx context.Context
}

func New(baseCtx context.Context, log *logger.Logger) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log:     log,
		baseCtx: baseCtx,
	}
}

func (r *Runner) logEntry() *logrus.Entry {
	return r.log.WithComponent("scheduler")
}

func (r *Runner) Add(name, spec string, job func(context.Context)) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() {
		r.logEntry().WithField("job", name).Debug("Запуск задачи.")
		job(r.baseCtx)
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	r.logEntry().WithFields(logrus.Fields{"job": name, "spec": spec}).Info("Задача запланирована.")
	return id, nil
}

func (r *Runner) Start() {
	r.logEntry().Info("Планировщик запущен.")
	r.cron.Start()
}

// Stop waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logEntry().Info("Планировщик остановлен.")
}

// Evolver runs one evolution cycle without panicking.
type Evolver interface {
	SafeRunEvolution(ctx context.Context) (arena.CycleReport, error)
}

// EvolutionJob runs a cycle and logs its outcome. Failures are already
// audited by the evolver.
func EvolutionJob(e Evolver, log *logger.Logger) func(context.Context) {
	if log == nil {
		log = logger.Discard()
	}
	return func(ctx context.Context) {
		report, err := e.SafeRunEvolution(ctx)
		entry := log.WithComponent("scheduler").WithField("cycle", report.Cycle)
		if err != nil {
			entry.WithError(err).Error("Плановый цикл эволюции не выполнен.")
			return
		}
		entry.WithFields(logrus.Fields{
			"promotions": len(report.Promotions),
			"deaths":     len(report.Deaths),
		}).Info("Плановый цикл эволюции выполнен.")
	}
}

// DayRunner executes every live agent against a market snapshot and closes
// the day into each agent's performance history.
type DayRunner interface {
	RunDay(ctx context.Context, market models.MarketSnapshot) []arena.DayResult
	RecordDay(ctx context.Context, results []arena.DayResult) int
}

// MarketFeed produces the snapshot for a trading day.
type MarketFeed func(ctx context.Context) (models.MarketSnapshot, error)

func TradingDayJob(d DayRunner, feed MarketFeed, log *logger.Logger) func(context.Context) {
	if log == nil {
		log = logger.Discard()
	}
	return func(ctx context.Context) {
		entry := log.WithComponent("scheduler")
		market, err := feed(ctx)
		if err != nil {
			entry.WithError(err).Error("Не удалось получить рыночные данные.")
			return
		}
		results := d.RunDay(ctx, market)
		failed, submitted := 0, 0
		for _, r := range results {
			if r.Error != "" {
				failed++
			}
			submitted += len(r.Submitted)
		}
		recorded := d.RecordDay(ctx, results)
		entry.WithFields(logrus.Fields{
			"agents":    len(results),
			"failed":    failed,
			"submitted": submitted,
			"recorded":  recorded,
		}).Info("Торговый день выполнен.")
	}
}
