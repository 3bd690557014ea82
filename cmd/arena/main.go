package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"treasuryarena/internal/api"
	"treasuryarena/internal/arena"
	"treasuryarena/internal/config"
	"treasuryarena/internal/db"
	"treasuryarena/internal/engine"
	"treasuryarena/internal/events"
	"treasuryarena/internal/exchange"
	"treasuryarena/internal/exchange/simulation"
	"treasuryarena/internal/ledger"
	gormledger "treasuryarena/internal/ledger/gorm"
	"treasuryarena/internal/ledger/memory"
	"treasuryarena/internal/logger"
	"treasuryarena/internal/scheduler"
	"treasuryarena/internal/validation"
)

const shutdownTimeout = 30 * time.Second

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	logger.Info("Арена запущена.")

	store, closeStore := openLedger(cfg.Ledger, logger)
	defer closeStore()

	hub := events.NewHub(store.Audit, logger)

	pipeline := validation.NewStandard(validation.ConfigFrom(cfg.Trading), store.Trades, store.Limits)
	eng := engine.New(cfg.Trading, pipeline, store.Trades, hub, logger)

	venues := make([]exchange.Venue, 0, len(cfg.Simulation.Venues))
	for _, name := range cfg.Simulation.Venues {
		v := simulation.New(name, venueConfig(cfg.Simulation, cfg.Scheduler.Asset, name), logger)
		eng.RegisterVenue(v)
		venues = append(venues, v)
	}

	manager := arena.New(cfg.Arena, eng, hub, logger)
	if _, err := manager.Populate(cfg.Arena.InitialAgents); err != nil {
		logger.WithError(err).Fatal("Не удалось создать начальную популяцию.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runner *scheduler.Runner
	if cfg.Scheduler.Enabled {
		runner = scheduler.New(ctx, logger)
		feed := exchange.NewMarketFeed(cfg.Scheduler.Asset, venues...)
		if _, err := runner.Add("trading_day", cfg.Scheduler.TradingDay, scheduler.TradingDayJob(manager, feed.Snapshot, logger)); err != nil {
			logger.WithError(err).Fatal("Не удалось запланировать торговый день.")
		}
		if _, err := runner.Add("evolution", cfg.Scheduler.Evolution, scheduler.EvolutionJob(manager, logger)); err != nil {
			logger.WithError(err).Fatal("Не удалось запланировать цикл эволюции.")
		}
		runner.Start()
	}

	var server *api.Server
	if cfg.Server.Enabled {
		router := api.NewRouter(api.Deps{
			Engine:  eng,
			Arena:   manager,
			Hub:     hub,
			BaseCtx: ctx,
			Log:     logger,
		})
		server = api.NewServer(cfg.Server.HTTPAddr, router, logger)
		server.Start()
	}

	<-sigCh
	logger.Info("Остановка...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("HTTP сервер остановлен некорректно.")
		}
	}
	if runner != nil {
		runner.Stop()
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Не все сделки завершились до остановки.")
	}

	logger.Info("Арена остановлена.")
}

// openLedger picks the storage backend. The returned func releases it.
func openLedger(cfg config.LedgerConfig, log *logger.Logger) (*ledger.Ledger, func()) {
	if cfg.Driver != "postgres" {
		store, _ := memory.New()
		log.WithComponent("ledger").Warn("Журнал сделок хранится в памяти и не переживёт перезапуск.")
		return store, func() {}
	}

	conn, err := db.Open(cfg)
	if err != nil {
		log.WithError(err).Fatal("Не удалось подключиться к базе данных.")
	}
	if err := db.Ping(conn); err != nil {
		log.WithError(err).Fatal("База данных недоступна.")
	}
	if err := db.AutoMigrate(conn); err != nil {
		log.WithError(err).Fatal("Не удалось применить миграции.")
	}
	return gormledger.New(conn.Gorm).Ledger(), func() {
		if err := db.Close(conn); err != nil {
			log.WithError(err).Warn("Не удалось закрыть соединение с базой данных.")
		}
	}
}

// venueConfig gives each simulated venue its own APY for the feed asset.
func venueConfig(base config.SimulationConfig, asset, venue string) config.SimulationConfig {
	apy, ok := base.VenueAPYs[venue]
	if !ok {
		return base
	}
	apys := make(map[string]float64, len(base.APYs)+1)
	for k, v := range base.APYs {
		apys[k] = v
	}
	apys[strings.ToUpper(asset)] = apy
	base.APYs = apys
	return base
}
