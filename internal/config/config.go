package config

import (
	"errors"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Arena      ArenaConfig
	Trading    TradingConfig
	Simulation SimulationConfig
	Ledger     LedgerConfig
	Server     ServerConfig
	Scheduler  SchedulerConfig
	Log        LogConfig
}

type ArenaConfig struct {
	TotalCapital          float64
	ReserveFraction       float64
	ArenaFraction         float64
	ProvingFraction       float64
	DefaultVirtualCapital float64
	InitialAgents         int
	SpawnEveryCycles      int
	SpawnCount            int
	MutateTop             int
	CrashPenalty          float64
	Seed                  int64
}

type TradingConfig struct {
	Enabled             bool
	MinBalance          float64
	MaxSlippage         float64
	DefaultMaxPosition  float64
	DefaultMaxTradeSize float64
	MaxDailyTrades      int
	MaxAttempts         int
	BackoffBase         time.Duration
	BackoffMax          time.Duration
	RecentTrades        int
}

type SimulationConfig struct {
	Venue       string
	Venues      []string
	VenueAPYs   map[string]float64
	FailureRate float64
	ErrorRate   float64
	Slippage    float64
	APYs        map[string]float64
	Rates       map[string]float64
	Fees        map[string]float64
	Seed        int64
}

type LedgerConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Timezone        string
}

type ServerConfig struct {
	Enabled  bool
	HTTPAddr string
}

type SchedulerConfig struct {
	Enabled    bool
	Evolution  string
	TradingDay string
	Asset      string
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Load reads configs/config.yaml (or the file named by ARENA_CONFIG) and
// applies ARENA_* environment overrides. A missing file is not an error,
// defaults cover every key.
func Load() (*Config, error) {
	v := viper.New()
	if path := os.Getenv("ARENA_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("configs")
		v.SetConfigName("config")
	}
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return FromViper(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("arena.total_capital", 373261.0)
	v.SetDefault("arena.reserve_fraction", 0.437)
	v.SetDefault("arena.arena_fraction", 0.536)
	v.SetDefault("arena.proving_fraction", 0.027)
	v.SetDefault("arena.default_virtual_capital", 10000.0)
	v.SetDefault("arena.initial_agents", 10)
	v.SetDefault("arena.spawn_every_cycles", 7)
	v.SetDefault("arena.spawn_count", 5)
	v.SetDefault("arena.mutate_top", 3)
	v.SetDefault("arena.crash_penalty", 0.01)
	v.SetDefault("arena.seed", 0)

	v.SetDefault("trading.enabled", true)
	v.SetDefault("trading.min_balance", 1000.0)
	v.SetDefault("trading.max_slippage", 0.01)
	v.SetDefault("trading.default_max_position", 100000.0)
	v.SetDefault("trading.default_max_trade_size", 50000.0)
	v.SetDefault("trading.max_daily_trades", 100)
	v.SetDefault("trading.max_attempts", 3)
	v.SetDefault("trading.backoff_base", "1s")
	v.SetDefault("trading.backoff_max", "10s")
	v.SetDefault("trading.recent_trades", 10)

	v.SetDefault("simulation.venue", "simulation")
	v.SetDefault("simulation.venues", []string{"simulation", "aave", "pendle", "curve"})
	v.SetDefault("simulation.failure_rate", 0.05)
	v.SetDefault("simulation.error_rate", 0.0)
	v.SetDefault("simulation.slippage", 0.002)
	v.SetDefault("simulation.seed", 0)

	v.SetDefault("ledger.driver", "memory")
	v.SetDefault("ledger.max_open_conns", 10)
	v.SetDefault("ledger.max_idle_conns", 2)
	v.SetDefault("ledger.conn_max_lifetime", "30m")
	v.SetDefault("ledger.timezone", "UTC")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.http_addr", ":8080")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.evolution", "0 0 0 * * *")
	v.SetDefault("scheduler.trading_day", "0 0 12 * * *")
	v.SetDefault("scheduler.asset", "USDC")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
}

func FromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Arena = ArenaConfig{
		TotalCapital:          v.GetFloat64("arena.total_capital"),
		ReserveFraction:       v.GetFloat64("arena.reserve_fraction"),
		ArenaFraction:         v.GetFloat64("arena.arena_fraction"),
		ProvingFraction:       v.GetFloat64("arena.proving_fraction"),
		DefaultVirtualCapital: v.GetFloat64("arena.default_virtual_capital"),
		InitialAgents:         v.GetInt("arena.initial_agents"),
		SpawnEveryCycles:      v.GetInt("arena.spawn_every_cycles"),
		SpawnCount:            v.GetInt("arena.spawn_count"),
		MutateTop:             v.GetInt("arena.mutate_top"),
		CrashPenalty:          v.GetFloat64("arena.crash_penalty"),
		Seed:                  v.GetInt64("arena.seed"),
	}

	cfg.Trading = TradingConfig{
		Enabled:             v.GetBool("trading.enabled"),
		MinBalance:          v.GetFloat64("trading.min_balance"),
		MaxSlippage:         v.GetFloat64("trading.max_slippage"),
		DefaultMaxPosition:  v.GetFloat64("trading.default_max_position"),
		DefaultMaxTradeSize: v.GetFloat64("trading.default_max_trade_size"),
		MaxDailyTrades:      v.GetInt("trading.max_daily_trades"),
		MaxAttempts:         v.GetInt("trading.max_attempts"),
		BackoffBase:         v.GetDuration("trading.backoff_base"),
		BackoffMax:          v.GetDuration("trading.backoff_max"),
		RecentTrades:        v.GetInt("trading.recent_trades"),
	}

	cfg.Simulation = SimulationConfig{
		Venue:       v.GetString("simulation.venue"),
		Venues:      v.GetStringSlice("simulation.venues"),
		VenueAPYs:   venueMap(v, "simulation.venue_apys"),
		FailureRate: v.GetFloat64("simulation.failure_rate"),
		ErrorRate:   v.GetFloat64("simulation.error_rate"),
		Slippage:    v.GetFloat64("simulation.slippage"),
		APYs:        floatMap(v, "simulation.apys"),
		Rates:       floatMap(v, "simulation.rates"),
		Fees:        floatMap(v, "simulation.fees"),
		Seed:        v.GetInt64("simulation.seed"),
	}

	cfg.Ledger = LedgerConfig{
		Driver:          v.GetString("ledger.driver"),
		DSN:             envSub(v, "ledger.dsn"),
		MaxOpenConns:    v.GetInt("ledger.max_open_conns"),
		MaxIdleConns:    v.GetInt("ledger.max_idle_conns"),
		ConnMaxLifetime: v.GetDuration("ledger.conn_max_lifetime"),
		Timezone:        v.GetString("ledger.timezone"),
	}

	cfg.Server = ServerConfig{
		Enabled:  v.GetBool("server.enabled"),
		HTTPAddr: v.GetString("server.http_addr"),
	}

	cfg.Scheduler = SchedulerConfig{
		Enabled:    v.GetBool("scheduler.enabled"),
		Evolution:  v.GetString("scheduler.evolution"),
		TradingDay: v.GetString("scheduler.trading_day"),
		Asset:      v.GetString("scheduler.asset"),
	}

	cfg.Log = LogConfig{
		Level:      v.GetString("log.level"),
		Format:     v.GetString("log.format"),
		File:       v.GetString("log.file"),
		MaxSize:    v.GetInt("log.max_size"),
		MaxBackups: v.GetInt("log.max_backups"),
		MaxAge:     v.GetInt("log.max_age"),
		Compress:   v.GetBool("log.compress"),
	}

	return cfg
}

func floatMap(v *viper.Viper, key string) map[string]float64 {
	raw := v.GetStringMap(key)
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k := range raw {
		out[strings.ToUpper(k)] = v.GetFloat64(key + "." + k)
	}
	return out
}

// venueMap keeps keys lowercase; venue names are matched as written.
func venueMap(v *viper.Viper, key string) map[string]float64 {
	raw := v.GetStringMap(key)
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k := range raw {
		out[strings.ToLower(k)] = v.GetFloat64(key + "." + k)
	}
	return out
}

var envPattern = regexp.MustCompile(`\$\{(\w+)\}`)

func envSub(v *viper.Viper, key string) string {
	val := v.GetString(key)
	if val == "" {
		return ""
	}

	return envPattern.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}
