// Package config loads every tunable the core reads at startup: broker
// credentials, datastore project, scheduler cadence, and every threshold
// the consensus/risk/watchdog/maestro components default internally.
// Modeled on the pack's viper-over-env-vars loader, adapted from a
// YAML-file config to a flat environment-variable surface plus an
// optional .env file for local development.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/trading-core/pkg/money"
	"github.com/atlas-desktop/trading-core/pkg/types"
)

// Config is the fully-resolved runtime configuration.
type Config struct {
	Broker    BrokerConfig
	Datastore DatastoreConfig
	LLM       LLMConfig
	Scheduler types.SchedulerConfig
	Risk      types.RiskLimits
	Sharpe    types.SharpeTiers
	Consensus types.ConsensusConfig
	Systemic  types.SystemicRiskConfig
	Whale     types.WhaleScoringConfig
	Watchdog  types.WatchdogConfig
	LogLevel  string
}

// BrokerConfig holds the paper-trading broker's REST credentials.
type BrokerConfig struct {
	PaperBaseURL string
	KeyID        string
	SecretKey    string
}

// DatastoreConfig holds the Firestore project to connect to.
type DatastoreConfig struct {
	ProjectID string
}

// LLMConfig holds the optional LLM provider's credentials. Empty APIKey
// means the core runs with deterministic fallbacks only.
type LLMConfig struct {
	APIKey string
	Model  string
}

// Load reads environment variables (optionally seeded from a .env file at
// envPath) and binds every SPEC variable, applying the same defaults the
// individual component packages use when constructed standalone.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("SCHEDULER_TICK_SECONDS", 60)
	v.SetDefault("RATE_LIMIT_WRITES_PER_SEC", 500.0)
	v.SetDefault("SCHEDULER_PER_UNIT_DEADLINE_MS", 10_000)
	v.SetDefault("SCHEDULER_PER_TICK_DEADLINE_MS", 45_000)
	v.SetDefault("MAX_DAILY_LOSS_PCT", "0.02")
	v.SetDefault("VOLATILITY_THRESHOLD", "30")
	v.SetDefault("VOLATILITY_DAMPEN", "0.5")
	v.SetDefault("MAX_CONCENTRATION_PCT", "0.20")
	v.SetDefault("SHARPE_REDUCE", 1.0)
	v.SetDefault("SHARPE_SHADOW", 0.5)
	v.SetDefault("SHARPE_MIN_SAMPLE_DAYS", 5)
	v.SetDefault("CONSENSUS_THRESHOLD", "0.7")
	v.SetDefault("SYSTEMIC_SELL_THRESHOLD", 3)
	v.SetDefault("WHALE_SENTIMENT_TIE_BREAK", 1)
	v.SetDefault("WATCHDOG_LOSING_STREAK_THRESHOLD", 5)
	v.SetDefault("WATCHDOG_LOSING_STREAK_MIN_LOSS", "100")
	v.SetDefault("WATCHDOG_RAPID_DRAWDOWN_PCT", "0.05")
	v.SetDefault("WATCHDOG_RAPID_DRAWDOWN_WINDOW_MIN", 10)
	v.SetDefault("WATCHDOG_MARKET_MISMATCH_BUY_COUNT", 3)
	v.SetDefault("LOG_LEVEL", "info")

	maxDailyLoss, err := money.Parse(v.GetString("MAX_DAILY_LOSS_PCT"))
	if err != nil {
		return nil, fmt.Errorf("MAX_DAILY_LOSS_PCT: %w", err)
	}
	volThreshold, err := money.Parse(v.GetString("VOLATILITY_THRESHOLD"))
	if err != nil {
		return nil, fmt.Errorf("VOLATILITY_THRESHOLD: %w", err)
	}
	volDampen, err := money.Parse(v.GetString("VOLATILITY_DAMPEN"))
	if err != nil {
		return nil, fmt.Errorf("VOLATILITY_DAMPEN: %w", err)
	}
	maxConc, err := money.Parse(v.GetString("MAX_CONCENTRATION_PCT"))
	if err != nil {
		return nil, fmt.Errorf("MAX_CONCENTRATION_PCT: %w", err)
	}
	consensusThreshold, err := money.Parse(v.GetString("CONSENSUS_THRESHOLD"))
	if err != nil {
		return nil, fmt.Errorf("CONSENSUS_THRESHOLD: %w", err)
	}
	minCumLoss, err := money.Parse(v.GetString("WATCHDOG_LOSING_STREAK_MIN_LOSS"))
	if err != nil {
		return nil, fmt.Errorf("WATCHDOG_LOSING_STREAK_MIN_LOSS: %w", err)
	}
	drawdownPct, err := money.Parse(v.GetString("WATCHDOG_RAPID_DRAWDOWN_PCT"))
	if err != nil {
		return nil, fmt.Errorf("WATCHDOG_RAPID_DRAWDOWN_PCT: %w", err)
	}

	cfg := &Config{
		Broker: BrokerConfig{
			PaperBaseURL: v.GetString("BROKER_PAPER_BASE_URL"),
			KeyID:        v.GetString("BROKER_KEY_ID"),
			SecretKey:    v.GetString("BROKER_SECRET_KEY"),
		},
		Datastore: DatastoreConfig{ProjectID: v.GetString("DATASTORE_PROJECT_ID")},
		LLM: LLMConfig{
			APIKey: v.GetString("LLM_API_KEY"),
			Model:  v.GetString("LLM_MODEL"),
		},
		Scheduler: types.SchedulerConfig{
			TickSeconds:       v.GetInt("SCHEDULER_TICK_SECONDS"),
			WritesPerSecond:   v.GetFloat64("RATE_LIMIT_WRITES_PER_SEC"),
			PerUnitDeadlineMS: v.GetInt("SCHEDULER_PER_UNIT_DEADLINE_MS"),
			PerTickDeadlineMS: v.GetInt("SCHEDULER_PER_TICK_DEADLINE_MS"),
		},
		Risk: types.RiskLimits{
			MaxDailyLossPct:     maxDailyLoss,
			VolatilityThreshold: volThreshold,
			VolatilityDampen:    volDampen,
			MaxConcentrationPct: maxConc,
		},
		Sharpe: types.SharpeTiers{
			ReduceBelow:     v.GetFloat64("SHARPE_REDUCE"),
			ShadowModeBelow: v.GetFloat64("SHARPE_SHADOW"),
			MinSampleDays:   v.GetInt("SHARPE_MIN_SAMPLE_DAYS"),
		},
		Consensus: types.ConsensusConfig{ExecuteThreshold: consensusThreshold},
		Systemic:  types.SystemicRiskConfig{SellVoteThreshold: v.GetInt("SYSTEMIC_SELL_THRESHOLD")},
		Whale:     types.WhaleScoringConfig{SentimentTieBreak: v.GetInt("WHALE_SENTIMENT_TIE_BREAK")},
		Watchdog: types.WatchdogConfig{
			LosingStreakThreshold:  v.GetInt("WATCHDOG_LOSING_STREAK_THRESHOLD"),
			LosingStreakMinCumLoss: minCumLoss,
			RapidDrawdownPct:       drawdownPct,
			RapidDrawdownWindow:    v.GetInt("WATCHDOG_RAPID_DRAWDOWN_WINDOW_MIN"),
			MarketMismatchBuyCount: v.GetInt("WATCHDOG_MARKET_MISMATCH_BUY_COUNT"),
			LookbackWindowMinutes:  10,
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}

	return cfg, cfg.Validate()
}

// Validate checks that the fields with no safe default are present.
func (c *Config) Validate() error {
	if c.Broker.PaperBaseURL == "" {
		return fmt.Errorf("BROKER_PAPER_BASE_URL is required")
	}
	if c.Broker.KeyID == "" || c.Broker.SecretKey == "" {
		return fmt.Errorf("BROKER_KEY_ID and BROKER_SECRET_KEY are required")
	}
	if c.Datastore.ProjectID == "" {
		return fmt.Errorf("DATASTORE_PROJECT_ID is required")
	}
	if c.Scheduler.TickSeconds <= 0 {
		return fmt.Errorf("SCHEDULER_TICK_SECONDS must be > 0")
	}
	return nil
}

// TickInterval converts the configured cadence to a time.Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}
