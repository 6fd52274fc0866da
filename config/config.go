// Package config reads process configuration from the environment.
//
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
package config

import (
	"errors"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/warp/teller-settlement/settlement"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Pay        PayConfig
	Settlement SettlementDefaults
}

type ServerConfig struct {
	HTTPAddr             string   `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath               string   `env:"DB_PATH" envDefault:"./data/settlement.db"`
	RedisURL             string   `env:"REDIS_URL"`
	NotifyChannel        string   `env:"NOTIFY_CHANNEL" envDefault:"settlement.events"`
	AllowMultipleReports bool     `env:"ALLOW_MULTIPLE_REPORTS" envDefault:"false"`
	SchedulerEnabled     bool     `env:"SCHEDULER_ENABLED" envDefault:"true"`
	AccessLog            bool     `env:"ACCESS_LOG" envDefault:"true"`
	CORSOrigins          []string `env:"CORS_ORIGINS" envSeparator:","`
	DemoScenarios        bool     `env:"DEMO_SCENARIOS" envDefault:"false"`
}

type LogConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Pretty      bool   `env:"LOG_PRETTY" envDefault:"false"`
	SampleEvery int    `env:"LOG_SAMPLE_EVERY" envDefault:"0"`
}

// PayConfig holds the default daily base pay per role, as decimal strings.
type PayConfig struct {
	Agent           string `env:"BASE_PAY_AGENT" envDefault:"450"`
	Supervisor      string `env:"BASE_PAY_SUPERVISOR" envDefault:"600"`
	AgentSupervisor string `env:"BASE_PAY_AGENT_SUPERVISOR" envDefault:"550"`
	Admin           string `env:"BASE_PAY_ADMIN" envDefault:"0"`
}

// SettlementDefaults seed the reset schedule until an admin saves one.
type SettlementDefaults struct {
	Hour     int    `env:"SETTLEMENT_DEFAULT_HOUR" envDefault:"0"`
	Minute   int    `env:"SETTLEMENT_DEFAULT_MINUTE" envDefault:"0"`
	Timezone string `env:"SETTLEMENT_DEFAULT_TZ" envDefault:"Asia/Manila"`
}

func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Pay.Rates(); err != nil {
		return Config{}, err
	}
	if err := cfg.Settlement.Config().Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadLog() (LogConfig, error) {
	var cfg LogConfig
	err := env.Parse(&cfg)
	return cfg, err
}

// Rates parses the per-role base pay.
func (p PayConfig) Rates() (settlement.Rates, error) {
	raw := map[settlement.Role]string{
		settlement.RoleAgent:           p.Agent,
		settlement.RoleSupervisor:      p.Supervisor,
		settlement.RoleAgentSupervisor: p.AgentSupervisor,
		settlement.RoleAdmin:           p.Admin,
	}
	rates := make(settlement.Rates, len(raw))
	for role, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, &settlement.ValidationError{Field: "base pay for " + string(role), Reason: err.Error()}
		}
		if d.IsNegative() {
			return nil, &settlement.ValidationError{Field: "base pay for " + string(role), Reason: "must not be negative"}
		}
		rates[role] = settlement.RoundMoney(d)
	}
	return rates, nil
}

func (s SettlementDefaults) Config() settlement.SettlementConfig {
	return settlement.SettlementConfig{ResetHour: s.Hour, ResetMinute: s.Minute, Timezone: s.Timezone}
}
