package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	Port        string `mapstructure:"port"`

	// Overload scan cadence for the worker binary (seconds)
	ScanIntervalSeconds int `mapstructure:"scan_interval_seconds"`

	// Optional webhook endpoint for overload alert delivery
	AlertWebhookURL string `mapstructure:"alert_webhook_url"`

	Engine EngineConfig `mapstructure:"engine"`
}

// EngineConfig carries the scoring weights and balancing thresholds.
// Defaults are set in LoadConfig; services receive this value explicitly
// so tests never depend on package state.
type EngineConfig struct {
	// Scoring rule weights, in priority order
	OwnershipWeight float64 `mapstructure:"ownership_weight"`
	TeamMatchWeight float64 `mapstructure:"team_match_weight"`
	SkillWeight     float64 `mapstructure:"skill_weight"`
	UrgencyWeight   float64 `mapstructure:"urgency_weight"`

	// Workload factor: max(0, baseline - currentLoad)
	WorkloadBaseline float64 `mapstructure:"workload_baseline"`
	// Performance factor: trailing-window completed/assigned ratio x scale
	PerformanceScale   float64 `mapstructure:"performance_scale"`
	PerformanceWindow  int     `mapstructure:"performance_window_days"`
	DefaultPerformance float64 `mapstructure:"default_performance"`
	// Availability bonus when currentLoad < AvailabilityMaxLoad
	AvailabilityBonus   float64 `mapstructure:"availability_bonus"`
	AvailabilityMaxLoad int     `mapstructure:"availability_max_load"`

	// Urgency override applies when the item is within this many days of
	// its SLA deadline and the worker's seniority meets the threshold
	SLACriticalDays    int `mapstructure:"sla_critical_days"`
	SeniorityThreshold int `mapstructure:"seniority_threshold"`

	// Batch balancing penalty per unit of running load
	BalancePenalty float64 `mapstructure:"balance_penalty"`

	// Utilization thresholds
	WarningThreshold     float64 `mapstructure:"warning_threshold"`
	CriticalThreshold    float64 `mapstructure:"critical_threshold"`
	OverloadedThreshold  float64 `mapstructure:"overloaded_threshold"`
	UnderloadedThreshold float64 `mapstructure:"underloaded_threshold"`
	RebalanceTarget      float64 `mapstructure:"rebalance_target"`
}

// App holds the global config instance
var App Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// Auto-load .env file if present so `go run` works without manually
	// exporting env vars; missing file is fine in Docker/production
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("scan_interval_seconds", 60)

	// Engine defaults
	v.SetDefault("engine.ownership_weight", 10.0)
	v.SetDefault("engine.team_match_weight", 4.0)
	v.SetDefault("engine.skill_weight", 2.0)
	v.SetDefault("engine.urgency_weight", 3.0)
	v.SetDefault("engine.workload_baseline", 10.0)
	v.SetDefault("engine.performance_scale", 2.0)
	v.SetDefault("engine.performance_window_days", 30)
	v.SetDefault("engine.default_performance", 0.8)
	v.SetDefault("engine.availability_bonus", 1.0)
	v.SetDefault("engine.availability_max_load", 15)
	v.SetDefault("engine.sla_critical_days", 3)
	v.SetDefault("engine.seniority_threshold", 3)
	v.SetDefault("engine.balance_penalty", 0.5)
	v.SetDefault("engine.warning_threshold", 0.85)
	v.SetDefault("engine.critical_threshold", 0.95)
	v.SetDefault("engine.overloaded_threshold", 0.9)
	v.SetDefault("engine.underloaded_threshold", 0.7)
	v.SetDefault("engine.rebalance_target", 0.8)

	// Config file settings
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("dev.config")
		v.SetConfigType("yaml")
	}

	// Environment variable settings
	v.SetEnvPrefix("claimflow")
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("alert_webhook_url", "ALERT_WEBHOOK_URL")
	_ = v.BindEnv("scan_interval_seconds", "SCAN_INTERVAL_SECONDS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		log.Printf("Loaded config from: %s", v.ConfigFileUsed())
	}

	if err := v.Unmarshal(&App); err != nil {
		return err
	}

	// Backfill env vars for code paths that still read os.Getenv
	setEnvIfEmpty("DATABASE_URL", App.DatabaseURL)
	setEnvIfEmpty("REDIS_URL", App.RedisURL)
	setEnvIfEmpty("PORT", App.Port)

	return nil
}

func setEnvIfEmpty(key, value string) {
	if value != "" && os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}
