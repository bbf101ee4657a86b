package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// HealingMode selects how far the OODA loop runs without a human.
type HealingMode string

const (
	// ModeAuto runs the full observe-to-validate pipeline unattended.
	ModeAuto HealingMode = "auto"
	// ModeSemiAuto halts at the decide phase until a plan is approved.
	ModeSemiAuto HealingMode = "semi_auto"
	// ModeManual analyzes only; no actions are ever executed.
	ModeManual HealingMode = "manual"
)

// Config captures the settings required to boot the autoheal service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Incident IncidentConfig `yaml:"incident"`
	Healing  HealingConfig  `yaml:"healing"`
	Executor ExecutorConfig `yaml:"executor"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// IncidentConfig controls signal correlation.
type IncidentConfig struct {
	CorrelationWindow time.Duration `yaml:"correlationWindow"`
}

// HealingConfig controls the OODA engine's safety limits.
type HealingConfig struct {
	Enabled               bool          `yaml:"enabled"`
	ApprovalRequired      bool          `yaml:"approvalRequired"`
	Mode                  HealingMode   `yaml:"mode"`
	MaxConcurrentHealings int           `yaml:"maxConcurrentHealings"`
	Cooldown              time.Duration `yaml:"cooldown"`
}

// ExecutorConfig configures access to the cluster-action backend.
type ExecutorConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	ExecutePath string        `yaml:"executePath"`
	Timeout     time.Duration `yaml:"timeout"`
}

// AuditConfig controls audit trail retention.
type AuditConfig struct {
	MaxRecords int           `yaml:"maxRecords"`
	Retention  time.Duration `yaml:"retention"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("AUTOHEAL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Incident: IncidentConfig{
			CorrelationWindow: 15 * time.Minute,
		},
		Healing: HealingConfig{
			Enabled:               true,
			ApprovalRequired:      false,
			Mode:                  ModeAuto,
			MaxConcurrentHealings: 3,
			Cooldown:              10 * time.Minute,
		},
		Executor: ExecutorConfig{
			BaseURL:     "http://k8s-executor:8004",
			ExecutePath: "/api/v1/execute",
			Timeout:     30 * time.Second,
		},
		Audit: AuditConfig{
			MaxRecords: 10000,
			Retention:  30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func validate(cfg *Config) error {
	switch cfg.Healing.Mode {
	case ModeAuto, ModeSemiAuto, ModeManual:
	default:
		return fmt.Errorf("unknown healing mode %q", cfg.Healing.Mode)
	}
	if cfg.Healing.MaxConcurrentHealings < 1 {
		return fmt.Errorf("maxConcurrentHealings must be positive, got %d", cfg.Healing.MaxConcurrentHealings)
	}
	if cfg.Audit.MaxRecords < 1 {
		return fmt.Errorf("audit maxRecords must be positive, got %d", cfg.Audit.MaxRecords)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUTOHEAL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("AUTOHEAL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("AUTOHEAL_CORRELATION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Incident.CorrelationWindow = d
		}
	}
	if v := os.Getenv("AUTOHEAL_HEALING_ENABLED"); v != "" {
		cfg.Healing.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("AUTOHEAL_APPROVAL_REQUIRED"); v != "" {
		cfg.Healing.ApprovalRequired = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("AUTOHEAL_HEALING_MODE"); v != "" {
		cfg.Healing.Mode = HealingMode(strings.ToLower(v))
	}
	if v := os.Getenv("AUTOHEAL_MAX_CONCURRENT_HEALINGS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Healing.MaxConcurrentHealings = n
		}
	}
	if v := os.Getenv("AUTOHEAL_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Healing.Cooldown = d
		}
	}
	if v := os.Getenv("AUTOHEAL_EXECUTOR_URL"); v != "" {
		cfg.Executor.BaseURL = v
	}
	if v := os.Getenv("AUTOHEAL_EXECUTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Executor.Timeout = d
		}
	}
	if v := os.Getenv("AUTOHEAL_AUDIT_MAX_RECORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Audit.MaxRecords = n
		}
	}
	if v := os.Getenv("AUTOHEAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AUTOHEAL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
