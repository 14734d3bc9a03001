package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel             = "gpt-4o-mini"
	DefaultMaxTokens         = 2048
	DefaultAnalysisInterval  = "2m"
	DefaultRetentionDays     = 30
	DefaultBufSize           = 100
	DefaultWindowSize        = 100
	DefaultToxicityAction    = "timeoutTwitchUser"
	DefaultMaintenanceExpr   = "0 0 0 * * *" // local midnight, with seconds field
	DefaultActionPauseMs     = 1000
	DefaultFeedbackWindowSec = 60
)

type Config struct {
	Autonomous AutonomousConfig `json:"autonomous"`
	Provider   ProviderConfig   `json:"provider"`
	Storage    StorageConfig    `json:"storage"`
}

type AutonomousConfig struct {
	Enabled           bool           `json:"enabled"`
	AnalysisInterval  string         `json:"analysisInterval"`
	SpamDetection     bool           `json:"spamDetection"`
	ToxicityDetection bool           `json:"toxicityDetection"`
	Engagement        bool           `json:"engagement"`
	PollAutomation    bool           `json:"pollAutomation"`
	ToxicityAction    string         `json:"toxicityAction"`
	CooldownOverrides map[string]int `json:"cooldownOverrides,omitempty"` // tool -> seconds
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "openai" (default) or any compatible endpoint
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
	Model   string `json:"model,omitempty"`

	MaxTokens int `json:"maxTokens,omitempty"`
}

type StorageConfig struct {
	DataDir       string `json:"dataDir"`
	RetentionDays int    `json:"retentionDays"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Autonomous: AutonomousConfig{
			Enabled:           true,
			AnalysisInterval:  DefaultAnalysisInterval,
			SpamDetection:     true,
			ToxicityDetection: true,
			Engagement:        true,
			PollAutomation:    false,
			ToxicityAction:    DefaultToxicityAction,
		},
		Provider: ProviderConfig{
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Storage: StorageConfig{
			DataDir:       filepath.Join(home, ".streamwarden", "data"),
			RetentionDays: DefaultRetentionDays,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".streamwarden")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("STREAMWARDEN_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("STREAMWARDEN_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("STREAMWARDEN_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if dir := os.Getenv("STREAMWARDEN_DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if enabled := os.Getenv("STREAMWARDEN_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Autonomous.Enabled = parsed
		}
	}
	if interval := os.Getenv("STREAMWARDEN_ANALYSIS_INTERVAL"); interval != "" {
		cfg.Autonomous.AnalysisInterval = interval
	}

	if cfg.Autonomous.AnalysisInterval == "" {
		cfg.Autonomous.AnalysisInterval = DefaultAnalysisInterval
	}
	if cfg.Autonomous.ToxicityAction == "" {
		cfg.Autonomous.ToxicityAction = DefaultToxicityAction
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = DefaultModel
	}
	if cfg.Provider.MaxTokens <= 0 {
		cfg.Provider.MaxTokens = DefaultMaxTokens
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = DefaultConfig().Storage.DataDir
	}
	if cfg.Storage.RetentionDays <= 0 {
		cfg.Storage.RetentionDays = DefaultRetentionDays
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
