// Package config defines the sage configuration and its loader.
package config

import (
	"encoding/json"
	"fmt"
)

// Config is the main sage configuration.
type Config struct {
	Slack   SlackConfig   `json:"slack" mapstructure:"slack"`
	Notion  NotionConfig  `json:"notion" mapstructure:"notion"`
	Report  ReportConfig  `json:"report" mapstructure:"report"`
	AI      AIConfig      `json:"ai" mapstructure:"ai"`
	Model   ModelConfig   `json:"model" mapstructure:"model"`
	Agents  AgentsConfig  `json:"agents" mapstructure:"agents"`
	Session SessionConfig `json:"session" mapstructure:"session"`
	Run     RunConfig     `json:"run" mapstructure:"run"`
	Server  ServerConfig  `json:"server" mapstructure:"server"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory, defaults to ~/.sage
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// SlackConfig holds the workspace credentials. Mode selects the event
// transport: "events" serves the signed webhook, "socket" consumes Socket
// Mode over a websocket.
type SlackConfig struct {
	BotToken      string `json:"bot_token" mapstructure:"bot_token"`
	SigningSecret string `json:"signing_secret" mapstructure:"signing_secret"`
	AppToken      string `json:"app_token" mapstructure:"app_token"`
	Mode          string `json:"mode" mapstructure:"mode"` // events, socket
}

// NotionConfig holds the project-tracker credentials.
type NotionConfig struct {
	APIKey     string `json:"api_key" mapstructure:"api_key"`
	DatabaseID string `json:"database_id" mapstructure:"database_id"`
}

// ReportConfig holds the reporting API access.
type ReportConfig struct {
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	Token    string `json:"token" mapstructure:"token"`
}

// AIConfig holds model provider credentials.
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile is one provider credential with a failover priority; lower
// priority values are tried first.
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // openai, anthropic
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// ModelConfig holds per-run model settings.
type ModelConfig struct {
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries  int     `json:"max_retries" mapstructure:"max_retries"`
}

// AgentsConfig overrides the built-in agent instruction text. Empty fields
// keep the defaults.
type AgentsConfig struct {
	AssistantInstructions      string `json:"assistant_instructions" mapstructure:"assistant_instructions"`
	RequestMonitorInstructions string `json:"request_monitor_instructions" mapstructure:"request_monitor_instructions"`
	TaskMonitorInstructions    string `json:"task_monitor_instructions" mapstructure:"task_monitor_instructions"`
}

// SessionConfig holds session persistence settings.
type SessionConfig struct {
	DBPath          string `json:"db_path" mapstructure:"db_path"`
	RetentionDays   int    `json:"retention_days" mapstructure:"retention_days"`
	HistoryLimit    int    `json:"history_limit" mapstructure:"history_limit"`
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"` // cron expression
}

// RunConfig bounds one agent run.
type RunConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxTurns       int `json:"max_turns" mapstructure:"max_turns"`
}

// ServerConfig holds the HTTP server settings for the webhook and the
// maintenance endpoints.
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Slack: SlackConfig{
			Mode: "events",
		},
		Model: ModelConfig{
			Model:       "gpt-4o",
			Temperature: 0.7,
			MaxTokens:   4096,
			MaxRetries:  3,
		},
		Session: SessionConfig{
			RetentionDays:   30,
			HistoryLimit:    20,
			CleanupSchedule: "0 3 * * *",
		},
		Run: RunConfig{
			TimeoutSeconds: 120,
			MaxTurns:       10,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
	}
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is complete enough to start.
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if profile.Provider != "openai" && profile.Provider != "anthropic" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: openai, anthropic)", profile.ID, profile.Provider)
		}
	}

	if c.Slack.BotToken == "" {
		return fmt.Errorf("slack bot token is required")
	}
	switch c.Slack.Mode {
	case "events":
		if c.Slack.SigningSecret == "" {
			return fmt.Errorf("slack signing secret is required in events mode")
		}
	case "socket":
		if c.Slack.AppToken == "" {
			return fmt.Errorf("slack app token is required in socket mode")
		}
	default:
		return fmt.Errorf("invalid slack mode %s (must be: events, socket)", c.Slack.Mode)
	}

	if c.Notion.APIKey == "" || c.Notion.DatabaseID == "" {
		return fmt.Errorf("notion api_key and database_id are required")
	}
	if c.Report.Endpoint == "" || c.Report.Token == "" {
		return fmt.Errorf("report endpoint and token are required")
	}

	if c.Model.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Session.RetentionDays <= 0 {
		return fmt.Errorf("session retention_days must be positive")
	}

	return nil
}
