// Package config loads and hot-reloads the bot configuration from a JSON
// or YAML file. YAML is coerced to JSON so both formats go through one
// strict decoder.
package config

import "strings"

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Summarizer SummarizerConfig `json:"summarizer"`
	History    HistoryConfig    `json:"history"`
	Schedule   ScheduleConfig   `json:"schedule"`
}

type TelegramConfig struct {
	// Token falls back to the TELEGRAM_BOT_TOKEN env var when empty.
	Token          string `json:"token"`
	PollTimeout    string `json:"poll_timeout"`
	SendRatePerSec int    `json:"send_rate_per_sec"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type SummarizerConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	// Keys come from the inline list, the keys file, and numbered
	// OPENROUTER_API_KEY_* env vars, in that order.
	APIKeys        []string `json:"api_keys"`
	APIKeysFile    string   `json:"api_keys_file"`
	MaxTokens      int      `json:"max_tokens"`
	RequestTimeout string   `json:"request_timeout"`
}

type HistoryConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
	Retention   string `json:"retention"`  // how long cached messages are kept; default 168h
	PruneSpec   string `json:"prune_spec"` // cron, default "30 4 * * *"
	MaxMessages int    `json:"max_messages"`
	MaxChars    int    `json:"max_chars"`
}

type ScheduleConfig struct {
	StorePath string `json:"store_path"`
	Cooldown  string `json:"cooldown"`
}

func (c *Config) withDefaults() *Config {
	if strings.TrimSpace(c.History.Path) == "" {
		c.History.Path = "./data/history.db"
	}
	if strings.TrimSpace(c.History.PruneSpec) == "" {
		c.History.PruneSpec = "30 4 * * *"
	}
	if c.History.MaxMessages <= 0 {
		c.History.MaxMessages = 100
	}
	if c.History.MaxChars <= 0 {
		c.History.MaxChars = 500
	}
	if strings.TrimSpace(c.Schedule.StorePath) == "" {
		c.Schedule.StorePath = "./data/schedules.json"
	}
	return c
}
