// Package config provides configuration types and defaults for agent-tui.
package config

import "time"

// Config holds all configuration for the agent-tui daemon.
type Config struct {
	Paths     PathsConfig     `yaml:"paths" mapstructure:"paths"`
	Sessions  SessionsConfig  `yaml:"sessions" mapstructure:"sessions"`
	Stream    StreamConfig    `yaml:"stream" mapstructure:"stream"`
	Lock      LockConfig      `yaml:"lock" mapstructure:"lock"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
	LogRotation LogRotationConfig `yaml:"log_rotation" mapstructure:"log_rotation"`
}

// PathsConfig holds file paths for state, logs, socket, and the session store.
type PathsConfig struct {
	Dir          string `yaml:"dir" mapstructure:"dir"`
	Log          string `yaml:"log" mapstructure:"log"`
	Socket       string `yaml:"socket" mapstructure:"socket"`
	PID          string `yaml:"pid" mapstructure:"pid"`
	SessionStore string `yaml:"session_store" mapstructure:"session_store"`
	APIState     string `yaml:"api_state" mapstructure:"api_state"`
	UIState      string `yaml:"ui_state" mapstructure:"ui_state"`
}

// SessionsConfig holds session-manager tuning.
type SessionsConfig struct {
	MaxSessions int `yaml:"max_sessions" mapstructure:"max_sessions"`
}

// StreamConfig holds StreamBuffer tuning.
type StreamConfig struct {
	MaxBytes int `yaml:"max_bytes" mapstructure:"max_bytes"`
}

// LockConfig holds the bounded lock-timeout discipline for RPC handlers.
type LockConfig struct {
	QueryTimeout  time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`
	MutateTimeout time.Duration `yaml:"mutate_timeout" mapstructure:"mutate_timeout"`
}

// WebSocketConfig holds the optional WebSocket gateway settings.
type WebSocketConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen         string `yaml:"listen" mapstructure:"listen"`
	AllowRemote    bool   `yaml:"allow_remote" mapstructure:"allow_remote"`
	MaxConnections int    `yaml:"max_connections" mapstructure:"max_connections"`
}

// LogRotationConfig holds settings for the daemon's rotated log file.
type LogRotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `yaml:"compress" mapstructure:"compress"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Dir:          ".agent-tui",
			Log:          ".agent-tui/agent-tui.log",
			Socket:       ".agent-tui/agent-tui.sock",
			PID:          ".agent-tui/agent-tui.pid",
			SessionStore: ".agent-tui/sessions.jsonl",
			APIState:     ".agent-tui/api.json",
			UIState:      ".agent-tui/ui.json",
		},
		Sessions: SessionsConfig{
			MaxSessions: 16,
		},
		Stream: StreamConfig{
			MaxBytes: 8 * 1024 * 1024,
		},
		Lock: LockConfig{
			QueryTimeout:  100 * time.Millisecond,
			MutateTimeout: 500 * time.Millisecond,
		},
		WebSocket: WebSocketConfig{
			Enabled:        false,
			Listen:         "127.0.0.1:0",
			AllowRemote:    false,
			MaxConnections: 32,
		},
		LogRotation: LogRotationConfig{
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}
