package config

import "time"

// Config holds client engine configuration values.
type Config struct {
	ServerURL  string `mapstructure:"server_url" yaml:"server_url"`
	HistoryURL string `mapstructure:"history_url" yaml:"history_url"`

	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`

	BackoffBase   time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffFactor float64       `mapstructure:"backoff_factor" yaml:"backoff_factor"`
	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts"`

	TypingStopDelay time.Duration `mapstructure:"typing_stop_delay" yaml:"typing_stop_delay"`
	TypingExpiry    time.Duration `mapstructure:"typing_expiry" yaml:"typing_expiry"`

	ReconcileWindow time.Duration `mapstructure:"reconcile_window" yaml:"reconcile_window"`
	HistoryPageSize int           `mapstructure:"history_page_size" yaml:"history_page_size"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		ServerURL:       "ws://localhost:8080/ws",
		HistoryURL:      "http://localhost:8080",
		DialTimeout:     10 * time.Second,
		BackoffBase:     time.Second,
		BackoffFactor:   2,
		MaxAttempts:     5,
		TypingStopDelay: 3 * time.Second,
		TypingExpiry:    5 * time.Second,
		ReconcileWindow: 5 * time.Second,
		HistoryPageSize: 50,
		LogLevel:        "info",
	}
}
