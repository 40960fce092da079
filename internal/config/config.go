package config

import "time"

// Config holds callkit configuration values.
type Config struct {
	// Backend endpoints.
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url"`
	SignalURL  string `mapstructure:"signal_url" yaml:"signal_url"`

	LogLevel    string        `mapstructure:"log_level" yaml:"log_level"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`

	// Call core tuning.
	GraceWindow   time.Duration `mapstructure:"grace_window" yaml:"grace_window"`
	DedupCapacity int           `mapstructure:"dedup_capacity" yaml:"dedup_capacity"`
	RingTimeout   time.Duration `mapstructure:"ring_timeout" yaml:"ring_timeout"`
	CloseDelay    time.Duration `mapstructure:"close_delay" yaml:"close_delay"`

	// Transport reconnection policy.
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	MaxReconnectTries int           `mapstructure:"max_reconnect_tries" yaml:"max_reconnect_tries"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay" yaml:"max_reconnect_delay"`

	// Local call history database.
	CallLogPath string `mapstructure:"call_log_path" yaml:"call_log_path"`

	// Dev server settings (local signaling server for development).
	DevAddr          string `mapstructure:"dev_addr" yaml:"dev_addr"`
	DevJWTSecret     string `mapstructure:"dev_jwt_secret" yaml:"dev_jwt_secret"`
	LiveKitURL       string `mapstructure:"livekit_url" yaml:"livekit_url"`
	LiveKitAPIKey    string `mapstructure:"livekit_api_key" yaml:"livekit_api_key"`
	LiveKitAPISecret string `mapstructure:"livekit_api_secret" yaml:"livekit_api_secret"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		APIBaseURL:        "http://localhost:8080",
		SignalURL:         "ws://localhost:8080/ws",
		LogLevel:          "info",
		HTTPTimeout:       10 * time.Second,
		GraceWindow:       10 * time.Second,
		DedupCapacity:     50,
		RingTimeout:       45 * time.Second,
		CloseDelay:        2 * time.Second,
		ReconnectDelay:    3 * time.Second,
		MaxReconnectTries: 5,
		MaxReconnectDelay: 30 * time.Second,
		CallLogPath:       "callkit.db",
		DevAddr:           ":8080",
		DevJWTSecret:      "dev-secret-change-me",
		LiveKitURL:        "ws://localhost:7880",
		LiveKitAPIKey:     "devkey",
		LiveKitAPISecret:  "devsecret",
	}
}
