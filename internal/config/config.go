package config

import (
	"time"
)

type Config struct {
	System      SystemConfig           `mapstructure:"system" validate:"required"`
	Server      ServerConfig           `mapstructure:"server" validate:"required"`
	Venues      map[string]VenueConfig `mapstructure:"venues" validate:"required,dive"`
	Realtime    RealtimeConfig         `mapstructure:"realtime" validate:"required"`
	OAuth       OAuthConfig            `mapstructure:"oauth"`
	Persistence PersistenceConfig      `mapstructure:"persistence" validate:"required"`
	Monitoring  MonitoringConfig       `mapstructure:"monitoring"`
}

type SystemConfig struct {
	InstanceID string `mapstructure:"instance_id" validate:"required"`
	// Mode selects the venue set: live trades against real venue APIs,
	// sandbox against their testnets, simulated against the in-process venue.
	Mode     string `mapstructure:"mode" validate:"required,oneof=live sandbox simulated"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR"`
	Timezone string `mapstructure:"timezone" validate:"required"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr" validate:"required"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	DashboardURL   string   `mapstructure:"dashboard_url" validate:"required,url"`
}

type VenueConfig struct {
	Enabled    bool                       `mapstructure:"enabled"`
	RestURL    string                     `mapstructure:"rest_url" validate:"required_if=Enabled true,omitempty,url"`
	SandboxURL string                     `mapstructure:"sandbox_url" validate:"omitempty,url"`
	RecvWindow int                        `mapstructure:"recv_window_ms" validate:"omitempty,gt=0"`
	RateLimits map[string]RateLimitConfig `mapstructure:"rate_limits"`
}

type RateLimitConfig struct {
	Capacity        int `mapstructure:"capacity" validate:"required,gt=0"`
	RefillPerSecond int `mapstructure:"refill_per_second" validate:"required,gt=0"`
}

type RealtimeConfig struct {
	SocketURL      string   `mapstructure:"socket_url" validate:"omitempty,url"`
	StreamURL      string   `mapstructure:"stream_url" validate:"omitempty,url"`
	PollIntervalMs int      `mapstructure:"poll_interval_ms" validate:"required,gt=0"`
	BackoffBaseMs  int      `mapstructure:"backoff_base_ms" validate:"gte=0"`
	BackoffMaxMs   int      `mapstructure:"backoff_max_ms" validate:"gte=0"`
	Symbols        []string `mapstructure:"symbols"`
}

func (c RealtimeConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c RealtimeConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

func (c RealtimeConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// OAuthConfig carries the provider endpoints. Client credentials come from
// the environment, never from the config file.
type OAuthConfig struct {
	Venue       string `mapstructure:"venue"`
	AuthURL     string `mapstructure:"auth_url" validate:"omitempty,url"`
	TokenURL    string `mapstructure:"token_url" validate:"omitempty,url"`
	RevokeURL   string `mapstructure:"revoke_url" validate:"omitempty,url"`
	RedirectURI string `mapstructure:"redirect_uri" validate:"omitempty,url"`
}

type PersistenceConfig struct {
	OrderLogDB        string `mapstructure:"order_log_db" validate:"required"`
	ColdStoreDSN      string `mapstructure:"cold_store_dsn"`
	ColdStorePoolSize int    `mapstructure:"cold_store_pool_size" validate:"gt=0"`
	RetentionDays     int    `mapstructure:"retention_days" validate:"gt=0"`
	WriteBufferSize   int    `mapstructure:"write_buffer_size" validate:"gt=0"`
}

func (c PersistenceConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

type MonitoringConfig struct {
	TracingEnabled bool     `mapstructure:"tracing_enabled"`
	AlertChannels  []string `mapstructure:"alert_channels"`
}
