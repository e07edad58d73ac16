package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/callbridge/internal/adapters/rtc"
	"github.com/dkeye/callbridge/internal/app"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`

	Session   SessionConfig   `mapstructure:"session"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Telephony TelephonyConfig `mapstructure:"telephony"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type SessionConfig struct {
	TTL           time.Duration    `mapstructure:"ttl"`
	SweepSchedule string           `mapstructure:"sweep_schedule"`
	IdleGrace     time.Duration    `mapstructure:"idle_grace"`
	ICEServers    []rtc.ServerSpec `mapstructure:"ice_servers"`
	// Backpressure is "drop" or "kick".
	Backpressure string `mapstructure:"backpressure"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type TelephonyConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	AccountSID        string        `mapstructure:"account_sid"`
	AuthToken         string        `mapstructure:"auth_token"`
	FromNumber        string        `mapstructure:"from_number"`
	StatusCallbackURL string        `mapstructure:"status_callback_url"`
	LegTimeout        time.Duration `mapstructure:"leg_timeout"`
	HoldMusicURL      string        `mapstructure:"hold_music_url"`
	Record            bool          `mapstructure:"record"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads file, or config/config.<CONFIG_ENV>.yaml when file is empty.
// CALLBRIDGE_* environment variables override both, e.g.
// CALLBRIDGE_REDIS_ADDR for redis.addr.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if file == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		file = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(file)

	v.SetEnvPrefix("CALLBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", file).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", file).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Bool("redis", cfg.Redis.Enabled).
		Dur("session_ttl", cfg.Session.TTL).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)

	v.SetDefault("session.ttl", app.DefaultSessionTTL)
	v.SetDefault("session.sweep_schedule", app.DefaultSweepSchedule)
	v.SetDefault("session.idle_grace", "5m")
	v.SetDefault("session.backpressure", "drop")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("telephony.base_url", "")
	v.SetDefault("telephony.account_sid", "")
	v.SetDefault("telephony.auth_token", "")
	v.SetDefault("telephony.from_number", "")
	v.SetDefault("telephony.status_callback_url", "")
	v.SetDefault("telephony.leg_timeout", "15s")
	v.SetDefault("telephony.hold_music_url", "")
	v.SetDefault("telephony.record", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	if c.PingPeriod <= 0 {
		errs = append(errs, errors.New("ping_period must be positive"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Session.IdleGrace < 0 {
		errs = append(errs, errors.New("session.idle_grace must not be negative"))
	}
	if _, err := app.ParseSchedule(c.Session.SweepSchedule); err != nil {
		errs = append(errs, err)
	}
	if _, err := rtc.ICEServers(c.Session.ICEServers); err != nil {
		errs = append(errs, fmt.Errorf("session.ice_servers: %w", err))
	}
	if _, err := c.Session.Policy(); err != nil {
		errs = append(errs, err)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.Telephony.BaseURL != "" {
		if u, err := url.Parse(c.Telephony.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("telephony.base_url %q is not an absolute url", c.Telephony.BaseURL))
		}
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path))
	}
	return errors.Join(errs...)
}

// Policy resolves session.backpressure.
func (s SessionConfig) Policy() (app.Policy, error) {
	switch s.Backpressure {
	case "", "drop":
		return app.SimplePolicy{}, nil
	case "kick":
		return app.StrictPolicy{}, nil
	default:
		return nil, fmt.Errorf("session.backpressure %q: want drop or kick", s.Backpressure)
	}
}

// TelephonyEnabled reports whether a provider is configured.
func (c *Config) TelephonyEnabled() bool {
	return c.Telephony.BaseURL != "" && c.Telephony.AccountSID != ""
}
