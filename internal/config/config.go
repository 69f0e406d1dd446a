// Package config loads ticketsync settings from defaults, an optional
// YAML file, a .env file and TICKETSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/goatkit/ticketsync/internal/constants"
)

// EnvPrefix prefixes every environment override, e.g. TICKETSYNC_API_BASE_URL.
const EnvPrefix = "TICKETSYNC"

type API struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Realtime struct {
	URL            string        `mapstructure:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	DialAttempts   int           `mapstructure:"dial_attempts"`
	DialRetryDelay time.Duration `mapstructure:"dial_retry_delay"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// Auth names the bearer credential. Token wins over TokenFile.
type Auth struct {
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token_file"`
}

type Chat struct {
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
}

type Resync struct {
	Schedule       string `mapstructure:"schedule"`
	UnreadSchedule string `mapstructure:"unread_schedule"`
}

// Snapshot is the optional Redis-backed offline snapshot. An empty
// RedisAddr disables it.
type Snapshot struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type Status struct {
	Listen string `mapstructure:"listen"`
}

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Config is the full settings tree.
type Config struct {
	API      API      `mapstructure:"api"`
	Realtime Realtime `mapstructure:"realtime"`
	Auth     Auth     `mapstructure:"auth"`
	Chat     Chat     `mapstructure:"chat"`
	Resync   Resync   `mapstructure:"resync"`
	Snapshot Snapshot `mapstructure:"snapshot"`
	Status   Status   `mapstructure:"status"`
	Log      Log      `mapstructure:"log"`
}

// SetDefaults registers every key on v. Keys without a default are
// registered empty so environment overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("realtime.url", "")
	v.SetDefault("realtime.connect_timeout", constants.ConnectTimeout)
	v.SetDefault("realtime.dial_attempts", constants.DialAttempts)
	v.SetDefault("realtime.dial_retry_delay", constants.DialRetryDelay)
	v.SetDefault("realtime.backoff_max", constants.ReconnectMaxDelay)
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.token_file", "")
	v.SetDefault("chat.inactivity_timeout", constants.InactivityTimeout)
	v.SetDefault("resync.schedule", constants.ResyncSchedule)
	v.SetDefault("resync.unread_schedule", constants.UnreadSchedule)
	v.SetDefault("snapshot.redis_addr", "")
	v.SetDefault("snapshot.ttl", constants.SnapshotTTL)
	v.SetDefault("status.listen", "127.0.0.1:8089")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Loader owns the viper instance so cobra flags can be bound to it
// before Load.
type Loader struct {
	v       *viper.Viper
	file    string
	envFile string
}

// NewLoader returns a loader reading file, or searching for
// ticketsync.yaml when file is empty.
func NewLoader(file string) *Loader {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("ticketsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/ticketsync")
		}
		v.AddConfigPath("/etc/ticketsync")
	}
	return &Loader{v: v, file: file, envFile: ".env"}
}

// SetEnvFile changes the dotenv path. An empty path skips dotenv.
func (l *Loader) SetEnvFile(path string) { l.envFile = path }

// Viper exposes the underlying instance.
func (l *Loader) Viper() *viper.Viper { return l.v }

// Load reads the dotenv file and the config file, then decodes and
// validates the result. A missing dotenv file, or a missing searched
// config file, is not an error.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", l.envFile, err)
		}
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFile reports the file in use, or "" when running on defaults.
func (l *Loader) ConfigFile() string { return l.v.ConfigFileUsed() }

// Load is shorthand for NewLoader(file).Load().
func Load(file string) (*Config, error) {
	return NewLoader(file).Load()
}

// Validate checks URLs, durations and cron specs ("off" disables a job).
// Missing endpoints are reported so the caller fails before dialing.
func (c *Config) Validate() error {
	var errs []error
	if err := checkURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if err := checkURL("realtime.url", c.Realtime.URL, "ws", "wss", "http", "https"); err != nil {
		errs = append(errs, err)
	}
	for key, d := range map[string]time.Duration{
		"api.timeout":              c.API.Timeout,
		"realtime.connect_timeout": c.Realtime.ConnectTimeout,
		"realtime.backoff_max":     c.Realtime.BackoffMax,
		"chat.inactivity_timeout":  c.Chat.InactivityTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}
	if c.Realtime.DialAttempts < 1 {
		errs = append(errs, fmt.Errorf("realtime.dial_attempts must be at least 1, got %d", c.Realtime.DialAttempts))
	}
	if c.Realtime.DialRetryDelay < 0 {
		errs = append(errs, errors.New("realtime.dial_retry_delay must not be negative"))
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for key, spec := range map[string]string{
		"resync.schedule":        c.Resync.Schedule,
		"resync.unread_schedule": c.Resync.UnreadSchedule,
	} {
		if spec == "" || strings.EqualFold(strings.TrimSpace(spec), "off") {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s: %q needs one of the schemes %s and a host", key, raw, strings.Join(schemes, ", "))
}
